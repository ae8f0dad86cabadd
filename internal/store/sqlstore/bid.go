package sqlstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jensholdgaard/discord-fa-bot/internal/store"
)

// BidRepo implements store.BidRepository.
type BidRepo struct {
	*conn
}

func (r *BidRepo) Upsert(ctx context.Context, b *store.Bid) error {
	now := r.now()
	_, err := r.db.ExecContext(ctx, r.q(
		`INSERT INTO bids (id, player_name, player_id, bidder_id, bidder_name, team,
		                   drop_player_name, amount, window_id, message_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (player_name, bidder_id, window_id) DO UPDATE SET
		     player_id = excluded.player_id,
		     bidder_name = excluded.bidder_name,
		     team = excluded.team,
		     drop_player_name = excluded.drop_player_name,
		     amount = excluded.amount,
		     message_id = excluded.message_id,
		     updated_at = excluded.updated_at`),
		uuid.NewString(), b.PlayerName, b.PlayerID, b.BidderID, b.BidderName, b.Team,
		b.DropPlayerName, b.Amount, b.WindowID, b.MessageID, now, now,
	)
	if err != nil {
		return fmt.Errorf("upserting bid: %w", err)
	}

	// Read the row back so callers see the surviving id and creation time.
	err = r.db.GetContext(ctx, b, r.q(
		`SELECT * FROM bids WHERE player_name = ? AND bidder_id = ? AND window_id = ?`),
		b.PlayerName, b.BidderID, b.WindowID,
	)
	if err != nil {
		return notFound(err, "reloading bid")
	}
	return nil
}

func (r *BidRepo) DeleteSameDrop(ctx context.Context, windowID, bidderID, team, dropName, keepPlayer string) ([]store.Bid, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var superseded []store.Bid
	err = tx.SelectContext(ctx, &superseded, r.q(
		`SELECT * FROM bids
		 WHERE window_id = ?
		   AND (bidder_id = ? OR team = ?)
		   AND drop_player_name IS NOT NULL
		   AND LOWER(drop_player_name) = LOWER(?)
		   AND NOT (player_name = ? AND bidder_id = ?)
		 ORDER BY created_at ASC`),
		windowID, bidderID, team, dropName, keepPlayer, bidderID,
	)
	if err != nil {
		return nil, fmt.Errorf("selecting superseded bids: %w", err)
	}

	for _, b := range superseded {
		if _, err := tx.ExecContext(ctx, r.q(`DELETE FROM bids WHERE id = ?`), b.ID); err != nil {
			return nil, fmt.Errorf("deleting superseded bid %s: %w", b.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing superseded bids: %w", err)
	}
	return superseded, nil
}

func (r *BidRepo) ListByPlayer(ctx context.Context, windowID, playerName string) ([]store.Bid, error) {
	var bids []store.Bid
	err := r.db.SelectContext(ctx, &bids, r.q(
		`SELECT * FROM bids WHERE window_id = ? AND player_name = ?
		 ORDER BY amount DESC, created_at ASC, id ASC`),
		windowID, playerName,
	)
	if err != nil {
		return nil, fmt.Errorf("listing bids for %q: %w", playerName, err)
	}
	return bids, nil
}

func (r *BidRepo) ListByTeam(ctx context.Context, windowID, team string) ([]store.Bid, error) {
	var bids []store.Bid
	err := r.db.SelectContext(ctx, &bids, r.q(
		`SELECT * FROM bids WHERE window_id = ? AND team = ?
		 ORDER BY created_at ASC, id ASC`),
		windowID, team,
	)
	if err != nil {
		return nil, fmt.Errorf("listing bids for team %q: %w", team, err)
	}
	return bids, nil
}

func (r *BidRepo) ListByWindow(ctx context.Context, windowID string) ([]store.Bid, error) {
	var bids []store.Bid
	err := r.db.SelectContext(ctx, &bids, r.q(
		`SELECT * FROM bids WHERE window_id = ? ORDER BY created_at ASC, id ASC`), windowID)
	if err != nil {
		return nil, fmt.Errorf("listing bids for window %s: %w", windowID, err)
	}
	return bids, nil
}

func (r *BidRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.q(`DELETE FROM bids WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("deleting bid: %w", err)
	}
	if affected(res) == 0 {
		return fmt.Errorf("bid %s: %w", id, store.ErrNotFound)
	}
	return nil
}
