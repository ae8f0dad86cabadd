package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/discord-fa-bot/internal/store"
)

// TransactionRepo implements store.TransactionRepository.
type TransactionRepo struct {
	*conn
}

func (r *TransactionRepo) ListByBatch(ctx context.Context, batchID string) ([]store.Transaction, error) {
	var txs []store.Transaction
	err := r.db.SelectContext(ctx, &txs, r.q(
		`SELECT * FROM transactions WHERE batch_id = ? AND rolled_back = FALSE
		 ORDER BY created_at ASC, id ASC`), batchID)
	if err != nil {
		return nil, fmt.Errorf("listing batch %s: %w", batchID, err)
	}
	return txs, nil
}

func (r *TransactionRepo) ListByWindow(ctx context.Context, windowID string) ([]store.Transaction, error) {
	var txs []store.Transaction
	err := r.db.SelectContext(ctx, &txs, r.q(
		`SELECT * FROM transactions WHERE window_id = ? ORDER BY created_at ASC, id ASC`), windowID)
	if err != nil {
		return nil, fmt.Errorf("listing transactions for window %s: %w", windowID, err)
	}
	return txs, nil
}

func (r *TransactionRepo) SettledPlayers(ctx context.Context, windowID string) (map[string]bool, error) {
	var names []string
	err := r.db.SelectContext(ctx, &names, r.q(
		`SELECT LOWER(sign_player_name) FROM transactions
		 WHERE window_id = ? AND rolled_back = FALSE`), windowID)
	if err != nil {
		return nil, fmt.Errorf("listing settled players for window %s: %w", windowID, err)
	}
	settled := make(map[string]bool, len(names))
	for _, n := range names {
		settled[n] = true
	}
	return settled, nil
}

// SettlementRepo implements store.SettlementStore.
type SettlementRepo struct {
	*conn
}

// forUpdate locks selected rows on Postgres. SQLite serialises writers on
// its own and does not support the clause.
func (r *SettlementRepo) forUpdate(query string) string {
	if r.dialect == Postgres {
		query += " FOR UPDATE"
	}
	return r.q(query)
}

func (r *SettlementRepo) ApplySigning(ctx context.Context, s store.Signing) (*store.Transaction, error) {
	if s.Amount < 0 {
		return nil, fmt.Errorf("applying signing: negative amount %d", s.Amount)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := r.now()

	var signed store.Player
	if err := tx.GetContext(ctx, &signed, r.forUpdate(`SELECT * FROM players WHERE id = ?`), s.SignPlayerID); err != nil {
		return nil, notFound(err, "loading signed player")
	}
	if !signed.IsFreeAgent() {
		return nil, fmt.Errorf("%s is on %s: %w", signed.Name, signed.TeamName(), store.ErrNotFreeAgent)
	}

	var dropped *store.Player
	if s.DropPlayerID != "" {
		dropped = &store.Player{}
		if err := tx.GetContext(ctx, dropped, r.forUpdate(`SELECT * FROM players WHERE id = ?`), s.DropPlayerID); err != nil {
			return nil, notFound(err, "loading dropped player")
		}
		if !strings.EqualFold(dropped.TeamName(), s.Team) {
			return nil, fmt.Errorf("%s is on %q not %s: %w", dropped.Name, dropped.TeamName(), s.Team, store.ErrNotOnRoster)
		}
		if err := setTeam(ctx, tx, r.q, dropped.ID, store.FreeAgentTeam, now); err != nil {
			return nil, err
		}
	}

	coinsAfter, err := r.debit(ctx, tx, s, now)
	if err != nil {
		return nil, err
	}

	if err := setTeam(ctx, tx, r.q, signed.ID, s.Team, now); err != nil {
		return nil, err
	}

	t := &store.Transaction{
		ID:                  uuid.NewString(),
		Team:                s.Team,
		SignPlayerName:      signed.Name,
		SignPlayerID:        &signed.ID,
		SignPlayerOverall:   signed.Overall,
		BidAmount:           s.Amount,
		CoinsRemainingAfter: coinsAfter,
		BatchID:             s.BatchID,
		PreviousTeam:        signed.Team,
		WindowID:            s.WindowID,
		ProcessedBy:         s.ProcessedBy,
		CreatedAt:           now,
	}
	if dropped != nil {
		t.DropPlayerName = &dropped.Name
		t.DropPlayerID = &dropped.ID
	}

	_, err = tx.NamedExecContext(ctx,
		`INSERT INTO transactions (id, team, drop_player_name, drop_player_id, sign_player_name,
		     sign_player_id, sign_player_overall, bid_amount, coins_remaining_after, batch_id,
		     previous_team, window_id, processed_by, rolled_back, created_at)
		 VALUES (:id, :team, :drop_player_name, :drop_player_id, :sign_player_name,
		     :sign_player_id, :sign_player_overall, :bid_amount, :coins_remaining_after, :batch_id,
		     :previous_team, :window_id, :processed_by, :rolled_back, :created_at)`, t)
	if err != nil {
		return nil, fmt.Errorf("recording transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing signing: %w", err)
	}
	return t, nil
}

// debit takes the bid amount from the team, opening its budget first if it
// has none. The balance check and the write are one statement.
func (r *SettlementRepo) debit(ctx context.Context, tx *sqlx.Tx, s store.Signing, now time.Time) (int, error) {
	_, err := tx.ExecContext(ctx, r.q(
		`INSERT INTO team_budgets (team, coins_remaining, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (team) DO NOTHING`),
		s.Team, s.OpeningBudget, now,
	)
	if err != nil {
		return 0, fmt.Errorf("opening budget for %s: %w", s.Team, err)
	}

	res, err := tx.ExecContext(ctx, r.q(
		`UPDATE team_budgets SET coins_remaining = coins_remaining - ?, updated_at = ?
		 WHERE team = ? AND coins_remaining >= ?`),
		s.Amount, now, s.Team, s.Amount,
	)
	if err != nil {
		return 0, fmt.Errorf("debiting %s: %w", s.Team, err)
	}
	if affected(res) == 0 {
		return 0, fmt.Errorf("%s cannot pay %d: %w", s.Team, s.Amount, store.ErrInsufficientCoins)
	}

	var after int
	if err := tx.GetContext(ctx, &after, r.q(`SELECT coins_remaining FROM team_budgets WHERE team = ?`), s.Team); err != nil {
		return 0, fmt.Errorf("reading balance for %s: %w", s.Team, err)
	}
	return after, nil
}

func (r *SettlementRepo) RevertTransaction(ctx context.Context, id, actor string) (*store.Transaction, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := r.now()

	var t store.Transaction
	if err := tx.GetContext(ctx, &t, r.forUpdate(`SELECT * FROM transactions WHERE id = ?`), id); err != nil {
		return nil, notFound(err, "loading transaction")
	}
	if t.RolledBack {
		return nil, fmt.Errorf("transaction %s: %w", id, store.ErrAlreadyRolledBack)
	}

	res, err := tx.ExecContext(ctx, r.q(
		`UPDATE transactions SET rolled_back = TRUE, rolled_back_at = ?, rolled_back_by = ?
		 WHERE id = ? AND rolled_back = FALSE`),
		now, actor, id,
	)
	if err != nil {
		return nil, fmt.Errorf("flagging transaction %s: %w", id, err)
	}
	if affected(res) == 0 {
		return nil, fmt.Errorf("transaction %s: %w", id, store.ErrAlreadyRolledBack)
	}

	// Restore the signed player exactly to the team recorded at settlement.
	if t.SignPlayerID != nil {
		res, err = tx.ExecContext(ctx, r.q(`UPDATE players SET team = ?, updated_at = ? WHERE id = ?`),
			t.PreviousTeam, now, *t.SignPlayerID)
	} else {
		res, err = tx.ExecContext(ctx, r.q(`UPDATE players SET team = ?, updated_at = ? WHERE LOWER(name) = LOWER(?)`),
			t.PreviousTeam, now, t.SignPlayerName)
	}
	if err != nil {
		return nil, fmt.Errorf("restoring %s: %w", t.SignPlayerName, err)
	}
	if affected(res) == 0 {
		return nil, fmt.Errorf("restoring %s: %w", t.SignPlayerName, store.ErrNotFound)
	}

	// Hand the released player back unless someone else has signed him.
	if t.DropPlayerID != nil {
		query, args, err := sqlx.In(
			`UPDATE players SET team = ?, updated_at = ?
			 WHERE id = ? AND (team IS NULL OR LOWER(TRIM(team)) IN (?))`,
			t.Team, now, *t.DropPlayerID, store.FreeAgentTeams)
		if err != nil {
			return nil, fmt.Errorf("building release query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, r.q(query), args...); err != nil {
			return nil, fmt.Errorf("returning %s to %s: %w", *t.DropPlayerName, t.Team, err)
		}
	}

	_, err = tx.ExecContext(ctx, r.q(
		`INSERT INTO team_budgets (team, coins_remaining, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (team) DO UPDATE SET
		     coins_remaining = team_budgets.coins_remaining + excluded.coins_remaining,
		     updated_at = excluded.updated_at`),
		t.Team, t.BidAmount, now,
	)
	if err != nil {
		return nil, fmt.Errorf("refunding %s: %w", t.Team, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing rollback: %w", err)
	}

	t.RolledBack = true
	t.RolledBackAt = &now
	t.RolledBackBy = &actor
	return &t, nil
}

func setTeam(ctx context.Context, tx *sqlx.Tx, q func(string) string, playerID, team string, now time.Time) error {
	if _, err := tx.ExecContext(ctx, q(`UPDATE players SET team = ?, updated_at = ? WHERE id = ?`), team, now, playerID); err != nil {
		return fmt.Errorf("moving player %s to %s: %w", playerID, team, err)
	}
	return nil
}
