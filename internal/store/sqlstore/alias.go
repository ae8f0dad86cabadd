package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jensholdgaard/discord-fa-bot/internal/event"
	"github.com/jensholdgaard/discord-fa-bot/internal/store"
)

// AliasRepo implements store.AliasRepository.
type AliasRepo struct {
	*conn
}

func (r *AliasRepo) List(ctx context.Context) ([]store.PlayerAlias, error) {
	var aliases []store.PlayerAlias
	if err := r.db.SelectContext(ctx, &aliases, `SELECT alias, canonical_name FROM player_aliases ORDER BY alias ASC`); err != nil {
		return nil, fmt.Errorf("listing aliases: %w", err)
	}
	return aliases, nil
}

func (r *AliasRepo) Upsert(ctx context.Context, aliases ...store.PlayerAlias) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx, r.q(
		`INSERT INTO player_aliases (alias, canonical_name) VALUES (?, ?)
		 ON CONFLICT (alias) DO UPDATE SET canonical_name = excluded.canonical_name`))
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, a := range aliases {
		alias := strings.ToLower(strings.TrimSpace(a.Alias))
		if alias == "" || a.CanonicalName == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, alias, a.CanonicalName); err != nil {
			return fmt.Errorf("upserting alias %q: %w", alias, err)
		}
	}

	return tx.Commit()
}

// EventStore implements event.Store.
type EventStore struct {
	*conn
}

// eventRow scans the payload as bytes since SQLite returns TEXT columns as
// strings, which database/sql will not convert into json.RawMessage.
type eventRow struct {
	event.Event
	Data []byte `db:"data"`
}

func (s *EventStore) Append(ctx context.Context, events ...event.Event) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx, s.q(
		`INSERT INTO events (id, aggregate_id, type, data, version, created_at) VALUES (?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	now := s.now()
	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.AggregateID, e.Type, string(e.Data), e.Version, e.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("inserting event (aggregate=%s, type=%s): %w", e.AggregateID, e.Type, err)
		}
	}

	return tx.Commit()
}

func (s *EventStore) Load(ctx context.Context, aggregateID string) ([]event.Event, error) {
	return s.load(ctx, `WHERE aggregate_id = ?`, aggregateID)
}

func (s *EventStore) LoadByType(ctx context.Context, eventType event.Type) ([]event.Event, error) {
	return s.load(ctx, `WHERE type = ?`, string(eventType))
}

func (s *EventStore) load(ctx context.Context, where string, arg string) ([]event.Event, error) {
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows, s.q(
		`SELECT id, aggregate_id, type, data, version, created_at FROM events `+where+
			` ORDER BY created_at ASC, id ASC`), arg)
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	events := make([]event.Event, len(rows))
	for i, row := range rows {
		events[i] = row.Event
		events[i].Data = row.Data
	}
	return events, nil
}
