package sqlstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jensholdgaard/discord-fa-bot/internal/store"
)

// PlayerRepo implements store.PlayerRepository.
type PlayerRepo struct {
	*conn
}

func (r *PlayerRepo) Create(ctx context.Context, p *store.Player) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := r.now()
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := r.db.ExecContext(ctx, r.q(
		`INSERT INTO players (id, name, team, overall, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		p.ID, p.Name, p.Team, p.Overall, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating player %q: %w", p.Name, err)
	}
	return nil
}

func (r *PlayerRepo) GetByName(ctx context.Context, name string) (*store.Player, error) {
	var p store.Player
	err := r.db.GetContext(ctx, &p, r.q(`SELECT * FROM players WHERE LOWER(name) = LOWER(?)`), name)
	if err != nil {
		return nil, notFound(err, "getting player by name")
	}
	return &p, nil
}

func (r *PlayerRepo) List(ctx context.Context) ([]store.Player, error) {
	var players []store.Player
	if err := r.db.SelectContext(ctx, &players, `SELECT * FROM players ORDER BY name ASC`); err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	return players, nil
}

func (r *PlayerRepo) ListByTeam(ctx context.Context, team string) ([]store.Player, error) {
	var players []store.Player
	err := r.db.SelectContext(ctx, &players,
		r.q(`SELECT * FROM players WHERE LOWER(team) = LOWER(?) ORDER BY name ASC`), team)
	if err != nil {
		return nil, fmt.Errorf("listing players for team %q: %w", team, err)
	}
	return players, nil
}
