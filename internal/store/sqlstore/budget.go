package sqlstore

import (
	"context"
	"fmt"

	"github.com/jensholdgaard/discord-fa-bot/internal/store"
)

// BudgetRepo implements store.BudgetRepository.
type BudgetRepo struct {
	*conn
}

func (r *BudgetRepo) Get(ctx context.Context, team string) (*store.TeamBudget, error) {
	var b store.TeamBudget
	if err := r.db.GetContext(ctx, &b, r.q(`SELECT * FROM team_budgets WHERE team = ?`), team); err != nil {
		return nil, notFound(err, "getting budget for "+team)
	}
	return &b, nil
}

func (r *BudgetRepo) Set(ctx context.Context, team string, coins int) error {
	if coins < 0 {
		return fmt.Errorf("setting budget for %s: negative balance %d", team, coins)
	}
	_, err := r.db.ExecContext(ctx, r.q(
		`INSERT INTO team_budgets (team, coins_remaining, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (team) DO UPDATE SET
		     coins_remaining = excluded.coins_remaining,
		     updated_at = excluded.updated_at`),
		team, coins, r.now(),
	)
	if err != nil {
		return fmt.Errorf("setting budget for %s: %w", team, err)
	}
	return nil
}

func (r *BudgetRepo) List(ctx context.Context) ([]store.TeamBudget, error) {
	var budgets []store.TeamBudget
	if err := r.db.SelectContext(ctx, &budgets, `SELECT * FROM team_budgets ORDER BY team ASC`); err != nil {
		return nil, fmt.Errorf("listing budgets: %w", err)
	}
	return budgets, nil
}

// AssignmentRepo implements store.TeamAssignmentRepository.
type AssignmentRepo struct {
	*conn
}

func (r *AssignmentRepo) Get(ctx context.Context, discordUserID string) (*store.TeamAssignment, error) {
	var a store.TeamAssignment
	err := r.db.GetContext(ctx, &a, r.q(`SELECT * FROM team_assignments WHERE discord_user_id = ?`), discordUserID)
	if err != nil {
		return nil, notFound(err, "getting team assignment")
	}
	return &a, nil
}

func (r *AssignmentRepo) Set(ctx context.Context, discordUserID, team string) error {
	_, err := r.db.ExecContext(ctx, r.q(
		`INSERT INTO team_assignments (discord_user_id, team, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (discord_user_id) DO UPDATE SET
		     team = excluded.team,
		     updated_at = excluded.updated_at`),
		discordUserID, team, r.now(),
	)
	if err != nil {
		return fmt.Errorf("assigning %s to %s: %w", discordUserID, team, err)
	}
	return nil
}
