// Package storetest provides throwaway SQLite-backed repositories for tests
// of packages that sit on top of the store.
package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jensholdgaard/discord-fa-bot/internal/clock"
	"github.com/jensholdgaard/discord-fa-bot/internal/store"
	"github.com/jensholdgaard/discord-fa-bot/internal/store/sqlite"
	"github.com/jensholdgaard/discord-fa-bot/internal/store/sqlstore"
)

// New returns migrated repositories in a database file under t.TempDir.
func New(t testing.TB, clk clock.Clock) *store.Repositories {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.Connect(ctx, filepath.Join(t.TempDir(), "fa.db"))
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := sqlstore.Migrate(ctx, db, sqlstore.SQLite); err != nil {
		t.Fatalf("applying migration: %v", err)
	}
	return sqlstore.New(db, sqlstore.SQLite, clk)
}

// SeedPlayer creates a player on team, or a free agent when team is empty.
func SeedPlayer(t testing.TB, repos *store.Repositories, name, team string, overall int) *store.Player {
	t.Helper()
	p := &store.Player{Name: name, Overall: overall}
	if team != "" {
		p.Team = &team
	}
	if err := repos.Players.Create(context.Background(), p); err != nil {
		t.Fatalf("seeding %s: %v", name, err)
	}
	return p
}

// Team returns the current team of the named player.
func Team(t testing.TB, repos *store.Repositories, name string) string {
	t.Helper()
	p, err := repos.Players.GetByName(context.Background(), name)
	if err != nil {
		t.Fatalf("loading %s: %v", name, err)
	}
	return p.TeamName()
}

// Coins returns the team's balance, failing the test when it has none.
func Coins(t testing.TB, repos *store.Repositories, team string) int {
	t.Helper()
	b, err := repos.Budgets.Get(context.Background(), team)
	if err != nil {
		t.Fatalf("loading budget for %s: %v", team, err)
	}
	return b.CoinsRemaining
}
