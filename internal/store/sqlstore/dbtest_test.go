package sqlstore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jensholdgaard/discord-fa-bot/internal/clock"
	"github.com/jensholdgaard/discord-fa-bot/internal/config"
	"github.com/jensholdgaard/discord-fa-bot/internal/store"
	"github.com/jensholdgaard/discord-fa-bot/internal/store/postgres"
	"github.com/jensholdgaard/discord-fa-bot/internal/store/sqlite"
	"github.com/jensholdgaard/discord-fa-bot/internal/store/sqlstore"
)

var testStart = time.Date(2025, 11, 14, 15, 0, 0, 0, time.UTC)

// forEachDialect runs fn against a fresh SQLite file and, outside short
// mode, against a Postgres container. The clock is shared with fn so tests
// can order rows by creation time.
func forEachDialect(t *testing.T, fn func(t *testing.T, repos *store.Repositories, clk *clock.Mock)) {
	t.Helper()

	t.Run("sqlite", func(t *testing.T) {
		clk := &clock.Mock{T: testStart}
		fn(t, newSQLite(t, clk), clk)
	})

	t.Run("postgres", func(t *testing.T) {
		clk := &clock.Mock{T: testStart}
		fn(t, newPostgres(t, clk), clk)
	})
}

func newSQLite(t *testing.T, clk clock.Clock) *store.Repositories {
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

// newPostgres starts a Postgres container, applies the migration, and
// returns repositories bound to it. The container is terminated when the
// test ends.
func newPostgres(t *testing.T, clk clock.Clock) *store.Repositories {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("fabot_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}

	db, err := postgres.Connect(ctx, config.DatabaseConfig{PGDriver: "pgx", URL: connStr})
	if err != nil {
		t.Fatalf("connecting to test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := sqlstore.Migrate(ctx, db, sqlstore.Postgres); err != nil {
		t.Fatalf("applying migration: %v", err)
	}
	return sqlstore.New(db, sqlstore.Postgres, clk)
}

func strPtr(s string) *string { return &s }

func seedPlayer(t *testing.T, repos *store.Repositories, name, team string, overall int) *store.Player {
	t.Helper()
	p := &store.Player{Name: name, Overall: overall}
	if team != "" {
		p.Team = strPtr(team)
	}
	if err := repos.Players.Create(context.Background(), p); err != nil {
		t.Fatalf("seeding %s: %v", name, err)
	}
	return p
}
