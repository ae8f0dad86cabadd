// Package sqlstore implements the store repositories on top of sqlx. The same
// queries serve Postgres and SQLite: they are written with '?' placeholders
// and rebound for the connection's driver.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/discord-fa-bot/internal/clock"
	"github.com/jensholdgaard/discord-fa-bot/internal/store"
)

// Dialect selects the SQL flavour of a connection.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

//go:embed migrations
var migrations embed.FS

// closerFunc adapts a func() error into an io.Closer.
type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// conn bundles what every repository needs.
type conn struct {
	db      *sqlx.DB
	dialect Dialect
	clock   clock.Clock
}

func (c *conn) q(query string) string { return c.db.Rebind(query) }

func (c *conn) now() time.Time { return c.clock.Now().UTC() }

// New wires every repository to db.
func New(db *sqlx.DB, dialect Dialect, clk clock.Clock) *store.Repositories {
	c := &conn{db: db, dialect: dialect, clock: clk}
	return &store.Repositories{
		Players:      &PlayerRepo{c},
		Bids:         &BidRepo{c},
		Windows:      &WindowRepo{c},
		Budgets:      &BudgetRepo{c},
		Assignments:  &AssignmentRepo{c},
		Transactions: &TransactionRepo{c},
		Settlement:   &SettlementRepo{c},
		Aliases:      &AliasRepo{c},
		Events:       &EventStore{c},
		Closer:       closerFunc(db.Close),
		Ping:         db.PingContext,
	}
}

// Migrate applies the embedded schema for dialect. Every statement is
// idempotent so Migrate is safe to run on each start.
func Migrate(ctx context.Context, db *sqlx.DB, dialect Dialect) error {
	script, err := migrations.ReadFile("migrations/" + string(dialect) + "/001_initial.sql")
	if err != nil {
		return fmt.Errorf("reading %s migration: %w", dialect, err)
	}
	for _, stmt := range strings.Split(string(script), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying migration: %w", err)
		}
	}
	return nil
}

// notFound maps sql.ErrNoRows onto store.ErrNotFound.
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func affected(res sql.Result) int64 {
	n, _ := res.RowsAffected()
	return n
}
