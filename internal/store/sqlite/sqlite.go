// Package sqlite registers the "sqlite" store driver, a single-file
// database for local runs and tests built on the pure-Go modernc driver.
package sqlite

import (
	"context"
	"fmt"

	"github.com/XSAM/otelsql"
	"github.com/jmoiron/sqlx"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	_ "modernc.org/sqlite" // registers "sqlite"

	"github.com/jensholdgaard/discord-fa-bot/internal/clock"
	"github.com/jensholdgaard/discord-fa-bot/internal/config"
	"github.com/jensholdgaard/discord-fa-bot/internal/store"
	"github.com/jensholdgaard/discord-fa-bot/internal/store/sqlstore"
)

func init() {
	store.Register("sqlite", open)
}

func open(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
	db, err := Connect(ctx, cfg.Path)
	if err != nil {
		return nil, err
	}
	if cfg.Migrate {
		if err := sqlstore.Migrate(ctx, db, sqlstore.SQLite); err != nil {
			db.Close()
			return nil, err
		}
	}
	return sqlstore.New(db, sqlstore.SQLite, clk), nil
}

// Connect opens the database file at path with foreign keys on and a busy
// timeout, limited to one connection so writers never contend.
func Connect(ctx context.Context, path string) (*sqlx.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite driver requires database.path")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)

	sqlDB, err := otelsql.Open("sqlite", dsn,
		otelsql.WithAttributes(semconv.DBSystemSqlite),
	)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	// "sqlite3" gives sqlx the '?' bind type.
	db := sqlx.NewDb(sqlDB, "sqlite3")

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite database: %w", err)
	}
	return db, nil
}
