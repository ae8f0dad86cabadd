// Package postgres registers the "postgres" store driver. Connections go
// through lib/pq or the pgx stdlib adapter, both wrapped by otelsql.
package postgres

import (
	"context"
	"fmt"

	"github.com/XSAM/otelsql"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // registers "postgres"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/jensholdgaard/discord-fa-bot/internal/clock"
	"github.com/jensholdgaard/discord-fa-bot/internal/config"
	"github.com/jensholdgaard/discord-fa-bot/internal/store"
	"github.com/jensholdgaard/discord-fa-bot/internal/store/sqlstore"
)

func init() {
	store.Register("postgres", open)
}

func open(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
	db, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Migrate {
		if err := sqlstore.Migrate(ctx, db, sqlstore.Postgres); err != nil {
			db.Close()
			return nil, err
		}
	}
	return sqlstore.New(db, sqlstore.Postgres, clk), nil
}

// sqlDriverName maps the configured client library to its database/sql name.
func sqlDriverName(pgDriver string) string {
	if pgDriver == "pgx" {
		return "pgx"
	}
	return "postgres"
}

// Connect opens and verifies a Postgres connection with OTEL instrumentation.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	name := sqlDriverName(cfg.PGDriver)

	sqlDB, err := otelsql.Open(name, cfg.DSN(),
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		return nil, fmt.Errorf("opening database (%s): %w", name, err)
	}

	// The bind type follows the underlying driver, not the otelsql wrapper.
	db := sqlx.NewDb(sqlDB, name)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return db, nil
}
