// Package postgres provides the PostgreSQL-backed contribution store.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	_ = store.Append(ctx, entry)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlContributions = `
CREATE TABLE IF NOT EXISTS contributions (
    id           UUID         PRIMARY KEY,
    transcript   TEXT         NOT NULL,
    dialect      TEXT         NOT NULL,
    meaning      TEXT         NOT NULL,
    tone         TEXT         NOT NULL DEFAULT '',
    context      TEXT         NOT NULL DEFAULT '',
    pragmatics   TEXT         NOT NULL DEFAULT '',
    source_tag   TEXT         NOT NULL DEFAULT '',
    edit_source  TEXT         NOT NULL DEFAULT '',
    operator     TEXT         NOT NULL DEFAULT '',
    admin        BOOLEAN      NOT NULL DEFAULT false,
    audio_key    TEXT         NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_contributions_dialect
    ON contributions (dialect);

CREATE INDEX IF NOT EXISTS idx_contributions_operator
    ON contributions (operator);
`

const ddlDialects = `
CREATE TABLE IF NOT EXISTS dialects (
    name        TEXT         PRIMARY KEY,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT clock_timestamp()
);
`

// Migrate creates the tables and indexes used by [Store]. Every statement is
// idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{ddlContributions, ddlDialects} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
