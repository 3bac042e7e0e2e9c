package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/toecm/pureconvo/internal/ledger"
)

// Compile-time interface check.
var _ ledger.Store = (*Store)(nil)

// Store is the PostgreSQL-backed [ledger.Store]. Safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection and
// runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Append inserts e and registers its dialect in one transaction.
func (s *Store) Append(ctx context.Context, e ledger.Entry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insertEntry = `
INSERT INTO contributions
    (id, transcript, dialect, meaning, tone, context, pragmatics,
     source_tag, edit_source, operator, admin, audio_key, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	if _, err := tx.Exec(ctx, insertEntry,
		e.ID, e.Transcript, e.Dialect, e.Meaning, e.Tone, e.Context, e.Pragmatics,
		e.SourceTag, e.EditSource, e.Operator, e.Admin, e.AudioKey, e.CreatedAt,
	); err != nil {
		return fmt.Errorf("postgres store: insert contribution: %w", err)
	}

	if err := registerDialect(ctx, tx, e.Dialect); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: commit: %w", err)
	}
	return nil
}

// Seed registers names as dialects. Existing names are left untouched.
func (s *Store) Seed(ctx context.Context, names []string) error {
	batch := &pgx.Batch{}
	for _, n := range names {
		batch.Queue(`INSERT INTO dialects (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, n)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres store: seed dialects: %w", err)
	}
	return nil
}

func registerDialect(ctx context.Context, tx pgx.Tx, name string) error {
	if _, err := tx.Exec(ctx, `INSERT INTO dialects (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name); err != nil {
		return fmt.Errorf("postgres store: register dialect: %w", err)
	}
	return nil
}

// Dialects returns registered dialect names oldest first.
func (s *Store) Dialects(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT name FROM dialects ORDER BY created_at, name`)
	if err != nil {
		return nil, fmt.Errorf("postgres store: query dialects: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan dialects: %w", err)
	}
	return names, nil
}

// Count returns the number of stored contributions.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM contributions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres store: count: %w", err)
	}
	return n, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
