package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS upload_jobs (
	id            uuid PRIMARY KEY,
	filename      text        NOT NULL,
	content_type  text        NOT NULL DEFAULT '',
	size_bytes    bigint      NOT NULL DEFAULT 0,
	process_mode  text        NOT NULL,
	status        text        NOT NULL,
	stage         text        NOT NULL DEFAULT '',
	chunks        integer     NOT NULL DEFAULT 0,
	is_image      boolean     NOT NULL DEFAULT false,
	error         text        NOT NULL DEFAULT '',
	logs          text[]      NOT NULL DEFAULT '{}',
	enqueued_at   timestamptz NOT NULL,
	started_at    timestamptz,
	finished_at   timestamptz
);
CREATE INDEX IF NOT EXISTS upload_jobs_finished_at_idx ON upload_jobs (finished_at DESC);
`

// EnsureSchema creates the journal table when it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
