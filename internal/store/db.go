package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Init opens a connection pool and verifies connectivity.
func Init(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	return pool, nil
}

// EnsureSchema creates the audit tables if they do not already exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS task_runs (
            id UUID PRIMARY KEY,
            task_name TEXT NOT NULL,
            queue_key TEXT NOT NULL,
            status TEXT NOT NULL,
            worker_id TEXT,
            attempt INT NOT NULL DEFAULT 1,
            started_at TIMESTAMPTZ,
            finished_at TIMESTAMPTZ,
            last_error TEXT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE INDEX IF NOT EXISTS idx_task_runs_task_name ON task_runs(task_name);`,
		`CREATE TABLE IF NOT EXISTS workers (
            id TEXT PRIMARY KEY,
            hostname TEXT NOT NULL,
            pid INT NOT NULL,
            queues TEXT[] NOT NULL DEFAULT '{}',
            concurrency INT NOT NULL DEFAULT 0,
            last_heartbeat_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	}
	for _, q := range ddl {
		if _, err := pool.Exec(ctx, q); err != nil {
			return err
		}
	}
	return nil
}
