package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// UpsertWorker records a heartbeat, inserting the worker's registry row on
// first sight and refreshing its heartbeat timestamp on every subsequent
// call.
func UpsertWorker(ctx context.Context, db *pgxpool.Pool, w WorkerRecord) error {
	_, err := db.Exec(ctx, `
		INSERT INTO workers (id, hostname, pid, queues, concurrency, last_heartbeat_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET
			hostname=EXCLUDED.hostname,
			pid=EXCLUDED.pid,
			queues=EXCLUDED.queues,
			concurrency=EXCLUDED.concurrency,
			last_heartbeat_at=NOW()
	`, w.ID, w.Hostname, w.PID, w.Queues, w.Concurrency)
	return err
}

// ListWorkers returns every registered worker, most recently seen first.
func ListWorkers(ctx context.Context, db *pgxpool.Pool) ([]WorkerRecord, error) {
	rows, err := db.Query(ctx, `
		SELECT id, hostname, pid, queues, concurrency, last_heartbeat_at
		FROM workers
		ORDER BY last_heartbeat_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workers []WorkerRecord
	for rows.Next() {
		var w WorkerRecord
		var lastHeartbeat time.Time
		if err := rows.Scan(&w.ID, &w.Hostname, &w.PID, &w.Queues, &w.Concurrency, &lastHeartbeat); err != nil {
			return nil, err
		}
		w.LastHeartbeatAt = lastHeartbeat
		workers = append(workers, w)
	}
	return workers, rows.Err()
}
