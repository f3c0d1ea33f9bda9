package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// InsertRunning records the start of a handler invocation.
func InsertRunning(ctx context.Context, db *pgxpool.Pool, id uuid.UUID, taskName, queueKey, workerID string, attempt int) error {
	_, err := db.Exec(ctx, `
		INSERT INTO task_runs (id, task_name, queue_key, status, worker_id, attempt, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, id, taskName, queueKey, StatusRunning, workerID, attempt)
	return err
}

// FinishRun marks a run terminal (succeeded/failed/dead_lettered), with an
// optional error message.
func FinishRun(ctx context.Context, db *pgxpool.Pool, id uuid.UUID, status, lastError string) error {
	_, err := db.Exec(ctx, `
		UPDATE task_runs
		SET status=$2, last_error=$3, finished_at=NOW()
		WHERE id=$1
	`, id, status, lastError)
	return err
}

// ListRecentByTaskName returns the most recent runs for a task name, newest
// first.
func ListRecentByTaskName(ctx context.Context, db *pgxpool.Pool, taskName string, limit int) ([]TaskRun, error) {
	rows, err := db.Query(ctx, `
		SELECT id, task_name, queue_key, status, worker_id, attempt, started_at, finished_at, last_error
		FROM task_runs
		WHERE task_name=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, taskName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []TaskRun
	for rows.Next() {
		var r TaskRun
		var startedAt, finishedAt *time.Time
		var lastError *string
		if err := rows.Scan(&r.ID, &r.TaskName, &r.QueueKey, &r.Status, &r.WorkerID, &r.Attempt, &startedAt, &finishedAt, &lastError); err != nil {
			return nil, err
		}
		r.StartedAt = startedAt
		r.FinishedAt = finishedAt
		if lastError != nil {
			r.LastError = *lastError
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
