package store

import (
	"time"

	"github.com/google/uuid"
)

// Status values recorded on a TaskRun row.
const (
	StatusQueued       = "queued"
	StatusRunning      = "running"
	StatusSucceeded    = "succeeded"
	StatusFailed       = "failed"
	StatusDeadLettered = "dead_lettered"
)

// TaskRun is an audit record of one handler invocation. Unlike the stream
// message it observes, it has no bearing on delivery correctness — it
// exists so operators can see what happened.
type TaskRun struct {
	ID         uuid.UUID
	TaskName   string
	QueueKey   string
	Status     string
	WorkerID   string
	Attempt    int
	StartedAt  *time.Time
	FinishedAt *time.Time
	LastError  string
}

// WorkerRecord is a worker's registry entry, upserted by its heartbeat
// loop.
type WorkerRecord struct {
	ID              string
	Hostname        string
	PID             int
	Queues          []string
	Concurrency     int
	LastHeartbeatAt time.Time
}
