package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Vyr-e/backstage/internal/broker"
)

// AuditSink implements broker.AuditSink against the Postgres task_runs
// table. It tracks in-flight run IDs by message ID in memory so
// RunSucceeded/RunFailed can resolve back to the row RunStarted inserted.
type AuditSink struct {
	db  *pgxpool.Pool
	log *slog.Logger

	mu      sync.Mutex
	running map[string]uuid.UUID
}

func NewAuditSink(db *pgxpool.Pool, logger *slog.Logger) *AuditSink {
	return &AuditSink{
		db:      db,
		log:     logger.With("component", "audit"),
		running: make(map[string]uuid.UUID),
	}
}

func (a *AuditSink) RunStarted(ctx context.Context, workerID, streamKey, messageID string, msg broker.Message) {
	id := uuid.New()

	a.mu.Lock()
	a.running[messageID] = id
	a.mu.Unlock()

	attempt := msg.Attempts
	if attempt == 0 {
		attempt = 1
	}
	if err := InsertRunning(ctx, a.db, id, msg.TaskName, streamKey, workerID, attempt); err != nil {
		a.log.Warn("insert running run failed", "messageID", messageID, "error", err)
	}
}

func (a *AuditSink) RunSucceeded(ctx context.Context, messageID string) {
	id, ok := a.take(messageID)
	if !ok {
		return
	}
	if err := FinishRun(ctx, a.db, id, StatusSucceeded, ""); err != nil {
		a.log.Warn("finish succeeded run failed", "messageID", messageID, "error", err)
	}
}

func (a *AuditSink) RunFailed(ctx context.Context, messageID string, runErr error) {
	id, ok := a.take(messageID)
	if !ok {
		return
	}
	if err := FinishRun(ctx, a.db, id, StatusFailed, runErr.Error()); err != nil {
		a.log.Warn("finish failed run failed", "messageID", messageID, "error", err)
	}
}

// RunDeadLettered records a run's terminal dead-lettering. Since the
// reclaimer claims and dead-letters messages without ever routing them
// through the executor, there is usually no in-memory run row to resolve
// back to (take returns false) — the dead-letter stream entry itself is
// the durable record in that case, and this call is a no-op.
func (a *AuditSink) RunDeadLettered(ctx context.Context, messageID string, deliveryCount int) {
	id, ok := a.take(messageID)
	if !ok {
		return
	}
	if err := FinishRun(ctx, a.db, id, StatusDeadLettered, ""); err != nil {
		a.log.Warn("finish dead-lettered run failed", "messageID", messageID, "error", err)
	}
}

func (a *AuditSink) take(messageID string) (uuid.UUID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.running[messageID]
	if ok {
		delete(a.running, messageID)
	}
	return id, ok
}
