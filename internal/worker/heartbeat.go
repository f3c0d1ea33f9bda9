package worker

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/Vyr-e/backstage/internal/broker"
	"github.com/Vyr-e/backstage/internal/store"
)

// heartbeatTTL is how long a Redis liveness key outlives its refresh
// interval, so a crashed worker's key expires rather than lingering.
const heartbeatTTL = 3 * time.Minute

// Heartbeat periodically refreshes a Redis liveness key and, if a
// Postgres pool is configured, upserts this worker's registry row so
// GET /api/v1/workers can list it.
type Heartbeat struct {
	redis       redis.UniversalClient
	db          *pgxpool.Pool // nil disables the registry upsert
	workerID    string
	queues      []string
	concurrency int
	interval    time.Duration
	log         *slog.Logger
}

func NewHeartbeat(client redis.UniversalClient, db *pgxpool.Pool, cfg broker.Config, interval time.Duration, logger *slog.Logger) *Heartbeat {
	if interval == 0 {
		interval = 15 * time.Second
	}
	queues := []string{string(broker.PriorityUrgent), string(broker.PriorityDefault), string(broker.PriorityLow)}
	for _, q := range cfg.CustomQueues {
		queues = append(queues, q.Name)
	}
	return &Heartbeat{
		redis:       client,
		db:          db,
		workerID:    cfg.WorkerID,
		queues:      queues,
		concurrency: cfg.Concurrency,
		interval:    interval,
		log:         logger.With("component", "heartbeat"),
	}
}

func (h *Heartbeat) key() string {
	return "worker:" + h.workerID + ":heartbeat"
}

// Run refreshes the heartbeat immediately, then on every tick until ctx is
// canceled.
func (h *Heartbeat) Run(ctx context.Context) {
	h.beat(ctx)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.beat(ctx)
		}
	}
}

func (h *Heartbeat) beat(ctx context.Context) {
	if err := h.redis.Set(ctx, h.key(), "1", heartbeatTTL).Err(); err != nil {
		h.log.Warn("redis heartbeat failed", "error", err)
	}

	if h.db == nil {
		return
	}
	hostname, _ := os.Hostname()
	rec := store.WorkerRecord{
		ID:          h.workerID,
		Hostname:    hostname,
		PID:         os.Getpid(),
		Queues:      h.queues,
		Concurrency: h.concurrency,
	}
	if err := store.UpsertWorker(ctx, h.db, rec); err != nil {
		h.log.Warn("worker registry upsert failed", "error", err)
	}
}

