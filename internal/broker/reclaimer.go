package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// reclaimBatchSize bounds how many idle pending entries a single
// reclaimer tick inspects per stream.
const reclaimBatchSize = 10

// Reclaimer periodically re-owns messages whose pending-list idle age
// exceeds IdleTimeout, routing them to the executor or to dead-letter
// based on delivery count.
type Reclaimer struct {
	redis    redis.UniversalClient
	cfg      Config
	keys     Keys
	executor *Executor
	audit    AuditSink
	log      *slog.Logger

	streamKeys []string // same set the dispatcher reads, built the same way
}

func NewReclaimer(client redis.UniversalClient, cfg Config, streamKeys []string, executor *Executor, audit AuditSink, logger *slog.Logger) *Reclaimer {
	cfg = cfg.WithDefaults()
	return &Reclaimer{
		redis:      client,
		cfg:        cfg,
		keys:       cfg.keys(),
		executor:   executor,
		audit:      audit,
		log:        logger.With("component", "reclaimer"),
		streamKeys: streamKeys,
	}
}

// Run ticks every cfg.ReclaimerInterval until ctx is canceled.
func (r *Reclaimer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ReclaimerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reclaimer) tick(ctx context.Context) {
	for _, streamKey := range r.streamKeys {
		r.reclaimStream(ctx, streamKey)
	}
}

func (r *Reclaimer) reclaimStream(ctx context.Context, streamKey string) {
	pending, err := r.redis.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: streamKey,
		Group:  r.cfg.ConsumerGroup,
		Idle:   r.cfg.IdleTimeout,
		Start:  "-",
		End:    "+",
		Count:  reclaimBatchSize,
	}).Result()
	if err != nil {
		if err != redis.Nil {
			r.log.Warn("xpending failed", "stream", streamKey, "error", err)
		}
		return
	}

	for _, entry := range pending {
		r.reclaimEntry(ctx, streamKey, entry)
	}
}

func (r *Reclaimer) reclaimEntry(ctx context.Context, streamKey string, entry redis.XPendingExt) {
	claimed, err := r.redis.XClaim(ctx, &redis.XClaimArgs{
		Stream:   streamKey,
		Group:    r.cfg.ConsumerGroup,
		Consumer: r.cfg.WorkerID,
		MinIdle:  r.cfg.IdleTimeout,
		Messages: []string{entry.ID},
	}).Result()
	if err != nil || len(claimed) == 0 {
		// Lost the race to another reclaimer's min-idle-gated claim, or
		// the message was acked between XPending and XClaim. Either way,
		// nothing to do this tick.
		return
	}

	// The claim we just issued incremented the PEL retry count; per spec
	// this incremented value, not a value re-fetched afterward, is what
	// gets compared against MaxDeliveries.
	deliveryCount := int(entry.RetryCount) + 1

	if deliveryCount > r.cfg.MaxDeliveries {
		r.deadLetter(ctx, streamKey, claimed[0], deliveryCount)
		return
	}

	r.executor.Handle(ctx, streamKey, claimed[0])
}

func (r *Reclaimer) deadLetter(ctx context.Context, streamKey string, msg redis.XMessage, deliveryCount int) {
	priority := priorityFromStreamKey(r.keys, streamKey)

	fields := []interface{}{
		"taskName", msg.Values["taskName"],
		"payload", msg.Values["payload"],
		"enqueuedAt", msg.Values["enqueuedAt"],
		"originalId", msg.ID,
		"deliveryCount", deliveryCount,
		"deadLetteredAt", time.Now().UnixMilli(),
	}

	err := r.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: r.keys.DeadLetter(priority),
		Values: fields,
	}).Err()
	if err != nil {
		r.log.Warn("dead-letter xadd failed", "stream", streamKey, "id", msg.ID, "error", err)
		return
	}

	if err := r.redis.XAck(ctx, streamKey, r.cfg.ConsumerGroup, msg.ID).Err(); err != nil {
		r.log.Warn("dead-letter ack failed", "stream", streamKey, "id", msg.ID, "error", err)
	}

	if r.audit != nil {
		r.audit.RunDeadLettered(ctx, msg.ID, deliveryCount)
	}
}

// priorityFromStreamKey maps a stream key back to a dead-letter priority
// name. Custom queues dead-letter under their own name, matching the
// "<prefix>:<priority>:dead-letter" pattern for any stream, not only the
// three built-in tiers.
func priorityFromStreamKey(k Keys, streamKey string) Priority {
	prefix := k.Prefix + ":"
	if len(streamKey) > len(prefix) && streamKey[:len(prefix)] == prefix {
		return Priority(streamKey[len(prefix):])
	}
	return PriorityDefault
}
