package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// AuditSink receives best-effort lifecycle notifications for observability.
// A nil sink (the default) disables auditing entirely; a failing sink must
// never affect ack/retry decisions.
type AuditSink interface {
	RunStarted(ctx context.Context, workerID, streamKey, messageID string, msg Message)
	RunSucceeded(ctx context.Context, messageID string)
	RunFailed(ctx context.Context, messageID string, err error)
	RunDeadLettered(ctx context.Context, messageID string, deliveryCount int)
}

// Executor invokes registered handlers for dispatched messages and
// interprets their outcome: terminal success, chained continuation, or
// failure (leave unacknowledged for the reclaimer).
type Executor struct {
	redis    redis.UniversalClient
	cfg      Config
	producer *Producer
	registry *Registry
	audit    AuditSink
	log      *slog.Logger
}

func NewExecutor(client redis.UniversalClient, cfg Config, registry *Registry, audit AuditSink, logger *slog.Logger) *Executor {
	cfg = cfg.WithDefaults()
	return &Executor{
		redis:    client,
		cfg:      cfg,
		producer: NewProducer(client, cfg),
		registry: registry,
		audit:    audit,
		log:      logger.With("component", "executor"),
	}
}

// Handle decodes and dispatches a single stream message to its handler,
// then acks on success/unknown-task or leaves it pending on failure.
func (e *Executor) Handle(ctx context.Context, streamKey string, raw redis.XMessage) {
	if e.invoke(ctx, streamKey, raw.ID, raw.Values) {
		e.ack(ctx, streamKey, raw.ID)
	}
}

// InvokeBroadcast runs the same decode/lookup/handler/chain logic as
// Handle but never touches a consumer-group PEL; the caller (the
// broadcast fan-out loop, which owns a per-worker group with its own
// acknowledgement path) decides whether and how to ack.
func (e *Executor) InvokeBroadcast(ctx context.Context, raw redis.XMessage) bool {
	return e.invoke(ctx, "broadcast", raw.ID, raw.Values)
}

// invoke decodes the message, looks up its handler, and runs it,
// returning true if the caller should consider the message settled
// (unknown task, or handler success). It does not ack.
func (e *Executor) invoke(ctx context.Context, streamKey, id string, values map[string]interface{}) bool {
	msg := MessageFromValues(values)

	handler, ok := e.registry.lookup(msg.TaskName)
	if !ok {
		e.log.Warn("unknown task, discarding", "task", msg.TaskName, "id", id)
		return true
	}

	if e.audit != nil {
		e.audit.RunStarted(ctx, e.cfg.WorkerID, streamKey, id, msg)
	}

	result, err := handler(ctx, msg)
	if err != nil {
		e.log.Warn("handler failed, leaving pending for reclaimer", "task", msg.TaskName, "id", id, "error", err)
		if e.audit != nil {
			e.audit.RunFailed(ctx, id, err)
		}
		return false
	}

	if result != nil {
		e.chain(ctx, *result)
	}

	if e.audit != nil {
		e.audit.RunSucceeded(ctx, id)
	}
	return true
}

func (e *Executor) chain(ctx context.Context, instr WorkflowInstruction) {
	var err error
	if instr.Delay > 0 {
		_, err = e.producer.Schedule(ctx, instr.Next, instr.Payload, time.Duration(instr.Delay)*time.Millisecond)
	} else {
		_, err = e.producer.Enqueue(ctx, instr.Next, instr.Payload)
	}
	if err != nil {
		e.log.Warn("chained enqueue failed", "next", instr.Next, "error", err)
	}
}

func (e *Executor) ack(ctx context.Context, streamKey, id string) {
	if err := e.redis.XAck(ctx, streamKey, e.cfg.ConsumerGroup, id).Err(); err != nil {
		e.log.Warn("ack failed", "stream", streamKey, "id", id, "error", err)
	}
}
