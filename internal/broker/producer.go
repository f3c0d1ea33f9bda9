package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupeOptions gates an enqueue on a TTL-bound key's atomic creation.
type DedupeOptions struct {
	Key string
	TTL time.Duration // default 1 hour
}

// EnqueueOptions configures a single Enqueue call. Queue overrides
// Priority when set. Delay, if positive, routes the task through the
// delayed-task set instead of directly onto a stream.
type EnqueueOptions struct {
	Priority Priority
	Queue    string
	Delay    time.Duration
	Dedupe   *DedupeOptions
	Attempts int
	Backoff  *Backoff
	Timeout  time.Duration
}

// Producer implements Enqueue/Schedule/Broadcast against a shared redis
// client and key schema.
type Producer struct {
	redis redis.UniversalClient
	keys  Keys
}

func NewProducer(client redis.UniversalClient, cfg Config) *Producer {
	cfg = cfg.WithDefaults()
	return &Producer{redis: client, keys: cfg.keys()}
}

// Enqueue adds a task to a priority stream, a custom queue, or the
// delayed-task set, honoring deduplication first. A dedup hit returns a
// nil error and an empty id as a "skipped" sentinel, not an error, since
// deduplication is expected behavior.
func (p *Producer) Enqueue(ctx context.Context, taskName string, payload interface{}, opts ...EnqueueOptions) (string, error) {
	var opt EnqueueOptions
	if len(opts) > 0 {
		opt = opts[0]
	}
	return p.enqueue(ctx, taskName, payload, opt, opt.Delay > 0)
}

// enqueue runs the Enqueue algorithm; delayed selects the delayed-task set
// over a direct stream append.
func (p *Producer) enqueue(ctx context.Context, taskName string, payload interface{}, opt EnqueueOptions, delayed bool) (string, error) {
	if opt.Dedupe != nil {
		ok, err := p.tryDedupe(ctx, *opt.Dedupe)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", nil
		}
	}

	streamKey := p.resolveStreamKey(opt)

	msg, err := NewMessage(taskName, payload)
	if err != nil {
		return "", err
	}
	msg.Attempts = opt.Attempts
	if opt.Backoff != nil {
		b, err := json.Marshal(opt.Backoff)
		if err != nil {
			return "", wrapErr(KindSerialization, "marshal_backoff", err)
		}
		msg.Backoff = string(b)
	}
	if opt.Timeout > 0 {
		msg.Timeout = opt.Timeout.Milliseconds()
	}

	if delayed {
		return p.scheduleRecord(ctx, msg, streamKey, opt)
	}

	id, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: msg.Fields(),
	}).Result()
	if err != nil {
		return "", wrapErr(KindTransport, "xadd", err)
	}
	return id, nil
}

// Schedule is a convenience wrapper over Enqueue with Delay set. Unlike
// Enqueue, it always routes through the delayed-task set: a zero or
// negative delay makes the entry due at once, for the promoter's next tick.
func (p *Producer) Schedule(ctx context.Context, taskName string, payload interface{}, delay time.Duration, opts ...EnqueueOptions) (string, error) {
	var opt EnqueueOptions
	if len(opts) > 0 {
		opt = opts[0]
	}
	opt.Delay = delay
	return p.enqueue(ctx, taskName, payload, opt, true)
}

// Broadcast appends to the single broadcast stream. Never deduplicated,
// never delayed.
func (p *Producer) Broadcast(ctx context.Context, taskName string, payload interface{}) (string, error) {
	msg, err := NewMessage(taskName, payload)
	if err != nil {
		return "", err
	}
	id, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: p.keys.Broadcast(),
		Values: msg.Fields(),
	}).Result()
	if err != nil {
		return "", wrapErr(KindTransport, "xadd_broadcast", err)
	}
	return id, nil
}

func (p *Producer) tryDedupe(ctx context.Context, d DedupeOptions) (bool, error) {
	ttl := d.TTL
	if ttl == 0 {
		ttl = time.Hour
	}
	set, err := p.redis.SetNX(ctx, p.keys.Dedupe(d.Key), "1", ttl).Result()
	if err != nil {
		return false, wrapErr(KindTransport, "dedupe_setnx", err)
	}
	return set, nil
}

func (p *Producer) resolveStreamKey(opt EnqueueOptions) string {
	if opt.Queue != "" {
		return p.keys.Queue(opt.Queue)
	}
	priority := opt.Priority
	if priority == "" {
		priority = PriorityDefault
	}
	return p.keys.Stream(priority)
}

func (p *Producer) scheduleRecord(ctx context.Context, msg Message, streamKey string, opt EnqueueOptions) (string, error) {
	executeAt := time.Now().Add(opt.Delay).UnixMilli()

	rec := ScheduledRecord{
		TaskName:   msg.TaskName,
		Payload:    msg.Payload,
		EnqueuedAt: msg.EnqueuedAt,
		StreamKey:  streamKey,
		Attempts:   msg.Attempts,
		Backoff:    msg.Backoff,
		Timeout:    msg.Timeout,
	}
	if opt.Priority != "" {
		rec.Priority = string(opt.Priority)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return "", wrapErr(KindSerialization, "marshal_scheduled_record", err)
	}

	err = p.redis.ZAdd(ctx, p.keys.Scheduled(), redis.Z{
		Score:  float64(executeAt),
		Member: string(data),
	}).Err()
	if err != nil {
		return "", wrapErr(KindTransport, "zadd_scheduled", err)
	}

	return fmt.Sprintf("scheduled:%d", executeAt), nil
}
