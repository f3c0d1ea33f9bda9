package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Broadcast implements per-worker fan-out delivery: every worker gets its
// own consumer group on the shared broadcast stream, so each broadcast
// message is delivered once per worker rather than once across all
// workers, as a single shared group would deliver it.
type Broadcast struct {
	redis redis.UniversalClient
	cfg   Config
	keys  Keys
	group string
	log   *slog.Logger
}

func NewBroadcast(client redis.UniversalClient, cfg Config, logger *slog.Logger) *Broadcast {
	cfg = cfg.WithDefaults()
	return &Broadcast{
		redis: client,
		cfg:   cfg,
		keys:  cfg.keys(),
		group: BroadcastGroup(cfg.WorkerID),
		log:   logger.With("component", "broadcast"),
	}
}

// Initialize creates this worker's own consumer group at offset 0,
// tolerating BUSYGROUP, and records a creation-time marker used by
// Cleanup to avoid reaping a group before any consumer has attached.
func (b *Broadcast) Initialize(ctx context.Context) error {
	err := b.redis.XGroupCreateMkStream(ctx, b.keys.Broadcast(), b.group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return wrapErr(KindTransport, "broadcast_xgroup_create", err)
	}

	marker := b.keys.BroadcastGroupMarker(b.group)
	if err := b.redis.Set(ctx, marker, time.Now().UnixMilli(), 0).Err(); err != nil {
		return wrapErr(KindTransport, "broadcast_group_marker", err)
	}
	return nil
}

// Send appends a broadcast message for every worker's group to observe.
func (b *Broadcast) Send(ctx context.Context, taskName string, payload interface{}) (string, error) {
	msg, err := NewMessage(taskName, payload)
	if err != nil {
		return "", err
	}
	id, err := b.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: b.keys.Broadcast(),
		Values: msg.Fields(),
	}).Result()
	if err != nil {
		return "", wrapErr(KindTransport, "broadcast_xadd", err)
	}
	return id, nil
}

// Read performs a group-read of new entries for this worker's own group.
func (b *Broadcast) Read(ctx context.Context, blockMs time.Duration) ([]redis.XMessage, error) {
	res, err := b.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    b.group,
		Consumer: b.cfg.WorkerID,
		Streams:  []string{b.keys.Broadcast(), ">"},
		Block:    blockMs,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(KindTransport, "broadcast_xreadgroup", err)
	}
	if len(res) == 0 {
		return nil, nil
	}
	return res[0].Messages, nil
}

// Ack acknowledges a broadcast message within this worker's own group.
func (b *Broadcast) Ack(ctx context.Context, id string) error {
	if err := b.redis.XAck(ctx, b.keys.Broadcast(), b.group, id).Err(); err != nil {
		return wrapErr(KindTransport, "broadcast_xack", err)
	}
	return nil
}

// Cleanup destroys other workers' stale consumer groups: groups with zero
// consumers, or whose every consumer has been idle at least
// ConsumerIdleThreshold. This worker's own group is never touched. A
// just-created group (younger than ConsumerIdleThreshold, per its marker)
// is skipped even if it currently has zero consumers, since a worker may
// call Initialize before it has issued its first Read.
func (b *Broadcast) Cleanup(ctx context.Context) error {
	groups, err := b.redis.XInfoGroups(ctx, b.keys.Broadcast()).Result()
	if err != nil {
		return wrapErr(KindTransport, "broadcast_xinfo_groups", err)
	}

	for _, g := range groups {
		if g.Name == b.group {
			continue
		}
		stale, err := b.isStale(ctx, g)
		if err != nil {
			b.log.Warn("stale check failed", "group", g.Name, "error", err)
			continue
		}
		if !stale {
			continue
		}
		if err := b.redis.XGroupDestroy(ctx, b.keys.Broadcast(), g.Name).Err(); err != nil {
			b.log.Warn("xgroup destroy failed", "group", g.Name, "error", err)
			continue
		}
		b.redis.Del(ctx, b.keys.BroadcastGroupMarker(g.Name))
	}
	return nil
}

func (b *Broadcast) isStale(ctx context.Context, g redis.XInfoGroup) (bool, error) {
	if young, err := b.isYoung(ctx, g.Name); err != nil {
		return false, err
	} else if young {
		return false, nil
	}

	consumers, err := b.redis.XInfoConsumers(ctx, b.keys.Broadcast(), g.Name).Result()
	if err != nil {
		return false, wrapErr(KindTransport, "broadcast_xinfo_consumers", err)
	}
	if len(consumers) == 0 {
		return true, nil
	}

	for _, c := range consumers {
		if c.Idle < b.cfg.ConsumerIdleThreshold {
			return false, nil
		}
	}
	return true, nil
}

func (b *Broadcast) isYoung(ctx context.Context, group string) (bool, error) {
	createdMs, err := b.redis.Get(ctx, b.keys.BroadcastGroupMarker(group)).Int64()
	if err == redis.Nil {
		// No marker: a group predating this mechanism, or one created by
		// an older worker version. Treat as old enough to be eligible.
		return false, nil
	}
	if err != nil {
		return false, wrapErr(KindTransport, "broadcast_group_marker_get", err)
	}
	age := time.Since(time.UnixMilli(createdMs))
	return age < b.cfg.ConsumerIdleThreshold, nil
}
