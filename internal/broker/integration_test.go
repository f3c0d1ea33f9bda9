package broker

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newIntegrationRedis connects to a local redis instance and skips the
// calling test if one isn't reachable, matching the pattern used
// throughout the upstream implementation's own test suite.
func newIntegrationRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skipping, redis unavailable: %v", err)
	}
	t.Cleanup(func() {
		keys, _ := rdb.Keys(context.Background(), "backstage-test:*").Result()
		if len(keys) > 0 {
			rdb.Del(context.Background(), keys...)
		}
		rdb.Close()
	})
	return rdb
}

func testConfig() Config {
	return Config{
		Prefix:        "backstage-test",
		ConsumerGroup: "test-group",
		WorkerID:      "test-worker",
		IdleTimeout:   100 * time.Millisecond,
		MaxDeliveries: 2,
	}
}

func TestProducerEnqueueAndDedupe(t *testing.T) {
	rdb := newIntegrationRedis(t)
	ctx := context.Background()
	cfg := testConfig()
	p := NewProducer(rdb, cfg)

	id, err := p.Enqueue(ctx, "order.create", map[string]string{"id": "7"}, EnqueueOptions{
		Dedupe: &DedupeOptions{Key: "order-7", TTL: time.Minute},
	})
	if err != nil {
		t.Fatalf("first enqueue failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty id on first enqueue")
	}

	id2, err := p.Enqueue(ctx, "order.create", map[string]string{"id": "7"}, EnqueueOptions{
		Dedupe: &DedupeOptions{Key: "order-7", TTL: time.Minute},
	})
	if err != nil {
		t.Fatalf("second enqueue failed: %v", err)
	}
	if id2 != "" {
		t.Fatalf("expected empty id on deduplicated enqueue, got %q", id2)
	}

	length, err := rdb.XLen(ctx, cfg.Keys().Stream(PriorityDefault)).Result()
	if err != nil {
		t.Fatalf("xlen failed: %v", err)
	}
	if length != 1 {
		t.Fatalf("expected stream length 1, got %d", length)
	}
}

func TestProducerScheduleAndPromote(t *testing.T) {
	rdb := newIntegrationRedis(t)
	ctx := context.Background()
	cfg := testConfig()
	p := NewProducer(rdb, cfg)
	promoter := NewPromoter(rdb, cfg, discardLogger())

	// A negative delay is already due, matching the past-due promotion
	// scenario against the scheduled set directly.
	if _, err := p.Schedule(ctx, "reminder", nil, -time.Second); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	card, err := rdb.ZCard(ctx, cfg.Keys().Scheduled()).Result()
	if err != nil {
		t.Fatalf("zcard failed: %v", err)
	}
	if card != 1 {
		t.Fatalf("expected one scheduled entry, got %d", card)
	}

	promoted, err := promoter.Tick(ctx)
	if err != nil {
		t.Fatalf("promote tick failed: %v", err)
	}
	if promoted != 1 {
		t.Fatalf("expected 1 promoted entry, got %d", promoted)
	}

	card, _ = rdb.ZCard(ctx, cfg.Keys().Scheduled()).Result()
	if card != 0 {
		t.Fatalf("expected scheduled set to drain, got card %d", card)
	}

	length, err := rdb.XLen(ctx, cfg.Keys().Stream(PriorityDefault)).Result()
	if err != nil {
		t.Fatalf("xlen failed: %v", err)
	}
	if length != 1 {
		t.Fatalf("expected promoted entry to land on default stream, got length %d", length)
	}
}

func TestReclaimerDeadLettersAfterMaxDeliveries(t *testing.T) {
	rdb := newIntegrationRedis(t)
	ctx := context.Background()
	cfg := testConfig()
	keys := cfg.Keys()

	registry := NewRegistry()
	registry.On("always.fails", func(ctx context.Context, msg Message) (*WorkflowInstruction, error) {
		return nil, errAlwaysFails
	})

	p := NewProducer(rdb, cfg)
	if _, err := p.Enqueue(ctx, "always.fails", nil); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	streamKey := keys.Stream(PriorityDefault)
	if err := rdb.XGroupCreateMkStream(ctx, streamKey, cfg.ConsumerGroup, "0").Err(); err != nil && !isBusyGroup(err) {
		t.Fatalf("xgroup create failed: %v", err)
	}

	executor := NewExecutor(rdb, cfg, registry, nil, discardLogger())
	reclaimer := NewReclaimer(rdb, cfg, []string{streamKey}, executor, nil, discardLogger())

	// Read once under a different consumer so the message sits pending
	// with zero idle time, then let it age past IdleTimeout and reclaim
	// it repeatedly until it exceeds MaxDeliveries.
	_, err := rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group: cfg.ConsumerGroup, Consumer: "stale-consumer",
		Streams: []string{streamKey, ">"}, Count: 1,
	}).Result()
	if err != nil {
		t.Fatalf("initial read failed: %v", err)
	}

	time.Sleep(cfg.IdleTimeout * 2)
	reclaimer.tick(ctx) // attempt 2 (post-claim)
	time.Sleep(cfg.IdleTimeout * 2)
	reclaimer.tick(ctx) // attempt 3 (post-claim): exceeds MaxDeliveries=2

	dlqLen, err := rdb.XLen(ctx, keys.DeadLetter(PriorityDefault)).Result()
	if err != nil {
		t.Fatalf("xlen dlq failed: %v", err)
	}
	if dlqLen != 1 {
		t.Fatalf("expected message to be dead-lettered, dlq length=%d", dlqLen)
	}

	pending, err := rdb.XPending(ctx, streamKey, cfg.ConsumerGroup).Result()
	if err != nil {
		t.Fatalf("xpending failed: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected PEL to be empty after dead-lettering, got %d", pending.Count)
	}
}

type alwaysFailsError struct{}

func (alwaysFailsError) Error() string { return "always fails" }

var errAlwaysFails = alwaysFailsError{}

func TestBroadcastFanOut(t *testing.T) {
	rdb := newIntegrationRedis(t)
	ctx := context.Background()
	cfgA := testConfig()
	cfgA.WorkerID = "worker-a"
	cfgB := testConfig()
	cfgB.WorkerID = "worker-b"

	bcA := NewBroadcast(rdb, cfgA, discardLogger())
	bcB := NewBroadcast(rdb, cfgB, discardLogger())

	if err := bcA.Initialize(ctx); err != nil {
		t.Fatalf("worker A initialize failed: %v", err)
	}
	if err := bcB.Initialize(ctx); err != nil {
		t.Fatalf("worker B initialize failed: %v", err)
	}

	if _, err := bcA.Send(ctx, "cache.invalidate", map[string]string{"key": "users"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	msgsA, err := bcA.Read(ctx, time.Second)
	if err != nil {
		t.Fatalf("worker A read failed: %v", err)
	}
	if len(msgsA) != 1 {
		t.Fatalf("expected worker A to observe 1 message, got %d", len(msgsA))
	}

	msgsB, err := bcB.Read(ctx, time.Second)
	if err != nil {
		t.Fatalf("worker B read failed: %v", err)
	}
	if len(msgsB) != 1 {
		t.Fatalf("expected worker B to observe 1 message, got %d", len(msgsB))
	}
}

func TestBroadcastCleanupSkipsYoungGroups(t *testing.T) {
	rdb := newIntegrationRedis(t)
	ctx := context.Background()
	cfgA := testConfig()
	cfgA.WorkerID = "worker-a"
	cfgB := testConfig()
	cfgB.WorkerID = "worker-b"

	bcA := NewBroadcast(rdb, cfgA, discardLogger())
	bcB := NewBroadcast(rdb, cfgB, discardLogger())

	if err := bcA.Initialize(ctx); err != nil {
		t.Fatalf("worker A initialize failed: %v", err)
	}
	if err := bcB.Initialize(ctx); err != nil {
		t.Fatalf("worker B initialize failed: %v", err)
	}

	// Worker A has just created its group and has zero consumers attached
	// (Initialize alone does not attach one); Cleanup from worker B's
	// perspective must not reap it since it is younger than the idle
	// threshold.
	if err := bcB.Cleanup(ctx); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}

	groups, err := rdb.XInfoGroups(ctx, cfgA.Keys().Broadcast()).Result()
	if err != nil {
		t.Fatalf("xinfo groups failed: %v", err)
	}
	found := false
	for _, g := range groups {
		if g.Name == BroadcastGroup("worker-a") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected worker A's fresh group to survive cleanup")
	}
}
