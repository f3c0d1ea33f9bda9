package broker

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dispatcher pulls ready messages from the priority streams and custom
// queues under the shared consumer group, with strict priority ordering
// and prefetch/concurrency-bounded backpressure.
type Dispatcher struct {
	redis    redis.UniversalClient
	cfg      Config
	keys     Keys
	executor *Executor
	log      *slog.Logger

	streamKeys []string // priority order: urgent, default, low, then custom queues ascending
	mu         sync.Mutex
	inFlight   int
	running    bool
}

func NewDispatcher(client redis.UniversalClient, cfg Config, executor *Executor, logger *slog.Logger) *Dispatcher {
	cfg = cfg.WithDefaults()
	d := &Dispatcher{
		redis:    client,
		cfg:      cfg,
		keys:     cfg.keys(),
		executor: executor,
		log:      logger.With("component", "dispatcher"),
	}
	d.streamKeys = d.buildStreamOrder()
	return d
}

// StreamKeys returns the dispatcher's priority-ordered stream key list, for
// components (the reclaimer) that must scan the same set.
func (d *Dispatcher) StreamKeys() []string {
	keys := make([]string, len(d.streamKeys))
	copy(keys, d.streamKeys)
	return keys
}

func (d *Dispatcher) buildStreamOrder() []string {
	keys := []string{
		d.keys.Stream(PriorityUrgent),
		d.keys.Stream(PriorityDefault),
		d.keys.Stream(PriorityLow),
	}

	custom := make([]CustomQueue, len(d.cfg.CustomQueues))
	copy(custom, d.cfg.CustomQueues)
	sort.SliceStable(custom, func(i, j int) bool {
		if custom[i].Priority != custom[j].Priority {
			return custom[i].Priority < custom[j].Priority
		}
		return custom[i].Name < custom[j].Name
	})
	for _, q := range custom {
		keys = append(keys, d.keys.Queue(q.Name))
	}
	return keys
}

// EnsureConsumerGroups idempotently creates the shared consumer group on
// every priority stream and custom queue, tolerating BUSYGROUP.
func (d *Dispatcher) EnsureConsumerGroups(ctx context.Context) error {
	for _, key := range d.streamKeys {
		err := d.redis.XGroupCreateMkStream(ctx, key, d.cfg.ConsumerGroup, "0").Err()
		if err != nil && !isBusyGroup(err) {
			return wrapErr(KindTransport, "xgroup_create", err)
		}
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// streamArgs builds the flat []string{key1, key2, ..., ">", ">", ...}
// argument expected by redis.XReadGroupArgs.Streams.
func (d *Dispatcher) streamArgs() []string {
	args := make([]string, 0, len(d.streamKeys)*2)
	args = append(args, d.streamKeys...)
	for range d.streamKeys {
		args = append(args, ">")
	}
	return args
}

// Run executes the dispatch loop until ctx is canceled or Stop is
// observed. It returns once the grace period has elapsed for any
// in-flight handlers.
func (d *Dispatcher) Run(ctx context.Context) {
	d.mu.Lock()
	d.running = true
	d.mu.Unlock()

	var wg sync.WaitGroup
	streams := d.streamArgs()

	for d.isRunning() {
		available := d.availableSlots()
		if available <= 0 {
			select {
			case <-ctx.Done():
			case <-time.After(10 * time.Millisecond):
			}
			if ctx.Err() != nil {
				break
			}
			continue
		}

		count := d.cfg.Prefetch
		if int64(available) < count {
			count = int64(available)
		}

		result, err := d.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    d.cfg.ConsumerGroup,
			Consumer: d.cfg.WorkerID,
			Streams:  streams,
			Count:    count,
			Block:    d.cfg.BlockTimeout,
		}).Result()

		if err == context.Canceled || ctx.Err() != nil {
			break
		}
		if err == redis.Nil {
			continue
		}
		if err != nil {
			d.log.Warn("read error", "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range result {
			for _, msg := range stream.Messages {
				d.addInFlight(1)
				wg.Add(1)
				go func(streamKey string, m redis.XMessage) {
					defer func() {
						d.addInFlight(-1)
						wg.Done()
					}()
					d.executor.Handle(ctx, streamKey, m)
				}(stream.Stream, msg)
			}
		}
	}

	d.mu.Lock()
	d.running = false
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(d.cfg.GracePeriod):
		d.log.Warn("grace period expired, leaving in-flight entries for other workers to reclaim")
	}
}

// Stop signals the dispatch loop to exit after its current blocking read
// returns.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

func (d *Dispatcher) isRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *Dispatcher) availableSlots() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.Concurrency - d.inFlight
}

func (d *Dispatcher) addInFlight(delta int) {
	d.mu.Lock()
	d.inFlight += delta
	d.mu.Unlock()
}
