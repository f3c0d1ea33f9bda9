package worker

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Vyr-e/backstage/internal/broker"
)

// Worker composes the full set of broker components into one running
// process: dispatcher, reclaimer, promoter, broadcast fan-out, and a
// heartbeat, all sharing one redis client and one handler registry.
type Worker struct {
	redis      redis.UniversalClient
	cfg        broker.Config
	registry   *broker.Registry
	executor   *broker.Executor
	dispatcher *broker.Dispatcher
	reclaimer  *broker.Reclaimer
	promoter   *broker.Promoter
	broadcast  *broker.Broadcast
	heartbeat  *Heartbeat
	log        *slog.Logger
}

// Option configures optional Worker dependencies at construction time.
type Option func(*options)

type options struct {
	audit     broker.AuditSink
	heartbeat *Heartbeat
}

func WithAuditSink(sink broker.AuditSink) Option {
	return func(o *options) { o.audit = sink }
}

func WithHeartbeat(hb *Heartbeat) Option {
	return func(o *options) { o.heartbeat = hb }
}

// New builds a Worker around a shared redis client, configuration, and
// handler registry.
func New(client redis.UniversalClient, cfg broker.Config, registry *broker.Registry, logger *slog.Logger, opts ...Option) *Worker {
	cfg = cfg.WithDefaults()

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	executor := broker.NewExecutor(client, cfg, registry, o.audit, logger)
	dispatcher := broker.NewDispatcher(client, cfg, executor, logger)

	return &Worker{
		redis:      client,
		cfg:        cfg,
		registry:   registry,
		executor:   executor,
		dispatcher: dispatcher,
		reclaimer:  broker.NewReclaimer(client, cfg, dispatcher.StreamKeys(), executor, o.audit, logger),
		promoter:   broker.NewPromoter(client, cfg, logger),
		broadcast:  broker.NewBroadcast(client, cfg, logger),
		heartbeat:  o.heartbeat,
		log:        logger.With("component", "worker"),
	}
}

// Run starts every subsystem and blocks until SIGTERM/SIGINT/SIGQUIT, or
// until ctx is canceled, then waits up to GracePeriod for in-flight
// handlers before returning.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.dispatcher.EnsureConsumerGroups(ctx); err != nil {
		return err
	}
	if err := w.broadcast.Initialize(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	go func() {
		select {
		case sig := <-sigCh:
			w.log.Info("shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	go w.reclaimer.Run(runCtx)
	go w.promoter.Run(runCtx)
	go w.runBroadcastLoop(runCtx)
	go w.runBroadcastReaper(runCtx)
	if w.heartbeat != nil {
		go w.heartbeat.Run(runCtx)
	}

	w.log.Info("worker started", "workerID", w.cfg.WorkerID)
	w.dispatcher.Run(runCtx)
	w.log.Info("worker stopped")
	return nil
}

func (w *Worker) runBroadcastLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		messages, err := w.broadcast.Read(ctx, w.cfg.BroadcastBlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Warn("broadcast read failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		for _, msg := range messages {
			if !w.executor.InvokeBroadcast(ctx, msg) {
				// Handler failed; leave unacknowledged in this worker's own
				// broadcast group rather than lose the message.
				continue
			}
			if err := w.broadcast.Ack(ctx, msg.ID); err != nil {
				w.log.Warn("broadcast ack failed", "id", msg.ID, "error", err)
			}
		}
	}
}

func (w *Worker) runBroadcastReaper(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.ConsumerIdleThreshold / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.broadcast.Cleanup(ctx); err != nil {
				w.log.Warn("broadcast cleanup failed", "error", err)
			}
		}
	}
}
