package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/Vyr-e/backstage/internal/broker"
	"github.com/Vyr-e/backstage/internal/config"
	"github.com/Vyr-e/backstage/internal/store"
	"github.com/Vyr-e/backstage/internal/worker"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	cfg := config.Load()

	rdb := broker.NewClient(cfg.Broker)
	defer rdb.Close()

	registry := broker.NewRegistry()
	registerHandlers(registry)

	var opts []worker.Option

	if cfg.PostgresDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pool, err := store.Init(ctx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			logger.Error("postgres init failed, continuing without audit store", "error", err)
		} else {
			defer pool.Close()

			schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := store.EnsureSchema(schemaCtx, pool); err != nil {
				logger.Error("ensure schema failed, continuing without audit store", "error", err)
			} else {
				opts = append(opts, worker.WithAuditSink(store.NewAuditSink(pool, logger)))
				opts = append(opts, worker.WithHeartbeat(worker.NewHeartbeat(rdb, pool, cfg.Broker, 15*time.Second, logger)))
			}
			schemaCancel()
		}
	}

	if len(opts) == 0 {
		// No audit store: still heartbeat in Redis so the liveness key
		// exists, just without a queryable registry row.
		opts = append(opts, worker.WithHeartbeat(worker.NewHeartbeat(rdb, nil, cfg.Broker, 15*time.Second, logger)))
	}

	w := worker.New(rdb, cfg.Broker, registry, logger, opts...)

	if err := w.Run(context.Background()); err != nil {
		logger.Error("worker exited with error", "error", err)
		os.Exit(1)
	}
}
