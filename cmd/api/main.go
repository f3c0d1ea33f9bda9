package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Vyr-e/backstage/internal/broker"
	"github.com/Vyr-e/backstage/internal/config"
	"github.com/Vyr-e/backstage/internal/httpapi"
	"github.com/Vyr-e/backstage/internal/store"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	cfg := config.Load()

	rdb := broker.NewClient(cfg.Broker)
	defer rdb.Close()

	producer := broker.NewProducer(rdb, cfg.Broker)

	var pool *pgxpool.Pool
	if cfg.PostgresDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		p, err := store.Init(ctx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			logger.Error("postgres init failed, workers listing disabled", "error", err)
		} else {
			schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := store.EnsureSchema(schemaCtx, p); err != nil {
				logger.Error("ensure schema failed, workers listing disabled", "error", err)
				p.Close()
			} else {
				pool = p
				defer pool.Close()
			}
			schemaCancel()
		}
	}

	engine := httpapi.NewServer(rdb, producer, cfg.Broker.Keys(), pool)

	logger.Info("starting api server", "port", cfg.HTTPPort)
	if err := engine.Run(":" + cfg.HTTPPort); err != nil {
		logger.Error("api server exited with error", "error", err)
		os.Exit(1)
	}
}
