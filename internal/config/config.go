package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Vyr-e/backstage/internal/broker"
)

// AppConfig is the full environment-driven configuration envelope for both
// the worker and API binaries.
type AppConfig struct {
	HTTPPort    string
	PostgresDSN string // empty disables the ambient audit store
	Broker      broker.Config
}

// Load reads BACKSTAGE_* environment variables into an AppConfig, falling
// back to broker.DefaultConfig()'s values for anything unset.
func Load() AppConfig {
	d := broker.DefaultConfig()

	httpPort := getenv("HTTP_PORT", "8080")

	addr := getenv("BACKSTAGE_REDIS_ADDR", "localhost:6379")
	host, port := splitAddr(addr, d.Host, d.Port)

	cfg := broker.Config{
		Host:                  host,
		Port:                  port,
		Password:              os.Getenv("BACKSTAGE_REDIS_PASSWORD"),
		DB:                    envInt("BACKSTAGE_REDIS_DB", 0),
		Prefix:                getenv("BACKSTAGE_PREFIX", d.Prefix),
		ConsumerGroup:         getenv("BACKSTAGE_CONSUMER_GROUP", d.ConsumerGroup),
		WorkerID:              getenv("BACKSTAGE_WORKER_ID", defaultWorkerID()),
		BlockTimeout:          envDuration("BACKSTAGE_BLOCK_TIMEOUT", d.BlockTimeout),
		ReclaimerInterval:     envDuration("BACKSTAGE_RECLAIMER_INTERVAL", d.ReclaimerInterval),
		IdleTimeout:           envDuration("BACKSTAGE_IDLE_TIMEOUT", d.IdleTimeout),
		MaxDeliveries:         envInt("BACKSTAGE_MAX_DELIVERIES", d.MaxDeliveries),
		GracePeriod:           envDuration("BACKSTAGE_GRACE_PERIOD", d.GracePeriod),
		Prefetch:              int64(envInt("BACKSTAGE_PREFETCH", int(d.Prefetch))),
		Concurrency:           envInt("BACKSTAGE_CONCURRENCY", d.Concurrency),
		PromoteInterval:       d.PromoteInterval,
		CustomQueues:          parseCustomQueues(os.Getenv("BACKSTAGE_CUSTOM_QUEUES")),
		ConsumerIdleThreshold: envDuration("BACKSTAGE_CONSUMER_IDLE_THRESHOLD", d.ConsumerIdleThreshold),
		BroadcastBlockTimeout: d.BroadcastBlockTimeout,
	}

	return AppConfig{
		HTTPPort:    httpPort,
		PostgresDSN: os.Getenv("BACKSTAGE_POSTGRES_DSN"),
		Broker:      cfg,
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitAddr(addr, fallbackHost string, fallbackPort int) (string, int) {
	parts := strings.SplitN(addr, ":", 2)
	if len(parts) != 2 {
		return fallbackHost, fallbackPort
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil {
		return fallbackHost, fallbackPort
	}
	return parts[0], port
}

// parseCustomQueues parses "name:priority,name:priority" into CustomQueue
// entries, skipping malformed segments.
func parseCustomQueues(raw string) []broker.CustomQueue {
	if raw == "" {
		return nil
	}
	var queues []broker.CustomQueue
	for _, segment := range strings.Split(raw, ",") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		parts := strings.SplitN(segment, ":", 2)
		if len(parts) != 2 {
			continue
		}
		priority, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			continue
		}
		queues = append(queues, broker.CustomQueue{
			Name:     strings.TrimSpace(parts[0]),
			Priority: priority,
		})
	}
	return queues
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return host + "-" + strconv.Itoa(os.Getpid())
}
