package config

import (
	"os"
	"testing"
	"time"
)

var backstageEnvVars = []string{
	"HTTP_PORT", "BACKSTAGE_REDIS_ADDR", "BACKSTAGE_REDIS_PASSWORD", "BACKSTAGE_REDIS_DB",
	"BACKSTAGE_PREFIX", "BACKSTAGE_CONSUMER_GROUP", "BACKSTAGE_WORKER_ID", "BACKSTAGE_BLOCK_TIMEOUT",
	"BACKSTAGE_RECLAIMER_INTERVAL", "BACKSTAGE_IDLE_TIMEOUT", "BACKSTAGE_MAX_DELIVERIES",
	"BACKSTAGE_GRACE_PERIOD", "BACKSTAGE_PREFETCH", "BACKSTAGE_CONCURRENCY",
	"BACKSTAGE_CUSTOM_QUEUES", "BACKSTAGE_CONSUMER_IDLE_THRESHOLD", "BACKSTAGE_POSTGRES_DSN",
}

func clearBackstageEnv(t *testing.T) {
	t.Helper()
	for _, name := range backstageEnvVars {
		old, had := os.LookupEnv(name)
		os.Unsetenv(name)
		t.Cleanup(func() {
			if had {
				os.Setenv(name, old)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	clearBackstageEnv(t)

	cfg := Load()

	if cfg.HTTPPort != "8080" {
		t.Errorf("expected default http port 8080, got %s", cfg.HTTPPort)
	}
	if cfg.PostgresDSN != "" {
		t.Errorf("expected empty postgres dsn by default, got %q", cfg.PostgresDSN)
	}
	if cfg.Broker.Host != "localhost" || cfg.Broker.Port != 6379 {
		t.Errorf("expected default redis addr, got %s:%d", cfg.Broker.Host, cfg.Broker.Port)
	}
	if cfg.Broker.WorkerID == "" {
		t.Error("expected a non-empty default worker id")
	}
}

func TestLoadSplitsRedisAddr(t *testing.T) {
	clearBackstageEnv(t)
	os.Setenv("BACKSTAGE_REDIS_ADDR", "redis.internal:6380")

	cfg := Load()

	if cfg.Broker.Host != "redis.internal" || cfg.Broker.Port != 6380 {
		t.Errorf("expected split host/port, got %s:%d", cfg.Broker.Host, cfg.Broker.Port)
	}
}

func TestLoadFallsBackOnMalformedAddr(t *testing.T) {
	clearBackstageEnv(t)
	os.Setenv("BACKSTAGE_REDIS_ADDR", "not-a-valid-addr")

	cfg := Load()

	if cfg.Broker.Host != "localhost" || cfg.Broker.Port != 6379 {
		t.Errorf("expected fallback host/port on malformed addr, got %s:%d", cfg.Broker.Host, cfg.Broker.Port)
	}
}

func TestEnvDurationFallsBackOnGarbage(t *testing.T) {
	clearBackstageEnv(t)
	os.Setenv("BACKSTAGE_IDLE_TIMEOUT", "not-a-duration")

	got := envDuration("BACKSTAGE_IDLE_TIMEOUT", 30*time.Second)
	if got != 30*time.Second {
		t.Errorf("expected fallback duration, got %v", got)
	}
}

func TestEnvIntFallsBackOnGarbage(t *testing.T) {
	clearBackstageEnv(t)
	os.Setenv("BACKSTAGE_MAX_DELIVERIES", "nope")

	got := envInt("BACKSTAGE_MAX_DELIVERIES", 5)
	if got != 5 {
		t.Errorf("expected fallback int, got %d", got)
	}
}

func TestParseCustomQueues(t *testing.T) {
	got := parseCustomQueues("reports:2, bulk-email:10,,malformed,onemore:3")

	want := map[string]int{"reports": 2, "bulk-email": 10, "onemore": 3}
	if len(got) != len(want) {
		t.Fatalf("expected %d queues, got %d: %+v", len(want), len(got), got)
	}
	for _, q := range got {
		priority, ok := want[q.Name]
		if !ok {
			t.Errorf("unexpected queue %q in result", q.Name)
			continue
		}
		if q.Priority != priority {
			t.Errorf("queue %q: expected priority %d, got %d", q.Name, priority, q.Priority)
		}
	}
}

func TestParseCustomQueuesEmpty(t *testing.T) {
	if got := parseCustomQueues(""); got != nil {
		t.Errorf("expected nil for empty input, got %+v", got)
	}
}
