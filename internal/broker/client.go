package broker

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config is the full configuration envelope recognized by both producer
// and worker sides, per the connection/dispatcher/broadcast sections of
// the key schema.
type Config struct {
	// Connection.
	Host     string
	Port     int
	Password string
	DB       int
	Prefix   string // default "backstage"

	// Dispatcher.
	ConsumerGroup     string // default "backstage-workers"
	WorkerID          string // default "<hostname>-<pid>"
	BlockTimeout      time.Duration
	ReclaimerInterval time.Duration
	IdleTimeout       time.Duration
	MaxDeliveries     int
	GracePeriod       time.Duration
	Prefetch          int64
	Concurrency       int
	PromoteInterval   time.Duration // default 1s, per the ~1 Hz promotion tick

	// Custom queues, in addition to the three built-in priority tiers.
	// Dispatch order among these is ascending Priority, ties broken by
	// Name.
	CustomQueues []CustomQueue

	// Broadcast.
	ConsumerIdleThreshold time.Duration
	BroadcastBlockTimeout time.Duration
}

// CustomQueue names a queue outside the {urgent, default, low} tiers,
// given its own dispatch priority (lower runs first, same as the
// urgent/default/low ordering).
type CustomQueue struct {
	Name     string
	Priority int
}

// DefaultConfig returns the documented defaults from the key schema.
func DefaultConfig() Config {
	return Config{
		Host:                  "localhost",
		Port:                  6379,
		Prefix:                DefaultPrefix,
		ConsumerGroup:         DefaultConsumerGroup,
		BlockTimeout:          5 * time.Second,
		ReclaimerInterval:     30 * time.Second,
		IdleTimeout:           60 * time.Second,
		MaxDeliveries:         5,
		GracePeriod:           30 * time.Second,
		Prefetch:              10,
		Concurrency:           50,
		PromoteInterval:       time.Second,
		ConsumerIdleThreshold: time.Hour,
		BroadcastBlockTimeout: 5 * time.Second,
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Prefix == "" {
		c.Prefix = d.Prefix
	}
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = d.ConsumerGroup
	}
	if c.BlockTimeout == 0 {
		c.BlockTimeout = d.BlockTimeout
	}
	if c.ReclaimerInterval == 0 {
		c.ReclaimerInterval = d.ReclaimerInterval
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.MaxDeliveries == 0 {
		c.MaxDeliveries = d.MaxDeliveries
	}
	if c.GracePeriod == 0 {
		c.GracePeriod = d.GracePeriod
	}
	if c.Prefetch == 0 {
		c.Prefetch = d.Prefetch
	}
	if c.Concurrency == 0 {
		c.Concurrency = d.Concurrency
	}
	if c.PromoteInterval == 0 {
		c.PromoteInterval = d.PromoteInterval
	}
	if c.ConsumerIdleThreshold == 0 {
		c.ConsumerIdleThreshold = d.ConsumerIdleThreshold
	}
	if c.BroadcastBlockTimeout == 0 {
		c.BroadcastBlockTimeout = d.BroadcastBlockTimeout
	}
	return c
}

func (c Config) keys() Keys {
	return NewKeys(c.Prefix)
}

// Keys exposes the configured key schema for callers outside the package
// (the HTTP API's dead-letter inspection/replay surface).
func (c Config) Keys() Keys {
	return c.keys()
}

// NewClient creates the shared go-redis client used by every component.
func NewClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
