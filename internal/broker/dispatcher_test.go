package broker

import (
	"log/slog"
	"testing"

	"github.com/redis/go-redis/v9"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestBuildStreamOrder(t *testing.T) {
	cfg := Config{
		CustomQueues: []CustomQueue{
			{Name: "z-queue", Priority: 1},
			{Name: "a-queue", Priority: 1},
			{Name: "bulk", Priority: 5},
		},
	}
	d := NewDispatcher(redis.NewClient(&redis.Options{}), cfg, nil, discardLogger())

	want := []string{
		"backstage:urgent",
		"backstage:default",
		"backstage:low",
		"backstage:a-queue",
		"backstage:z-queue",
		"backstage:bulk",
	}
	got := d.StreamKeys()
	if len(got) != len(want) {
		t.Fatalf("expected %d stream keys, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestStreamArgs(t *testing.T) {
	d := NewDispatcher(redis.NewClient(&redis.Options{}), Config{}, nil, discardLogger())
	args := d.streamArgs()
	if len(args) != 6 {
		t.Fatalf("expected 6 args (3 keys + 3 markers), got %d", len(args))
	}
	for _, a := range args[3:] {
		if a != ">" {
			t.Errorf("expected trailing markers to be \">\", got %q", a)
		}
	}
}
