package broker

import (
	"context"
	"sync"
)

// WorkflowInstruction is a handler's continuation result: enqueue Next
// (optionally after Delay milliseconds, otherwise immediately at default
// priority) with Payload, then acknowledge the current message.
type WorkflowInstruction struct {
	Next    string
	Delay   int64 // milliseconds
	Payload interface{}
}

// Handler processes a task's payload and optionally returns a workflow
// continuation. A returned error means failure: the message is left
// unacknowledged for the reclaimer to retry or dead-letter.
type Handler func(ctx context.Context, payload Message) (*WorkflowInstruction, error)

// Registry maps task names to handlers, shared by the Dispatcher's
// Executor across goroutines.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// On registers a handler for a task name, replacing any previous handler.
func (r *Registry) On(taskName string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskName] = h
}

func (r *Registry) lookup(taskName string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskName]
	return h, ok
}
