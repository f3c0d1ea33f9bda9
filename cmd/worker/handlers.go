package main

import (
	"context"
	"log/slog"

	"github.com/Vyr-e/backstage/internal/broker"
)

// registerHandlers wires the demo task handlers used to exercise the
// delivery engine end to end. A real deployment replaces this with its own
// domain handlers.
func registerHandlers(registry *broker.Registry) {
	registry.On("email.send", handleEmailSend)
	registry.On("reminder", handleReminder)
	registry.On("cache.invalidate", handleCacheInvalidate)
	registry.On("order.create", handleOrderCreate)
}

type emailSendPayload struct {
	To string `json:"to"`
}

func handleEmailSend(ctx context.Context, msg broker.Message) (*broker.WorkflowInstruction, error) {
	var p emailSendPayload
	if err := msg.DecodePayload(&p); err != nil {
		return nil, err
	}
	slog.Default().Info("sending email", "to", p.To)
	return nil, nil
}

func handleReminder(ctx context.Context, msg broker.Message) (*broker.WorkflowInstruction, error) {
	slog.Default().Info("reminder fired")
	return nil, nil
}

type cacheInvalidatePayload struct {
	Key string `json:"key"`
}

func handleCacheInvalidate(ctx context.Context, msg broker.Message) (*broker.WorkflowInstruction, error) {
	var p cacheInvalidatePayload
	if err := msg.DecodePayload(&p); err != nil {
		return nil, err
	}
	slog.Default().Info("invalidating cache key", "key", p.Key)
	return nil, nil
}

type orderCreatePayload struct {
	ID string `json:"id"`
}

func handleOrderCreate(ctx context.Context, msg broker.Message) (*broker.WorkflowInstruction, error) {
	var p orderCreatePayload
	if err := msg.DecodePayload(&p); err != nil {
		return nil, err
	}
	slog.Default().Info("order created", "id", p.ID)
	return &broker.WorkflowInstruction{Next: "email.send", Payload: emailSendPayload{To: "orders@example.com"}}, nil
}
