package port

import (
	"context"

	"github.com/rl1809/eshop-product-service/internal/core/domain"
)

type MessageBroker interface {
	Publish(ctx context.Context, topic string, event domain.Event) error

	// Consume blocks delivering every event read from queue to handler.
	// It returns nil once ctx is done and an error when the broker connection is lost.
	Consume(ctx context.Context, queue string, handler EventHandler) error

	Close() error
}

type EventHandler interface {
	HandleEvent(ctx context.Context, event domain.Event) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, event domain.Event) error

func (f EventHandlerFunc) HandleEvent(ctx context.Context, event domain.Event) error {
	return f(ctx, event)
}
