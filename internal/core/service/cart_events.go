package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/eshop-product-service/internal/core/domain"
	"github.com/rl1809/eshop-product-service/internal/port"
)

// CartEventProcessor turns cart events consumed from the broker into
// reserved-inventory commands. It never stages events of its own.
type CartEventProcessor struct {
	increment CommandHandler[IncrementReservedInventory, Empty]
	decrement CommandHandler[DecrementReservedInventory, Empty]
	processed port.IdempotencyStore
	logger    *zap.Logger
	tracer    trace.Tracer
}

var _ port.EventHandler = (*CartEventProcessor)(nil)

// NewCartEventProcessor deduplicates by event id when processed is not nil.
func NewCartEventProcessor(dispatcher *Dispatcher, processed port.IdempotencyStore, logger *zap.Logger) *CartEventProcessor {
	return &CartEventProcessor{
		increment: dispatcher.IncrementReservedInventory(),
		decrement: dispatcher.DecrementReservedInventory(),
		processed: processed,
		logger:    logger,
		tracer:    dispatcher.tracer,
	}
}

func (p *CartEventProcessor) HandleEvent(ctx context.Context, event domain.Event) (err error) {
	ctx, span := p.tracer.Start(ctx, "HandleCartEvent", trace.WithAttributes(
		attribute.String("event.type", event.EventType()),
		attribute.String("event.id", event.EventMetadata().EventID),
		attribute.String("product.id", event.AggregateID()),
	))
	defer span.End()
	defer func() { recordError(span, err) }()

	var apply func(context.Context) error
	switch e := event.(type) {
	case domain.ProductAddedToCart:
		apply = func(ctx context.Context) error {
			_, err := p.decrement.Handle(ctx, DecrementReservedInventory{ProductID: e.ProductID})
			return err
		}
	case domain.ProductRemovedFromCart:
		apply = func(ctx context.Context) error {
			_, err := p.increment.Handle(ctx, IncrementReservedInventory{ProductID: e.ProductID})
			return err
		}
	default:
		p.logger.Info("ignoring event", zap.String("event_type", event.EventType()))
		return nil
	}

	eventID := event.EventMetadata().EventID
	if p.processed == nil || eventID == "" {
		return apply(ctx)
	}

	claimed, err := p.processed.Claim(ctx, eventID)
	if err != nil {
		return fmt.Errorf("claim event %s: %w", eventID, err)
	}
	if !claimed {
		p.logger.Info("skipping duplicate event",
			zap.String("event_id", eventID),
			zap.String("event_type", event.EventType()),
		)
		return nil
	}

	// The claim is a lease until Complete; a crash before that only delays redelivery.
	settleCtx := context.WithoutCancel(ctx)
	if err := apply(ctx); err != nil {
		if releaseErr := p.processed.Release(settleCtx, eventID); releaseErr != nil {
			p.logger.Error("failed to release event claim", zap.String("event_id", eventID), zap.Error(releaseErr))
		}
		return err
	}

	if err := p.processed.Complete(settleCtx, eventID); err != nil {
		p.logger.Error("failed to complete event claim",
			zap.String("event_id", eventID),
			zap.Error(err),
		)
	}
	return nil
}
