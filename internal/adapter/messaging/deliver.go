package messaging

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/rl1809/eshop-product-service/internal/core/domain"
	"github.com/rl1809/eshop-product-service/internal/port"
)

// ErrConnectionLost is returned by Consume when the broker goes away underneath it.
var ErrConnectionLost = errors.New("broker connection lost")

// deliver decodes one message and passes it to handler.
// Undecodable payloads and handler failures are logged and the message is dropped.
func deliver(ctx context.Context, logger *zap.Logger, queue string, payload []byte, handler port.EventHandler) {
	event, err := domain.UnmarshalEvent(payload)
	if err != nil {
		logger.Warn("dropping undecodable message",
			zap.String("queue", queue),
			zap.ByteString("payload", payload),
			zap.Error(err),
		)
		return
	}

	if err := handler.HandleEvent(ctx, event); err != nil {
		logger.Error("failed to handle event",
			zap.String("queue", queue),
			zap.String("event_type", event.EventType()),
			zap.String("event_id", event.EventMetadata().EventID),
			zap.String("product_id", event.AggregateID()),
			zap.Error(err),
		)
		return
	}

	logger.Debug("event handled",
		zap.String("queue", queue),
		zap.String("event_type", event.EventType()),
		zap.String("product_id", event.AggregateID()),
	)
}

func injectTraceContext(ctx context.Context) propagation.MapCarrier {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier
}

func extractTraceContext(ctx context.Context, carrier propagation.MapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
