package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/eshop-product-service/internal/core/domain"
	"github.com/rl1809/eshop-product-service/internal/port"
)

const (
	headerEventType = "event-type"
	headerEventID   = "event-id"
)

type messageWriter interface {
	WriteMessage(ctx context.Context, msg kafka.Message) error
	Close() error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (*kafka.Message, error)
	Close() error
}

type KafkaConfig struct {
	Brokers      []string
	GroupID      string
	ClientID     string
	BatchTimeout time.Duration
}

// KafkaBroker publishes each topic through its own cached writer and reads
// queues as topics within a consumer group.
type KafkaBroker struct {
	logger    *zap.Logger
	newWriter func(topic string) (messageWriter, error)
	newReader func(queue string) (messageReader, error)

	mu      sync.Mutex
	writers map[string]messageWriter
	closed  bool
}

var _ port.MessageBroker = (*KafkaBroker)(nil)

func NewKafkaBroker(cfg KafkaConfig, tp trace.TracerProvider, logger *zap.Logger) *KafkaBroker {
	b := &KafkaBroker{
		logger:  logger,
		writers: make(map[string]messageWriter),
	}

	b.newWriter = func(topic string) (messageWriter, error) {
		base := &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			RequiredAcks:           kafka.RequireAll,
			BatchTimeout:           cfg.BatchTimeout,
			AllowAutoTopicCreation: true,
		}
		return otelkafka.NewWriter(base,
			otelkafka.WithTracerProvider(tp),
			otelkafka.WithPropagator(propagation.TraceContext{}),
			otelkafka.WithAttributes(
				[]attribute.KeyValue{
					semconv.MessagingDestinationNameKey.String(topic),
					attribute.String("messaging.kafka.client_id", cfg.ClientID),
				},
			),
		)
	}

	b.newReader = func(queue string) (messageReader, error) {
		base := kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.Brokers,
			Topic:   queue,
			GroupID: cfg.GroupID,
		})
		return otelkafka.NewReader(base,
			otelkafka.WithTracerProvider(tp),
			otelkafka.WithPropagator(propagation.TraceContext{}),
		)
	}

	return b
}

func (b *KafkaBroker) Publish(ctx context.Context, topic string, event domain.Event) error {
	writer, err := b.writer(topic)
	if err != nil {
		return err
	}

	payload, err := domain.MarshalEvent(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(event.AggregateID()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: headerEventType, Value: []byte(event.EventType())},
			{Key: headerEventID, Value: []byte(event.EventMetadata().EventID)},
		},
	}

	if err := writer.WriteMessage(ctx, msg); err != nil {
		return fmt.Errorf("write to %s: %w", topic, err)
	}
	return nil
}

func (b *KafkaBroker) Consume(ctx context.Context, queue string, handler port.EventHandler) error {
	reader, err := b.newReader(queue)
	if err != nil {
		return fmt.Errorf("create reader for %s: %w", queue, err)
	}
	defer func() {
		if err := reader.Close(); err != nil {
			b.logger.Error("failed to close reader", zap.String("queue", queue), zap.Error(err))
		}
	}()

	b.logger.Info("consuming", zap.String("queue", queue))
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				b.logger.Info("context done, exiting read loop", zap.String("queue", queue))
				return nil
			}
			return fmt.Errorf("%w: read from %s: %v", ErrConnectionLost, queue, err)
		}

		msgCtx := extractTraceContext(ctx, headerCarrier(msg.Headers))
		deliver(msgCtx, b.logger, queue, msg.Value, handler)
	}
}

func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	var errs error
	for topic, w := range b.writers {
		if err := w.Close(); err != nil {
			errs = errors.Join(errs, fmt.Errorf("close writer %s: %w", topic, err))
		}
	}
	b.writers = make(map[string]messageWriter)
	return errs
}

func (b *KafkaBroker) writer(topic string) (messageWriter, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("%w: broker closed", ErrConnectionLost)
	}
	if w, ok := b.writers[topic]; ok {
		return w, nil
	}

	w, err := b.newWriter(topic)
	if err != nil {
		return nil, fmt.Errorf("create writer for %s: %w", topic, err)
	}
	b.writers[topic] = w
	return w, nil
}

func headerCarrier(headers []kafka.Header) propagation.MapCarrier {
	carrier := propagation.MapCarrier{}
	for _, h := range headers {
		carrier[h.Key] = string(h.Value)
	}
	return carrier
}
