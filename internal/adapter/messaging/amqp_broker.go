package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/rl1809/eshop-product-service/internal/core/domain"
	"github.com/rl1809/eshop-product-service/internal/port"
)

const exchangeKind = "fanout"

// AMQPBroker maps a topic to a durable fanout exchange. A queue is declared
// durable and bound to the exchange of the same name.
type AMQPBroker struct {
	conn   *amqp.Connection
	logger *zap.Logger

	mu       sync.Mutex
	channel  *amqp.Channel
	declared map[string]bool
}

var _ port.MessageBroker = (*AMQPBroker)(nil)

func DialAMQP(url string, logger *zap.Logger) (*AMQPBroker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	return &AMQPBroker{
		conn:     conn,
		logger:   logger,
		channel:  ch,
		declared: make(map[string]bool),
	}, nil
}

func (b *AMQPBroker) Publish(ctx context.Context, topic string, event domain.Event) error {
	payload, err := domain.MarshalEvent(event)
	if err != nil {
		return err
	}

	headers := amqp.Table{}
	for k, v := range injectTraceContext(ctx) {
		headers[k] = v
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.declareExchange(b.channel, topic); err != nil {
		return err
	}

	err = b.channel.PublishWithContext(ctx, topic, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.EventMetadata().EventID,
		Type:         event.EventType(),
		Timestamp:    event.EventMetadata().OccurredAt,
		Headers:      headers,
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (b *AMQPBroker) Consume(ctx context.Context, queue string, handler port.EventHandler) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("%w: open channel for %s: %v", ErrConnectionLost, queue, err)
	}
	defer ch.Close()

	if err := b.declareExchange(ch, queue); err != nil {
		return b.setupError(err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return b.setupError(fmt.Errorf("declare queue %s: %w", queue, err))
	}
	if err := ch.QueueBind(queue, "", queue, false, nil); err != nil {
		return b.setupError(fmt.Errorf("bind queue %s: %w", queue, err))
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return b.setupError(fmt.Errorf("consume %s: %w", queue, err))
	}

	b.logger.Info("consuming", zap.String("queue", queue))
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%w: %s deliveries closed", ErrConnectionLost, queue)
			}

			msgCtx := extractTraceContext(ctx, tableCarrier(d.Headers))
			deliver(msgCtx, b.logger, queue, d.Body, handler)
			if err := d.Ack(false); err != nil {
				return fmt.Errorf("%w: ack on %s: %v", ErrConnectionLost, queue, err)
			}
		}
	}
}

func (b *AMQPBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs error
	if err := b.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		errs = errors.Join(errs, err)
	}
	if err := b.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		errs = errors.Join(errs, err)
	}
	return errs
}

// declareExchange remembers declarations made on the publishing channel.
func (b *AMQPBroker) declareExchange(ch *amqp.Channel, name string) error {
	if ch == b.channel && b.declared[name] {
		return nil
	}
	if err := ch.ExchangeDeclare(name, exchangeKind, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", name, err)
	}
	if ch == b.channel {
		b.declared[name] = true
	}
	return nil
}

func (b *AMQPBroker) setupError(err error) error {
	if b.conn.IsClosed() {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return err
}

func tableCarrier(headers amqp.Table) propagation.MapCarrier {
	carrier := propagation.MapCarrier{}
	for k, v := range headers {
		if s, ok := v.(string); ok {
			carrier[k] = s
		}
	}
	return carrier
}
