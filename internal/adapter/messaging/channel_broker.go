package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/rl1809/eshop-product-service/internal/core/domain"
	"github.com/rl1809/eshop-product-service/internal/port"
)

const (
	metadataEventType = "event_type"
	channelBufferSize = 256
	// channelBacklogLimit caps the messages held per topic while nobody consumes it.
	channelBacklogLimit = 1024
)

var errBrokerClosed = errors.New("broker closed")

// ChannelBroker is an in-process broker where a queue is the topic of the same name.
// Messages published while a topic has no consumer are held, up to a limit with the
// oldest dropped first, and handed to the next consumer of that topic.
type ChannelBroker struct {
	pubsub *gochannel.GoChannel
	logger *zap.Logger

	mu           sync.Mutex
	consumers    map[string]int
	backlog      map[string][]*message.Message
	backlogLimit int
	closed       bool
}

var _ port.MessageBroker = (*ChannelBroker)(nil)

func NewChannelBroker(logger *zap.Logger) *ChannelBroker {
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            channelBufferSize,
		BlockPublishUntilSubscriberAck: true,
	}, NewWatermillLogger(logger))

	return &ChannelBroker{
		pubsub:       pubsub,
		logger:       logger,
		consumers:    make(map[string]int),
		backlog:      make(map[string][]*message.Message),
		backlogLimit: channelBacklogLimit,
	}
}

func (b *ChannelBroker) Publish(ctx context.Context, topic string, event domain.Event) error {
	payload, err := domain.MarshalEvent(event)
	if err != nil {
		return err
	}

	id := event.EventMetadata().EventID
	if id == "" {
		id = watermill.NewUUID()
	}

	msg := message.NewMessage(id, payload)
	msg.Metadata.Set(metadataEventType, event.EventType())
	for k, v := range injectTraceContext(ctx) {
		msg.Metadata.Set(k, v)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("publish to %s: %w", topic, errBrokerClosed)
	}
	if b.consumers[topic] == 0 {
		b.hold(topic, msg)
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// hold must be called with mu held.
func (b *ChannelBroker) hold(topic string, msg *message.Message) {
	held := append(b.backlog[topic], msg)
	if over := len(held) - b.backlogLimit; over > 0 {
		b.logger.Debug("dropping oldest held messages",
			zap.String("topic", topic),
			zap.Int("dropped", over),
		)
		held = held[over:]
	}
	b.backlog[topic] = held
}

func (b *ChannelBroker) Consume(ctx context.Context, queue string, handler port.EventHandler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s: %v", ErrConnectionLost, queue, errBrokerClosed)
	}
	messages, err := b.pubsub.Subscribe(ctx, queue)
	if err != nil {
		b.mu.Unlock()
		return fmt.Errorf("%w: subscribe to %s: %v", ErrConnectionLost, queue, err)
	}
	b.consumers[queue]++
	held := b.backlog[queue]
	delete(b.backlog, queue)
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.consumers[queue]--
		b.mu.Unlock()
	}()

	b.logger.Info("consuming", zap.String("queue", queue), zap.Int("held", len(held)))
	for i, msg := range held {
		if ctx.Err() != nil {
			b.requeue(queue, held[i:])
			return nil
		}
		b.handle(ctx, queue, msg, handler)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%w: %s subscription closed", ErrConnectionLost, queue)
			}
			b.handle(ctx, queue, msg, handler)
		}
	}
}

func (b *ChannelBroker) handle(ctx context.Context, queue string, msg *message.Message, handler port.EventHandler) {
	msgCtx := extractTraceContext(ctx, propagation.MapCarrier(msg.Metadata))
	deliver(msgCtx, b.logger, queue, msg.Payload, handler)
	msg.Ack()
}

// requeue puts undelivered messages back in front of anything held since.
func (b *ChannelBroker) requeue(queue string, msgs []*message.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	msgs = append(msgs, b.backlog[queue]...)
	b.backlog[queue] = nil
	for _, msg := range msgs {
		b.hold(queue, msg)
	}
}

func (b *ChannelBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.backlog = nil
	b.mu.Unlock()

	return b.pubsub.Close()
}
