package uow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/rl1809/eshop-product-service/internal/core/domain"
	"github.com/rl1809/eshop-product-service/internal/port"
)

var (
	ErrTransactionOpen = errors.New("transaction already open")
	ErrNoTransaction   = errors.New("no open transaction")
	ErrSessionClosed   = errors.New("unit of work already finished")
)

type state int

const (
	stateIdle state = iota
	stateOpen
	stateCommitted
	stateRolledBack
	// stateFailed follows a store commit error; only Rollback is accepted.
	stateFailed
)

type stagedEvent struct {
	topic string
	event domain.Event
}

// UnitOfWork couples one store transaction with the events it produced.
// Events are published only after the transaction commits, in staging order.
type UnitOfWork struct {
	products port.ProductRepository
	broker   port.MessageBroker
	logger   *zap.Logger

	mu      sync.Mutex
	state   state
	tx      port.Tx
	pending []stagedEvent
}

type Factory struct {
	products port.ProductRepository
	broker   port.MessageBroker
	logger   *zap.Logger
}

func NewFactory(products port.ProductRepository, broker port.MessageBroker, logger *zap.Logger) *Factory {
	return &Factory{products: products, broker: broker, logger: logger}
}

// New starts a session for a single command.
func (f *Factory) New() *UnitOfWork {
	return &UnitOfWork{
		products: f.products,
		broker:   f.broker,
		logger:   f.logger,
	}
}

func (u *UnitOfWork) Products() port.ProductRepository {
	return u.products
}

func (u *UnitOfWork) Begin(ctx context.Context) (port.Tx, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch u.state {
	case stateIdle:
	case stateOpen, stateFailed:
		return nil, ErrTransactionOpen
	default:
		return nil, ErrSessionClosed
	}

	tx, err := u.products.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", storeError(err))
	}

	u.tx = tx
	u.state = stateOpen
	return tx, nil
}

// Stage buffers event for publication to topic once the transaction commits.
func (u *UnitOfWork) Stage(topic string, event domain.Event) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state != stateOpen {
		return ErrNoTransaction
	}

	u.pending = append(u.pending, stagedEvent{topic: topic, event: event})
	return nil
}

// Commit commits the store transaction and then publishes the staged events.
// A store failure publishes nothing; the caller still owns the Rollback.
// Publish failures do not undo the commit and are returned joined.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state != stateOpen {
		return ErrNoTransaction
	}

	if err := u.tx.Commit(); err != nil {
		u.pending = nil
		u.state = stateFailed
		return fmt.Errorf("commit tx: %w", storeError(err))
	}

	u.state = stateCommitted
	pending := u.pending
	u.pending = nil

	var errs error
	for _, staged := range pending {
		if err := u.broker.Publish(ctx, staged.topic, staged.event); err != nil {
			u.logger.Error("failed to publish event",
				zap.String("topic", staged.topic),
				zap.String("event_type", staged.event.EventType()),
				zap.String("aggregate_id", staged.event.AggregateID()),
				zap.Error(err),
			)
			errs = errors.Join(errs, fmt.Errorf("%w: %s to %s: %v",
				domain.ErrPublish, staged.event.EventType(), staged.topic, err))
			continue
		}
		u.logger.Debug("published event",
			zap.String("topic", staged.topic),
			zap.String("event_type", staged.event.EventType()),
		)
	}

	return errs
}

// Rollback aborts the transaction and drops staged events.
// It is a no-op once the session committed or rolled back.
func (u *UnitOfWork) Rollback() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch u.state {
	case stateIdle:
		u.state = stateRolledBack
		return nil
	case stateCommitted, stateRolledBack:
		return nil
	}

	u.pending = nil
	u.state = stateRolledBack
	if err := u.tx.Rollback(); err != nil {
		return fmt.Errorf("rollback tx: %w", storeError(err))
	}
	return nil
}

func storeError(err error) error {
	if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrIO) || errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrIO, err)
}
