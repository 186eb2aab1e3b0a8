package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rl1809/eshop-product-service/internal/core/domain"
)

// Version conflicts are retried with jittered exponential backoff until the
// update lands or ctx ends. Brokers ack a cart event whatever its outcome.
const (
	conflictRetryInitial = 2 * time.Millisecond
	conflictRetryMax     = 100 * time.Millisecond
)

func newConflictBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = conflictRetryInitial
	b.MaxInterval = conflictRetryMax
	b.MaxElapsedTime = 0
	return backoff.WithContext(b, ctx)
}

type ModifyProductInventoryHandler struct {
	handlerDeps
}

// Handle sets available inventory. Reserved inventory is untouched and no event is published.
func (h *ModifyProductInventoryHandler) Handle(ctx context.Context, cmd ModifyProductInventory) (_ Empty, err error) {
	ctx, span := h.tracer.Start(ctx, "ModifyProductInventory")
	defer span.End()
	defer func() { recordError(span, err) }()
	span.SetAttributes(
		attribute.String("product.id", cmd.ProductID),
		attribute.Int("product.new_inventory", cmd.NewInventory),
	)

	if err := cmd.Validate(); err != nil {
		return Empty{}, err
	}

	err = h.update(ctx, cmd.ProductID, func(p *domain.Product, now time.Time) error {
		return p.SetAvailableInventory(cmd.NewInventory, now)
	})
	if err != nil {
		return Empty{}, err
	}

	h.logger.Info("inventory modified",
		zap.String("product_id", cmd.ProductID),
		zap.Int("available_inventory", cmd.NewInventory),
	)
	return Empty{}, nil
}

type IncrementReservedInventoryHandler struct {
	reservedInventoryHandler
}

func (h *IncrementReservedInventoryHandler) Handle(ctx context.Context, cmd IncrementReservedInventory) (_ Empty, err error) {
	ctx, span := h.tracer.Start(ctx, "IncrementReservedInventory")
	defer span.End()
	defer func() { recordError(span, err) }()
	span.SetAttributes(attribute.String("product.id", cmd.ProductID))

	if err := cmd.Validate(); err != nil {
		return Empty{}, err
	}

	err = h.adjust(ctx, cmd.ProductID, func(p *domain.Product, now time.Time) error {
		p.IncrementReserved(now)
		return nil
	})
	return Empty{}, err
}

type DecrementReservedInventoryHandler struct {
	reservedInventoryHandler
}

// Handle fails with ErrReservedInventoryUnderflow when nothing is reserved.
func (h *DecrementReservedInventoryHandler) Handle(ctx context.Context, cmd DecrementReservedInventory) (_ Empty, err error) {
	ctx, span := h.tracer.Start(ctx, "DecrementReservedInventory")
	defer span.End()
	defer func() { recordError(span, err) }()
	span.SetAttributes(attribute.String("product.id", cmd.ProductID))

	if err := cmd.Validate(); err != nil {
		return Empty{}, err
	}

	err = h.adjust(ctx, cmd.ProductID, func(p *domain.Product, now time.Time) error {
		return p.DecrementReserved(now)
	})
	return Empty{}, err
}

type reservedInventoryHandler struct {
	handlerDeps
}

// adjust retries the update while concurrent writers win the version race.
func (h *reservedInventoryHandler) adjust(ctx context.Context, productID string, apply func(*domain.Product, time.Time) error) error {
	var (
		attempts int
		conflict error
	)
	operation := func() error {
		attempts++
		err := h.update(ctx, productID, apply)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, domain.ErrConflict):
			conflict = err
			return err
		case conflict != nil && ctx.Err() != nil:
			return backoff.Permanent(errors.Join(conflict, ctx.Err()))
		default:
			return backoff.Permanent(err)
		}
	}
	notify := func(err error, wait time.Duration) {
		h.logger.Debug("version conflict, retrying",
			zap.String("product_id", productID),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
		)
	}

	err := backoff.RetryNotify(operation, newConflictBackOff(ctx), notify)
	if err != nil && conflict != nil && !errors.Is(err, domain.ErrConflict) && ctx.Err() != nil {
		// ctx ended between attempts
		return errors.Join(conflict, err)
	}
	return err
}

// update reads the product, applies change and writes it back in one session.
// Nothing is written when change fails.
func (d handlerDeps) update(ctx context.Context, productID string, change func(*domain.Product, time.Time) error) error {
	session := d.sessions.New()

	product, err := session.Products().Read(ctx, productID)
	if err != nil {
		return abort(session, err)
	}

	if err := change(&product, d.now()); err != nil {
		return abort(session, err)
	}

	tx, err := session.Begin(ctx)
	if err != nil {
		return abort(session, err)
	}

	if _, err := session.Products().Update(ctx, tx, productID, product); err != nil {
		return abort(session, err)
	}

	if err := session.Commit(ctx); err != nil {
		return abort(session, err)
	}
	return nil
}
