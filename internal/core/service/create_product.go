package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rl1809/eshop-product-service/internal/core/domain"
)

type CreateProductHandler struct {
	handlerDeps
}

// Handle stores a new product and announces it on product.created.
// If only the announcement fails the response still carries the new ID.
func (h *CreateProductHandler) Handle(ctx context.Context, cmd CreateProduct) (resp CreateProductResponse, err error) {
	ctx, span := h.tracer.Start(ctx, "CreateProduct")
	defer span.End()
	defer func() { recordError(span, err) }()

	if err := cmd.Validate(); err != nil {
		return CreateProductResponse{}, err
	}

	now := h.now()
	product, err := domain.NewProduct(uuid.NewString(), cmd.Name, cmd.Description, cmd.Price, now)
	if err != nil {
		return CreateProductResponse{}, err
	}
	span.SetAttributes(attribute.String("product.id", product.ID))

	session := h.sessions.New()
	tx, err := session.Begin(ctx)
	if err != nil {
		return CreateProductResponse{}, abort(session, err)
	}

	created, err := session.Products().Create(ctx, tx, product.ID, product)
	if err != nil {
		return CreateProductResponse{}, abort(session, err)
	}

	if err := session.Stage(domain.TopicProductCreated, domain.NewProductCreated(created, now)); err != nil {
		return CreateProductResponse{}, abort(session, err)
	}

	if err := session.Commit(ctx); err != nil {
		if errors.Is(err, domain.ErrPublish) {
			h.logger.Warn("product stored but not announced", zap.String("product_id", created.ID), zap.Error(err))
			return CreateProductResponse{ID: created.ID}, err
		}
		return CreateProductResponse{}, abort(session, err)
	}

	h.logger.Info("product created", zap.String("product_id", created.ID), zap.String("name", created.Name))
	return CreateProductResponse{ID: created.ID}, nil
}
