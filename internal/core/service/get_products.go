package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

type GetProductsHandler struct {
	handlerDeps
}

func (h *GetProductsHandler) Handle(ctx context.Context, query GetProducts) (resp GetProductsResponse, err error) {
	ctx, span := h.tracer.Start(ctx, "GetProducts")
	defer span.End()
	defer func() { recordError(span, err) }()

	products := h.sessions.New().Products()

	if query.ID != "" {
		span.SetAttributes(attribute.String("product.id", query.ID))
		product, err := products.Read(ctx, query.ID)
		if err != nil {
			return GetProductsResponse{}, err
		}
		return GetProductsResponse{Products: []ProductView{NewProductView(product)}}, nil
	}

	all, err := products.ReadAll(ctx)
	if err != nil {
		return GetProductsResponse{}, err
	}

	views := make([]ProductView, 0, len(all))
	for _, p := range all {
		views = append(views, NewProductView(p))
	}
	return GetProductsResponse{Products: views}, nil
}
