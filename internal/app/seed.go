package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rl1809/eshop-product-service/internal/core/service"
)

type seedProduct struct {
	service.CreateProduct
	inventory int
}

var demoCatalog = []seedProduct{
	{service.CreateProduct{Name: "Wireless Noise-Cancelling Headphones", Price: 349.99, Description: "Over-ear headphones with active noise cancellation and 30-hour battery life."}, 50},
	{service.CreateProduct{Name: "Mechanical Keyboard", Price: 179.99, Description: "Hot-swappable switches with per-key lighting and aluminum frame."}, 120},
	{service.CreateProduct{Name: "Ultrawide Curved Monitor", Price: 699.99, Description: "3440x1440 144Hz IPS panel with USB-C connectivity."}, 30},
	{service.CreateProduct{Name: "Ergonomic Office Chair", Price: 549.99, Description: "Adjustable lumbar support, breathable mesh and 4D armrests."}, 25},
	{service.CreateProduct{Name: "Smart LED Desk Lamp", Price: 89.99, Description: "Adjustable color temperature with a USB charging port."}, 200},
}

// Seed fills an empty catalog with demo products and returns how many were created.
// Products go through the regular commands, so product.created is published for each.
func Seed(ctx context.Context, dispatcher *service.Dispatcher, logger *zap.Logger) (int, error) {
	existing, err := dispatcher.GetProducts().Handle(ctx, service.GetProducts{})
	if err != nil {
		return 0, fmt.Errorf("list products: %w", err)
	}
	if len(existing.Products) > 0 {
		logger.Info("catalog already populated, skipping seed", zap.Int("count", len(existing.Products)))
		return 0, nil
	}

	for _, p := range demoCatalog {
		created, err := dispatcher.CreateProduct().Handle(ctx, p.CreateProduct)
		if err != nil {
			return 0, fmt.Errorf("seed product %s: %w", p.Name, err)
		}

		_, err = dispatcher.ModifyProductInventory().Handle(ctx, service.ModifyProductInventory{
			ProductID:    created.ID,
			NewInventory: p.inventory,
		})
		if err != nil {
			return 0, fmt.Errorf("seed inventory for %s: %w", p.Name, err)
		}
	}

	logger.Info("seeded products", zap.Int("count", len(demoCatalog)))
	return len(demoCatalog), nil
}
