package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rl1809/eshop-product-service/internal/core/domain"
)

type CommandHandler[C, R any] interface {
	Handle(ctx context.Context, cmd C) (R, error)
}

type QueryHandler[Q, R any] interface {
	Handle(ctx context.Context, query Q) (R, error)
}

// Empty is returned by commands that produce no data.
type Empty struct{}

type CreateProduct struct {
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Description string  `json:"description"`
}

func (c CreateProduct) Validate() error {
	return domain.ValidateProductFields(c.Name, c.Description, c.Price)
}

type CreateProductResponse struct {
	ID string `json:"id"`
}

type ModifyProductInventory struct {
	ProductID    string `json:"product_id"`
	NewInventory int    `json:"new_inventory"`
}

func (c ModifyProductInventory) Validate() error {
	if err := validateProductID(c.ProductID); err != nil {
		return err
	}
	if c.NewInventory < 0 {
		return fmt.Errorf("%w: new_inventory must not be negative", domain.ErrValidation)
	}
	return nil
}

type IncrementReservedInventory struct {
	ProductID string `json:"product_id"`
}

func (c IncrementReservedInventory) Validate() error {
	return validateProductID(c.ProductID)
}

type DecrementReservedInventory struct {
	ProductID string `json:"product_id"`
}

func (c DecrementReservedInventory) Validate() error {
	return validateProductID(c.ProductID)
}

// GetProducts selects one product by ID, or every product when ID is empty.
type GetProducts struct {
	ID string `json:"id,omitempty"`
}

type GetProductsResponse struct {
	Products []ProductView `json:"products"`
}

type ProductView struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Price              float64 `json:"price"`
	Description        string  `json:"description"`
	AvailableInventory int     `json:"available_inventory"`
	ReservedInventory  int     `json:"reserved_inventory"`
	Stars              int     `json:"stars"`
	NumberOfReviews    int     `json:"number_of_reviews"`
}

func NewProductView(p domain.Product) ProductView {
	return ProductView{
		ID:                 p.ID,
		Name:               p.Name,
		Price:              p.Price,
		Description:        p.Description,
		AvailableInventory: p.AvailableInventory,
		ReservedInventory:  p.ReservedInventory,
		Stars:              p.Stars,
		NumberOfReviews:    p.NumberOfReviews,
	}
}

func validateProductID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: product_id must not be empty", domain.ErrValidation)
	}
	return nil
}
