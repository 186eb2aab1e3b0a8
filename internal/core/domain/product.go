package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type Product struct {
	ID                 string
	Name               string
	Description        string
	Price              float64
	AvailableInventory int
	ReservedInventory  int
	Stars              int
	NumberOfReviews    int
	Version            int64 // optimistic locking
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewProduct builds a catalog entry with zero inventory and no reviews.
func NewProduct(id, name, description string, price float64, now time.Time) (Product, error) {
	if err := ValidateProductFields(name, description, price); err != nil {
		return Product{}, err
	}

	return Product{
		ID:          id,
		Name:        name,
		Description: description,
		Price:       price,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func ValidateProductFields(name, description string, price float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return fmt.Errorf("%w: price must be greater than 0", ErrValidation)
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name must not be empty", ErrValidation)
	}
	if strings.TrimSpace(description) == "" {
		return fmt.Errorf("%w: description must not be empty", ErrValidation)
	}
	return nil
}

func (p *Product) SetAvailableInventory(n int, now time.Time) error {
	if n < 0 {
		return fmt.Errorf("%w: inventory must not be negative", ErrValidation)
	}
	p.AvailableInventory = n
	p.UpdatedAt = now
	return nil
}

func (p *Product) IncrementReserved(now time.Time) {
	p.ReservedInventory++
	p.UpdatedAt = now
}

// DecrementReserved leaves the product untouched when nothing is reserved.
func (p *Product) DecrementReserved(now time.Time) error {
	if p.ReservedInventory == 0 {
		return fmt.Errorf("%w: product %s", ErrReservedInventoryUnderflow, p.ID)
	}
	p.ReservedInventory--
	p.UpdatedAt = now
	return nil
}
