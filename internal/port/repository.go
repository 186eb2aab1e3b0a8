package port

import (
	"context"

	"github.com/rl1809/eshop-product-service/internal/core/domain"
)

// Tx is a store transaction handed out by Repository.Begin.
type Tx interface {
	Commit() error
	Rollback() error
}

type Repository[T any] interface {
	// Begin opens a transaction; writes are only visible to readers after Commit.
	Begin(ctx context.Context) (Tx, error)

	// Create inserts entity under id and returns the stored value.
	Create(ctx context.Context, tx Tx, id string, entity T) (T, error)

	Read(ctx context.Context, id string) (T, error)

	ReadAll(ctx context.Context) ([]T, error)

	// Update replaces the entity stored under id if its version still matches
	// the one carried by entity, and returns the stored value with the bumped version.
	Update(ctx context.Context, tx Tx, id string, entity T) (T, error)

	Delete(ctx context.Context, tx Tx, id string) error
}

type ProductRepository = Repository[domain.Product]
