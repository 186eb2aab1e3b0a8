package port

import "context"

type IdempotencyStore interface {
	// Claim reserves key for a short lease, returns false if it is already held
	Claim(ctx context.Context, key string) (bool, error)

	// Complete keeps a claimed key for the full retention period
	Complete(ctx context.Context, key string) error

	// Release forgets key so a later delivery can claim it again
	Release(ctx context.Context, key string) error
}
