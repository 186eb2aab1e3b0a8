package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/eshop-product-service/internal/core/domain"
)

const (
	idempotencyKeyPrefix  = "product-service:event:"
	DefaultIdempotencyTTL = 24 * time.Hour
	// DefaultClaimLease bounds how long a claim whose owner died blocks redelivery.
	DefaultClaimLease = time.Minute
)

// RedisAdapter remembers processed event ids so redelivered events are applied once.
// A claim holds for the lease only; Complete keeps the key for the full ttl.
type RedisAdapter struct {
	client *redis.Client
	ttl    time.Duration
	lease  time.Duration
}

func NewRedisAdapter(client *redis.Client, ttl time.Duration) *RedisAdapter {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &RedisAdapter{client: client, ttl: ttl, lease: min(DefaultClaimLease, ttl)}
}

func (r *RedisAdapter) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, r.lease).Result()
	if err != nil {
		return false, fmt.Errorf("%w: claim %s: %v", domain.ErrIO, key, err)
	}

	return ok, nil
}

func (r *RedisAdapter) Complete(ctx context.Context, key string) error {
	if err := r.client.Set(ctx, idempotencyKeyPrefix+key, 1, r.ttl).Err(); err != nil {
		return fmt.Errorf("%w: complete %s: %v", domain.ErrIO, key, err)
	}
	return nil
}

func (r *RedisAdapter) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, idempotencyKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("%w: release %s: %v", domain.ErrIO, key, err)
	}
	return nil
}
