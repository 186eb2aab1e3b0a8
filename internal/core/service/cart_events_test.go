package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rl1809/eshop-product-service/internal/adapter/storage"
	"github.com/rl1809/eshop-product-service/internal/core/domain"
)

// flakyStore fails the first claim and otherwise delegates.
type flakyStore struct {
	*storage.MemoryIdempotencyStore
	failNext bool
}

func (s *flakyStore) Claim(ctx context.Context, key string) (bool, error) {
	if s.failNext {
		s.failNext = false
		return false, errors.New("redis timeout")
	}
	return s.MemoryIdempotencyStore.Claim(ctx, key)
}

// recordingStore remembers which claims were completed and can refuse completion.
type recordingStore struct {
	*storage.MemoryIdempotencyStore
	completeErr error

	mu        sync.Mutex
	completed []string
}

func (s *recordingStore) Complete(ctx context.Context, key string) error {
	if s.completeErr != nil {
		return s.completeErr
	}
	s.mu.Lock()
	s.completed = append(s.completed, key)
	s.mu.Unlock()
	return s.MemoryIdempotencyStore.Complete(ctx, key)
}

func newProcessor(t *testing.T, env *testEnv) *CartEventProcessor {
	return NewCartEventProcessor(env.dispatcher, storage.NewMemoryIdempotencyStore(time.Hour), zaptest.NewLogger(t))
}

func removed(productID string) domain.ProductRemovedFromCart {
	return domain.ProductRemovedFromCart{Metadata: domain.NewMetadata(time.Now()), ProductID: productID}
}

func added(productID string) domain.ProductAddedToCart {
	return domain.ProductAddedToCart{Metadata: domain.NewMetadata(time.Now()), ProductID: productID}
}

func TestCartEventProcessor_RemovedFromCartIncrements(t *testing.T) {
	env := newTestEnv(t)
	id := env.create(t, "Lamp")
	processor := newProcessor(t, env)
	published := env.broker.count()

	require.NoError(t, processor.HandleEvent(context.Background(), removed(id)))

	assert.Equal(t, 1, env.get(t, id).ReservedInventory)
	assert.Equal(t, published, env.broker.count(), "consumed events are never republished")
}

func TestCartEventProcessor_AddedToCartDecrements(t *testing.T) {
	env := newTestEnv(t)
	id := env.create(t, "Lamp")
	processor := newProcessor(t, env)

	require.NoError(t, processor.HandleEvent(context.Background(), removed(id)))
	require.NoError(t, processor.HandleEvent(context.Background(), removed(id)))
	require.NoError(t, processor.HandleEvent(context.Background(), added(id)))

	assert.Equal(t, 1, env.get(t, id).ReservedInventory)
}

func TestCartEventProcessor_AddedToCartAtZeroSurfacesError(t *testing.T) {
	env := newTestEnv(t)
	id := env.create(t, "Lamp")
	processor := newProcessor(t, env)

	err := processor.HandleEvent(context.Background(), added(id))
	assert.ErrorIs(t, err, domain.ErrReservedInventoryUnderflow)
	assert.Zero(t, env.get(t, id).ReservedInventory)
}

func TestCartEventProcessor_IgnoresOtherEvents(t *testing.T) {
	env := newTestEnv(t)
	id := env.create(t, "Lamp")
	processor := newProcessor(t, env)

	event := domain.ProductCreated{Metadata: domain.NewMetadata(time.Now()), ID: id, Name: "Lamp", Price: 1}
	require.NoError(t, processor.HandleEvent(context.Background(), event))

	assert.Zero(t, env.get(t, id).ReservedInventory)
}

func TestCartEventProcessor_DuplicateDeliveryAppliedOnce(t *testing.T) {
	env := newTestEnv(t)
	id := env.create(t, "Lamp")
	processor := newProcessor(t, env)

	event := removed(id)
	require.NoError(t, processor.HandleEvent(context.Background(), event))
	require.NoError(t, processor.HandleEvent(context.Background(), event))

	assert.Equal(t, 1, env.get(t, id).ReservedInventory)
}

func TestCartEventProcessor_FailedEventCanBeRetried(t *testing.T) {
	env := newTestEnv(t)
	id := env.create(t, "Lamp")
	processor := newProcessor(t, env)

	event := added(id)
	require.ErrorIs(t, processor.HandleEvent(context.Background(), event), domain.ErrReservedInventoryUnderflow)

	require.NoError(t, processor.HandleEvent(context.Background(), removed(id)))
	require.NoError(t, processor.HandleEvent(context.Background(), removed(id)))

	// the failed delivery released its claim, so the redelivery applies
	require.NoError(t, processor.HandleEvent(context.Background(), event))
	assert.Equal(t, 1, env.get(t, id).ReservedInventory)
}

func TestCartEventProcessor_ClaimFailure(t *testing.T) {
	env := newTestEnv(t)
	id := env.create(t, "Lamp")
	store := &flakyStore{MemoryIdempotencyStore: storage.NewMemoryIdempotencyStore(time.Hour), failNext: true}
	processor := NewCartEventProcessor(env.dispatcher, store, zaptest.NewLogger(t))

	event := removed(id)
	assert.Error(t, processor.HandleEvent(context.Background(), event))
	assert.Zero(t, env.get(t, id).ReservedInventory)

	require.NoError(t, processor.HandleEvent(context.Background(), event))
	assert.Equal(t, 1, env.get(t, id).ReservedInventory)
}

func TestCartEventProcessor_WithoutEventIDOrStore(t *testing.T) {
	env := newTestEnv(t)
	id := env.create(t, "Lamp")
	processor := NewCartEventProcessor(env.dispatcher, nil, zaptest.NewLogger(t))

	event := domain.ProductRemovedFromCart{ProductID: id}
	require.NoError(t, processor.HandleEvent(context.Background(), event))
	require.NoError(t, processor.HandleEvent(context.Background(), event))

	assert.Equal(t, 2, env.get(t, id).ReservedInventory)
}

func TestCartEventProcessor_CompletesClaimOnlyAfterApply(t *testing.T) {
	env := newTestEnv(t)
	id := env.create(t, "Lamp")
	store := &recordingStore{MemoryIdempotencyStore: storage.NewMemoryIdempotencyStore(time.Hour)}
	processor := NewCartEventProcessor(env.dispatcher, store, zaptest.NewLogger(t))

	failing := added(id)
	require.ErrorIs(t, processor.HandleEvent(context.Background(), failing), domain.ErrReservedInventoryUnderflow)
	assert.Empty(t, store.completed)

	applied := removed(id)
	require.NoError(t, processor.HandleEvent(context.Background(), applied))
	assert.Equal(t, []string{applied.EventID}, store.completed)
}

func TestCartEventProcessor_CompleteFailureKeepsEffect(t *testing.T) {
	env := newTestEnv(t)
	id := env.create(t, "Lamp")
	store := &recordingStore{
		MemoryIdempotencyStore: storage.NewMemoryIdempotencyStore(time.Hour),
		completeErr:            errors.New("redis timeout"),
	}
	processor := NewCartEventProcessor(env.dispatcher, store, zaptest.NewLogger(t))

	event := removed(id)
	require.NoError(t, processor.HandleEvent(context.Background(), event))
	assert.Equal(t, 1, env.get(t, id).ReservedInventory)

	// the lease from the claim still covers an immediate redelivery
	require.NoError(t, processor.HandleEvent(context.Background(), event))
	assert.Equal(t, 1, env.get(t, id).ReservedInventory)
}
