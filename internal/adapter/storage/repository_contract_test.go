package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/eshop-product-service/internal/core/domain"
	"github.com/rl1809/eshop-product-service/internal/port"
)

// testRepositoryContract checks the behavior every ProductRepository must share.
func testRepositoryContract(t *testing.T, newRepo func(t *testing.T) port.ProductRepository) {
	t.Run("CreateVisibleAfterCommit", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		tx, err := repo.Begin(ctx)
		require.NoError(t, err)
		created, err := repo.Create(ctx, tx, "p-1", sampleProduct("p-1"))
		require.NoError(t, err)
		assert.Equal(t, int64(1), created.Version)
		require.NoError(t, tx.Commit())

		got, err := repo.Read(ctx, "p-1")
		require.NoError(t, err)
		assert.Equal(t, "Mug", got.Name)
		assert.Equal(t, 9.5, got.Price)
		assert.Equal(t, int64(1), got.Version)
	})

	t.Run("RollbackDiscards", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		tx, err := repo.Begin(ctx)
		require.NoError(t, err)
		_, err = repo.Create(ctx, tx, "p-1", sampleProduct("p-1"))
		require.NoError(t, err)
		require.NoError(t, tx.Rollback())

		_, err = repo.Read(ctx, "p-1")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("DuplicateCreateConflicts", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		seed(t, repo, sampleProduct("p-1"))

		tx, err := repo.Begin(ctx)
		require.NoError(t, err)
		defer tx.Rollback()

		_, err = repo.Create(ctx, tx, "p-1", sampleProduct("p-1"))
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("UpdateBumpsVersion", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		seed(t, repo, sampleProduct("p-1"))

		current, err := repo.Read(ctx, "p-1")
		require.NoError(t, err)
		current.AvailableInventory = 5

		tx, err := repo.Begin(ctx)
		require.NoError(t, err)
		updated, err := repo.Update(ctx, tx, "p-1", current)
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		assert.Equal(t, int64(2), updated.Version)
		got, err := repo.Read(ctx, "p-1")
		require.NoError(t, err)
		assert.Equal(t, 5, got.AvailableInventory)
		assert.Equal(t, int64(2), got.Version)
	})

	t.Run("StaleUpdateConflicts", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		seed(t, repo, sampleProduct("p-1"))

		stale, err := repo.Read(ctx, "p-1")
		require.NoError(t, err)

		fresh := stale
		fresh.ReservedInventory = 1
		tx, err := repo.Begin(ctx)
		require.NoError(t, err)
		_, err = repo.Update(ctx, tx, "p-1", fresh)
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		stale.ReservedInventory = 7
		tx, err = repo.Begin(ctx)
		require.NoError(t, err)
		defer tx.Rollback()
		_, err = repo.Update(ctx, tx, "p-1", stale)
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		tx, err := repo.Begin(ctx)
		require.NoError(t, err)
		defer tx.Rollback()

		_, err = repo.Update(ctx, tx, "missing", sampleProduct("missing"))
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		seed(t, repo, sampleProduct("p-1"))

		tx, err := repo.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, repo.Delete(ctx, tx, "p-1"))
		require.NoError(t, tx.Commit())

		_, err = repo.Read(ctx, "p-1")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		tx, err = repo.Begin(ctx)
		require.NoError(t, err)
		defer tx.Rollback()
		assert.ErrorIs(t, repo.Delete(ctx, tx, "p-1"), domain.ErrNotFound)
	})

	t.Run("ReadAllOrdered", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		for i, id := range []string{"c", "a", "b"} {
			p := sampleProduct(id)
			p.CreatedAt = base.Add(time.Duration(i) * time.Minute)
			p.UpdatedAt = p.CreatedAt
			seed(t, repo, p)
		}

		products, err := repo.ReadAll(ctx)
		require.NoError(t, err)
		require.Len(t, products, 3)
		assert.Equal(t, "c", products[0].ID)
		assert.Equal(t, "a", products[1].ID)
		assert.Equal(t, "b", products[2].ID)
		assert.True(t, products[0].CreatedAt.Equal(base))
	})

	t.Run("ForeignTransaction", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Create(context.Background(), foreignTx{}, "p-1", sampleProduct("p-1"))
		assert.ErrorIs(t, err, ErrForeignTx)
	})
}

func TestMemoryRepository_Contract(t *testing.T) {
	testRepositoryContract(t, func(t *testing.T) port.ProductRepository {
		return NewMemoryRepository()
	})
}

func TestMemoryRepository_UncommittedWritesInvisible(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	tx, err := repo.Begin(ctx)
	require.NoError(t, err)
	_, err = repo.Create(ctx, tx, "p-1", sampleProduct("p-1"))
	require.NoError(t, err)

	_, err = repo.Read(ctx, "p-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, tx.Commit())
	_, err = repo.Read(ctx, "p-1")
	assert.NoError(t, err)
}

func TestMemoryRepository_CommitDetectsConcurrentWriter(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	seed(t, repo, sampleProduct("p-1"))

	current, err := repo.Read(ctx, "p-1")
	require.NoError(t, err)

	first, err := repo.Begin(ctx)
	require.NoError(t, err)
	second, err := repo.Begin(ctx)
	require.NoError(t, err)

	_, err = repo.Update(ctx, first, "p-1", current)
	require.NoError(t, err)
	_, err = repo.Update(ctx, second, "p-1", current)
	require.NoError(t, err)

	require.NoError(t, first.Commit())
	assert.ErrorIs(t, second.Commit(), domain.ErrConflict)

	got, err := repo.Read(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

func TestMemoryRepository_FinishedTx(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	tx, err := repo.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	_, err = repo.Create(ctx, tx, "p-1", sampleProduct("p-1"))
	assert.ErrorIs(t, err, ErrTxDone)
	assert.ErrorIs(t, tx.Commit(), ErrTxDone)
	assert.NoError(t, tx.Rollback())
}

func TestMemoryRepository_ConcurrentCreates(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("p-%d", i)
			tx, err := repo.Begin(ctx)
			if err != nil {
				t.Errorf("begin: %v", err)
				return
			}
			if _, err := repo.Create(ctx, tx, id, sampleProduct(id)); err != nil {
				t.Errorf("create: %v", err)
				return
			}
			if err := tx.Commit(); err != nil {
				t.Errorf("commit: %v", err)
			}
		}(i)
	}
	wg.Wait()

	products, err := repo.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, products, 50)
}

type foreignTx struct{}

func (foreignTx) Commit() error   { return nil }
func (foreignTx) Rollback() error { return nil }

func sampleProduct(id string) domain.Product {
	now := time.Now().UTC()
	p, err := domain.NewProduct(id, "Mug", "Ceramic mug", 9.5, now)
	if err != nil {
		panic(err)
	}
	return p
}

func seed(t *testing.T, repo port.ProductRepository, p domain.Product) {
	t.Helper()
	ctx := context.Background()

	tx, err := repo.Begin(ctx)
	require.NoError(t, err)
	_, err = repo.Create(ctx, tx, p.ID, p)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
}
