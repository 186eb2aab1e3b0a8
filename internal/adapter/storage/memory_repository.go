package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rl1809/eshop-product-service/internal/core/domain"
	"github.com/rl1809/eshop-product-service/internal/port"
)

var (
	ErrTxDone    = errors.New("transaction already finished")
	ErrForeignTx = errors.New("transaction belongs to another repository")
)

type writeKind int

const (
	writeCreate writeKind = iota
	writeUpdate
	writeDelete
)

type pendingWrite struct {
	kind    writeKind
	product domain.Product
	// baseVersion is the committed version the write was computed against.
	baseVersion int64
}

// MemoryRepository keeps products in a map guarded by a single mutex.
// Transactional writes are buffered and applied atomically on commit.
type MemoryRepository struct {
	mu       sync.Mutex
	products map[string]domain.Product
}

type memoryTx struct {
	repo   *MemoryRepository
	writes map[string]pendingWrite
	order  []string
	done   bool
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{products: make(map[string]domain.Product)}
}

func (r *MemoryRepository) Begin(ctx context.Context) (port.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrIO, err)
	}
	return &memoryTx{repo: r, writes: make(map[string]pendingWrite)}, nil
}

func (r *MemoryRepository) Create(ctx context.Context, tx port.Tx, id string, p domain.Product) (domain.Product, error) {
	mtx, err := r.own(tx)
	if err != nil {
		return domain.Product{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if mtx.done {
		return domain.Product{}, ErrTxDone
	}
	if _, ok := mtx.lookup(id); ok {
		return domain.Product{}, fmt.Errorf("%w: product %s already exists", domain.ErrConflict, id)
	}

	p.ID = id
	if p.Version == 0 {
		p.Version = 1
	}
	mtx.stage(id, pendingWrite{kind: writeCreate, product: p})
	return p, nil
}

func (r *MemoryRepository) Read(ctx context.Context, id string) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok {
		return domain.Product{}, fmt.Errorf("%w: product %s", domain.ErrNotFound, id)
	}
	return p, nil
}

func (r *MemoryRepository) ReadAll(ctx context.Context) ([]domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	products := make([]domain.Product, 0, len(r.products))
	for _, p := range r.products {
		products = append(products, p)
	}
	sortProducts(products)
	return products, nil
}

func (r *MemoryRepository) Update(ctx context.Context, tx port.Tx, id string, p domain.Product) (domain.Product, error) {
	mtx, err := r.own(tx)
	if err != nil {
		return domain.Product{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if mtx.done {
		return domain.Product{}, ErrTxDone
	}
	current, ok := mtx.lookup(id)
	if !ok {
		return domain.Product{}, fmt.Errorf("%w: product %s", domain.ErrNotFound, id)
	}
	if current.Version != p.Version {
		return domain.Product{}, fmt.Errorf("%w: product %s version %d, expected %d",
			domain.ErrConflict, id, current.Version, p.Version)
	}

	p.ID = id
	p.CreatedAt = current.CreatedAt
	p.Version = current.Version + 1

	w := pendingWrite{kind: writeUpdate, product: p, baseVersion: current.Version}
	if prev, staged := mtx.writes[id]; staged {
		// keep the original base so commit still detects concurrent writers
		w.baseVersion = prev.baseVersion
		if prev.kind == writeCreate {
			w.kind = writeCreate
		}
	}
	mtx.stage(id, w)
	return p, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, tx port.Tx, id string) error {
	mtx, err := r.own(tx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if mtx.done {
		return ErrTxDone
	}
	current, ok := mtx.lookup(id)
	if !ok {
		return fmt.Errorf("%w: product %s", domain.ErrNotFound, id)
	}

	w := pendingWrite{kind: writeDelete, baseVersion: current.Version}
	if prev, staged := mtx.writes[id]; staged {
		if prev.kind == writeCreate {
			delete(mtx.writes, id)
			return nil
		}
		w.baseVersion = prev.baseVersion
	}
	mtx.stage(id, w)
	return nil
}

func (r *MemoryRepository) own(tx port.Tx) (*memoryTx, error) {
	mtx, ok := tx.(*memoryTx)
	if !ok || mtx.repo != r {
		return nil, ErrForeignTx
	}
	return mtx, nil
}

// lookup sees the transaction's own writes over committed state. Caller holds repo.mu.
func (t *memoryTx) lookup(id string) (domain.Product, bool) {
	if w, ok := t.writes[id]; ok {
		if w.kind == writeDelete {
			return domain.Product{}, false
		}
		return w.product, true
	}
	p, ok := t.repo.products[id]
	return p, ok
}

func (t *memoryTx) stage(id string, w pendingWrite) {
	if _, ok := t.writes[id]; !ok {
		t.order = append(t.order, id)
	}
	t.writes[id] = w
}

func (t *memoryTx) Commit() error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()

	if t.done {
		return ErrTxDone
	}
	t.done = true

	for _, id := range t.order {
		w, ok := t.writes[id]
		if !ok {
			continue
		}
		current, exists := t.repo.products[id]
		switch {
		case w.kind == writeCreate && exists:
			return fmt.Errorf("%w: product %s already exists", domain.ErrConflict, id)
		case w.kind != writeCreate && !exists:
			return fmt.Errorf("%w: product %s was deleted concurrently", domain.ErrConflict, id)
		case w.kind != writeCreate && current.Version != w.baseVersion:
			return fmt.Errorf("%w: product %s changed concurrently", domain.ErrConflict, id)
		}
	}

	for _, id := range t.order {
		w, ok := t.writes[id]
		if !ok {
			continue
		}
		if w.kind == writeDelete {
			delete(t.repo.products, id)
			continue
		}
		t.repo.products[id] = w.product
	}
	return nil
}

func (t *memoryTx) Rollback() error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()

	t.done = true
	t.writes = nil
	t.order = nil
	return nil
}

func sortProducts(products []domain.Product) {
	sort.Slice(products, func(i, j int) bool {
		if !products[i].CreatedAt.Equal(products[j].CreatedAt) {
			return products[i].CreatedAt.Before(products[j].CreatedAt)
		}
		return products[i].ID < products[j].ID
	})
}
