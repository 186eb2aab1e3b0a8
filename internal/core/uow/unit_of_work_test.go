package uow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rl1809/eshop-product-service/internal/core/domain"
	"github.com/rl1809/eshop-product-service/internal/port"
)

type mockTx struct {
	commitErr   error
	committed   bool
	rolledBack  bool
	rollbackErr error
}

func (t *mockTx) Commit() error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *mockTx) Rollback() error {
	t.rolledBack = true
	return t.rollbackErr
}

// mockRepo only hands out transactions; the session never touches entities itself.
type mockRepo struct {
	port.ProductRepository
	tx       *mockTx
	beginErr error
}

func (r *mockRepo) Begin(ctx context.Context) (port.Tx, error) {
	if r.beginErr != nil {
		return nil, r.beginErr
	}
	return r.tx, nil
}

type published struct {
	topic string
	event domain.Event
}

type mockBroker struct {
	mu        sync.Mutex
	published []published
	failOn    map[string]error
}

func (b *mockBroker) Publish(ctx context.Context, topic string, event domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err, ok := b.failOn[event.AggregateID()]; ok {
		return err
	}
	b.published = append(b.published, published{topic: topic, event: event})
	return nil
}

func (b *mockBroker) Consume(ctx context.Context, queue string, handler port.EventHandler) error {
	<-ctx.Done()
	return nil
}

func (b *mockBroker) Close() error { return nil }

func newSession(t *testing.T, tx *mockTx, broker *mockBroker) *UnitOfWork {
	return NewFactory(&mockRepo{tx: tx}, broker, zaptest.NewLogger(t)).New()
}

func created(id string) domain.ProductCreated {
	return domain.ProductCreated{Metadata: domain.NewMetadata(time.Now()), ID: id, Name: id, Price: 1}
}

func TestCommit_PublishesInStagingOrder(t *testing.T) {
	tx := &mockTx{}
	broker := &mockBroker{}
	u := newSession(t, tx, broker)

	_, err := u.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, u.Stage(domain.TopicProductCreated, created("a")))
	require.NoError(t, u.Stage(domain.TopicProductCreated, created("b")))
	require.NoError(t, u.Stage(domain.TopicProductCreated, created("c")))

	require.NoError(t, u.Commit(context.Background()))

	assert.True(t, tx.committed)
	require.Len(t, broker.published, 3)
	for i, id := range []string{"a", "b", "c"} {
		assert.Equal(t, domain.TopicProductCreated, broker.published[i].topic)
		assert.Equal(t, id, broker.published[i].event.AggregateID())
	}
	assert.Empty(t, u.pending)
}

func TestCommit_StoreFailurePublishesNothing(t *testing.T) {
	tx := &mockTx{commitErr: errors.New("disk full")}
	broker := &mockBroker{}
	u := newSession(t, tx, broker)

	_, err := u.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, u.Stage(domain.TopicProductCreated, created("a")))

	err = u.Commit(context.Background())
	assert.ErrorIs(t, err, domain.ErrIO)
	assert.Empty(t, broker.published)
	assert.Empty(t, u.pending)

	require.NoError(t, u.Rollback())
	assert.True(t, tx.rolledBack)
}

func TestCommit_StoreConflictKeepsClassification(t *testing.T) {
	tx := &mockTx{commitErr: domain.ErrConflict}
	u := newSession(t, tx, &mockBroker{})

	_, err := u.Begin(context.Background())
	require.NoError(t, err)

	err = u.Commit(context.Background())
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.NotErrorIs(t, err, domain.ErrIO)
}

func TestCommit_PublishFailureKeepsData(t *testing.T) {
	tx := &mockTx{}
	broker := &mockBroker{failOn: map[string]error{"b": errors.New("broker down")}}
	u := newSession(t, tx, broker)

	_, err := u.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, u.Stage(domain.TopicProductCreated, created("a")))
	require.NoError(t, u.Stage(domain.TopicProductCreated, created("b")))
	require.NoError(t, u.Stage(domain.TopicProductCreated, created("c")))

	err = u.Commit(context.Background())
	assert.ErrorIs(t, err, domain.ErrPublish)
	assert.True(t, tx.committed)
	assert.Empty(t, u.pending)

	require.Len(t, broker.published, 2)
	assert.Equal(t, "a", broker.published[0].event.AggregateID())
	assert.Equal(t, "c", broker.published[1].event.AggregateID())

	// the commit stands; a deferred rollback must not touch the store
	require.NoError(t, u.Rollback())
	assert.False(t, tx.rolledBack)
}

func TestRollback_DropsStagedEvents(t *testing.T) {
	tx := &mockTx{}
	broker := &mockBroker{}
	u := newSession(t, tx, broker)

	_, err := u.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, u.Stage(domain.TopicProductCreated, created("a")))

	require.NoError(t, u.Rollback())
	assert.True(t, tx.rolledBack)
	assert.Empty(t, u.pending)
	assert.Empty(t, broker.published)

	assert.ErrorIs(t, u.Commit(context.Background()), ErrNoTransaction)
	_, err = u.Begin(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestRollback_ReportsStoreError(t *testing.T) {
	tx := &mockTx{rollbackErr: errors.New("connection reset")}
	u := newSession(t, tx, &mockBroker{})

	_, err := u.Begin(context.Background())
	require.NoError(t, err)

	assert.ErrorIs(t, u.Rollback(), domain.ErrIO)
}

func TestStateMachine_Misuse(t *testing.T) {
	u := newSession(t, &mockTx{}, &mockBroker{})

	assert.ErrorIs(t, u.Stage(domain.TopicProductCreated, created("a")), ErrNoTransaction)
	assert.ErrorIs(t, u.Commit(context.Background()), ErrNoTransaction)

	_, err := u.Begin(context.Background())
	require.NoError(t, err)
	_, err = u.Begin(context.Background())
	assert.ErrorIs(t, err, ErrTransactionOpen)

	require.NoError(t, u.Commit(context.Background()))
	assert.ErrorIs(t, u.Stage(domain.TopicProductCreated, created("a")), ErrNoTransaction)
	_, err = u.Begin(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestBegin_StoreFailure(t *testing.T) {
	repo := &mockRepo{beginErr: errors.New("pool exhausted")}
	u := NewFactory(repo, &mockBroker{}, zaptest.NewLogger(t)).New()

	_, err := u.Begin(context.Background())
	assert.ErrorIs(t, err, domain.ErrIO)

	// the session stays idle and can still be closed
	assert.NoError(t, u.Rollback())
}

func TestFactory_FreshSessions(t *testing.T) {
	f := NewFactory(&mockRepo{tx: &mockTx{}}, &mockBroker{}, zaptest.NewLogger(t))

	first := f.New()
	_, err := first.Begin(context.Background())
	require.NoError(t, err)

	second := f.New()
	_, err = second.Begin(context.Background())
	assert.NoError(t, err)
}
