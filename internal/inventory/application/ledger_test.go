package application

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyfcoding/onlinestore/internal/inventory/domain"
	"github.com/wyfcoding/onlinestore/internal/inventory/infrastructure/persistence/mysql"
	"github.com/wyfcoding/onlinestore/pkg/apperr"
	"github.com/wyfcoding/onlinestore/pkg/db"
)

type recordingInvalidator struct {
	mu   sync.Mutex
	tags []string
}

func (r *recordingInvalidator) InvalidateTag(_ context.Context, tag string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags = append(r.tags, tag)
	return nil
}

type countingObserver struct{ failures atomic.Int64 }

func (c *countingObserver) CompensationFailed(string) { c.failures.Add(1) }

type fixture struct {
	ledger   *Ledger
	repo     domain.StockRepository
	recon    domain.ReconciliationRepository
	cache    *recordingInvalidator
	observer *countingObserver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	d, err := db.Init(db.Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "inventory.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	require.NoError(t, mysql.AutoMigrate(d.DB))

	f := &fixture{
		repo:     mysql.NewStockRepository(d.DB),
		recon:    mysql.NewReconciliationRepository(d.DB),
		cache:    &recordingInvalidator{},
		observer: &countingObserver{},
	}
	f.ledger = NewLedger(f.repo, f.recon, f.cache, f.observer)
	return f
}

func TestTryDecrementSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.Register(ctx, "P1", 5))

	left, err := f.ledger.TryDecrement(ctx, "P1", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), left)

	s, err := f.repo.Get(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), s.Stock)
	assert.Equal(t, int64(1), s.Version)
}

func TestTryDecrementInsufficientStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.Register(ctx, "P1", 1))

	_, err := f.ledger.TryDecrement(ctx, "P1", 2)
	require.ErrorIs(t, err, apperr.ErrInsufficientStock)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "P1", e.ProductID)
	assert.Equal(t, int64(1), e.Available)

	s, err := f.repo.Get(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Stock)
	assert.Zero(t, s.Version)
}

func TestTryDecrementNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.TryDecrement(context.Background(), "nope", 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestQuantityMustBePositive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.Register(ctx, "P1", 1))

	for _, qty := range []int64{0, -1} {
		_, err := f.ledger.TryDecrement(ctx, "P1", qty)
		assert.ErrorIs(t, err, apperr.ErrValidation)
		_, err = f.ledger.Increment(ctx, "P1", qty)
		assert.ErrorIs(t, err, apperr.ErrValidation)
	}
}

func TestConcurrentDecrementsNeverOversell(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const initial, qty, workers = 10, 3, 40
	require.NoError(t, f.ledger.Register(ctx, "P1", initial))

	var ok, short atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.TryDecrement(ctx, "P1", qty)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, apperr.ErrInsufficientStock):
				short.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(initial/qty), ok.Load())
	assert.Equal(t, int64(workers-initial/qty), short.Load())

	left, err := f.ledger.Available(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, int64(initial-qty*(initial/qty)), left)
	assert.GreaterOrEqual(t, left, int64(0))
}

func TestIncrementMissingProduct(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.Increment(context.Background(), "ghost", 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCompensateEscalatesFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.ledger.Compensate(ctx, "ghost", 2, "order ORD1 rollback")
	require.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, int64(1), f.observer.failures.Load())

	open, err := f.ledger.OpenReconciliations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "ghost", open[0].ProductID)
	assert.Equal(t, int64(2), open[0].Quantity)
	assert.Equal(t, "order ORD1 rollback", open[0].Reason)

	id := open[0].ID
	require.NoError(t, f.ledger.ResolveReconciliation(ctx, id))
	open, err = f.ledger.OpenReconciliations(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, open)

	err = f.ledger.ResolveReconciliation(ctx, id)
	assert.ErrorIs(t, err, apperr.ErrNotFound, "already resolved")
}

func TestCompensateRestoresStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.Register(ctx, "P1", 5))

	_, err := f.ledger.TryDecrement(ctx, "P1", 2)
	require.NoError(t, err)
	require.NoError(t, f.ledger.Compensate(ctx, "P1", 2, "test"))

	left, err := f.ledger.Available(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), left)
	assert.Zero(t, f.observer.failures.Load())
}

func TestRestockInvalidatesProductTag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.Register(ctx, "P1", 0))

	left, err := f.ledger.Restock(ctx, "P1", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), left)
	assert.Equal(t, []string{"product:P1"}, f.cache.tags)
}

func TestRegisterRejectsNegative(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.ledger.Register(context.Background(), "P1", -1), apperr.ErrValidation)
}

// rereadFailingRepo 扣减成功后的第一次 Get 返回错误
type rereadFailingRepo struct {
	domain.StockRepository
	armed atomic.Bool
}

func (r *rereadFailingRepo) ConditionalDecrement(ctx context.Context, productID string, qty int64) (int64, error) {
	n, err := r.StockRepository.ConditionalDecrement(ctx, productID, qty)
	if err == nil && n == 1 {
		r.armed.Store(true)
	}
	return n, err
}

func (r *rereadFailingRepo) Get(ctx context.Context, productID string) (*domain.Stock, error) {
	if r.armed.CompareAndSwap(true, false) {
		return nil, errors.New("read stock: connection reset")
	}
	return r.StockRepository.Get(ctx, productID)
}

func TestTryDecrementAppliedDespiteRereadFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.Register(ctx, "P1", 5))

	ledger := NewLedger(&rereadFailingRepo{StockRepository: f.repo}, f.recon, nil, nil)
	left, err := ledger.TryDecrement(ctx, "P1", 1)
	require.NoError(t, err)
	assert.Equal(t, StockUnknown, left)

	s, err := f.repo.Get(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), s.Stock)
}
