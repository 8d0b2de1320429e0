package sweeper

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fjod/go_cart/inventory-service/internal/audit"
	"github.com/fjod/go_cart/inventory-service/internal/domain"
	"github.com/fjod/go_cart/inventory-service/internal/metrics"
	"github.com/fjod/go_cart/inventory-service/internal/repository"
	"github.com/fjod/go_cart/inventory-service/internal/reservation"
	"github.com/fjod/go_cart/inventory-service/internal/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	sweeper *Sweeper
	engine  *reservation.Engine
	stock   *store.MemoryStore
	orders  *repository.MemoryOrderRepository
	audit   *audit.MemoryLog
	metrics *metrics.Metrics
	clock   time.Time
}

func setupSweeper(t *testing.T, batch int) *fixture {
	t.Helper()
	f := &fixture{
		stock:   store.NewMemoryStore(),
		orders:  repository.NewMemoryOrderRepository(),
		audit:   audit.NewMemoryLog(),
		metrics: metrics.NewNop(),
		clock:   start,
	}
	now := func() time.Time { return f.clock }
	f.engine = reservation.NewEngine(f.stock, f.audit, zap.NewNop(),
		reservation.WithClock(now),
		reservation.WithMetrics(f.metrics),
		reservation.WithOrders(f.orders))
	f.sweeper = New(f.orders, f.engine, f.metrics, zap.NewNop(), Config{Interval: time.Hour, BatchSize: batch})
	f.sweeper.now = now

	require.NoError(t, f.stock.SaveProduct(context.Background(), &domain.Product{
		ID:    "p1",
		Kind:  domain.KindSimple,
		Stock: domain.StockRecord{StockQuantity: 100, TrackInventory: true},
	}))
	return f
}

// reserve stores a new order and reserves it through the engine at the current clock
func (f *fixture) reserve(t *testing.T, id string, qty int) *domain.Order {
	t.Helper()
	order := &domain.Order{
		ID:            id,
		Status:        domain.OrderPending,
		PaymentStatus: domain.PaymentPending,
		Items:         []domain.LineItem{{ProductID: "p1", Quantity: qty}},
	}
	require.NoError(t, f.orders.SaveOrder(context.Background(), order))
	_, err := f.engine.Reserve(context.Background(), order, "checkout")
	require.NoError(t, err)
	return order
}

func (f *fixture) reserved(t *testing.T) int {
	t.Helper()
	p, err := f.stock.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	return p.Stock.ReservedQuantity
}

func (f *fixture) stockQuantity(t *testing.T) int {
	t.Helper()
	p, err := f.stock.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	return p.Stock.StockQuantity
}

func TestSweeper_SweepOnce_ReleasesExpired(t *testing.T) {
	f := setupSweeper(t, DefaultBatchSize)
	ctx := context.Background()

	f.reserve(t, "old-1", 2)
	f.reserve(t, "old-2", 3)
	f.clock = start.Add(20 * time.Minute)
	f.reserve(t, "fresh", 5)
	f.clock = start.Add(31 * time.Minute)

	report, err := f.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 2, Released: 2}, report)
	assert.Equal(t, 5, f.reserved(t))

	for _, id := range []string{"old-1", "old-2"} {
		order, err := f.orders.GetOrder(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.InventoryReleased, order.Inventory.Status)
		assert.Equal(t, Source, order.Inventory.Source)
		assert.Nil(t, order.Inventory.ReservationExpiresAt)
	}

	fresh, err := f.orders.GetOrder(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, domain.InventoryReserved, fresh.Inventory.Status)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.SweeperReleased))

	entries, err := f.audit.ListByReference(ctx, "old-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.ActionRelease, entries[1].Action)
	assert.Equal(t, Source, entries[1].Source)

	// a second sweep finds nothing left to do
	report, err = f.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{}, report)
}

func TestSweeper_SweepOnce_SkipsPaidAndTerminalOrders(t *testing.T) {
	f := setupSweeper(t, DefaultBatchSize)
	ctx := context.Background()

	paid := f.reserve(t, "paid", 1)
	paid.PaymentStatus = domain.PaymentPaid
	require.NoError(t, f.orders.SaveOrder(ctx, paid))

	cancelled := f.reserve(t, "cancelled", 1)
	cancelled.Status = domain.OrderCancelled
	require.NoError(t, f.orders.SaveOrder(ctx, cancelled))

	f.clock = start.Add(time.Hour)
	report, err := f.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Scanned)
	assert.Equal(t, 2, f.reserved(t))
}

func TestSweeper_SweepOnce_RespectsBatchSize(t *testing.T) {
	f := setupSweeper(t, 3)
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		f.reserve(t, fmt.Sprintf("order-%d", i), 1)
	}
	f.clock = start.Add(time.Hour)

	report, err := f.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Released)
	assert.Equal(t, 4, f.reserved(t))

	report, err = f.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Released)
	assert.Equal(t, 1, f.reserved(t))
}

type flakyReleaser struct {
	next   Releaser
	failID string
}

func (r flakyReleaser) Release(ctx context.Context, order *domain.Order, source string) (reservation.Result, error) {
	if order.ID == r.failID {
		return reservation.Result{}, domain.Internal("apply stock mutation", errors.New("connection reset"))
	}
	return r.next.Release(ctx, order, source)
}

func TestSweeper_SweepOnce_FailureDoesNotBlockBatch(t *testing.T) {
	f := setupSweeper(t, DefaultBatchSize)
	ctx := context.Background()
	f.reserve(t, "a", 1)
	f.reserve(t, "b", 1)
	f.reserve(t, "c", 1)
	f.sweeper.engine = flakyReleaser{next: f.engine, failID: "b"}
	f.clock = start.Add(time.Hour)

	report, err := f.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 3, Released: 2, Failed: 1}, report)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SweeperFailures))

	b, err := f.orders.GetOrder(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, domain.InventoryReserved, b.Inventory.Status)
	assert.NotNil(t, b.Inventory.ReservationExpiresAt)
}

type failingOrders struct {
	repository.OrderRepository
}

func (failingOrders) FindExpiredReservations(context.Context, time.Time, int) ([]*domain.Order, error) {
	return nil, errors.New("mongo unavailable")
}

func TestSweeper_SweepOnce_QueryFailure(t *testing.T) {
	f := setupSweeper(t, DefaultBatchSize)
	f.sweeper.orders = failingOrders{}

	_, err := f.sweeper.SweepOnce(context.Background())
	assert.Error(t, err)
}

// settlingOrders runs settle after the expiry query returns, leaving the
// sweeper holding copies that are already stale
type settlingOrders struct {
	*repository.MemoryOrderRepository
	settle func()
}

func (r settlingOrders) FindExpiredReservations(ctx context.Context, now time.Time, limit int) ([]*domain.Order, error) {
	orders, err := r.MemoryOrderRepository.FindExpiredReservations(ctx, now, limit)
	r.settle()
	return orders, err
}

func TestSweeper_SweepOnce_OrderConfirmedConcurrently(t *testing.T) {
	f := setupSweeper(t, DefaultBatchSize)
	ctx := context.Background()

	f.reserve(t, "old", 4)
	f.clock = start.Add(20 * time.Minute)
	f.reserve(t, "fresh", 5)
	f.clock = start.Add(31 * time.Minute)

	f.sweeper.orders = settlingOrders{
		MemoryOrderRepository: f.orders,
		settle: func() {
			paid, err := f.orders.GetOrder(ctx, "old")
			require.NoError(t, err)
			_, err = f.engine.Confirm(ctx, paid, "payment-webhook")
			require.NoError(t, err)
		},
	}

	report, err := f.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 1, Skipped: 1}, report)
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.SweeperReleased))

	assert.Equal(t, 96, f.stockQuantity(t))
	assert.Equal(t, 5, f.reserved(t))

	old, err := f.orders.GetOrder(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, domain.InventoryDeducted, old.Inventory.Status)
	assert.Equal(t, "payment-webhook", old.Inventory.Source)

	entries, err := f.audit.ListByReference(ctx, "old")
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, domain.ActionRelease, entries[2].Action)
	assert.Equal(t, domain.ActionRelease.Rollback(), entries[3].Action)
}

func TestSweeper_Run_StopsOnCancel(t *testing.T) {
	f := setupSweeper(t, DefaultBatchSize)
	f.reserve(t, "old", 4)
	f.clock = start.Add(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sweeper.Run(ctx) }()

	// the initial sweep runs before the first tick
	require.Eventually(t, func() bool { return f.reserved(t) == 0 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancellation")
	}
}

func TestNew_Defaults(t *testing.T) {
	s := New(repository.NewMemoryOrderRepository(), nil, nil, zap.NewNop(), Config{})
	assert.Equal(t, DefaultInterval, s.interval)
	assert.Equal(t, DefaultBatchSize, s.batch)
}
