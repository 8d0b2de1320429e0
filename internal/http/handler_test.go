package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/inventory-service/internal/audit"
	"github.com/fjod/go_cart/inventory-service/internal/domain"
	"github.com/fjod/go_cart/inventory-service/internal/metrics"
	"github.com/fjod/go_cart/inventory-service/internal/receiving"
	"github.com/fjod/go_cart/inventory-service/internal/repository"
	"github.com/fjod/go_cart/inventory-service/internal/reservation"
	"github.com/fjod/go_cart/inventory-service/internal/store"
)

type testEnv struct {
	router         http.Handler
	engine         *reservation.Engine
	receiver       *receiving.Service
	registry       *prometheus.Registry
	stock          *store.MemoryStore
	audit          *audit.MemoryLog
	orders         *repository.MemoryOrderRepository
	purchaseOrders *repository.MemoryPurchaseOrderRepository
}

func setupRouter(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		stock:          store.NewMemoryStore(),
		audit:          audit.NewMemoryLog(),
		orders:         repository.NewMemoryOrderRepository(),
		purchaseOrders: repository.NewMemoryPurchaseOrderRepository(),
	}
	env.registry = prometheus.NewRegistry()
	m := metrics.New(env.registry)
	env.engine = reservation.NewEngine(env.stock, env.audit, zap.NewNop(),
		reservation.WithMetrics(m),
		reservation.WithOrders(env.orders))
	env.receiver = receiving.NewService(env.stock, env.audit, nil, m, zap.NewNop(),
		receiving.WithPurchaseOrders(env.purchaseOrders))
	env.route(env.orders)
	return env
}

// route rebuilds the router with the given order repository behind the handler
func (env *testEnv) route(orders repository.OrderRepository) {
	h := NewHandler(Deps{
		Reservations:   env.engine,
		Receiver:       env.receiver,
		Orders:         orders,
		PurchaseOrders: env.purchaseOrders,
		Stock:          env.stock,
		Audit:          env.audit,
		Logger:         zap.NewNop(),
		Timeout:        5 * time.Second,
	})
	env.router = NewRouter(h, zap.NewNop(), env.registry, 5*time.Second)
}

func (env *testEnv) seedProduct(t *testing.T, id string, stock, reserved int) {
	t.Helper()
	require.NoError(t, env.stock.SaveProduct(context.Background(), &domain.Product{
		ID:   id,
		Name: "Product " + id,
		Kind: domain.KindSimple,
		Stock: domain.StockRecord{
			StockQuantity:     stock,
			ReservedQuantity:  reserved,
			TrackInventory:    true,
			LowStockThreshold: 2,
		},
	}))
}

func (env *testEnv) seedOrder(t *testing.T, id string, qty int) {
	t.Helper()
	require.NoError(t, env.orders.SaveOrder(context.Background(), &domain.Order{
		ID:            id,
		Status:        domain.OrderPending,
		PaymentStatus: domain.PaymentPending,
		Items:         []domain.LineItem{{ProductID: "p1", Quantity: qty}},
	}))
}

func (env *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestReserve_PersistsOrder(t *testing.T) {
	env := setupRouter(t)
	env.seedProduct(t, "p1", 10, 0)
	env.seedOrder(t, "o1", 3)

	rec := env.do(t, http.MethodPost, "/api/v1/orders/o1/inventory/reserve", `{"source":"checkout"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[transitionResponse](t, rec)
	assert.Equal(t, reservation.StatusReserved, resp.Status)
	assert.Equal(t, domain.InventoryReserved, resp.Inventory.Status)
	assert.Equal(t, "checkout", resp.Inventory.Source)

	order, err := env.orders.GetOrder(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.InventoryReserved, order.Inventory.Status)
	require.NotNil(t, order.Inventory.ReservationExpiresAt)

	p, err := env.stock.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Stock.ReservedQuantity)
}

func TestReserve_RepeatIsNoop(t *testing.T) {
	env := setupRouter(t)
	env.seedProduct(t, "p1", 10, 0)
	env.seedOrder(t, "o1", 3)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/orders/o1/inventory/reserve", "").Code)
	rec := env.do(t, http.MethodPost, "/api/v1/orders/o1/inventory/reserve", "")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[transitionResponse](t, rec)
	assert.Equal(t, reservation.StatusNoop, resp.Status)
	assert.Equal(t, reservation.ReasonAlreadyReserved, resp.Reason)

	p, err := env.stock.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Stock.ReservedQuantity)
}

// racingOrders runs onLoad once, after the handler has loaded its copy
type racingOrders struct {
	*repository.MemoryOrderRepository
	onLoad func()
}

func (r *racingOrders) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, err := r.MemoryOrderRepository.GetOrder(ctx, id)
	if r.onLoad != nil {
		run := r.onLoad
		r.onLoad = nil
		run()
	}
	return order, err
}

func TestReserve_ConcurrentRequestWins(t *testing.T) {
	env := setupRouter(t)
	env.seedProduct(t, "p1", 10, 0)
	env.seedOrder(t, "o1", 3)
	ctx := context.Background()

	env.route(&racingOrders{
		MemoryOrderRepository: env.orders,
		onLoad: func() {
			other, err := env.orders.GetOrder(ctx, "o1")
			require.NoError(t, err)
			_, err = env.engine.Reserve(ctx, other, "checkout-retry")
			require.NoError(t, err)
		},
	})

	rec := env.do(t, http.MethodPost, "/api/v1/orders/o1/inventory/reserve", `{"source":"checkout"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[transitionResponse](t, rec)
	assert.Equal(t, reservation.StatusNoop, resp.Status)
	assert.Equal(t, reservation.ReasonConcurrentUpdate, resp.Reason)

	p, err := env.stock.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Stock.ReservedQuantity)

	order, err := env.orders.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.InventoryReserved, order.Inventory.Status)
	assert.Equal(t, "checkout-retry", order.Inventory.Source)

	entries, err := env.audit.ListByReference(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, domain.ActionReserve.Rollback(), entries[2].Action)
}

func TestReserve_InsufficientStock(t *testing.T) {
	env := setupRouter(t)
	env.seedProduct(t, "p1", 5, 3)
	env.seedOrder(t, "o1", 4)

	rec := env.do(t, http.MethodPost, "/api/v1/orders/o1/inventory/reserve", "")

	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, domain.CodeInsufficientStock, resp.Code)
	assert.Equal(t, "only 2 items available", resp.Error)
	require.NotNil(t, resp.Available)
	assert.Equal(t, 2, *resp.Available)

	order, err := env.orders.GetOrder(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.InventoryNone, order.InventoryStatus())
}

func TestReserve_UnknownProduct(t *testing.T) {
	env := setupRouter(t)
	env.seedOrder(t, "o1", 1)

	rec := env.do(t, http.MethodPost, "/api/v1/orders/o1/inventory/reserve", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, domain.CodeProductNotFound, decode[ErrorResponse](t, rec).Code)
}

func TestTransition_OrderNotFound(t *testing.T) {
	env := setupRouter(t)

	rec := env.do(t, http.MethodPost, "/api/v1/orders/missing/inventory/confirm", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ORDER_NOT_FOUND", decode[ErrorResponse](t, rec).Code)
}

func TestTransition_InvalidBody(t *testing.T) {
	env := setupRouter(t)
	env.seedOrder(t, "o1", 1)

	rec := env.do(t, http.MethodPost, "/api/v1/orders/o1/inventory/reserve", `{"source":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decode[ErrorResponse](t, rec).Code)
}

func TestTransition_InvalidQuantity(t *testing.T) {
	env := setupRouter(t)
	env.seedProduct(t, "p1", 10, 0)
	env.seedOrder(t, "o1", 0)

	rec := env.do(t, http.MethodPost, "/api/v1/orders/o1/inventory/reserve", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.CodeInvalidInput, decode[ErrorResponse](t, rec).Code)
}

func TestFullLifecycle(t *testing.T) {
	env := setupRouter(t)
	env.seedProduct(t, "p1", 10, 0)
	env.seedOrder(t, "o1", 4)

	steps := []struct {
		path   string
		status reservation.Status
		stock  int
		held   int
	}{
		{"reserve", reservation.StatusReserved, 10, 4},
		{"confirm", reservation.StatusDeducted, 6, 0},
		{"restore", reservation.StatusRestored, 10, 0},
	}
	for _, s := range steps {
		rec := env.do(t, http.MethodPost, "/api/v1/orders/o1/inventory/"+s.path, "")
		require.Equal(t, http.StatusOK, rec.Code, s.path)
		assert.Equal(t, s.status, decode[transitionResponse](t, rec).Status, s.path)

		p, err := env.stock.GetProduct(context.Background(), "p1")
		require.NoError(t, err)
		assert.Equal(t, s.stock, p.Stock.StockQuantity, s.path)
		assert.Equal(t, s.held, p.Stock.ReservedQuantity, s.path)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/audit?reference_id=o1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[auditResponse](t, rec)
	require.Equal(t, 3, resp.Count)
	assert.Equal(t, domain.ActionReserve, resp.Entries[0].Action)
	assert.Equal(t, domain.ActionConfirm, resp.Entries[1].Action)
	assert.Equal(t, domain.ActionRestore, resp.Entries[2].Action)
}

func TestRelease_NotReserved(t *testing.T) {
	env := setupRouter(t)
	env.seedProduct(t, "p1", 10, 0)
	env.seedOrder(t, "o1", 1)

	rec := env.do(t, http.MethodPost, "/api/v1/orders/o1/inventory/release", "")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[transitionResponse](t, rec)
	assert.Equal(t, reservation.StatusNoop, resp.Status)
	assert.Equal(t, reservation.ReasonNotReserved, resp.Reason)
}

func TestReceivePurchaseOrder(t *testing.T) {
	env := setupRouter(t)
	env.seedProduct(t, "p1", 1, 0)
	require.NoError(t, env.purchaseOrders.SavePurchaseOrder(context.Background(), &domain.PurchaseOrder{
		ID:     "po1",
		Status: domain.POStatusOrdered,
		Items:  []domain.PurchaseOrderItem{{ProductID: "p1", Quantity: 20}},
	}))

	body := `{"received_items":[{"product_id":"p1","quantity":15}],"received_by":"warehouse"}`
	rec := env.do(t, http.MethodPost, "/api/v1/purchase-orders/po1/receive", body)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[receiving.Result](t, rec)
	assert.Equal(t, receiving.StatusApplied, resp.Status)

	po, err := env.purchaseOrders.GetPurchaseOrder(context.Background(), "po1")
	require.NoError(t, err)
	assert.True(t, po.InventoryApplied)
	assert.Equal(t, domain.POStatusReceived, po.Status)
	assert.Equal(t, "warehouse", po.ReceivedBy)

	p, err := env.stock.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 16, p.Stock.StockQuantity)

	rec = env.do(t, http.MethodPost, "/api/v1/purchase-orders/po1/receive", body)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[receiving.Result](t, rec)
	assert.Equal(t, receiving.StatusNoop, resp.Status)
	assert.Equal(t, receiving.ReasonAlreadyApplied, resp.Reason)
}

func TestReceivePurchaseOrder_NotFound(t *testing.T) {
	env := setupRouter(t)

	rec := env.do(t, http.MethodPost, "/api/v1/purchase-orders/missing/receive", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "PURCHASE_ORDER_NOT_FOUND", decode[ErrorResponse](t, rec).Code)
}

func TestGetStock(t *testing.T) {
	env := setupRouter(t)
	require.NoError(t, env.stock.SaveProduct(context.Background(), &domain.Product{
		ID:    "shirt",
		Name:  "Shirt",
		Kind:  domain.KindVariants,
		Stock: domain.StockRecord{TrackInventory: true},
		Variants: []domain.Variant{
			{VariantID: "s", Stock: domain.StockRecord{StockQuantity: 5, ReservedQuantity: 2, TrackInventory: true}},
			{VariantID: "m", Stock: domain.StockRecord{StockQuantity: 1, TrackInventory: true, LowStockThreshold: 1}},
		},
	}))

	rec := env.do(t, http.MethodGet, "/api/v1/stock/shirt", "")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[stockResponse](t, rec)
	require.Len(t, resp.Records, 2)
	assert.Equal(t, "s", resp.Records[0].VariantID)
	assert.Equal(t, 3, resp.Records[0].Available)
	assert.False(t, resp.Records[0].LowStock)
	assert.True(t, resp.Records[1].LowStock)
}

func TestGetStock_VariantReportsProductTracking(t *testing.T) {
	env := setupRouter(t)
	require.NoError(t, env.stock.SaveProduct(context.Background(), &domain.Product{
		ID:    "mug",
		Kind:  domain.KindVariants,
		Stock: domain.StockRecord{TrackInventory: true},
		Variants: []domain.Variant{
			{VariantID: "blue", Stock: domain.StockRecord{StockQuantity: 4}},
		},
	}))

	rec := env.do(t, http.MethodGet, "/api/v1/stock/mug", "")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[stockResponse](t, rec)
	require.Len(t, resp.Records, 1)
	assert.True(t, resp.Records[0].TrackInventory)
	assert.Equal(t, 4, resp.Records[0].Available)
}

func TestGetStock_NotFound(t *testing.T) {
	env := setupRouter(t)

	rec := env.do(t, http.MethodGet, "/api/v1/stock/nope", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAudit_RequiresFilter(t *testing.T) {
	env := setupRouter(t)

	tests := []struct {
		name  string
		query string
	}{
		{"no filter", ""},
		{"both filters", "?reference_id=o1&product_id=p1"},
		{"bad limit", "?product_id=p1&limit=-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/api/v1/audit"+tt.query, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestListAudit_ByProduct(t *testing.T) {
	env := setupRouter(t)
	env.seedProduct(t, "p1", 10, 0)
	env.seedOrder(t, "o1", 1)
	env.seedOrder(t, "o2", 2)
	env.do(t, http.MethodPost, "/api/v1/orders/o1/inventory/reserve", "")
	env.do(t, http.MethodPost, "/api/v1/orders/o2/inventory/reserve", "")

	rec := env.do(t, http.MethodGet, "/api/v1/audit?product_id=p1&limit=1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[auditResponse](t, rec)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "o2", resp.Entries[0].ReferenceID)
}

func TestHealthAndMetrics(t *testing.T) {
	env := setupRouter(t)

	rec := env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])

	env.seedProduct(t, "p1", 10, 0)
	env.seedOrder(t, "o1", 1)
	env.do(t, http.MethodPost, "/api/v1/orders/o1/inventory/reserve", "")

	rec = env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "inventory_operations_total")
}

type stubReservations struct {
	Reservations
	err error
}

func (s stubReservations) Reserve(context.Context, *domain.Order, string) (reservation.Result, error) {
	return reservation.Result{}, s.err
}

func TestHandleError_InternalIsGeneric(t *testing.T) {
	orders := repository.NewMemoryOrderRepository()
	require.NoError(t, orders.SaveOrder(context.Background(), &domain.Order{ID: "o1"}))

	h := NewHandler(Deps{
		Reservations: stubReservations{err: domain.Internal("apply stock mutation", errors.New("connection reset by peer"))},
		Orders:       orders,
	})

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("orderID", "o1")
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rec := httptest.NewRecorder()

	h.Reserve(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, domain.CodeInternal, resp.Code)
	assert.NotContains(t, resp.Error, "connection reset")
}
