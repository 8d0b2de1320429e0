// Package reservation implements the order-scoped inventory state machine:
// reserve, confirm, release and restore, each applied per line item through
// the store's guarded update and rolled back as a whole on partial failure.
package reservation

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_cart/inventory-service/internal/audit"
	"github.com/fjod/go_cart/inventory-service/internal/domain"
	"github.com/fjod/go_cart/inventory-service/internal/metrics"
	"github.com/fjod/go_cart/inventory-service/internal/publisher"
	"github.com/fjod/go_cart/inventory-service/internal/repository"
	"github.com/fjod/go_cart/inventory-service/internal/saga"
	"github.com/fjod/go_cart/inventory-service/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultWindow is how long an unpaid reservation holds stock
const DefaultWindow = 30 * time.Minute

// Status is the outcome reported to callers
type Status string

const (
	StatusReserved Status = "reserved"
	StatusDeducted Status = "deducted"
	StatusReleased Status = "released"
	StatusRestored Status = "restored"
	StatusNoop     Status = "noop"
)

// Reasons attached to no-op results
const (
	ReasonAlreadyReserved = "already_reserved"
	ReasonAlreadyDeducted = "already_deducted"
	ReasonTerminal        = "terminal_state"
	ReasonNotReserved     = "not_reserved"
	ReasonNotDeducted     = "not_deducted"

	// ReasonConcurrentUpdate is reported when the stored order changed while
	// the operation ran; its stock mutations were rolled back
	ReasonConcurrentUpdate = "concurrent_update"
)

// Result of a state machine call. Reason is set only for no-ops.
type Result struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

var errNilOrder = domain.InvalidInput("order is required")

func noop(reason string) Result {
	return Result{Status: StatusNoop, Reason: reason}
}

// OrderSaver persists an order only while its stored inventory status is
// still the one the operation started from
type OrderSaver interface {
	SaveOrderIf(ctx context.Context, order *domain.Order, expected domain.InventoryStatus) error
}

type Engine struct {
	store     store.StockStore
	audit     audit.Log
	orders    OrderSaver
	publisher publisher.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
	window    time.Duration
}

type Option func(*Engine)

// WithWindow sets the reservation window for unpaid orders
func WithWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.window = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithOrders makes every transition persist the order conditionally. Without
// it the caller owns persisting the mutated order.
func WithOrders(o OrderSaver) Option {
	return func(e *Engine) { e.orders = o }
}

func WithPublisher(p publisher.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

func NewEngine(s store.StockStore, log audit.Log, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:     s,
		audit:     log,
		publisher: publisher.NopPublisher{},
		metrics:   metrics.NewNop(),
		logger:    logger,
		tracer:    otel.Tracer("github.com/fjod/go_cart/inventory-service/internal/reservation"),
		now:       time.Now,
		window:    DefaultWindow,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Window returns the configured reservation window
func (e *Engine) Window() time.Duration {
	return e.window
}

// Reserve holds stock for every tracked line of an order
func (e *Engine) Reserve(ctx context.Context, order *domain.Order, source string) (res Result, err error) {
	ctx, finish := e.begin(ctx, "reserve", order)
	defer func() { finish(res, err) }()

	if order == nil {
		return Result{}, errNilOrder
	}

	from := order.InventoryStatus()
	switch {
	case from == domain.InventoryReserved:
		return noop(ReasonAlreadyReserved), nil
	case from == domain.InventoryDeducted:
		return noop(ReasonAlreadyDeducted), nil
	case from.Terminal():
		return noop(ReasonTerminal), nil
	}

	lines, err := e.plan(ctx, order.Items)
	if err != nil {
		return Result{}, err
	}

	for i := range lines {
		lines[i].delta = store.Delta{Reserved: lines[i].qty}
		lines[i].guard = store.AvailableAtLeast(lines[i].qty)
	}
	sg, err := e.applyAll(ctx, "reserve", domain.ActionReserve, order.ID, source, lines)
	if err != nil {
		return Result{}, err
	}

	prev := order.Inventory
	now := e.now().UTC()
	order.Inventory.Status = domain.InventoryReserved
	order.Inventory.UpdatedAt = now
	order.Inventory.Source = source
	order.Inventory.ReservationExpiresAt = nil
	if order.PaymentStatus != domain.PaymentPaid {
		expires := now.Add(e.window)
		order.Inventory.ReservationExpiresAt = &expires
	}

	return e.commit(ctx, "reserve", order, from, prev, sg, Result{Status: StatusReserved})
}

// Confirm physically deducts stock, consuming the reservation when one exists
func (e *Engine) Confirm(ctx context.Context, order *domain.Order, source string) (res Result, err error) {
	ctx, finish := e.begin(ctx, "confirm", order)
	defer func() { finish(res, err) }()

	if order == nil {
		return Result{}, errNilOrder
	}

	from := order.InventoryStatus()
	switch {
	case from == domain.InventoryDeducted:
		return noop(ReasonAlreadyDeducted), nil
	case from.Terminal():
		return noop(ReasonTerminal), nil
	}

	lines, err := e.plan(ctx, order.Items)
	if err != nil {
		return Result{}, err
	}

	for i := range lines {
		q := lines[i].qty
		if from == domain.InventoryReserved {
			lines[i].delta = store.Delta{Stock: -q, Reserved: -q}
			lines[i].guard = store.ReservedAtLeast(q)
		} else {
			lines[i].delta = store.Delta{Stock: -q}
			lines[i].guard = store.AvailableAtLeast(q)
		}
	}
	sg, err := e.applyAll(ctx, "confirm", domain.ActionConfirm, order.ID, source, lines)
	if err != nil {
		return Result{}, err
	}

	prev := order.Inventory
	e.transition(order, domain.InventoryDeducted, source)

	return e.commit(ctx, "confirm", order, from, prev, sg, Result{Status: StatusDeducted})
}

// Release returns reserved stock to the available pool
func (e *Engine) Release(ctx context.Context, order *domain.Order, source string) (res Result, err error) {
	ctx, finish := e.begin(ctx, "release", order)
	defer func() { finish(res, err) }()

	if order == nil {
		return Result{}, errNilOrder
	}

	from := order.InventoryStatus()
	if from != domain.InventoryReserved {
		if from.Terminal() {
			return noop(ReasonTerminal), nil
		}
		return noop(ReasonNotReserved), nil
	}

	lines, err := e.plan(ctx, order.Items)
	if err != nil {
		return Result{}, err
	}

	for i := range lines {
		lines[i].delta = store.Delta{Reserved: -lines[i].qty}
		lines[i].guard = store.ReservedAtLeast(lines[i].qty)
	}
	sg, err := e.applyAll(ctx, "release", domain.ActionRelease, order.ID, source, lines)
	if err != nil {
		return Result{}, err
	}

	prev := order.Inventory
	e.transition(order, domain.InventoryReleased, source)

	return e.commit(ctx, "release", order, from, prev, sg, Result{Status: StatusReleased})
}

// Restore puts deducted stock back on hand
func (e *Engine) Restore(ctx context.Context, order *domain.Order, source string) (res Result, err error) {
	ctx, finish := e.begin(ctx, "restore", order)
	defer func() { finish(res, err) }()

	if order == nil {
		return Result{}, errNilOrder
	}

	from := order.InventoryStatus()
	if from != domain.InventoryDeducted {
		if from.Terminal() {
			return noop(ReasonTerminal), nil
		}
		return noop(ReasonNotDeducted), nil
	}

	lines, err := e.plan(ctx, order.Items)
	if err != nil {
		return Result{}, err
	}

	for i := range lines {
		lines[i].delta = store.Delta{Stock: lines[i].qty}
		lines[i].guard = store.NoGuard()
	}
	sg, err := e.applyAll(ctx, "restore", domain.ActionRestore, order.ID, source, lines)
	if err != nil {
		return Result{}, err
	}

	prev := order.Inventory
	e.transition(order, domain.InventoryRestored, source)

	return e.commit(ctx, "restore", order, from, prev, sg, Result{Status: StatusRestored})
}

// commit persists the transitioned order and publishes the transition. When
// the stored order moved on since it was loaded, or the save fails, the
// operation's mutations are compensated and the order is reverted.
func (e *Engine) commit(ctx context.Context, op string, order *domain.Order, from domain.InventoryStatus, prev domain.InventoryState, sg *saga.Saga, done Result) (Result, error) {
	if e.orders != nil {
		if err := e.orders.SaveOrderIf(ctx, order, from); err != nil {
			order.Inventory = prev
			e.compensate(ctx, op, order.ID, sg, err)

			switch {
			case errors.Is(err, repository.ErrOrderConflict):
				e.log(ctx).Info("order changed concurrently, operation rolled back",
					zap.String("operation", op),
					zap.String("order_id", order.ID),
					zap.String("expected_status", string(from)))
				return noop(ReasonConcurrentUpdate), nil
			case errors.Is(err, repository.ErrOrderNotFound):
				return Result{}, err
			default:
				return Result{}, domain.Internal("save order", err)
			}
		}
	}

	e.publishTransition(ctx, order, from, order.Inventory.Source)
	return done, nil
}

func (e *Engine) transition(order *domain.Order, to domain.InventoryStatus, source string) {
	order.Inventory.Status = to
	order.Inventory.UpdatedAt = e.now().UTC()
	order.Inventory.Source = source
	order.Inventory.ReservationExpiresAt = nil
}

// begin opens a span and returns a func that records the outcome
func (e *Engine) begin(ctx context.Context, op string, order *domain.Order) (context.Context, func(Result, error)) {
	orderID := ""
	if order != nil {
		orderID = order.ID
	}
	ctx, span := e.tracer.Start(ctx, "inventory."+op, trace.WithAttributes(
		attribute.String("order.id", orderID),
	))
	start := e.now()

	return ctx, func(res Result, err error) {
		defer span.End()
		e.metrics.OperationDuration.WithLabelValues(op).Observe(e.now().Sub(start).Seconds())

		outcome := "success"
		switch {
		case err != nil:
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(attribute.String("error.code", domain.Code(err)))
		case res.Status == StatusNoop:
			outcome = "noop"
			span.SetAttributes(attribute.String("noop.reason", res.Reason))
		}
		e.metrics.Operations.WithLabelValues(op, outcome).Inc()
	}
}

// line is one aggregated, tracked stock record touched by an operation
type line struct {
	key   domain.StockKey
	qty   int
	delta store.Delta
	guard store.Guard
}

// plan validates and aggregates line items by stock record in first-seen
// order, dropping products that do not track inventory
func (e *Engine) plan(ctx context.Context, items []domain.LineItem) ([]line, error) {
	var keys []domain.StockKey
	totals := make(map[domain.StockKey]int, len(items))
	for _, item := range items {
		if item.ProductID == "" {
			return nil, domain.InvalidInput("line item without product id")
		}
		if item.Quantity <= 0 {
			return nil, domain.InvalidInput("quantity for %s must be positive, got %d", item.Key(), item.Quantity)
		}
		if _, seen := totals[item.Key()]; !seen {
			keys = append(keys, item.Key())
		}
		totals[item.Key()] += item.Quantity
	}

	products := make(map[string]*domain.Product)
	lines := make([]line, 0, len(keys))
	for _, key := range keys {
		product, ok := products[key.ProductID]
		if !ok {
			var err error
			product, err = e.store.GetProduct(ctx, key.ProductID)
			if err != nil {
				return nil, err
			}
			products[key.ProductID] = product
		}

		if _, err := product.Record(key.VariantID); err != nil {
			return nil, err
		}
		if !product.Tracked() {
			continue
		}
		lines = append(lines, line{key: key, qty: totals[key]})
	}
	return lines, nil
}

// applyAll applies each line in order and returns the compensations of the
// applied lines. On the first failure every line already applied in this
// call is reverted, newest first, and the failure is returned.
func (e *Engine) applyAll(ctx context.Context, op string, action domain.AuditAction, referenceID, source string, lines []line) (*saga.Saga, error) {
	sg := saga.New()
	for _, l := range lines {
		applied, err := e.store.Apply(ctx, store.Mutation{Target: l.key, Delta: l.delta, Guard: l.guard})
		if err != nil {
			e.compensate(ctx, op, referenceID, sg, err)
			return nil, err
		}
		e.record(ctx, action, l.key, l.qty, applied, referenceID, source)

		sg.AddCompensation(l.key.String(), func(ctx context.Context) error {
			inverse := l.delta.Inverse()
			undone, err := e.store.Apply(ctx, store.Mutation{Target: l.key, Delta: inverse, Guard: store.InvariantGuard(inverse)})
			if err != nil {
				if errors.Is(err, domain.ErrInsufficientStock) {
					e.recordUnreconciled(ctx, action, l.key, l.qty, referenceID, source)
				}
				return err
			}
			e.record(ctx, action.Rollback(), l.key, l.qty, undone, referenceID, source)
			return nil
		})
	}
	return sg, nil
}

func (e *Engine) compensate(ctx context.Context, op, referenceID string, sg *saga.Saga, cause error) {
	if sg.Len() == 0 {
		return
	}
	steps := sg.Len()
	if err := sg.TriggerCompensation(ctx); err != nil {
		e.metrics.Compensations.WithLabelValues(op, "failed").Inc()
		e.log(ctx).Error("rollback incomplete, stock may need manual reconciliation",
			zap.String("operation", op),
			zap.String("reference_id", referenceID),
			zap.NamedError("cause", cause),
			zap.Error(err))
		return
	}
	e.metrics.Compensations.WithLabelValues(op, "success").Inc()
	e.log(ctx).Info("rolled back partial operation",
		zap.String("operation", op),
		zap.String("reference_id", referenceID),
		zap.Int("steps", steps),
		zap.NamedError("cause", cause))
}
