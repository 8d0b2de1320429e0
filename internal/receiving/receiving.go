// Package receiving adds delivered purchase-order quantities to stock exactly once.
package receiving

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_cart/inventory-service/internal/audit"
	"github.com/fjod/go_cart/inventory-service/internal/domain"
	"github.com/fjod/go_cart/inventory-service/internal/logger"
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

// Source recorded on audit entries written while receiving
const Source = "purchase-order"

type Status string

const (
	StatusApplied Status = "applied"
	StatusNoop    Status = "noop"
)

// ReasonAlreadyApplied is reported when the purchase order was received before
const ReasonAlreadyApplied = "already_applied"

// ReceivedItem overrides the ordered quantity of one purchase order line
type ReceivedItem struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

type Options struct {
	ReceivedItems []ReceivedItem
	ReceivedBy    string
}

type Result struct {
	Status        Status                `json:"status"`
	Reason        string                `json:"reason,omitempty"`
	PurchaseOrder *domain.PurchaseOrder `json:"purchase_order"`
}

// PurchaseOrderSaver persists a purchase order only while its stored copy
// has not been applied yet
type PurchaseOrderSaver interface {
	SavePurchaseOrderIfPending(ctx context.Context, po *domain.PurchaseOrder) error
}

type Service struct {
	store     store.StockStore
	audit     audit.Log
	orders    PurchaseOrderSaver
	publisher publisher.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithPurchaseOrders makes receiving persist the purchase order, refusing
// when another receipt of the same purchase order got there first. Without
// it the caller persists the mutated purchase order.
func WithPurchaseOrders(o PurchaseOrderSaver) ServiceOption {
	return func(s *Service) { s.orders = o }
}

func NewService(s store.StockStore, log audit.Log, p publisher.Publisher, m *metrics.Metrics, logger *zap.Logger, opts ...ServiceOption) *Service {
	if p == nil {
		p = publisher.NopPublisher{}
	}
	if m == nil {
		m = metrics.NewNop()
	}
	svc := &Service{
		store:     s,
		audit:     log,
		publisher: p,
		metrics:   m,
		logger:    logger,
		tracer:    otel.Tracer("github.com/fjod/go_cart/inventory-service/internal/receiving"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type receipt struct {
	key domain.StockKey
	qty int
}

// ApplyPurchaseOrderInventory adds received quantities to stock for every
// tracked line and marks the purchase order received. It is a no-op for a
// purchase order whose inventory was already applied. The purchase order is
// mutated in place and, when a saver is configured, persisted.
func (s *Service) ApplyPurchaseOrderInventory(ctx context.Context, po *domain.PurchaseOrder, opts Options) (res Result, err error) {
	if po == nil {
		return Result{}, domain.InvalidInput("purchase order is required")
	}

	ctx, span := s.tracer.Start(ctx, "inventory.receive_purchase_order", trace.WithAttributes(
		attribute.String("purchase_order.id", po.ID),
	))
	defer func() {
		outcome := "success"
		switch {
		case err != nil:
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case res.Status == StatusNoop:
			outcome = "noop"
		}
		s.metrics.Operations.WithLabelValues("receive_purchase_order", outcome).Inc()
		span.End()
	}()

	if po.InventoryApplied {
		return Result{Status: StatusNoop, Reason: ReasonAlreadyApplied, PurchaseOrder: po}, nil
	}

	receipts, err := s.plan(ctx, po, opts.ReceivedItems)
	if err != nil {
		return Result{}, err
	}

	sg := saga.New()
	units := 0
	for _, r := range receipts {
		applied, err := s.store.Apply(ctx, store.Mutation{Target: r.key, Delta: store.Delta{Stock: r.qty}, Guard: store.NoGuard()})
		if err != nil {
			s.rollback(ctx, po.ID, sg, err)
			return Result{}, err
		}
		s.record(ctx, domain.ActionPOReceive, r, applied, po.ID)
		units += r.qty

		sg.AddCompensation(r.key.String(), func(ctx context.Context) error {
			inverse := store.Delta{Stock: -r.qty}
			undone, err := s.store.Apply(ctx, store.Mutation{Target: r.key, Delta: inverse, Guard: store.InvariantGuard(inverse)})
			if err != nil {
				if errors.Is(err, domain.ErrInsufficientStock) {
					s.recordUnreconciled(ctx, r, po.ID)
				}
				return err
			}
			s.record(ctx, domain.ActionPOReceiveRollback, r, undone, po.ID)
			return nil
		})
	}

	prev := *po
	now := s.now().UTC()
	po.Status = domain.POStatusReceived
	po.InventoryApplied = true
	po.ReceivedAt = &now
	po.ReceivedBy = opts.ReceivedBy

	if s.orders != nil {
		if err := s.orders.SavePurchaseOrderIfPending(ctx, po); err != nil {
			*po = prev
			s.rollback(ctx, po.ID, sg, err)

			switch {
			case errors.Is(err, repository.ErrPurchaseOrderConflict):
				s.log(ctx).Info("purchase order received concurrently, receipt rolled back",
					zap.String("purchase_order_id", po.ID))
				return Result{Status: StatusNoop, Reason: ReasonAlreadyApplied, PurchaseOrder: po}, nil
			case errors.Is(err, repository.ErrPurchaseOrderNotFound):
				return Result{}, err
			default:
				return Result{}, domain.Internal("save purchase order", err)
			}
		}
	}
	s.metrics.PurchaseOrderApplied.Inc()

	if err := s.publisher.Publish(ctx, publisher.Event{
		Type:       publisher.EventPurchaseOrderRecv,
		Key:        po.ID,
		OccurredAt: now,
		Payload: publisher.PurchaseOrderPayload{
			PurchaseOrderID: po.ID,
			ReceivedBy:      opts.ReceivedBy,
			Units:           units,
		},
	}); err != nil {
		s.metrics.PublishFailures.Inc()
		s.log(ctx).Warn("failed to publish purchase order event", zap.String("purchase_order_id", po.ID), zap.Error(err))
	}

	return Result{Status: StatusApplied, PurchaseOrder: po}, nil
}

// plan resolves the received quantity of every line and drops zero
// quantities and untracked products
func (s *Service) plan(ctx context.Context, po *domain.PurchaseOrder, overrides []ReceivedItem) ([]receipt, error) {
	override := make(map[domain.StockKey]int, len(overrides))
	for _, item := range overrides {
		if item.Quantity < 0 {
			return nil, domain.InvalidInput("received quantity for %s must not be negative", domain.StockKey{ProductID: item.ProductID, VariantID: item.VariantID})
		}
		override[domain.StockKey{ProductID: item.ProductID, VariantID: item.VariantID}] = item.Quantity
	}

	products := make(map[string]*domain.Product)
	var receipts []receipt
	for _, item := range po.Items {
		if item.ProductID == "" {
			return nil, domain.InvalidInput("purchase order line without product id")
		}
		qty := item.Quantity
		if q, ok := override[item.Key()]; ok {
			qty = q
		}
		if qty < 0 {
			return nil, domain.InvalidInput("quantity for %s must not be negative", item.Key())
		}
		if qty == 0 {
			continue
		}

		product, ok := products[item.ProductID]
		if !ok {
			var err error
			if product, err = s.store.GetProduct(ctx, item.ProductID); err != nil {
				return nil, err
			}
			products[item.ProductID] = product
		}
		if _, err := product.Record(item.VariantID); err != nil {
			return nil, err
		}
		if !product.Tracked() {
			continue
		}
		receipts = append(receipts, receipt{key: item.Key(), qty: qty})
	}
	return receipts, nil
}

func (s *Service) record(ctx context.Context, action domain.AuditAction, r receipt, applied store.Applied, referenceID string) {
	err := s.audit.Append(ctx, domain.AuditEntry{
		ProductID:   r.key.ProductID,
		VariantID:   r.key.VariantID,
		Action:      action,
		Quantity:    r.qty,
		Before:      domain.SnapshotOf(applied.Before),
		After:       domain.SnapshotOf(applied.After),
		Source:      Source,
		ReferenceID: referenceID,
		CreatedAt:   s.now().UTC(),
	})
	if err != nil {
		s.metrics.AuditFailures.Inc()
		s.log(ctx).Error("failed to append audit entry",
			zap.String("action", string(action)),
			zap.String("stock_key", r.key.String()),
			zap.String("reference_id", referenceID),
			zap.Error(err))
	}
}

// recordUnreconciled notes a rollback the store refused because the received
// units were reserved in the meantime. The counters did not move, so the
// entry carries the current record as both before and after.
func (s *Service) recordUnreconciled(ctx context.Context, r receipt, referenceID string) {
	var current store.Applied
	if p, err := s.store.GetProduct(ctx, r.key.ProductID); err == nil {
		if rec, err := p.Record(r.key.VariantID); err == nil {
			current = store.Applied{Before: rec, After: rec}
		}
	}
	s.log(ctx).Error("purchase order rollback refused, stock needs manual reconciliation",
		zap.String("stock_key", r.key.String()),
		zap.String("purchase_order_id", referenceID),
		zap.Int("quantity", r.qty))
	s.record(ctx, domain.ActionPOReceive.Unreconciled(), r, current, referenceID)
}

func (s *Service) rollback(ctx context.Context, poID string, sg *saga.Saga, cause error) {
	if sg.Len() == 0 {
		return
	}
	if err := sg.TriggerCompensation(ctx); err != nil {
		s.metrics.Compensations.WithLabelValues("receive_purchase_order", "failed").Inc()
		s.log(ctx).Error("purchase order rollback incomplete",
			zap.String("purchase_order_id", poID),
			zap.NamedError("cause", cause),
			zap.Error(err))
		return
	}
	s.metrics.Compensations.WithLabelValues("receive_purchase_order", "success").Inc()
}

func (s *Service) log(ctx context.Context) *zap.Logger {
	return logger.WithTrace(ctx, s.logger)
}
