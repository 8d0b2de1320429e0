package reservation

import (
	"context"

	"github.com/fjod/go_cart/inventory-service/internal/domain"
	"github.com/fjod/go_cart/inventory-service/internal/logger"
	"github.com/fjod/go_cart/inventory-service/internal/publisher"
	"github.com/fjod/go_cart/inventory-service/internal/store"
	"go.uber.org/zap"
)

// record appends the audit entry for one applied mutation and raises the
// low stock signal. A ledger write failure never undoes the mutation.
func (e *Engine) record(ctx context.Context, action domain.AuditAction, key domain.StockKey, qty int, applied store.Applied, referenceID, source string) {
	entry := domain.AuditEntry{
		ProductID:   key.ProductID,
		VariantID:   key.VariantID,
		Action:      action,
		Quantity:    qty,
		Before:      domain.SnapshotOf(applied.Before),
		After:       domain.SnapshotOf(applied.After),
		Source:      source,
		ReferenceID: referenceID,
		CreatedAt:   e.now().UTC(),
	}
	if err := e.audit.Append(ctx, entry); err != nil {
		e.metrics.AuditFailures.Inc()
		e.log(ctx).Error("failed to append audit entry",
			zap.String("action", string(action)),
			zap.String("stock_key", key.String()),
			zap.String("reference_id", referenceID),
			zap.Int("quantity", qty),
			zap.Error(err))
	}

	if applied.After.LowStock() {
		e.signalLowStock(ctx, key, applied.After)
	}
}

// recordUnreconciled notes a compensation the store refused because the
// units were claimed in the meantime. The counters did not move, so the entry
// carries the current record as both before and after.
func (e *Engine) recordUnreconciled(ctx context.Context, action domain.AuditAction, key domain.StockKey, qty int, referenceID, source string) {
	var current domain.Snapshot
	if p, err := e.store.GetProduct(ctx, key.ProductID); err == nil {
		if r, err := p.Record(key.VariantID); err == nil {
			current = domain.SnapshotOf(r)
		}
	}

	e.log(ctx).Error("compensation refused, stock needs manual reconciliation",
		zap.String("action", string(action)),
		zap.String("stock_key", key.String()),
		zap.String("reference_id", referenceID),
		zap.Int("quantity", qty))

	entry := domain.AuditEntry{
		ProductID:   key.ProductID,
		VariantID:   key.VariantID,
		Action:      action.Unreconciled(),
		Quantity:    qty,
		Before:      current,
		After:       current,
		Source:      source,
		ReferenceID: referenceID,
		CreatedAt:   e.now().UTC(),
	}
	if err := e.audit.Append(ctx, entry); err != nil {
		e.metrics.AuditFailures.Inc()
		e.log(ctx).Error("failed to append audit entry",
			zap.String("action", string(entry.Action)),
			zap.String("stock_key", key.String()),
			zap.String("reference_id", referenceID),
			zap.Error(err))
	}
}

func (e *Engine) signalLowStock(ctx context.Context, key domain.StockKey, r domain.StockRecord) {
	e.metrics.LowStock.WithLabelValues(key.ProductID).Inc()
	e.log(ctx).Warn("low stock",
		zap.String("product_id", key.ProductID),
		zap.String("variant_id", key.VariantID),
		zap.Int("available", r.Available()),
		zap.Int("threshold", r.LowStockThreshold))

	e.publish(ctx, publisher.Event{
		Type: publisher.EventLowStock,
		Key:  key.ProductID,
		Payload: publisher.LowStockPayload{
			ProductID: key.ProductID,
			VariantID: key.VariantID,
			Available: r.Available(),
			Threshold: r.LowStockThreshold,
		},
	})
}

func (e *Engine) publishTransition(ctx context.Context, order *domain.Order, from domain.InventoryStatus, source string) {
	e.publish(ctx, publisher.Event{
		Type: publisher.EventInventoryTransition,
		Key:  order.ID,
		Payload: publisher.TransitionPayload{
			OrderID: order.ID,
			From:    string(from),
			To:      string(order.Inventory.Status),
			Source:  source,
		},
	})
}

func (e *Engine) publish(ctx context.Context, event publisher.Event) {
	event.OccurredAt = e.now().UTC()
	if err := e.publisher.Publish(ctx, event); err != nil {
		e.metrics.PublishFailures.Inc()
		e.log(ctx).Warn("failed to publish inventory event",
			zap.String("event_type", event.Type),
			zap.String("key", event.Key),
			zap.Error(err))
	}
}

func (e *Engine) log(ctx context.Context) *zap.Logger {
	return logger.WithTrace(ctx, e.logger)
}
