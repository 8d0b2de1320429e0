package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fjod/go_cart/inventory-service/internal/domain"
)

// MemoryOrderRepository implements OrderRepository in memory
type MemoryOrderRepository struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{orders: make(map[string]domain.Order)}
}

func (r *MemoryOrderRepository) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (r *MemoryOrderRepository) SaveOrder(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = *cloneOrder(*order)
	return nil
}

func (r *MemoryOrderRepository) SaveOrderIf(_ context.Context, order *domain.Order, expected domain.InventoryStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.orders[order.ID]
	if !ok {
		return ErrOrderNotFound
	}
	if stored.InventoryStatus() != expected {
		return ErrOrderConflict
	}
	r.orders[order.ID] = *cloneOrder(*order)
	return nil
}

func (r *MemoryOrderRepository) FindExpiredReservations(_ context.Context, now time.Time, limit int) ([]*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Order
	for _, order := range r.orders {
		if order.ReservationExpired(now) {
			out = append(out, cloneOrder(order))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Inventory.ReservationExpiresAt.Before(*out[j].Inventory.ReservationExpiresAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneOrder(o domain.Order) *domain.Order {
	o.Items = append([]domain.LineItem(nil), o.Items...)
	if o.Inventory.ReservationExpiresAt != nil {
		expires := *o.Inventory.ReservationExpiresAt
		o.Inventory.ReservationExpiresAt = &expires
	}
	return &o
}

// MemoryPurchaseOrderRepository implements PurchaseOrderRepository in memory
type MemoryPurchaseOrderRepository struct {
	mu  sync.RWMutex
	pos map[string]domain.PurchaseOrder
}

func NewMemoryPurchaseOrderRepository() *MemoryPurchaseOrderRepository {
	return &MemoryPurchaseOrderRepository{pos: make(map[string]domain.PurchaseOrder)}
}

func (r *MemoryPurchaseOrderRepository) GetPurchaseOrder(_ context.Context, id string) (*domain.PurchaseOrder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	po, ok := r.pos[id]
	if !ok {
		return nil, ErrPurchaseOrderNotFound
	}
	return clonePurchaseOrder(po), nil
}

func (r *MemoryPurchaseOrderRepository) SavePurchaseOrder(_ context.Context, po *domain.PurchaseOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pos[po.ID] = *clonePurchaseOrder(*po)
	return nil
}

func (r *MemoryPurchaseOrderRepository) SavePurchaseOrderIfPending(_ context.Context, po *domain.PurchaseOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.pos[po.ID]
	if !ok {
		return ErrPurchaseOrderNotFound
	}
	if stored.InventoryApplied {
		return ErrPurchaseOrderConflict
	}
	r.pos[po.ID] = *clonePurchaseOrder(*po)
	return nil
}

func clonePurchaseOrder(po domain.PurchaseOrder) *domain.PurchaseOrder {
	po.Items = append([]domain.PurchaseOrderItem(nil), po.Items...)
	if po.ReceivedAt != nil {
		at := *po.ReceivedAt
		po.ReceivedAt = &at
	}
	return &po
}
