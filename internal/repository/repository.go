package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_cart/inventory-service/internal/domain"
)

var (
	ErrOrderNotFound         = errors.New("order not found")
	ErrPurchaseOrderNotFound = errors.New("purchase order not found")

	// ErrOrderConflict means the stored order left the expected inventory status
	ErrOrderConflict = errors.New("order inventory status changed concurrently")
	// ErrPurchaseOrderConflict means the purchase order was applied by another caller
	ErrPurchaseOrderConflict = errors.New("purchase order already applied")
)

// OrderRepository loads and persists the order documents the engine mutates
type OrderRepository interface {
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	SaveOrder(ctx context.Context, order *domain.Order) error

	// SaveOrderIf replaces the stored order only while its inventory status
	// still equals expected. Returns ErrOrderConflict otherwise.
	SaveOrderIf(ctx context.Context, order *domain.Order, expected domain.InventoryStatus) error

	// FindExpiredReservations returns up to limit unpaid, non-terminal orders
	// whose reservation expired at or before now, oldest expiry first
	FindExpiredReservations(ctx context.Context, now time.Time, limit int) ([]*domain.Order, error)
}

// PurchaseOrderRepository loads and persists inbound purchase orders
type PurchaseOrderRepository interface {
	GetPurchaseOrder(ctx context.Context, id string) (*domain.PurchaseOrder, error)
	SavePurchaseOrder(ctx context.Context, po *domain.PurchaseOrder) error

	// SavePurchaseOrderIfPending replaces the stored purchase order only while
	// its inventory is not yet applied. Returns ErrPurchaseOrderConflict otherwise.
	SavePurchaseOrderIfPending(ctx context.Context, po *domain.PurchaseOrder) error
}
