package domain

import "time"

// InventoryStatus is the inventory-side state of an order
type InventoryStatus string

const (
	InventoryNone     InventoryStatus = "none"
	InventoryReserved InventoryStatus = "reserved"
	InventoryDeducted InventoryStatus = "deducted"
	InventoryReleased InventoryStatus = "released"
	InventoryRestored InventoryStatus = "restored"
)

// Terminal reports whether no further inventory transition is possible
func (s InventoryStatus) Terminal() bool {
	return s == InventoryReleased || s == InventoryRestored
}

// OrderStatus is the lifecycle status owned by the order service
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderCancelled OrderStatus = "cancelled"
	OrderFailed    OrderStatus = "failed"
	OrderCompleted OrderStatus = "completed"
	OrderRefunded  OrderStatus = "refunded"
)

// TerminalOrderStatuses are skipped by the expiry sweeper
var TerminalOrderStatuses = []OrderStatus{OrderCancelled, OrderFailed, OrderCompleted, OrderRefunded}

// PaymentStatus is the payment state reported by the payment collaborator
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// LineItem is one ordered product (or variant) with its quantity
type LineItem struct {
	ProductID string `json:"product_id" bson:"productId"`
	VariantID string `json:"variant_id,omitempty" bson:"variantId,omitempty"`
	Quantity  int    `json:"quantity" bson:"quantity"`
}

// Key returns the stock record addressed by the line
func (i LineItem) Key() StockKey {
	return StockKey{ProductID: i.ProductID, VariantID: i.VariantID}
}

// InventoryState is the reservation sub-record embedded in an order
type InventoryState struct {
	Status               InventoryStatus `json:"status" bson:"status"`
	UpdatedAt            time.Time       `json:"updated_at" bson:"updatedAt"`
	Source               string          `json:"source,omitempty" bson:"source,omitempty"`
	ReservationExpiresAt *time.Time      `json:"reservation_expires_at,omitempty" bson:"reservationExpiresAt,omitempty"`
}

// Order is the subset of an order document the engine reads and mutates
type Order struct {
	ID            string         `json:"id" bson:"_id"`
	Status        OrderStatus    `json:"status" bson:"status"`
	PaymentStatus PaymentStatus  `json:"payment_status" bson:"paymentStatus"`
	Items         []LineItem     `json:"items" bson:"items"`
	Inventory     InventoryState `json:"inventory" bson:"inventory"`
}

// InventoryStatus returns the current inventory status, treating an empty value as none
func (o *Order) InventoryStatus() InventoryStatus {
	if o.Inventory.Status == "" {
		return InventoryNone
	}
	return o.Inventory.Status
}

// ReservationExpired checks whether an unpaid reservation has outlived its window
func (o *Order) ReservationExpired(now time.Time) bool {
	if o.InventoryStatus() != InventoryReserved || o.PaymentStatus == PaymentPaid {
		return false
	}
	if o.Inventory.ReservationExpiresAt == nil {
		return false
	}
	for _, s := range TerminalOrderStatuses {
		if o.Status == s {
			return false
		}
	}
	return !o.Inventory.ReservationExpiresAt.After(now)
}
