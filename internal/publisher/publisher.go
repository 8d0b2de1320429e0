package publisher

import (
	"context"
	"time"
)

// Event types published on the inventory topic
const (
	EventInventoryTransition = "inventory.transition"
	EventLowStock            = "inventory.low_stock"
	EventPurchaseOrderRecv   = "inventory.purchase_order_received"
)

// Event is one inventory notification; Key orders messages per aggregate
type Event struct {
	Type       string    `json:"type"`
	Key        string    `json:"key"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// TransitionPayload describes an order's inventory status change
type TransitionPayload struct {
	OrderID string `json:"order_id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Source  string `json:"source"`
}

// LowStockPayload describes a record at or below its threshold
type LowStockPayload struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Available int    `json:"available"`
	Threshold int    `json:"threshold"`
}

// PurchaseOrderPayload describes a received purchase order
type PurchaseOrderPayload struct {
	PurchaseOrderID string `json:"purchase_order_id"`
	ReceivedBy      string `json:"received_by,omitempty"`
	Units           int    `json:"units"`
}

// Publisher delivers inventory events to downstream consumers
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
