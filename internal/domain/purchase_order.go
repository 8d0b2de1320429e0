package domain

import "time"

// PurchaseOrderStatus represents the state of an inbound purchase order
type PurchaseOrderStatus string

const (
	POStatusOrdered  PurchaseOrderStatus = "ordered"
	POStatusReceived PurchaseOrderStatus = "received"
)

// PurchaseOrderItem is one ordered line of a purchase order
type PurchaseOrderItem struct {
	ProductID string `json:"product_id" bson:"productId"`
	VariantID string `json:"variant_id,omitempty" bson:"variantId,omitempty"`
	Quantity  int    `json:"quantity" bson:"quantity"`
}

// Key returns the stock record addressed by the line
func (i PurchaseOrderItem) Key() StockKey {
	return StockKey{ProductID: i.ProductID, VariantID: i.VariantID}
}

// PurchaseOrder is an inbound supplier delivery
type PurchaseOrder struct {
	ID               string              `json:"id" bson:"_id"`
	Status           PurchaseOrderStatus `json:"status" bson:"status"`
	Items            []PurchaseOrderItem `json:"items" bson:"items"`
	InventoryApplied bool                `json:"inventory_applied" bson:"inventoryApplied"`
	ReceivedAt       *time.Time          `json:"received_at,omitempty" bson:"receivedAt,omitempty"`
	ReceivedBy       string              `json:"received_by,omitempty" bson:"receivedBy,omitempty"`
}
