package domain

import "time"

// ProductKind discriminates how a product stores its stock
type ProductKind string

const (
	KindSimple   ProductKind = "simple"
	KindVariants ProductKind = "variants"
)

// StockRecord is the counter pair guarded by the engine
type StockRecord struct {
	StockQuantity     int  `json:"stock_quantity" bson:"stockQuantity"`         // Physical units on hand
	ReservedQuantity  int  `json:"reserved_quantity" bson:"reservedQuantity"`   // Units promised to unpaid orders
	TrackInventory    bool `json:"track_inventory" bson:"trackInventory"`       // Untracked records are never mutated
	LowStockThreshold int  `json:"low_stock_threshold" bson:"lowStockThreshold"`
}

// Available returns the sellable quantity (stock - reserved)
func (s StockRecord) Available() int {
	return s.StockQuantity - s.ReservedQuantity
}

// LowStock reports whether available stock has dropped to the alert threshold
func (s StockRecord) LowStock() bool {
	return s.Available() <= s.LowStockThreshold
}

// Variant is one purchasable configuration of a product
type Variant struct {
	VariantID string      `json:"variant_id" bson:"variantId"`
	SKU       string      `json:"sku,omitempty" bson:"sku,omitempty"`
	// Stock holds the variant's counters. Its TrackInventory is ignored:
	// variants inherit tracking from the product, and Product.Record reports
	// the inherited value.
	Stock StockRecord `json:"stock" bson:"stock"`
}

// Product owns either a single stock record or one record per variant
type Product struct {
	ID        string      `json:"id" bson:"_id"`
	Name      string      `json:"name" bson:"name"`
	Kind      ProductKind `json:"kind" bson:"kind"`
	Stock     StockRecord `json:"stock" bson:"stock"`
	Variants  []Variant   `json:"variants,omitempty" bson:"variants,omitempty"`
	UpdatedAt time.Time   `json:"updated_at" bson:"updatedAt"`
}

// Tracked reports whether the engine manages stock for this product.
// Variant records inherit the product-level flag.
func (p *Product) Tracked() bool {
	return p.Stock.TrackInventory
}

// Record resolves the stock record addressed by variantID.
// A simple product rejects any variant reference; a variant product requires a known one.
func (p *Product) Record(variantID string) (StockRecord, error) {
	switch p.Kind {
	case KindVariants:
		if variantID == "" {
			return StockRecord{}, InvalidInput("product %s requires a variant id", p.ID)
		}
		for _, v := range p.Variants {
			if v.VariantID == variantID {
				r := v.Stock
				r.TrackInventory = p.Stock.TrackInventory
				return r, nil
			}
		}
		return StockRecord{}, InvalidInput("product %s has no variant %s", p.ID, variantID)
	case KindSimple, "":
		if variantID != "" {
			return StockRecord{}, InvalidInput("product %s has no variants", p.ID)
		}
		return p.Stock, nil
	default:
		return StockRecord{}, InvalidInput("product %s has unknown kind %q", p.ID, p.Kind)
	}
}

// StockKey identifies one stock record
type StockKey struct {
	ProductID string `json:"product_id" bson:"productId"`
	VariantID string `json:"variant_id,omitempty" bson:"variantId,omitempty"`
}

func (k StockKey) String() string {
	if k.VariantID == "" {
		return k.ProductID
	}
	return k.ProductID + "/" + k.VariantID
}
