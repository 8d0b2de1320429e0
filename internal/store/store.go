package store

import (
	"context"
	"fmt"

	"github.com/fjod/go_cart/inventory-service/internal/domain"
)

// GuardKind selects the predicate checked before a mutation
type GuardKind int

const (
	GuardNone GuardKind = iota
	GuardAvailableAtLeast
	GuardReservedAtLeast
)

// Guard is a predicate over a stock record's current counters
type Guard struct {
	Kind     GuardKind
	Quantity int
}

// NoGuard applies the mutation unconditionally
func NoGuard() Guard { return Guard{Kind: GuardNone} }

// AvailableAtLeast holds when stock - reserved >= n
func AvailableAtLeast(n int) Guard { return Guard{Kind: GuardAvailableAtLeast, Quantity: n} }

// ReservedAtLeast holds when reserved >= n
func ReservedAtLeast(n int) Guard { return Guard{Kind: GuardReservedAtLeast, Quantity: n} }

// Holds evaluates the guard against a record
func (g Guard) Holds(r domain.StockRecord) bool {
	switch g.Kind {
	case GuardAvailableAtLeast:
		return r.Available() >= g.Quantity
	case GuardReservedAtLeast:
		return r.ReservedQuantity >= g.Quantity
	default:
		return true
	}
}

func (g Guard) String() string {
	switch g.Kind {
	case GuardAvailableAtLeast:
		return fmt.Sprintf("available>=%d", g.Quantity)
	case GuardReservedAtLeast:
		return fmt.Sprintf("reserved>=%d", g.Quantity)
	default:
		return "none"
	}
}

// Delta is added to both counters of the target record
type Delta struct {
	Stock    int
	Reserved int
}

// Inverse returns the delta that undoes d
func (d Delta) Inverse() Delta {
	return Delta{Stock: -d.Stock, Reserved: -d.Reserved}
}

// InvariantGuard returns the guard under which applying d to a record that
// satisfies 0 <= reserved <= stock leaves it satisfied. It covers deltas that
// move one counter, or both by the same amount.
func InvariantGuard(d Delta) Guard {
	if drop := d.Reserved - d.Stock; drop > 0 {
		return AvailableAtLeast(drop)
	}
	if d.Reserved < 0 {
		return ReservedAtLeast(-d.Reserved)
	}
	return NoGuard()
}

func (d Delta) apply(r domain.StockRecord) domain.StockRecord {
	r.StockQuantity += d.Stock
	r.ReservedQuantity += d.Reserved
	return r
}

// Mutation is one guarded counter update against a single stock record
type Mutation struct {
	Target domain.StockKey
	Delta  Delta
	Guard  Guard
}

// Applied describes the record before and after a successful mutation
type Applied struct {
	Before domain.StockRecord
	After  domain.StockRecord
}

// StockStore defines the interface for stock storage operations
type StockStore interface {
	// GetProduct returns the product with all its stock records
	// Returns domain.ErrProductNotFound if no such product exists
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)

	// SaveProduct creates or replaces a product (used for seeding and administration)
	SaveProduct(ctx context.Context, product *domain.Product) error

	// Apply atomically adds the delta to the target record if the guard holds.
	// On guard failure nothing changes and *domain.InsufficientStockError is returned.
	// A malformed variant reference returns domain.ErrInvalidInput.
	Apply(ctx context.Context, m Mutation) (Applied, error)
}

func insufficient(m Mutation, current domain.StockRecord) error {
	return &domain.InsufficientStockError{
		ProductID: m.Target.ProductID,
		VariantID: m.Target.VariantID,
		Requested: m.Guard.Quantity,
		Available: current.Available(),
	}
}
