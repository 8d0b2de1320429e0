package store

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/go_cart/inventory-service/internal/domain"
)

// MemoryStore implements StockStore with in-memory storage
type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]*domain.Product // productID -> product
	now      func() time.Time
}

// NewMemoryStore creates a new in-memory stock store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[string]*domain.Product),
		now:      time.Now,
	}
}

// GetProduct returns a copy of the stored product
func (s *MemoryStore) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.products[productID]
	if !exists {
		return nil, domain.ErrProductNotFound
	}
	return cloneProduct(p), nil
}

// SaveProduct stores a copy of the product
func (s *MemoryStore) SaveProduct(_ context.Context, product *domain.Product) error {
	if product == nil || product.ID == "" {
		return domain.InvalidInput("product id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p := cloneProduct(product)
	p.UpdatedAt = s.now()
	s.products[p.ID] = p
	return nil
}

// Apply checks the guard and updates the record under a single write lock
func (s *MemoryStore) Apply(_ context.Context, m Mutation) (Applied, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.products[m.Target.ProductID]
	if !exists {
		return Applied{}, domain.ErrProductNotFound
	}

	record, err := recordRef(p, m.Target.VariantID)
	if err != nil {
		return Applied{}, err
	}

	if !m.Guard.Holds(*record) {
		return Applied{}, insufficient(m, *record)
	}

	before := *record
	*record = m.Delta.apply(*record)
	p.UpdatedAt = s.now()

	return Applied{Before: before, After: *record}, nil
}

// recordRef returns a pointer to the addressed record inside p
func recordRef(p *domain.Product, variantID string) (*domain.StockRecord, error) {
	if _, err := p.Record(variantID); err != nil {
		return nil, err
	}
	if variantID == "" {
		return &p.Stock, nil
	}
	for i := range p.Variants {
		if p.Variants[i].VariantID == variantID {
			return &p.Variants[i].Stock, nil
		}
	}
	return nil, domain.InvalidInput("product %s has no variant %s", p.ID, variantID)
}

func cloneProduct(p *domain.Product) *domain.Product {
	c := *p
	if p.Variants != nil {
		c.Variants = make([]domain.Variant, len(p.Variants))
		copy(c.Variants, p.Variants)
	}
	return &c
}
