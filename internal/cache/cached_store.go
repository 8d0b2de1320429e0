package cache

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_cart/inventory-service/internal/domain"
	"github.com/fjod/go_cart/inventory-service/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// CachedStore decorates a StockStore with a read-through product cache.
// Mutations always hit the underlying store and evict the cached product.
type CachedStore struct {
	next   store.StockStore
	cache  ProductCache
	logger *zap.Logger
	sfg    singleflight.Group // Prevents cache stampede
}

var _ store.StockStore = (*CachedStore)(nil)

func NewCachedStore(next store.StockStore, cache ProductCache, logger *zap.Logger) *CachedStore {
	return &CachedStore{
		next:   next,
		cache:  cache,
		logger: logger,
	}
}

func (s *CachedStore) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	v, err, _ := s.sfg.Do(productID, func() (interface{}, error) {
		product, err := s.cache.Get(ctx, productID)
		if err == nil {
			return product, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			s.logger.Warn("cache get failed", zap.String("product_id", productID), zap.Error(err))
		}

		product, err = s.next.GetProduct(ctx, productID)
		if err != nil {
			return nil, err
		}

		if err := s.cache.Set(ctx, product); err != nil {
			s.logger.Warn("cache set failed", zap.String("product_id", productID), zap.Error(err))
		}
		return product, nil
	})
	if err != nil {
		return nil, err
	}

	// callers sharing a flight must not alias each other's copy
	shared := v.(*domain.Product)
	product := *shared
	product.Variants = append([]domain.Variant(nil), shared.Variants...)
	return &product, nil
}

func (s *CachedStore) SaveProduct(ctx context.Context, product *domain.Product) error {
	if err := s.next.SaveProduct(ctx, product); err != nil {
		return err
	}
	s.invalidate(product.ID)
	return nil
}

func (s *CachedStore) Apply(ctx context.Context, m store.Mutation) (store.Applied, error) {
	applied, err := s.next.Apply(ctx, m)
	if err != nil {
		return applied, err
	}
	s.invalidate(m.Target.ProductID)
	return applied, nil
}

func (s *CachedStore) invalidate(productID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, productID); err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("product_id", productID), zap.Error(err))
	}
}
