package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/inventory-service/internal/domain"
)

// ProductCache stores read-side snapshots of products and their stock records
type ProductCache interface {
	Get(ctx context.Context, productID string) (*domain.Product, error)
	Set(ctx context.Context, product *domain.Product) error
	Delete(ctx context.Context, productID string) error
}

var ErrCacheMiss = errors.New("cache miss")
