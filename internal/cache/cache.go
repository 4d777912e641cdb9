package cache

import (
	"context"
	"time"

	"bentapos/backend/internal/domain"
)

// CatalogCache holds the selling-screen product listing. Cache misses and
// stale entries are always recoverable from the store, so implementations may
// drop data freely.
type CatalogCache interface {
	Get(ctx context.Context, key string) ([]domain.Product, bool, error)
	Set(ctx context.Context, key string, products []domain.Product, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) Get(_ context.Context, _ string) ([]domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) Set(_ context.Context, _ string, _ []domain.Product, _ time.Duration) error {
	return nil
}

func (NoopCatalogCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
