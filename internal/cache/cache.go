package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned when the key is absent or the backend is
// unavailable; callers fall through to the repository.
var ErrMiss = errors.New("cache miss")

// PriceCache caches item master prices keyed by item ID. Used on the
// barcode-assign path, where the same handful of items is looked up on
// every labeling batch.
type PriceCache interface {
	GetItemPrice(ctx context.Context, itemID int64) (int64, error)
	SetItemPrice(ctx context.Context, itemID int64, priceCents int64, ttl time.Duration) error
	InvalidateItemPrice(ctx context.Context, itemID int64) error
}

// NoopPriceCache satisfies PriceCache without caching anything.
type NoopPriceCache struct{}

func (NoopPriceCache) GetItemPrice(ctx context.Context, itemID int64) (int64, error) {
	return 0, ErrMiss
}

func (NoopPriceCache) SetItemPrice(ctx context.Context, itemID int64, priceCents int64, ttl time.Duration) error {
	return nil
}

func (NoopPriceCache) InvalidateItemPrice(ctx context.Context, itemID int64) error {
	return nil
}
