package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPriceCache stores item prices as plain integer strings under
// price:item:<id>.
type RedisPriceCache struct {
	client *redis.Client
}

func NewRedisPriceCache(client *redis.Client) *RedisPriceCache {
	return &RedisPriceCache{client: client}
}

func priceKey(itemID int64) string {
	return fmt.Sprintf("price:item:%d", itemID)
}

func (c *RedisPriceCache) GetItemPrice(ctx context.Context, itemID int64) (int64, error) {
	val, err := c.client.Get(ctx, priceKey(itemID)).Result()
	if err != nil {
		// redis.Nil and transport errors degrade the same way.
		return 0, ErrMiss
	}
	price, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, ErrMiss
	}
	return price, nil
}

func (c *RedisPriceCache) SetItemPrice(ctx context.Context, itemID int64, priceCents int64, ttl time.Duration) error {
	return c.client.Set(ctx, priceKey(itemID), strconv.FormatInt(priceCents, 10), ttl).Err()
}

func (c *RedisPriceCache) InvalidateItemPrice(ctx context.Context, itemID int64) error {
	return c.client.Del(ctx, priceKey(itemID)).Err()
}
