package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"ops-console/domain"
)

// Cache wraps a Gateway with Redis-backed caching for layout reads.
type Cache struct {
	base  Gateway
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base Gateway, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base gateway is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) FetchLayout(ctx context.Context, userID string) ([]domain.Item, error) {
	if items, ok := c.load(ctx, userID); ok {
		return items, nil
	}

	items, err := c.base.FetchLayout(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.store(ctx, userID, items)
	return items, nil
}

func (c *Cache) SaveLayout(ctx context.Context, userID string, items []domain.Item) error {
	if err := c.base.SaveLayout(ctx, userID, items); err != nil {
		return err
	}

	c.evict(ctx, userID)
	return nil
}

func (c *Cache) load(ctx context.Context, userID string) ([]domain.Item, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, layoutCacheKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing store without failing.
			_ = c.redis.Del(ctx, layoutCacheKey(userID)).Err()
		}
		return nil, false
	}
	var items []domain.Item
	if err := sonic.Unmarshal(data, &items); err != nil {
		_ = c.redis.Del(ctx, layoutCacheKey(userID)).Err()
		return nil, false
	}
	return items, true
}

func (c *Cache) store(ctx context.Context, userID string, items []domain.Item) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(items)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, layoutCacheKey(userID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, userID string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, layoutCacheKey(userID)).Err()
}

func layoutCacheKey(userID string) string {
	return "layout:" + userID
}
