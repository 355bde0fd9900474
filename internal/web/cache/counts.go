package cache

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// CountCache stores per-query totals for one entity. It satisfies
// resource.CountCache. Backend failures degrade to cache misses.
type CountCache struct {
	cache  Cache
	logger *zap.Logger
}

// NewCountCache namespaces backend under "counts:<entity>"
func NewCountCache(backend Cache, entity string, logger *zap.Logger) *CountCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CountCache{
		cache:  backend.Scoped("counts:" + entity),
		logger: logger.With(zap.String("entity", entity)),
	}
}

// Count returns the cached total for key
func (c *CountCache) Count(ctx context.Context, key string) (int64, bool) {
	raw, err := c.cache.Get(ctx, key)
	if err != nil {
		if !IsCacheMiss(err) {
			c.logger.Warn("Count cache read failed", zap.String("key", key), zap.Error(err))
		}
		return 0, false
	}

	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		c.logger.Warn("Discarding corrupt count cache entry", zap.String("key", key), zap.Error(err))
		_ = c.cache.Delete(ctx, key)
		return 0, false
	}
	return n, true
}

// StoreCount caches the total for key
func (c *CountCache) StoreCount(ctx context.Context, key string, n int64, ttl time.Duration) {
	if err := c.cache.Set(ctx, key, []byte(strconv.FormatInt(n, 10)), ttl); err != nil {
		c.logger.Warn("Count cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate drops every cached total of the entity
func (c *CountCache) Invalidate(ctx context.Context) error {
	return c.cache.Clear(ctx)
}
