// Package cache provides the key/value backends behind the count cache of
// the generated read routes. Every backend is namespaced: Scoped returns a
// view whose Clear only removes the keys under its own prefix.
package cache

import (
	"context"
	"errors"
	"time"
)

// Cache defines the interface for all cache backends
type Cache interface {
	// Get retrieves a value from the cache
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with a TTL. A zero TTL uses the
	// backend default; a negative TTL never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache
	Delete(ctx context.Context, key string) error

	// Clear removes every value under the cache prefix
	Clear(ctx context.Context) error

	// Exists checks if a key exists in the cache
	Exists(ctx context.Context, key string) (bool, error)

	// Scoped returns a view of the same storage under prefix+namespace+":"
	Scoped(namespace string) Cache

	// Close releases the backend. Scoped views do not own the storage and
	// close as a no-op.
	Close() error
}

// CacheConfig holds common configuration for cache backends
type CacheConfig struct {
	// DefaultTTL is the default time-to-live for cached items
	DefaultTTL time.Duration
	// Prefix is prepended to all cache keys
	Prefix string
}

// DefaultCacheConfig returns a default cache configuration
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		DefaultTTL: 30 * time.Second,
		Prefix:     "crudgen:",
	}
}

func (c CacheConfig) scoped(namespace string) CacheConfig {
	c.Prefix = c.Prefix + namespace + ":"
	return c
}

func (c CacheConfig) ttl(ttl time.Duration) time.Duration {
	if ttl == 0 {
		return c.DefaultTTL
	}
	return ttl
}

// ErrCacheMiss is returned when a key is not found in the cache
type ErrCacheMiss struct {
	Key string
}

func (e ErrCacheMiss) Error() string {
	return "cache miss: " + e.Key
}

// IsCacheMiss checks if an error is a cache miss
func IsCacheMiss(err error) bool {
	var miss ErrCacheMiss
	return errors.As(err, &miss)
}
