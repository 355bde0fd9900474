package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// clearBatch is the SCAN count hint and the DEL batch size used by Clear
const clearBatch = 100

// RedisCache implements a Redis-backed cache
type RedisCache struct {
	client *redis.Client
	config CacheConfig
	owner  bool
}

// RedisConfig holds Redis-specific configuration
type RedisConfig struct {
	// Addr is the Redis server address (host:port)
	Addr     string
	Password string
	DB       int

	DialTimeout time.Duration
	CacheConfig CacheConfig
}

// DefaultRedisConfig returns a default Redis configuration
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:        "localhost:6379",
		DialTimeout: 5 * time.Second,
		CacheConfig: DefaultCacheConfig(),
	}
}

// NewRedisCacheWithConfig connects to Redis and verifies the connection
func NewRedisCacheWithConfig(ctx context.Context, config RedisConfig) (*RedisCache, error) {
	if config.DialTimeout <= 0 {
		config.DialTimeout = DefaultRedisConfig().DialTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:        config.Addr,
		Password:    config.Password,
		DB:          config.DB,
		DialTimeout: config.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, config.DialTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Addr, err)
	}

	return &RedisCache{client: client, config: config.CacheConfig, owner: true}, nil
}

// NewRedisCacheWithClient creates a Redis cache over an existing client.
// The caller keeps ownership of the client.
func NewRedisCacheWithClient(client *redis.Client, config CacheConfig) *RedisCache {
	return &RedisCache{client: client, config: config}
}

// Get retrieves a value from the cache
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, r.config.Prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss{Key: key}
		}
		return nil, err
	}
	return value, nil
}

// Set stores a value in the cache with a TTL
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ttl = r.config.ttl(ttl)
	if ttl < 0 {
		ttl = 0
	}
	return r.client.Set(ctx, r.config.Prefix+key, value, ttl).Err()
}

// Delete removes a value from the cache
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.config.Prefix+key).Err()
}

// Clear removes every key under the prefix. The whole SCAN completes before
// anything is deleted, then keys are removed in batches.
func (r *RedisCache) Clear(ctx context.Context) error {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.config.Prefix+"*", clearBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}

	for len(keys) > 0 {
		n := min(clearBatch, len(keys))
		if err := r.client.Del(ctx, keys[:n]...).Err(); err != nil {
			return err
		}
		keys = keys[n:]
	}
	return nil
}

// Exists checks if a key exists in the cache
func (r *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	count, err := r.client.Exists(ctx, r.config.Prefix+key).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Scoped returns a namespaced view sharing the same client
func (r *RedisCache) Scoped(namespace string) Cache {
	return &RedisCache{client: r.client, config: r.config.scoped(namespace)}
}

// Client returns the underlying client
func (r *RedisCache) Client() *redis.Client {
	return r.client
}

// Close closes the Redis connection if this cache opened it
func (r *RedisCache) Close() error {
	if !r.owner {
		return nil
	}
	return r.client.Close()
}
