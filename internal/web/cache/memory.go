package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// CleanupInterval is how often expired memory entries are swept
const CleanupInterval = time.Minute

// MemoryCache implements an in-memory cache with TTL support
type MemoryCache struct {
	data   *sync.Map
	config CacheConfig
	now    func() time.Time

	// cancel stops the sweeper; nil on scoped views
	cancel context.CancelFunc
}

// cacheItem represents an item stored in the cache
type cacheItem struct {
	value      []byte
	expiration time.Time
}

func (i cacheItem) expired(now time.Time) bool {
	return !i.expiration.IsZero() && now.After(i.expiration)
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache() *MemoryCache {
	return NewMemoryCacheWithConfig(DefaultCacheConfig())
}

// NewMemoryCacheWithConfig creates a new in-memory cache with custom configuration
func NewMemoryCacheWithConfig(config CacheConfig) *MemoryCache {
	ctx, cancel := context.WithCancel(context.Background())
	mc := &MemoryCache{
		data:   &sync.Map{},
		config: config,
		now:    time.Now,
		cancel: cancel,
	}

	go mc.cleanupExpired(ctx)
	return mc
}

// Get retrieves a value from the cache
func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fullKey := m.config.Prefix + key
	value, ok := m.data.Load(fullKey)
	if !ok {
		return nil, ErrCacheMiss{Key: key}
	}

	item := value.(cacheItem)
	if item.expired(m.now()) {
		m.data.Delete(fullKey)
		return nil, ErrCacheMiss{Key: key}
	}
	return item.value, nil
}

// Set stores a value in the cache with a TTL
func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	item := cacheItem{value: append([]byte(nil), value...)}
	if ttl = m.config.ttl(ttl); ttl > 0 {
		item.expiration = m.now().Add(ttl)
	}

	m.data.Store(m.config.Prefix+key, item)
	return nil
}

// Delete removes a value from the cache
func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.data.Delete(m.config.Prefix + key)
	return nil
}

// Clear removes every value under the cache prefix
func (m *MemoryCache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.data.Range(func(key, _ interface{}) bool {
		if strings.HasPrefix(key.(string), m.config.Prefix) {
			m.data.Delete(key)
		}
		return true
	})
	return nil
}

// Exists checks if a key exists in the cache
func (m *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.Get(ctx, key)
	if IsCacheMiss(err) {
		return false, nil
	}
	return err == nil, err
}

// Scoped returns a namespaced view sharing the same storage
func (m *MemoryCache) Scoped(namespace string) Cache {
	return &MemoryCache{
		data:   m.data,
		config: m.config.scoped(namespace),
		now:    m.now,
	}
}

// Len returns the number of stored entries across every namespace,
// expired ones included until the next sweep
func (m *MemoryCache) Len() int {
	n := 0
	m.data.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Close stops the background sweeper
func (m *MemoryCache) Close() error {
	if m.cancel != nil {
		m.cancel()
	}
	return nil
}

// cleanupExpired periodically removes expired items from the cache
func (m *MemoryCache) cleanupExpired(ctx context.Context) {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *MemoryCache) sweep() {
	now := m.now()
	m.data.Range(func(key, value interface{}) bool {
		if value.(cacheItem).expired(now) {
			m.data.Delete(key)
		}
		return true
	})
}
