package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// TokenBucket implements an in-memory token bucket rate limiter
type TokenBucket struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	window  time.Duration
	cleanup *time.Ticker
	done    chan struct{}
	once    sync.Once

	// Now is the clock used for refills
	Now func() time.Time
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// TokenBucketConfig configures a TokenBucket
type TokenBucketConfig struct {
	// Limit is the bucket capacity, refilled in full once per Window
	Limit  int
	Window time.Duration
	// CleanupInterval drops idle buckets; zero disables the sweeper
	CleanupInterval time.Duration
}

// NewTokenBucket creates a token bucket limiter
func NewTokenBucket(config TokenBucketConfig) (*TokenBucket, error) {
	if config.Limit <= 0 {
		return nil, errors.New("limit must be greater than 0")
	}
	if config.Window <= 0 {
		return nil, errors.New("window must be greater than 0")
	}

	tb := &TokenBucket{
		buckets: make(map[string]*bucket),
		limit:   config.Limit,
		window:  config.Window,
		done:    make(chan struct{}),
		Now:     time.Now,
	}
	if config.CleanupInterval > 0 {
		tb.cleanup = time.NewTicker(config.CleanupInterval)
		go tb.cleanupLoop()
	}
	return tb, nil
}

// Allow takes one token from the bucket of key
func (tb *TokenBucket) Allow(ctx context.Context, key string) (*Info, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.Now()
	b, ok := tb.buckets[key]
	if !ok {
		b = &bucket{tokens: tb.limit, lastRefill: now}
		tb.buckets[key] = b
	}

	// Refill proportionally: limit tokens per window
	if elapsed := now.Sub(b.lastRefill); elapsed > 0 {
		add := int(float64(tb.limit) * elapsed.Seconds() / tb.window.Seconds())
		if add > 0 {
			b.tokens = min(tb.limit, b.tokens+add)
			b.lastRefill = now
		}
	}

	info := &Info{Limit: tb.limit, ResetAt: b.lastRefill.Add(tb.window)}
	if b.tokens > 0 {
		b.tokens--
		info.Allowed = true
	}
	info.Remaining = b.tokens
	return info, nil
}

// Len returns the number of tracked keys
func (tb *TokenBucket) Len() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return len(tb.buckets)
}

func (tb *TokenBucket) cleanupLoop() {
	for {
		select {
		case <-tb.cleanup.C:
			tb.sweep()
		case <-tb.done:
			return
		}
	}
}

// sweep drops buckets idle for two windows; they would be full anyway
func (tb *TokenBucket) sweep() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.Now()
	for key, b := range tb.buckets {
		if now.Sub(b.lastRefill) > 2*tb.window {
			delete(tb.buckets, key)
		}
	}
}

// Close stops the sweeper. It is safe to call more than once.
func (tb *TokenBucket) Close() error {
	tb.once.Do(func() {
		close(tb.done)
		if tb.cleanup != nil {
			tb.cleanup.Stop()
		}
	})
	return nil
}
