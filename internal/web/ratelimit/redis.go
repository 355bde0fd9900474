package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindow trims the sorted set to the window, then admits the request
// when fewer than limit entries remain
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_start = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, 0, window_start)
local current = redis.call('ZCARD', key)
if current < limit then
	redis.call('ZADD', key, now, ARGV[5])
	redis.call('EXPIRE', key, ttl)
	return {1, current + 1}
end
return {0, current}
`)

// RedisLimiter implements a Redis-backed sliding window rate limiter
type RedisLimiter struct {
	client redis.UniversalClient
	limit  int
	window time.Duration
	prefix string
	seq    atomic.Uint64

	// Now is the clock used for the window
	Now func() time.Time
}

// RedisLimiterConfig configures a RedisLimiter
type RedisLimiterConfig struct {
	Client redis.UniversalClient
	Limit  int
	Window time.Duration
	// Prefix namespaces the sorted sets, e.g. "crudgen:ratelimit:"
	Prefix string
}

// NewRedisLimiter creates a sliding window limiter over an existing client.
// The caller keeps ownership of the client.
func NewRedisLimiter(config RedisLimiterConfig) (*RedisLimiter, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.Limit <= 0 {
		return nil, errors.New("limit must be greater than 0")
	}
	if config.Window <= 0 {
		return nil, errors.New("window must be greater than 0")
	}

	return &RedisLimiter{
		client: config.Client,
		limit:  config.Limit,
		window: config.Window,
		prefix: config.Prefix,
		Now:    time.Now,
	}, nil
}

// Allow records one request for key if the window has room
func (r *RedisLimiter) Allow(ctx context.Context, key string) (*Info, error) {
	now := r.Now()
	ttl := int(r.window / time.Second)
	if ttl < 1 {
		ttl = 1
	}
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + strconv.FormatUint(r.seq.Add(1), 10)

	result, err := slidingWindow.Run(ctx, r.client, []string{r.prefix + key},
		now.UnixNano(),
		now.Add(-r.window).UnixNano(),
		r.limit,
		ttl,
		member,
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis rate limit check failed: %w", err)
	}
	if len(result) != 2 {
		return nil, errors.New("unexpected redis script result")
	}

	return &Info{
		Limit:     r.limit,
		Remaining: max(0, r.limit-int(result[1])),
		ResetAt:   now.Add(r.window),
		Allowed:   result[0] == 1,
	}, nil
}

// Reset forgets every request recorded for key
func (r *RedisLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}
