// Package ratelimit decides whether a client may issue another request to
// the generated routes. TokenBucket keeps state in process; RedisLimiter
// shares a sliding window between replicas.
package ratelimit

import (
	"context"
	"time"
)

// Limiter admits or rejects one request for key
type Limiter interface {
	Allow(ctx context.Context, key string) (*Info, error)
}

// Info describes the limit state after a decision
type Info struct {
	// Limit is the number of requests admitted per window
	Limit int
	// Remaining is what is left of the current window
	Remaining int
	// ResetAt is when the window is full again
	ResetAt time.Time
	Allowed bool
}

// RetryAfter is the wait before a rejected request may be retried, rounded
// up to whole seconds
func (i *Info) RetryAfter(now time.Time) time.Duration {
	wait := i.ResetAt.Sub(now)
	if wait <= 0 {
		return time.Second
	}
	return (wait + time.Second - 1).Truncate(time.Second)
}
