package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/crudgen/internal/web/ratelimit"
)

// Rate limit response headers
const (
	RateLimitLimitHeader     = "X-RateLimit-Limit"
	RateLimitRemainingHeader = "X-RateLimit-Remaining"
	RateLimitResetHeader     = "X-RateLimit-Reset"
)

// RateLimitConfig configures the rate limit middleware
type RateLimitConfig struct {
	Limiter ratelimit.Limiter
	// KeyFunc identifies the client; defaults to ClientIP
	KeyFunc func(*http.Request) string
	Logger  *zap.Logger
	Now     func() time.Time
}

// RateLimit rejects requests over the limiter's budget with 429. A limiter
// error admits the request and is logged.
func RateLimit(config RateLimitConfig) Middleware {
	if config.KeyFunc == nil {
		config.KeyFunc = ClientIP
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return func(next http.Handler) http.Handler {
		if config.Limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := config.KeyFunc(r)
			info, err := config.Limiter.Allow(r.Context(), key)
			if err != nil {
				config.Logger.Warn("Rate limiter unavailable",
					zap.String("request_id", GetRequestID(r.Context())),
					zap.String("key", key),
					zap.Error(err),
				)
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set(RateLimitLimitHeader, strconv.Itoa(info.Limit))
			h.Set(RateLimitRemainingHeader, strconv.Itoa(info.Remaining))
			h.Set(RateLimitResetHeader, strconv.FormatInt(info.ResetAt.Unix(), 10))

			if !info.Allowed {
				retry := info.RetryAfter(config.Now())
				h.Set("Retry-After", strconv.Itoa(int(retry/time.Second)))
				writeError(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop, else the host part of
// RemoteAddr
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
