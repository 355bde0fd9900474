package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// ContextKey is the type of the context keys set by this package
type ContextKey string

const (
	// RequestIDKey is the context key for request IDs
	RequestIDKey ContextKey = "request_id"

	// RequestIDHeader is the header carrying the request id in both directions
	RequestIDHeader = "X-Request-ID"
)

// RequestIDConfig configures the request ID middleware
type RequestIDConfig struct {
	// HeaderName is read from the request and echoed on the response
	HeaderName string
	// Generator creates an id when the request carries none
	Generator func() string
}

// DefaultRequestIDConfig returns the default request ID configuration
func DefaultRequestIDConfig() RequestIDConfig {
	return RequestIDConfig{
		HeaderName: RequestIDHeader,
		Generator:  func() string { return uuid.New().String() },
	}
}

// RequestID tags every request with an id, reusing an incoming X-Request-ID
func RequestID() Middleware {
	return RequestIDWithConfig(DefaultRequestIDConfig())
}

// RequestIDWithConfig creates a request ID middleware with custom configuration
func RequestIDWithConfig(config RequestIDConfig) Middleware {
	defaults := DefaultRequestIDConfig()
	if config.HeaderName == "" {
		config.HeaderName = defaults.HeaderName
	}
	if config.Generator == nil {
		config.Generator = defaults.Generator
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(config.HeaderName)
			if id == "" {
				id = config.Generator()
			}

			w.Header().Set(config.HeaderName, id)
			next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
		})
	}
}

// WithRequestID returns a copy of ctx carrying id
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// GetRequestID extracts the request ID from the context
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
