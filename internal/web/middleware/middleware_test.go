package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/conduit-lang/crudgen/internal/web/ratelimit"
)

func tag(calls *[]string, name string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*calls = append(*calls, name+"-before")
			next.ServeHTTP(w, r)
			*calls = append(*calls, name+"-after")
		})
	}
}

func TestChain_Ordering(t *testing.T) {
	var calls []string
	chain := NewChain(tag(&calls, "m1")).Use(tag(&calls, "m2"))

	h := chain.Then(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"m1-before", "m2-before", "handler", "m2-after", "m1-after"}, calls)
}

func TestChain_AppendDoesNotMutate(t *testing.T) {
	var calls []string
	base := NewChain(tag(&calls, "a"))
	extended := base.Append(tag(&calls, "b"))

	assert.Equal(t, 1, base.Len())
	assert.Equal(t, 2, extended.Len())
}

func TestWrap_SkipsNil(t *testing.T) {
	var calls []string
	h := Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, "handler")
	}), nil, tag(&calls, "m"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"m-before", "handler", "m-after"}, calls)
}

func TestRequestID(t *testing.T) {
	t.Run("generates an id", func(t *testing.T) {
		var seen string
		h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetRequestID(r.Context())
		}))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Len(t, seen, 36)
		assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	})

	t.Run("reuses the incoming header", func(t *testing.T) {
		var seen string
		h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetRequestID(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, "req-42", seen)
		assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
	})

	t.Run("custom header and generator", func(t *testing.T) {
		h := RequestIDWithConfig(RequestIDConfig{
			HeaderName: "X-Trace",
			Generator:  func() string { return "fixed" },
		})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, "fixed", rec.Header().Get("X-Trace"))
		assert.Empty(t, rec.Header().Get(RequestIDHeader))
	})

	t.Run("empty context", func(t *testing.T) {
		assert.Empty(t, GetRequestID(context.Background()))
		assert.Equal(t, "abc", GetRequestID(WithRequestID(context.Background(), "abc")))
	})
}

func TestAccessLog(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	h := NewChain(RequestID(), AccessLogWithConfig(AccessLogConfig{
		Logger:    logger,
		SkipPaths: []string{"/healthz"},
	})).Then(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/boom":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			_, _ = w.Write([]byte("hello"))
		}
	}))

	for _, path := range []string{"/posts", "/missing", "/boom", "/healthz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set(RequestIDHeader, "id"+path)
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	entries := logs.FilterMessage("HTTP request").AllUntimed()
	require.Len(t, entries, 3)

	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "id/posts", fields["request_id"])
	assert.Equal(t, "/posts", fields["path"])
	assert.Equal(t, int64(200), fields["status"])
	assert.Equal(t, int64(5), fields["bytes"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)

	h := Recovery(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/posts", nil)
	require.NotPanics(t, func() { h.ServeHTTP(rec, req) })

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
		Status int `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "INTERNAL_SERVER_ERROR", body.Error.Code)
	assert.Equal(t, http.StatusInternalServerError, body.Status)

	entries := logs.FilterMessage("Panic recovered").AllUntimed()
	require.Len(t, entries, 1)
	assert.Equal(t, "panic: kaboom", entries[0].ContextMap()["error"])
}

func TestRecovery_AbortHandlerPropagates(t *testing.T) {
	h := Recovery(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestTimeout(t *testing.T) {
	t.Run("sets a deadline", func(t *testing.T) {
		var deadline time.Time
		var ok bool
		h := Timeout(time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deadline, ok = r.Context().Deadline()
		}))

		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
	})

	t.Run("disabled", func(t *testing.T) {
		var ok bool
		h := Timeout(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, ok = r.Context().Deadline()
		}))

		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		assert.False(t, ok)
	})
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (*ratelimit.Info, error) {
	return nil, errors.New("redis down")
}

func TestRateLimit(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tb, err := ratelimit.NewTokenBucket(ratelimit.TokenBucketConfig{Limit: 2, Window: time.Minute})
	require.NoError(t, err)
	defer tb.Close()
	tb.Now = func() time.Time { return now }

	h := RateLimit(RateLimitConfig{Limiter: tb, Now: tb.Now})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(remoteAddr, forwarded string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)
		req.RemoteAddr = remoteAddr
		if forwarded != "" {
			req.Header.Set("X-Forwarded-For", forwarded)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := do("10.0.0.1:5000", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "2", rec.Header().Get(RateLimitLimitHeader))
	assert.Equal(t, "1", rec.Header().Get(RateLimitRemainingHeader))

	// Same host, different port
	assert.Equal(t, http.StatusNoContent, do("10.0.0.1:5001", "").Code)

	rec = do("10.0.0.1:5002", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get(RateLimitRemainingHeader))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "RATE_LIMITED", body["error"].(map[string]interface{})["code"])
	assert.Equal(t, float64(http.StatusTooManyRequests), body["status"])

	// The first forwarded hop is the client
	assert.Equal(t, http.StatusNoContent, do("10.0.0.1:5003", "203.0.113.9, 10.0.0.1").Code)
}

func TestRateLimit_LimiterErrorAdmits(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	h := RateLimit(RateLimitConfig{Limiter: brokenLimiter{}, Logger: zap.New(core)})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, logs.FilterMessage("Rate limiter unavailable").Len())
}

func TestRateLimit_NilLimiter(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := RateLimit(RateLimitConfig{})(next)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, rec.Header().Get(RateLimitLimitHeader))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", ClientIP(req))

	req.RemoteAddr = "pipe"
	assert.Equal(t, "pipe", ClientIP(req))

	req.Header.Set("X-Forwarded-For", " 198.51.100.7 ")
	assert.Equal(t, "198.51.100.7", ClientIP(req))
}
