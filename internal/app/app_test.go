package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/conduit-lang/crudgen/internal/config"
	"github.com/conduit-lang/crudgen/internal/web/ratelimit"
	"github.com/conduit-lang/crudgen/internal/web/resource"
)

const manifest = `
entities:
  - name: Post
    table: posts
    fields:
      - {name: id, type: int, primary: true, generated: true}
      - {name: title, type: string, required: true}
      - {name: deleted_at, type: timestamp, nullable: true, writable: false}
    routes:
      methods:
        readMany: {paginationType: offset, numberOfTake: 5}
`

func setup(t *testing.T) (*config.Config, []config.Definition) {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "app.db")

	db, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE posts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		deleted_at TIMESTAMP
	)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	cfg := &config.Config{
		Server: config.ServerConfig{
			Host:         "127.0.0.1",
			APIPrefix:    "/api",
			MaxBodyBytes: 1 << 10,
		},
		Database: config.DatabaseConfig{
			Driver:       "sqlite3",
			DSN:          dsn,
			MaxOpenConns: 1,
			Isolation:    "read_committed",
			MaxRetries:   2,
		},
		Cache: config.CacheConfig{Backend: "memory", Prefix: "test:"},
		Log:   config.LogConfig{Level: "info", Format: "json"},
	}

	m, err := config.ParseManifest(strings.NewReader(manifest))
	require.NoError(t, err)
	defs, err := m.Definitions()
	require.NoError(t, err)
	return cfg, defs
}

func call(t *testing.T, h http.Handler, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec.Code, decoded
}

func TestNew_ServesManifestEntities(t *testing.T) {
	cfg, defs := setup(t)
	core, logs := observer.New(zapcore.InfoLevel)

	a, err := New(context.Background(), cfg, defs, zap.New(core), Options{})
	require.NoError(t, err)
	defer a.Close()

	require.Contains(t, a.Resources, "Post")
	routes := a.Router.Routes()
	require.NotEmpty(t, routes)
	assert.Equal(t, "/api/posts/{id}", routes[0].Path)
	assert.Len(t, routes, len(resource.AllMethods))

	for _, title := range []string{"one", "two", "three"} {
		status, body := call(t, a.Router, http.MethodPost, "/api/posts", `{"title":"`+title+`"}`)
		require.Equal(t, http.StatusCreated, status, body)
	}

	status, body := call(t, a.Router, http.MethodGet, "/api/posts?limit=2", "")
	require.Equal(t, http.StatusOK, status, body)
	assert.Len(t, body["data"], 2)
	metadata := body["metadata"].(map[string]interface{})
	assert.Equal(t, float64(3), metadata["total"])
	assert.Equal(t, float64(2), metadata["pages"])

	status, _ = call(t, a.Router, http.MethodGet, "/api/posts/999", "")
	assert.Equal(t, http.StatusBadRequest, status)

	// One access log entry per request
	assert.Equal(t, 5, logs.FilterMessage("HTTP request").Len())
}

func TestNew_Hooks(t *testing.T) {
	cfg, defs := setup(t)

	var hooked int
	a, err := New(context.Background(), cfg, defs, nil, Options{
		Routes: map[string]map[resource.Method]resource.MethodOptions{
			"Post": {
				resource.Create: {
					ResponseHooks: []resource.ResponseHook{
						func(ctx context.Context, payload interface{}) (interface{}, error) {
							hooked++
							return payload, nil
						},
					},
				},
			},
		},
	})
	require.NoError(t, err)
	defer a.Close()

	status, _ := call(t, a.Router, http.MethodPost, "/api/posts", `{"title":"x"}`)
	require.Equal(t, http.StatusCreated, status)
	status, _ = call(t, a.Router, http.MethodGet, "/api/posts", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, hooked)
}

func TestNew_Failures(t *testing.T) {
	t.Run("unknown override handler", func(t *testing.T) {
		cfg, defs := setup(t)
		defs[0].Options.Overrides = []resource.Override{{Method: resource.ReadOne, Handler: "missing"}}

		_, err := New(context.Background(), cfg, defs, nil, Options{})
		assert.ErrorContains(t, err, "entity Post")
	})

	t.Run("redis unreachable", func(t *testing.T) {
		cfg, defs := setup(t)
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()
		cfg.Cache = config.CacheConfig{Backend: "redis", Redis: config.RedisConfig{Addr: addr}}

		_, err := New(context.Background(), cfg, defs, nil, Options{})
		assert.ErrorContains(t, err, "failed to connect to redis")
	})

	t.Run("unsupported driver", func(t *testing.T) {
		cfg, defs := setup(t)
		cfg.Database.Driver = "mysql"

		_, err := New(context.Background(), cfg, defs, nil, Options{})
		assert.ErrorContains(t, err, "unsupported database driver")
	})
}

func TestNew_RedisCountCache(t *testing.T) {
	cfg, defs := setup(t)
	mr := miniredis.RunT(t)
	cfg.Cache = config.CacheConfig{Backend: "redis", Prefix: "app:", Redis: config.RedisConfig{Addr: mr.Addr()}}

	a, err := New(context.Background(), cfg, defs, nil, Options{})
	require.NoError(t, err)

	status, _ := call(t, a.Router, http.MethodGet, "/api/posts", "")
	require.Equal(t, http.StatusOK, status)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "app:counts:Post:"))

	require.NoError(t, a.Close())
	assert.NoError(t, a.Close())
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg, defs := setup(t)
	cfg.Server.Port = 0

	a, err := New(context.Background(), cfg, defs, nil, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, a.Run(ctx))
	assert.Nil(t, a.db)
	assert.Nil(t, a.cache)
}

func TestNew_InMemory(t *testing.T) {
	cfg, defs := setup(t)
	cfg.Database.DSN = "file:" + filepath.Join(t.TempDir(), "missing", "never.db")

	a, err := New(context.Background(), cfg, defs, nil, Options{InMemory: true})
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.db)

	status, body := call(t, a.Router, http.MethodPost, "/api/posts", `{"title":"memo"}`)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "memo", body["title"])

	status, body = call(t, a.Router, http.MethodGet, "/api/posts", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["data"], 1)
}

func TestNew_RateLimit(t *testing.T) {
	t.Run("in process", func(t *testing.T) {
		cfg, defs := setup(t)
		cfg.Server.RateLimit = config.RateLimitConfig{Requests: 2, Window: time.Minute}

		a, err := New(context.Background(), cfg, defs, nil, Options{})
		require.NoError(t, err)
		defer a.Close()
		assert.IsType(t, &ratelimit.TokenBucket{}, a.limiter)

		for i := 0; i < 2; i++ {
			status, _ := call(t, a.Router, http.MethodGet, "/api/posts", "")
			require.Equal(t, http.StatusOK, status)
		}
		status, body := call(t, a.Router, http.MethodGet, "/api/posts", "")
		assert.Equal(t, http.StatusTooManyRequests, status)
		assert.Equal(t, "RATE_LIMITED", body["error"].(map[string]interface{})["code"])
	})

	t.Run("shared through redis", func(t *testing.T) {
		cfg, defs := setup(t)
		mr := miniredis.RunT(t)
		cfg.Cache = config.CacheConfig{Backend: "redis", Prefix: "app:", Redis: config.RedisConfig{Addr: mr.Addr()}}
		cfg.Server.RateLimit = config.RateLimitConfig{Requests: 1, Window: time.Minute}

		a, err := New(context.Background(), cfg, defs, nil, Options{})
		require.NoError(t, err)
		defer a.Close()
		assert.IsType(t, &ratelimit.RedisLimiter{}, a.limiter)

		status, _ := call(t, a.Router, http.MethodGet, "/api/posts", "")
		require.Equal(t, http.StatusOK, status)
		status, _ = call(t, a.Router, http.MethodGet, "/api/posts", "")
		assert.Equal(t, http.StatusTooManyRequests, status)
		assert.True(t, mr.Exists("app:ratelimit:192.0.2.1"))
	})
}
