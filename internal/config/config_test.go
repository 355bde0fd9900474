package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address())
	assert.Equal(t, 10*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, int64(1<<20), cfg.Server.MaxBodyBytes)
	assert.Equal(t, RateLimitConfig{Requests: 0, Window: time.Minute}, cfg.Server.RateLimit)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "read_committed", cfg.Database.Isolation)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, "crudgen:", cfg.Cache.Prefix)
	assert.Equal(t, "entities.yaml", cfg.Manifest)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, "crudgen.yaml", `
server:
  port: 9090
  api_prefix: /api
  request_timeout: 2s
database:
  driver: pgx
  dsn: postgres://localhost/app
  isolation: serializable
cache:
  backend: redis
  redis:
    addr: localhost:6380
log:
  format: console
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address())
	assert.Equal(t, "/api", cfg.Server.APIPrefix)
	assert.Equal(t, 2*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "pgx", cfg.Database.Driver)
	assert.Equal(t, "serializable", cfg.Database.Isolation)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "localhost:6380", cfg.Cache.Redis.Addr)
	assert.Equal(t, "console", cfg.Log.Format)
	// Untouched keys keep their defaults
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeFile(t, "crudgen.yaml", "database:\n  dsn: file:one.db\n")
	t.Setenv("CRUDGEN_DATABASE_DSN", "file:two.db")
	t.Setenv("CRUDGEN_SERVER_PORT", "7070")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file:two.db", cfg.Database.DSN)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "port out of range",
			content: "server:\n  port: 70000\n",
			want:    "server.port: failed lte=65535 (got 70000)",
		},
		{
			name:    "unknown driver",
			content: "database:\n  driver: oracle\n",
			want:    "database.driver: failed oneof=pgx postgres sqlite3",
		},
		{
			name:    "prefix with trailing slash",
			content: "server:\n  api_prefix: /api/\n",
			want:    "server.api_prefix: failed endsnotwith=/",
		},
		{
			name:    "redis without address",
			content: "cache:\n  backend: redis\n  redis:\n    addr: \"\"\n",
			want:    "cache.redis.addr is required",
		},
		{
			name:    "empty rate limit window",
			content: "server:\n  rate_limit:\n    requests: 10\n    window: 0s\n",
			want:    "server.rate_limit.window: failed gt=0",
		},
		{
			name:    "bad isolation",
			content: "database:\n  isolation: snapshot\n",
			want:    "database.isolation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "crudgen.yaml", tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid configuration")
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestConfigKey(t *testing.T) {
	assert.Equal(t, "database.max_open_conns", configKey("Config.database.max_open_conns"))
	assert.Equal(t, "manifest", configKey("Config.manifest"))
	assert.Equal(t, "Config", configKey("Config"))
}
