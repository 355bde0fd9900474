// Package config loads the crudgen application configuration with viper and
// the entity manifest with yaml.v3.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CRUDGEN_DATABASE_DSN
const EnvPrefix = "CRUDGEN"

// Config represents the crudgen configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Log      LogConfig      `mapstructure:"log"`

	// Manifest is the path of the entity manifest
	Manifest string `mapstructure:"manifest" validate:"required"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port" validate:"gte=0,lte=65535"`
	APIPrefix string `mapstructure:"api_prefix" validate:"omitempty,startswith=/,endsnotwith=/"`

	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`

	MaxBodyBytes     int64 `mapstructure:"max_body_bytes" validate:"gte=0"`
	ShowErrorDetails bool  `mapstructure:"show_error_details"`

	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig limits requests per client IP. Requests of zero disables
// it. The Redis cache backend shares the window between replicas.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests" validate:"gte=0"`
	Window   time.Duration `mapstructure:"window" validate:"gt=0"`
}

// Address returns the listen address
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=pgx postgres sqlite3"`
	DSN    string `mapstructure:"dsn" validate:"required"`

	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`

	Isolation  string `mapstructure:"isolation" validate:"omitempty,oneof=read_committed repeatable_read serializable"`
	MaxRetries int    `mapstructure:"max_retries" validate:"gte=0,lte=10"`
}

// CacheConfig selects the count cache backend
type CacheConfig struct {
	Backend string        `mapstructure:"backend" validate:"oneof=none memory redis"`
	Prefix  string        `mapstructure:"prefix"`
	TTL     time.Duration `mapstructure:"ttl" validate:"gte=0"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

// RedisConfig represents the Redis connection
type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"omitempty,hostname_port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("manifest", "entities.yaml")

	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_prefix", "")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.request_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.max_body_bytes", int64(1<<20))
	v.SetDefault("server.show_error_details", false)
	v.SetDefault("server.rate_limit.requests", 0)
	v.SetDefault("server.rate_limit.window", time.Minute)

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "file:crudgen.db?_foreign_keys=on")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.isolation", "read_committed")
	v.SetDefault("database.max_retries", 3)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.prefix", "crudgen:")
	v.SetDefault("cache.ttl", 30*time.Second)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads the configuration. path names an explicit file; when empty,
// crudgen.yaml is looked up in the working directory and a missing file
// falls back to defaults. CRUDGEN_* environment variables override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("crudgen")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = newValidator()

// newValidator reports fields under their mapstructure keys
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks field constraints and cross-field rules
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	if c.Cache.Backend == "redis" && c.Cache.Redis.Addr == "" {
		return errors.New("invalid configuration: cache.redis.addr is required when cache.backend is redis")
	}
	return nil
}

// formatValidationError renders validator field errors with their config keys
func formatValidationError(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		key := configKey(fe.Namespace())
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s (got %v)", key, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s (got %v)", key, fe.Tag(), fe.Value()))
		}
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// configKey drops the root struct name from a validator namespace:
// "Config.database.max_open_conns" -> "database.max_open_conns"
func configKey(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}
