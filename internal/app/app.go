// Package app assembles a runnable crudgen service from its configuration:
// database, count cache, one resource per manifest entity and the router.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/conduit-lang/crudgen/internal/config"
	"github.com/conduit-lang/crudgen/internal/orm/crud"
	"github.com/conduit-lang/crudgen/internal/orm/memory"
	"github.com/conduit-lang/crudgen/internal/orm/schema"
	"github.com/conduit-lang/crudgen/internal/orm/transaction"
	"github.com/conduit-lang/crudgen/internal/web/cache"
	"github.com/conduit-lang/crudgen/internal/web/middleware"
	"github.com/conduit-lang/crudgen/internal/web/ratelimit"
	"github.com/conduit-lang/crudgen/internal/web/resource"
	"github.com/conduit-lang/crudgen/internal/web/router"
	"github.com/conduit-lang/crudgen/internal/web/server"
)

// Options carries what cannot be declared in YAML
type Options struct {
	// Handlers resolves manifest overrides by name, shared by every entity
	Handlers map[string]resource.Handler
	// Decorators and hooks keyed by entity name
	Routes map[string]map[resource.Method]resource.MethodOptions
	// InMemory serves every entity from an in-memory store and never opens
	// the configured database
	InMemory bool
}

// App is an assembled service
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Router    *router.Router
	Resources map[string]*resource.Resource

	db      *sql.DB
	cache   cache.Cache
	limiter ratelimit.Limiter
}

// New opens the database and cache declared by cfg and mounts every entity of
// the manifest. Resources are closed again when assembly fails.
func New(ctx context.Context, cfg *config.Config, defs []config.Definition, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		Config:    cfg,
		Logger:    logger,
		Resources: make(map[string]*resource.Resource, len(defs)),
	}
	if err := a.assemble(ctx, defs, opts); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) assemble(ctx context.Context, defs []config.Definition, opts Options) error {
	cfg, logger := a.Config, a.Logger

	// 1. Database
	newRepo := func(entity *schema.Entity) resource.Repository {
		return memory.New(entity)
	}
	if !opts.InMemory {
		dialect, err := crud.DialectFor(cfg.Database.Driver)
		if err != nil {
			return err
		}
		db, err := OpenDatabase(ctx, cfg.Database)
		if err != nil {
			return err
		}
		a.db = db
		txManager, err := NewTxManager(db, cfg.Database)
		if err != nil {
			return err
		}
		newRepo = func(entity *schema.Entity) resource.Repository {
			return crud.NewRepository(entity, db, dialect, txManager)
		}
	}

	// 2. Count cache
	backend, err := openCache(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	a.cache = backend

	// 3. Rate limiter
	limiter, err := newLimiter(cfg.Server.RateLimit, cfg.Cache.Prefix, a.cache)
	if err != nil {
		return err
	}
	a.limiter = limiter

	// 4. Router with the global middleware stack
	a.Router = router.NewRouter(router.Config{
		BasePath:         cfg.Server.APIPrefix,
		MaxBodyBytes:     cfg.Server.MaxBodyBytes,
		ShowErrorDetails: cfg.Server.ShowErrorDetails,
		Logger:           logger,
	},
		middleware.RequestID(),
		middleware.Recovery(logger),
		middleware.AccessLog(logger),
		middleware.RateLimit(middleware.RateLimitConfig{Limiter: limiter, Logger: logger}),
		middleware.Timeout(cfg.Server.RequestTimeout),
	)

	// 5. One resource per entity
	for _, def := range defs {
		resOpts := def.Options
		resOpts.Handlers = opts.Handlers
		resOpts.Logger = logger.With(zap.String("entity", def.Entity.Name))
		resOpts.CountTTL = cfg.Cache.TTL
		if a.cache != nil {
			resOpts.CountCache = cache.NewCountCache(a.cache, def.Entity.Name, logger)
		}
		mergeRoutes(&resOpts, opts.Routes[def.Entity.Name])

		res, err := resource.New(def.Entity, newRepo(def.Entity), resOpts)
		if err != nil {
			return fmt.Errorf("entity %s: %w", def.Entity.Name, err)
		}
		if _, err := a.Router.Mount(res); err != nil {
			return err
		}
		a.Resources[def.Entity.Name] = res
	}

	return nil
}

// mergeRoutes layers programmatic hooks and decorators onto the manifest's
// per-method options
func mergeRoutes(opts *resource.Options, extra map[resource.Method]resource.MethodOptions) {
	if len(extra) == 0 {
		return
	}
	routes := make(map[resource.Method]resource.MethodOptions, len(opts.Routes)+len(extra))
	for m, mo := range opts.Routes {
		routes[m] = mo
	}
	for m, add := range extra {
		mo := routes[m]
		mo.Interceptors = append(mo.Interceptors, add.Interceptors...)
		mo.ResponseHooks = append(mo.ResponseHooks, add.ResponseHooks...)
		mo.Decorators = append(mo.Decorators, add.Decorators...)
		routes[m] = mo
	}
	opts.Routes = routes
}

// OpenDatabase opens and pings the configured database with its pool limits
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// NewTxManager builds the transaction manager for the configured isolation
// level and retry budget
func NewTxManager(db *sql.DB, cfg config.DatabaseConfig) (*transaction.Manager, error) {
	level, err := transaction.ParseIsolationLevel(cfg.Isolation)
	if err != nil {
		return nil, err
	}
	opts := []transaction.Option{transaction.WithIsolation(level)}
	if cfg.MaxRetries > 0 {
		retry := transaction.DefaultRetryConfig()
		retry.MaxRetries = cfg.MaxRetries
		opts = append(opts, transaction.WithRetryConfig(retry))
	}
	return transaction.NewManager(db, opts...), nil
}

// openCache returns nil for the "none" backend
func openCache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, error) {
	base := cache.CacheConfig{DefaultTTL: cfg.TTL, Prefix: cfg.Prefix}

	switch cfg.Backend {
	case "none":
		return nil, nil
	case "redis":
		rc := cache.DefaultRedisConfig()
		rc.Addr = cfg.Redis.Addr
		rc.Password = cfg.Redis.Password
		rc.DB = cfg.Redis.DB
		rc.CacheConfig = base
		rcache, err := cache.NewRedisCacheWithConfig(ctx, rc)
		if err != nil {
			return nil, err
		}
		return rcache, nil
	default:
		return cache.NewMemoryCacheWithConfig(base), nil
	}
}

// newLimiter returns nil when rate limiting is off. A Redis cache shares its
// client so that replicas draw from one window.
func newLimiter(cfg config.RateLimitConfig, prefix string, backend cache.Cache) (ratelimit.Limiter, error) {
	if cfg.Requests <= 0 {
		return nil, nil
	}
	if rc, ok := backend.(*cache.RedisCache); ok {
		return ratelimit.NewRedisLimiter(ratelimit.RedisLimiterConfig{
			Client: rc.Client(),
			Limit:  cfg.Requests,
			Window: cfg.Window,
			Prefix: prefix + "ratelimit:",
		})
	}
	return ratelimit.NewTokenBucket(ratelimit.TokenBucketConfig{
		Limit:           cfg.Requests,
		Window:          cfg.Window,
		CleanupInterval: cfg.Window,
	})
}

// Server wraps the router in an HTTP server configured from Config.Server
func (a *App) Server() (*server.Server, error) {
	sc := server.DefaultConfig(a.Router)
	sc.Address = a.Config.Server.Address()
	if a.Config.Server.ReadTimeout > 0 {
		sc.ReadTimeout = a.Config.Server.ReadTimeout
	}
	if a.Config.Server.WriteTimeout > 0 {
		sc.WriteTimeout = a.Config.Server.WriteTimeout
	}
	return server.New(sc)
}

// Run serves until ctx is cancelled, then drains requests and closes the
// cache and the database
func (a *App) Run(ctx context.Context) error {
	srv, err := a.Server()
	if err != nil {
		return err
	}

	gs := server.NewGracefulShutdown(srv, server.ShutdownConfig{
		Timeout: a.Config.Server.ShutdownTimeout,
		Logger:  a.Logger,
	})
	gs.RegisterHook("database", a.closeDB)
	gs.RegisterHook("cache", a.closeCache)
	gs.RegisterHook("rate limiter", a.closeLimiter)
	a.Logger.Info("Starting server",
		zap.String("address", srv.Addr()),
		zap.Int("resources", len(a.Resources)),
	)
	return gs.Run(ctx)
}

func (a *App) closeDB(context.Context) error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func (a *App) closeCache(context.Context) error {
	if a.cache == nil {
		return nil
	}
	err := a.cache.Close()
	a.cache = nil
	return err
}

func (a *App) closeLimiter(context.Context) error {
	c, ok := a.limiter.(io.Closer)
	if !ok {
		return nil
	}
	a.limiter = nil
	return c.Close()
}

// Close releases the database, cache and rate limiter without serving
func (a *App) Close() error {
	ctx := context.Background()
	return errors.Join(a.closeLimiter(ctx), a.closeCache(ctx), a.closeDB(ctx))
}
