package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultShutdownTimeout bounds the drain of in-flight requests and hooks
const DefaultShutdownTimeout = 30 * time.Second

// ShutdownHook releases a resource once the server has drained
type ShutdownHook func(ctx context.Context) error

// ShutdownConfig holds graceful shutdown configuration
type ShutdownConfig struct {
	Timeout time.Duration
	Logger  *zap.Logger
}

// GracefulShutdown serves until its context ends, then drains the server
// and runs the registered hooks in reverse registration order
type GracefulShutdown struct {
	server  *Server
	timeout time.Duration
	logger  *zap.Logger

	mu    sync.Mutex
	hooks []namedHook
}

type namedHook struct {
	name string
	fn   ShutdownHook
}

// NewGracefulShutdown creates a new graceful shutdown handler
func NewGracefulShutdown(server *Server, config ShutdownConfig) *GracefulShutdown {
	if config.Timeout <= 0 {
		config.Timeout = DefaultShutdownTimeout
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &GracefulShutdown{
		server:  server,
		timeout: config.Timeout,
		logger:  config.Logger,
	}
}

// RegisterHook registers a hook run after the server stops
func (gs *GracefulShutdown) RegisterHook(name string, hook ShutdownHook) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.hooks = append(gs.hooks, namedHook{name: name, fn: hook})
}

// Run serves until ctx is done or the server fails, then shuts down.
// Hook failures are logged and do not stop the remaining hooks.
func (gs *GracefulShutdown) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- gs.server.Serve()
	}()

	gs.logger.Info("Server started", zap.String("addr", gs.server.Addr()))

	var serveErr error
	select {
	case <-ctx.Done():
		gs.logger.Info("Shutdown signal received")
	case serveErr = <-errCh:
		if serveErr != nil {
			gs.logger.Error("Server stopped unexpectedly", zap.Error(serveErr))
		}
	}

	if err := gs.shutdown(); err != nil && serveErr == nil {
		return err
	}
	return serveErr
}

func (gs *GracefulShutdown) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), gs.timeout)
	defer cancel()

	gs.logger.Info("Draining server", zap.Duration("timeout", gs.timeout))

	var shutdownErr error
	if err := gs.server.Shutdown(ctx); err != nil {
		shutdownErr = fmt.Errorf("server shutdown: %w", err)
		gs.logger.Error("Server shutdown failed", zap.Error(err))
	}

	gs.mu.Lock()
	hooks := append([]namedHook(nil), gs.hooks...)
	gs.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		if err := h.fn(ctx); err != nil {
			gs.logger.Warn("Shutdown hook failed", zap.String("hook", h.name), zap.Error(err))
			continue
		}
		gs.logger.Debug("Shutdown hook completed", zap.String("hook", h.name))
	}

	gs.logger.Info("Server stopped")
	return shutdownErr
}
