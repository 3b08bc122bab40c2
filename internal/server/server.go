// Package server exposes a tool executor over HTTP so workflows on other
// hosts can run its tools through tools.Remote.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/soyeahso/conductor/internal/config"
	"github.com/soyeahso/conductor/internal/hooks"
	"github.com/soyeahso/conductor/internal/logging"
	"github.com/soyeahso/conductor/internal/tools"
	"github.com/soyeahso/conductor/internal/version"
	"github.com/soyeahso/conductor/internal/workflow"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 4 << 20

// Server is the conductor tool server.
type Server struct {
	cfg     config.ServerConfig
	token   string
	exec    tools.Executor
	log     *logging.Logger
	limiter *authLimiter
	version string

	engine  *workflow.Engine
	metrics http.Handler
	hooks   *hooks.Manager

	mu         sync.Mutex
	httpServer *http.Server
	addr       string
	startedAt  time.Time
}

// Option configures the server.
type Option func(*Server)

// WithHooks sets the hook manager for lifecycle events.
func WithHooks(hm *hooks.Manager) Option {
	return func(s *Server) {
		s.hooks = hm
	}
}

// WithMetrics mounts h at GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithWorkflows enables POST /workflows/run on the given engine.
func WithWorkflows(e *workflow.Engine) Option {
	return func(s *Server) {
		s.engine = e
	}
}

// New creates a tool server over exec.
func New(cfg config.ServerConfig, exec tools.Executor, log *logging.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		token:   ResolveToken(cfg),
		exec:    exec,
		log:     log.Sub("server"),
		limiter: newAuthLimiter(),
		version: version.Version,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return chain(mux, s.middlewares()...)
}

// Start listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.Addr
	if addr == "" {
		addr = config.Defaults().Server.Addr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.httpServer = httpServer
	s.addr = ln.Addr().String()
	s.startedAt = time.Now()
	s.mu.Unlock()

	if s.token == "" {
		s.log.Warn().Msg("no server token configured; requests are not authenticated")
	}
	s.log.Info().
		Str("addr", s.addr).
		Bool("auth", s.token != "").
		Bool("workflows", s.engine != nil).
		Msg("tool server ready")
	s.emit(ctx, hooks.EventServerStart, map[string]any{"addr": s.addr})

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		s.log.Info().Msg("shutting down tool server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	err := httpServer.Serve(ln)
	s.emit(context.Background(), hooks.EventServerStop, map[string]any{"addr": s.addr})
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the listen address, or "" before Serve.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) emit(ctx context.Context, event string, data map[string]any) {
	if s.hooks != nil {
		s.hooks.Emit(ctx, event, data)
	}
}
