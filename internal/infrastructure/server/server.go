// Package server wires the introspection API onto a gin router and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/AgentOS/capcore/internal/api/http"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/api/middleware"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/api/ws"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/capcore/internal/infrastructure/tracing"
)

const shutdownTimeout = 5 * time.Second

// Server serves the introspection API of one kernel.
type Server struct {
	router *gin.Engine
	srv    *http.Server
	logger *zap.Logger
}

// Option configures a Server.
type Option func(*options)

type options struct {
	levels apihttp.LevelController
}

// WithLogLevels exposes runtime log level changes on /log/level.
func WithLogLevels(l apihttp.LevelController) Option {
	return func(o *options) { o.levels = l }
}

// New builds the router: recovery, tracing, metrics, CORS and the optional
// rate limiter, followed by the API routes and the snapshot stream.
func New(cfg *config.Config, k apihttp.Inspector, metrics *monitoring.Metrics, tracer *tracing.Tracer, logger *zap.Logger, opts ...Option) *Server {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if tracer != nil {
		router.Use(tracing.HTTPMiddleware(tracer))
	}
	if metrics != nil {
		router.Use(monitoring.Middleware(metrics))
	}
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}
	router.Use(func(c *gin.Context) {
		c.Header("X-Boot-ID", k.BootID())
		c.Next()
	})

	handlers := apihttp.NewHandlers(k, metrics, tracer, logger)
	if o.levels != nil {
		handlers.WithLevels(o.levels)
	}
	handlers.Register(router)
	router.GET("/ws", ws.NewHandler(k, logger.Named("ws")).HandleConnection)

	return &Server{
		router: router,
		srv: &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.srv.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("Starting HTTP server", zap.Stringer("addr", ln.Addr()))

	errc := make(chan error, 1)
	go func() {
		errc <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
