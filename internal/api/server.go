// Package api exposes the decision engine over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultMetricsPath serves Prometheus metrics when no path is configured.
const DefaultMetricsPath = "/metrics"

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// ServerOption configures a Server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	gatherer    prometheus.Gatherer
	metricsPath string
	logger      *slog.Logger
	limiter     domain.Cache
	limit       int
}

// WithMetrics serves gatherer at path.
func WithMetrics(gatherer prometheus.Gatherer, path string) ServerOption {
	return func(o *serverOptions) {
		o.gatherer = gatherer
		if path != "" {
			o.metricsPath = path
		}
	}
}

// WithRateLimit caps tenant API routes at perMinute requests, counted in c.
func WithRateLimit(c domain.Cache, perMinute int) ServerOption {
	return func(o *serverOptions) {
		if c != nil && perMinute > 0 {
			o.limiter = c
			o.limit = perMinute
		}
	}
}

// WithRequestLogger sets the access logger.
func WithRequestLogger(l *slog.Logger) ServerOption {
	return func(o *serverOptions) { o.logger = l }
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, handler *Handler, opts ...ServerOption) *Server {
	o := serverOptions{metricsPath: DefaultMetricsPath, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	router := chi.NewRouter()
	router.Use(CORSMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware(o.logger))
	router.Use(RecoverMiddleware(o.logger))
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if o.gatherer != nil {
		router.Method(http.MethodGet, o.metricsPath, promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{}))
	}

	router.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)
		if o.limiter != nil {
			r.Use(RateLimitMiddleware(o.limiter, o.limit, time.Minute, o.logger))
		}

		r.Post("/evaluate", handler.Evaluate)
		r.Post("/batch", handler.Batch)
		r.Get("/evaluations/{id}", handler.GetEvaluation)
		r.Get("/runs/{id}", handler.GetRun)
		r.Get("/rules", handler.ListRules)
	})

	s := &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
	s.server = &http.Server{
		Addr:         s.Addr(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// graceful shutdown.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
