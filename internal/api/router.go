// Package api serves the worker's HTTP surface: probes, crawl metrics, job
// status and manual job triggers.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/alqutdigital/funding-crawler/internal/api/handlers"
	"github.com/alqutdigital/funding-crawler/internal/api/middleware"
	"github.com/alqutdigital/funding-crawler/pkg/logger"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig holds configuration for the API router.
type RouterConfig struct {
	Service string
	Version string

	// CORS settings for read-only dashboards
	AllowedOrigins []string
	MaxAge         int

	RequestTimeout time.Duration

	// Rate limiting of manual triggers
	EnableRateLimiting bool
	TriggerLimit       middleware.Limit
}

// DefaultRouterConfig returns a default router configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Service:            "funding-crawler-worker",
		Version:            "dev",
		AllowedOrigins:     []string{"*"},
		MaxAge:             300,
		RequestTimeout:     30 * time.Second,
		EnableRateLimiting: true,
		TriggerLimit:       middleware.DefaultTriggerLimit(),
	}
}

// Dependencies holds everything the handlers read from. Nil members degrade
// the matching endpoint instead of failing the router.
type Dependencies struct {
	Logger    *logger.Logger
	Jobs      handlers.JobController
	Metrics   handlers.MetricsSource
	Cache     handlers.CacheMetricsSource
	States    handlers.StateSource
	Readiness map[string]handlers.HealthChecker
}

// NewRouter creates and configures a new Chi router with all middleware and routes.
func NewRouter(deps Dependencies, config RouterConfig) *chi.Mux {
	log := deps.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.WithComponent("api")

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log, "/health", "/ready"))
	r.Use(middleware.Recoverer(log))
	r.Use(chimiddleware.Timeout(config.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: config.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         config.MaxAge,
	}))

	r.Get("/health", handlers.HealthCheck(config.Service, config.Version))
	r.Get("/ready", handlers.ReadyCheck(deps.Readiness))
	r.Get("/metrics", handlers.HandleMetrics(deps.Metrics, deps.Cache))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", handlers.HandleStatus(deps.Jobs, deps.States))

		r.Route("/jobs", func(r chi.Router) {
			if config.EnableRateLimiting {
				r.Use(middleware.NewRateLimiter(config.TriggerLimit, log).Middleware("trigger"))
			}
			r.Post("/{name}", handlers.HandleTrigger(deps.Jobs, log))
		})
	})

	return r
}

// Server represents the HTTP server.
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:         8081,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer creates a new HTTP server.
func NewServer(handler http.Handler, config ServerConfig, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:         formatAddr(config.Host, config.Port),
			Handler:      handler,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
		log: log.WithComponent("http"),
	}
}

// Start starts the HTTP server. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	s.log.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

func formatAddr(host string, port int) string {
	if host == "" {
		return fmt.Sprintf(":%d", port)
	}
	return fmt.Sprintf("%s:%d", host, port)
}
