package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/ports/driven"
	"github.com/alejandrogutier/claro-data-ai-sub002/internal/core/ports/driving"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the ops HTTP server
type Server struct {
	httpServer *http.Server
	router     chi.Router
	version    string
	logger     *slog.Logger

	// Services
	authService     driving.AuthService
	bindingService  driving.BindingService
	settingsService driving.SettingsService
	scheduler       driving.SyncScheduler

	// Infrastructure
	queue   driven.JobQueue
	db      Pinger       // PostgreSQL health check
	metrics http.Handler // Prometheus scrape handler (optional)
}

// Config holds server configuration
type Config struct {
	Host    string
	Port    int
	Version string
	Logger  *slog.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:    "0.0.0.0",
		Port:    8080,
		Version: "dev",
	}
}

// NewServer creates a new HTTP server
func NewServer(
	cfg Config,
	authService driving.AuthService,
	bindingService driving.BindingService,
	settingsService driving.SettingsService,
	scheduler driving.SyncScheduler,
	queue driven.JobQueue,
	db Pinger,
	metrics http.Handler, // can be nil
) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router:          chi.NewRouter(),
		version:         cfg.Version,
		logger:          logger,
		authService:     authService,
		bindingService:  bindingService,
		settingsService: settingsService,
		scheduler:       scheduler,
		queue:           queue,
		db:              db,
		metrics:         metrics,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.setupRoutes()
	return s
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	authMiddleware := NewAuthMiddleware(s.authService)

	s.router.Use(middleware.RequestID)
	s.router.Use(NewLoggingMiddleware(s.logger).Handler)
	s.router.Use(middleware.Recoverer)

	// Health endpoints (no auth)
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/ready", s.handleReady)
	s.router.Get("/version", s.handleVersion)
	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics)
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		// Binding sync status and manual controls
		r.Get("/bindings/{id}/sync", s.handleGetBindingSync)
		r.With(authMiddleware.RequireOperator).Post("/bindings/{id}/sync", s.handleTriggerSync)
		r.With(authMiddleware.RequireAdmin).Post("/bindings/{id}/reset-budget", s.handleResetBudget)

		// Runtime flags and budgets
		r.Get("/settings/sync", s.handleGetSyncSettings)
		r.With(authMiddleware.RequireAdmin).Put("/settings/sync", s.handleUpdateSyncSettings)

		r.With(authMiddleware.RequireOperator).Post("/scheduler/tick", s.handleSchedulerTick)
		r.Get("/queue/stats", s.handleQueueStats)
	})
}

// Start serves until Stop is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
