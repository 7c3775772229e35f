// Package api serves a read-only JSON view of the run store: runs, their
// matches and exceptions, and the candidate graph behind each invoice.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"reconcileflow/internal/api/handlers"
	"reconcileflow/internal/api/middleware"
	"reconcileflow/internal/storage"
	"reconcileflow/pkg/logger"
)

// Config holds API server configuration.
type Config struct {
	Port           int      `mapstructure:"port" yaml:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// DefaultConfig returns the defaults for the API server.
func DefaultConfig() Config {
	return Config{
		Port:           8080,
		AllowedOrigins: middleware.DefaultCORSConfig().AllowedOrigins,
	}
}

// Server is the HTTP API server.
type Server struct {
	config     Config
	router     chi.Router
	httpServer *http.Server
	logger     logger.Logger
	repo       storage.Repository
}

// NewServer creates a new API server.
func NewServer(cfg Config, repo storage.Repository, log logger.Logger) *Server {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	s := &Server{
		config: cfg,
		router: chi.NewRouter(),
		logger: log.WithComponent("api"),
		repo:   repo,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.Recoverer)

	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = s.config.AllowedOrigins
	s.router.Use(middleware.CORS(cors))

	s.router.Use(middleware.Logging(s.logger))
}

func (s *Server) setupRoutes() {
	// no /api prefix, for load balancers
	healthHandler := handlers.NewHealthHandler()
	s.router.Get("/health", healthHandler.ServeHTTP)

	s.router.Route("/api", func(r chi.Router) {
		runsHandler := handlers.NewRunsHandler(s.repo, s.logger)
		r.Get("/runs", runsHandler.List)
		r.Get("/runs/latest", runsHandler.Latest)
		r.Route("/runs/{id}", func(r chi.Router) {
			r.Get("/", runsHandler.Get)
			r.Get("/matches", runsHandler.Matches)
			r.Get("/exceptions", runsHandler.Exceptions)
			r.Get("/candidates", runsHandler.Candidates)
		})
	})
}

// Start starts the HTTP server and blocks until it stops. It returns nil
// after Shutdown.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}
