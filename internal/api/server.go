// Package api is the HTTP surface: the public postback endpoint plus the
// management API for partners, settings, statistics, and the export queue.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/trackgate/internal/config"
	"github.com/foxzi/trackgate/internal/metrics"
	"github.com/foxzi/trackgate/internal/pipeline"
	"github.com/foxzi/trackgate/internal/queue"
	"github.com/foxzi/trackgate/internal/store"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	pipeline   *pipeline.Pipeline
	partners   *store.PartnerRepository
	settings   *store.SettingsRepository
	stats      *store.StatsRepository
	exports    *queue.BoltStorage
	config     *config.ServerConfig
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(
	p *pipeline.Pipeline,
	partners *store.PartnerRepository,
	settings *store.SettingsRepository,
	stats *store.StatsRepository,
	exports *queue.BoltStorage,
	cfg *config.ServerConfig,
	logger *slog.Logger,
) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		pipeline:  p,
		partners:  partners,
		settings:  settings,
		stats:     stats,
		exports:   exports,
		config:    cfg,
		logger:    logger,
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(metrics.HTTPMiddleware)
	s.router.Use(middleware.Recoverer)

	// Public tracking endpoint and health check, no auth
	s.router.Get("/postback", s.handlePostback)
	s.router.Get("/health", s.handleHealth)

	// Management API (auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/queue", s.handleQueueStats)
		r.Get("/queue/jobs", s.handleQueueJobs)
		r.Get("/queue/quarantine", s.handleQuarantineList)
		r.Post("/queue/quarantine/{id}/retry", s.handleQuarantineRetry)
		r.Delete("/queue/quarantine/{id}", s.handleQuarantineDelete)

		r.Get("/stats", s.handleStatsSummaryAll)
		r.Get("/stats/{partnerID}", s.handleStatsSummary)
		r.Get("/stats/{partnerID}/details", s.handleStatsDetails)
		r.Delete("/stats/{partnerID}", s.handleStatsClear)

		r.Get("/partners", s.handlePartnerList)
		r.Get("/partners/{id}", s.handlePartnerGet)
		r.Put("/partners/{id}", s.handlePartnerSave)
		r.Delete("/partners/{id}", s.handlePartnerDelete)

		r.Get("/settings", s.handleSettingsGet)
		r.Put("/settings/{key}", s.handleSettingsSet)
	})
}

// Router exposes the handler tree, used in tests
func (s *Server) Router() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddr,
		Handler:        s.router,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
