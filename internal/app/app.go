// Package app wires the service together and owns its lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/foxzi/trackgate/internal/api"
	"github.com/foxzi/trackgate/internal/config"
	"github.com/foxzi/trackgate/internal/forward"
	"github.com/foxzi/trackgate/internal/metrics"
	"github.com/foxzi/trackgate/internal/notify"
	"github.com/foxzi/trackgate/internal/pipeline"
	"github.com/foxzi/trackgate/internal/queue"
	"github.com/foxzi/trackgate/internal/ratelimit"
	"github.com/foxzi/trackgate/internal/sheets"
	"github.com/foxzi/trackgate/internal/store"
	"github.com/foxzi/trackgate/internal/sweep"
	"github.com/foxzi/trackgate/internal/tenant"
)

// App is the main application
type App struct {
	config        *config.Config
	db            *store.DB
	exports       *queue.BoltStorage
	rateLimiter   *ratelimit.Limiter
	apiServer     *api.Server
	metricsServer *metrics.Server
	sweeper       *sweep.Sweeper
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)

	db, err := store.New(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	exports, err := queue.NewBoltStorage(cfg.Storage.QueuePath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open export queue: %w", err)
	}

	var rateLimiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		rateLimiter, err = ratelimit.NewLimiter(exports.DB(), &ratelimit.Config{
			Requests:      cfg.RateLimit.Requests,
			Window:        cfg.RateLimit.Window,
			FlushInterval: cfg.RateLimit.FlushInterval,
		})
		if err != nil {
			exports.Close()
			db.Close()
			return nil, fmt.Errorf("failed to create rate limiter: %w", err)
		}
		logger.Info("rate limiting enabled",
			"requests", cfg.RateLimit.Requests,
			"window", cfg.RateLimit.Window)
	}

	settings := store.NewSettingsRepository(db)
	partners := store.NewPartnerRepository(db)
	stats := store.NewStatsRepository(db)

	p := pipeline.New(
		logger,
		rateLimiter,
		tenant.NewResolver(settings, partners),
		forward.New(),
		notify.New(logger),
		stats,
		exports,
	)

	apiServer := api.NewServer(p, partners, settings, stats, exports,
		&cfg.Server, logger.With("component", "api"))

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		m := metrics.New()
		metrics.SetGlobal(m)
		metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path,
			cfg.Metrics.AllowedIPs, logger.With("component", "metrics"))
	}

	var sweeper *sweep.Sweeper
	if cfg.Sweep.Enabled {
		sweeper = sweep.New(logger, exports, sheets.New(), cfg.Sweep.BatchSize)
	}

	return &App{
		config:        cfg,
		db:            db,
		exports:       exports,
		rateLimiter:   rateLimiter,
		apiServer:     apiServer,
		metricsServer: metricsServer,
		sweeper:       sweeper,
		logger:        logger,
	}, nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting trackgate",
		"api_addr", a.config.Server.ListenAddr,
		"db_path", a.config.Storage.DBPath,
		"queue_path", a.config.Storage.QueuePath)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.sweeper != nil {
		go a.sweeper.Start(ctx, a.config.Sweep.Interval)
	}

	if a.metricsServer != nil {
		go a.updateSystemMetrics(ctx)
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil {
				a.logger.Warn("metrics server error", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Persists rate windows
	if a.rateLimiter != nil {
		if err := a.rateLimiter.Stop(); err != nil {
			a.logger.Error("rate limiter stop error", "error", err)
		}
	}

	if err := a.exports.Close(); err != nil {
		a.logger.Error("export queue close error", "error", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("database close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) updateSystemMetrics(ctx context.Context) {
	start := time.Now()
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := metrics.Global()
			if m == nil {
				continue
			}
			m.UptimeSeconds.Set(time.Since(start).Seconds())
			m.Goroutines.Set(float64(runtime.NumGoroutine()))
			if stats, err := a.exports.Stats(); err == nil {
				metrics.SetQueueGauges(stats.Pending, stats.Quarantined)
			}
		}
	}
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
