// Package main is the entry point for the SecScore API service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/secscorehq/secscore/internal/bundled"
	"github.com/secscorehq/secscore/internal/cache"
	"github.com/secscorehq/secscore/internal/enrich"
	"github.com/secscorehq/secscore/internal/exploitdb"
	"github.com/secscorehq/secscore/internal/handlers"
	"github.com/secscorehq/secscore/internal/kev"
	"github.com/secscorehq/secscore/internal/middleware"
	"github.com/secscorehq/secscore/internal/routes"
	"github.com/secscorehq/secscore/internal/scoring"
	"github.com/secscorehq/secscore/internal/upstream"
	"github.com/secscorehq/secscore/pkg/config"
	"github.com/secscorehq/secscore/pkg/logger"
)

// Build information (set via ldflags).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	format := "json"
	if cfg.IsDevelopment() {
		format = "text"
	}
	log := logger.New(cfg.LogLevel, format)
	log = log.WithService("secscore")

	log.Info("starting SecScore service",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
		"env", cfg.Env,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Model parameter table
	params, err := scoring.LoadParams(bundled.ALParams)
	if err != nil {
		return fmt.Errorf("failed to load model parameters: %w", err)
	}

	// Response cache
	responseCache, err := buildCache(cfg, log)
	if err != nil {
		return err
	}

	// Upstream clients share one retrying transport
	upstreamClient := upstream.NewClient(log, cfg.Upstream)

	// KEV catalog and refresh scheduler
	catalog := kev.NewCatalog(log, kev.CatalogConfig{
		FeedURL:      cfg.KEV.FeedURL,
		CachePath:    cfg.KEV.CachePath,
		FetchTimeout: cfg.KEV.FetchTimeout,
		UserAgent:    cfg.Upstream.UserAgent,
		Fallback:     bundled.KEVFallback,
		HTTPClient:   upstreamClient.HTTPClient(),
	})
	scheduler := kev.NewScheduler(log, catalog, cfg.KEV.RefreshInterval(), cfg.KEV.SchedulerDisabled)
	defer scheduler.Stop()

	// ExploitDB index and scoring engine
	exploits := exploitdb.NewIndex(log, bundled.ExploitDBIndex)
	engine := scoring.NewEngine(log, params)

	// Enrichment orchestrator
	svc := enrich.NewService(log, responseCache, upstreamClient, catalog, scheduler, exploits, engine)

	// Handlers and middleware
	h := handlers.New(log, svc, cfg.Internal.CronSecret, version, cfg.KEV.RefreshInterval())
	captcha := middleware.NewTurnstileVerifier(
		cfg.Captcha.SecretKey, cfg.Captcha.VerifyURL, nil, log)
	limiterMW, limiter := middleware.RateLimit(middleware.RateLimitConfig{
		Enabled:         cfg.RateLimit.Enabled,
		Window:          cfg.RateLimit.Window,
		MaxRequests:     cfg.RateLimit.MaxRequests,
		CleanupInterval: cfg.RateLimit.CleanupInterval,
	}, log)
	if limiter != nil {
		defer limiter.Stop()
	}

	router := routes.New(routes.Options{
		Config:  cfg,
		Log:     log,
		Handler: h,
		Captcha: captcha,
		Limiter: limiterMW,
	})

	server := &http.Server{
		Addr:         cfg.API.Address(),
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.API.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
			if err := server.Close(); err != nil {
				return fmt.Errorf("forced shutdown error: %w", err)
			}
		}

		log.Info("server shutdown complete")
	}

	return nil
}

// buildCache selects the response cache backend. A Redis backend that
// cannot be reached is a startup error in production and a fallback to
// memory otherwise.
func buildCache(cfg *config.Config, log *logger.Logger) (cache.Cache, error) {
	if cfg.Cache.Backend == "redis" {
		c, err := cache.NewRedis(&cache.RedisConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			MaxRetries:   cfg.Redis.MaxRetries,
			TTL:          cfg.Cache.TTL,
			ModelVersion: scoring.ModelVersion,
		})
		if err != nil {
			if cfg.IsProduction() {
				return nil, fmt.Errorf("failed to connect to redis cache: %w", err)
			}
			log.Warn("redis cache unavailable, falling back to memory", "error", err)
		} else {
			log.Info("using redis response cache", "addr", cfg.Redis.Addr)
			return c, nil
		}
	}

	log.Info("using in-memory response cache",
		"max_entries", cfg.Cache.MaxEntries, "ttl", cfg.Cache.TTL)
	return cache.NewMemory(&cache.MemoryConfig{
		MaxEntries:   cfg.Cache.MaxEntries,
		TTL:          cfg.Cache.TTL,
		ModelVersion: scoring.ModelVersion,
	}), nil
}
