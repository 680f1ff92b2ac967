package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/warden/pkg/api"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/config"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/reaper"
	"github.com/platinummonkey/warden/pkg/storage/postgres"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		// Missing DATABASE_URL is fatal at startup
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("Starting warden auth service")

	ctx := context.Background()
	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelService,
		ServiceVersion: "1.0.0",
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		// Telemetry export is best-effort; run without it
		logger.WithError(err).Error("Failed to initialize OpenTelemetry")
	}

	postgres.Configure(cfg.Database)
	pool, err := postgres.Global()
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	logger.Infof("PostgreSQL pool initialized (max %d connections)", cfg.Database.MaxConnections)

	if err := postgres.RunMigrations(ctx, pool.DB()); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	metrics := observability.NewMetrics(nil)

	tokens := auth.NewManager(pool.DB(), auth.Config{
		UserTTLSeconds:        cfg.Tokens.UserTTLSeconds,
		ServiceTTLSeconds:     cfg.Tokens.ServiceTTLSeconds,
		RenewThresholdSeconds: cfg.Tokens.RenewThresholdSeconds,
		Secret:                cfg.Tokens.Secret,
	}, nil)
	tokens.SetMetrics(metrics)

	server := api.NewServer(pool.DB(), tokens, logger)

	chain := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
		httputil.CORSMiddleware(cfg.CORS.AllowedOrigins, cfg.CORS.AllowHeaders()),
		httputil.ContentTypeMiddleware,
		metrics.Middleware,
	)
	var handler http.Handler = chain(server)
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, "warden-api")
		logger.Info("OpenTelemetry HTTP instrumentation enabled")
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(pool.DB()))
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", metrics.Handler())
		logger.Info("Metrics endpoint enabled at /metrics")
	}
	healthServer := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.HealthPort),
		Handler:      healthMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	// One reaper per process
	reapCtx, stopReaper := context.WithCancel(ctx)
	sweeper := reaper.New(tokens, logger, time.Duration(cfg.Tokens.ReapIntervalSeconds)*time.Second)
	sweeper.SetMetrics(metrics)
	go sweeper.Run(reapCtx)

	shutdownManager := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdownManager.RegisterShutdownFunc(func(ctx context.Context) error {
		stopReaper()
		return nil
	})
	shutdownManager.RegisterShutdownFunc(func(ctx context.Context) error {
		logger.Info("Shutting down health server")
		return healthServer.Shutdown(ctx)
	})
	shutdownManager.RegisterShutdownFunc(func(ctx context.Context) error {
		logger.Info("Closing storage pool")
		return postgres.CloseGlobal()
	})
	if otelProviders != nil {
		shutdownManager.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}

	var group errgroup.Group
	group.Go(func() error {
		logger.Infof("Starting health server on port %s", cfg.Server.HealthPort)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		logger.Infof("Starting warden API server on %s:%s", cfg.Server.Host, cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	go func() {
		if err := group.Wait(); err != nil {
			logger.WithError(err).Error("HTTP server failed")
			os.Exit(1)
		}
	}()

	logger.Info("Server started, waiting for shutdown signal")
	if err := shutdownManager.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
		os.Exit(1)
	}
	logger.Info("Server shutdown complete")
}
