// Package main is the entry point for the Powerlytic telemetry
// backend. It initializes all components and manages the application
// lifecycle.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/siddharth-mourya/powerlytic-be/internal/adapter/config"
	"github.com/siddharth-mourya/powerlytic-be/internal/api"
	"github.com/siddharth-mourya/powerlytic-be/internal/health"
	"github.com/siddharth-mourya/powerlytic-be/internal/metrics"
	"github.com/siddharth-mourya/powerlytic-be/internal/registry"
	"github.com/siddharth-mourya/powerlytic-be/internal/service"
	"github.com/siddharth-mourya/powerlytic-be/internal/store"
	"github.com/siddharth-mourya/powerlytic-be/internal/views"
	"github.com/siddharth-mourya/powerlytic-be/pkg/logging"
)

const (
	serviceName    = "powerlytic-be"
	serviceVersion = "1.0.0"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fallback := logging.New(serviceName, serviceVersion)
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize structured logger
	logger := logging.NewWithConfig(serviceName, serviceVersion, logging.LogConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger.Info().Str("env", cfg.Environment).Msg("Starting Powerlytic telemetry backend")

	// Initialize metrics
	metricsRegistry := metrics.NewRegistry()

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open the measurement store
	measurementStore, err := store.Open(store.Config{
		Path:             cfg.Storage.Path,
		BreakerInterval:  cfg.Storage.CBInterval,
		BreakerTimeout:   cfg.Storage.CBTimeout,
		BreakerThreshold: cfg.Storage.CBFailureThreshold,
	}, logger, metricsRegistry)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open measurement store")
	}
	defer measurementStore.Close()
	logger.Info().Str("path", cfg.Storage.Path).Msg("Measurement store ready")

	// Load the device catalog
	deviceRegistry, err := registry.Load(cfg.DevicesConfigPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load device catalog")
	}
	logger.Info().Int("devices", len(deviceRegistry.List())).Msg("Device catalog loaded")

	// Wire the ingest pipeline
	transformer := service.NewTransformer(deviceRegistry, logger, metricsRegistry)
	viewBuilder := views.NewBuilder(measurementStore, deviceRegistry, cfg.Ingest.StaleAfter)

	// Live measurement stream
	hub := api.NewHub(logger, metricsRegistry)
	go hub.Run()

	// Health checks
	healthChecker := health.NewChecker(health.Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
	})
	healthChecker.AddCheck("store", measurementStore)
	healthChecker.AddCheck("device_catalog", deviceRegistry)

	// HTTP server
	handlers := api.NewHandlers(transformer, measurementStore, viewBuilder, deviceRegistry, hub, logger, metricsRegistry)
	middleware := api.NewMiddleware(cfg.API, logger)
	router := api.NewRouter(handlers, middleware, hub, healthChecker)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info().Int("port", cfg.HTTP.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	// Retention sweeper
	if cfg.Storage.Retention > 0 {
		go runRetentionSweeper(ctx, measurementStore, cfg.Storage.Retention, cfg.Storage.PurgeInterval, logger)
	}

	logger.Info().
		Int("http_port", cfg.HTTP.Port).
		Dur("retention", cfg.Storage.Retention).
		Msg("Powerlytic telemetry backend started")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutdown signal received, initiating graceful shutdown...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error shutting down HTTP server")
	}

	if err := deviceRegistry.Save(); err != nil {
		logger.Error().Err(err).Msg("Error persisting device catalog")
	}

	logger.Info().Msg("Powerlytic telemetry backend shutdown complete")
}

// runRetentionSweeper purges measurements older than the retention
// window on a fixed interval until the context is cancelled.
func runRetentionSweeper(ctx context.Context, s *store.Store, retention, interval time.Duration, logger zerolog.Logger) {
	sweeper := logger.With().Str("component", "retention-sweeper").Logger()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)
			removed, err := s.PurgeBefore(ctx, cutoff)
			if err != nil {
				sweeper.Error().Err(err).Msg("Retention sweep failed")
				continue
			}
			if removed > 0 {
				sweeper.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("Retention sweep complete")
			}
		}
	}
}
