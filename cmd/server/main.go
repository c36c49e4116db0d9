// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	goruntime "runtime"
	"syscall"
	"time"

	"github.com/tomtom215/custodia/internal/api"
	"github.com/tomtom215/custodia/internal/budget"
	"github.com/tomtom215/custodia/internal/config"
	"github.com/tomtom215/custodia/internal/database"
	"github.com/tomtom215/custodia/internal/discovery"
	"github.com/tomtom215/custodia/internal/events"
	"github.com/tomtom215/custodia/internal/logging"
	"github.com/tomtom215/custodia/internal/metrics"
	"github.com/tomtom215/custodia/internal/quota"
	"github.com/tomtom215/custodia/internal/recovery"
	"github.com/tomtom215/custodia/internal/results"
	"github.com/tomtom215/custodia/internal/risk"
	"github.com/tomtom215/custodia/internal/scanqueue"
	"github.com/tomtom215/custodia/internal/supervisor"
	"github.com/tomtom215/custodia/internal/supervisor/services"
	"github.com/tomtom215/custodia/internal/vision"
	"github.com/tomtom215/custodia/internal/youtube"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		// Use default logger for config errors (config not yet available)
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize zerolog with configuration
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().Msg("Starting Custodia with supervisor tree")
	metrics.AppInfo.WithLabelValues(api.Version, goruntime.Version()).Set(1)

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Int64("quota_daily_units", cfg.Quota.DailyUnits).
		Float64("budget_daily_eur", cfg.Budget.DailyEUR).
		Str("vision_model", cfg.Vision.Model).
		Dur("discovery_interval", cfg.Discovery.Interval).
		Msg("Configuration loaded")

	// Initialize DuckDB store: documents, ledgers and the scan queue
	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Msg("Database initialized successfully")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create structured logger for supervisor using our slog adapter
	// This bridges zerolog to slog for sutureslog compatibility
	slogLogger := logging.NewSlogLogger()

	// Create supervisor tree
	tree, err := supervisor.NewSupervisorTree(slogLogger, supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	// Initialize the messaging layer: embedded JetStream server (unless an
	// external one is configured), stream, publisher and subscribers. The
	// supervisor only drives its lifecycle from here on.
	runtime, err := initNATS(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize NATS")
	}

	// YouTube Data API client behind the process-wide rate limiter
	ytClient, err := youtube.NewClient(ctx, cfg.YouTube)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create YouTube client")
	}

	// Ledgers and queue over the shared store
	quotaMgr := quota.NewManager(db, cfg.Quota.DailyUnits, cfg.QuotaLocation())
	budgetMgr := budget.NewManager(db, cfg.Budget.DailyEUR)
	queue := scanqueue.New(db)

	// Pipeline stages
	scheduler := discovery.NewScheduler(db, ytClient, quotaMgr, runtime.publisher, queue, cfg.Discovery)
	engine := risk.NewEngine(db)
	processor := results.NewProcessor(db, runtime.publisher)
	dispatcher := vision.NewDispatcher(db, budgetMgr, vision.NewClient(cfg.Vision), processor, runtime.scanSub, cfg.Vision)

	// Event consumers feeding the risk engine
	discoveredConsumer := events.NewEventHandler[events.VideoDiscovered](runtime.eventSub, events.SubjectVideoDiscovered).
		Handle(engine.HandleVideoDiscovered)
	feedbackConsumer := events.NewEventHandler[events.VisionFeedback](runtime.eventSub, events.SubjectVisionFeedback).
		Handle(engine.HandleVisionFeedback)

	// The recovery sweep must finish before any consumer starts. With no
	// worker active, every running scan and every processing video is known
	// to be orphaned; once consumers run that assumption no longer holds.
	if err := recovery.NewSweeper(db).Run(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Recovery sweep failed")
	}

	// Ops HTTP surface
	handler := api.NewHandler(db, quotaMgr, budgetMgr, scheduler, runtime)
	router := api.NewRouter(handler, cfg.Server.CORSOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	// === ADD SERVICES TO SUPERVISOR TREE ===

	// Messaging layer services. The NATS runtime goes first; consumers and
	// the dispatcher bind to the stream it verifies.
	tree.AddMessagingService(services.NewNATSRuntimeService(runtime))
	tree.AddMessagingService(services.NewRunnerService("vision-dispatcher", dispatcher))
	tree.AddMessagingService(services.NewRunnerService("discovered-consumer", discoveredConsumer))
	tree.AddMessagingService(services.NewRunnerService("feedback-consumer", feedbackConsumer))
	logging.Info().Msg("Messaging services added to supervisor tree")

	// Data layer services
	if cfg.Discovery.Interval > 0 {
		tree.AddDataService(services.NewDiscoveryCronService(scheduler, cfg.Discovery.Interval))
		logging.Info().Dur("interval", cfg.Discovery.Interval).Msg("Discovery cron added to supervisor tree")
	} else {
		logging.Info().Msg("Scheduled discovery disabled (DISCOVERY_INTERVAL=0), manual triggers only")
	}

	// API layer services
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	// === START SUPERVISOR TREE ===

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	// Wait for supervisor to finish (either from signal or error)
	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Wait for the error channel to close (supervisor finished)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	// Report any services that failed to stop within timeout
	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Application stopped gracefully")
}
