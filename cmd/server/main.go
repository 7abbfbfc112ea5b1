// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/tomtom215/sitepulse/internal/api"
	"github.com/tomtom215/sitepulse/internal/audit"
	"github.com/tomtom215/sitepulse/internal/auth"
	"github.com/tomtom215/sitepulse/internal/config"
	"github.com/tomtom215/sitepulse/internal/database"
	"github.com/tomtom215/sitepulse/internal/ingest"
	"github.com/tomtom215/sitepulse/internal/logging"
	"github.com/tomtom215/sitepulse/internal/persist"
	"github.com/tomtom215/sitepulse/internal/presence"
	"github.com/tomtom215/sitepulse/internal/supervisor"
	"github.com/tomtom215/sitepulse/internal/supervisor/services"
	ws "github.com/tomtom215/sitepulse/internal/websocket"
)

// Key resolver cache bounds.
const (
	keyCacheSize = 1024
	keyCacheTTL  = 5 * time.Minute
)

//nolint:gocyclo // Main initialization function with sequential setup steps
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_driver", cfg.Database.Driver).
		Bool("journal", cfg.Journal.Enabled).
		Bool("nats", cfg.Events.NATSEnabled).
		Dur("inactivity_threshold", cfg.Presence.InactivityThreshold).
		Msg("Starting SitePulse")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, sqlStore, err := OpenStore(ctx, &cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}

	auditLog, err := InitAudit(ctx, cfg.Audit, sqlStore)
	if err != nil {
		_ = store.Close()
		logging.Fatal().Err(err).Msg("Failed to initialize audit logging")
	}

	journal, err := InitJournal(cfg.Journal)
	if err != nil {
		_ = auditLog.Close()
		_ = store.Close()
		logging.Fatal().Err(err).Msg("Failed to open close journal")
	}

	events, err := InitEvents(cfg.Events)
	if err != nil {
		_ = journal.Close()
		_ = auditLog.Close()
		_ = store.Close()
		logging.Fatal().Err(err).Msg("Failed to initialize event pipeline")
	}

	// Presence: closes flow from the coordinator through the dispatcher into
	// the store, falling back to the journal.
	dispatcher := persist.NewDispatcher(store,
		persist.WithJournal(journal.Journal()),
		persist.WithPublisher(events.publisher),
		persist.WithTimeout(cfg.Presence.CloseTimeout),
	)

	hub := ws.NewHub()
	coordinator := presence.NewCoordinator(presence.Config{
		InactivityThreshold: cfg.Presence.InactivityThreshold,
		SweepBatch:          cfg.Presence.SweepBatch,
	}, dispatcher, hub)
	sweeper := presence.NewSweeper(coordinator, cfg.Presence.SweepInterval)

	resolver := ingest.NewKeyResolver(store, keyCacheSize, keyCacheTTL)
	ingestor := ingest.NewIngestor(store, events.publisher)
	channels := ws.NewHandler(ctx, hub, coordinator, ingestor, resolver)

	jwtManager, err := auth.NewJWTManager(&cfg.Security)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize JWT manager")
	}
	credentials, err := auth.NewCredentials(
		cfg.Security.AdminUsername,
		cfg.Security.AdminPassword,
		auth.NewLockout(auth.DefaultLockoutConfig(), nil),
	)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize dashboard credentials")
	}

	if cfg.Security.RateLimitDisabled {
		logging.Warn().Msg("Rate limiting is DISABLED (DISABLE_RATE_LIMIT=true)")
	}

	handler := api.NewHandler(api.Dependencies{
		Config:      cfg,
		Store:       store,
		Coordinator: coordinator,
		Recorder:    ingestor,
		Resolver:    resolver,
		Channels:    channels,
		JWT:         jwtManager,
		Credentials: credentials,
		Stats:       events.stats,
		Clients:     hub,
		Audit:       auditLog,
	})
	router := api.NewRouter(handler, auth.NewMiddleware(jwtManager), api.NewChiMiddleware(api.ChiMiddlewareConfigFrom(&cfg.Security)))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router.SetupChi(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       120 * time.Second,
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddDataService(services.NewSweeperService(sweeper))
	if retryLoop := journal.RetryLoop(dispatcher); retryLoop != nil {
		tree.AddDataService(services.NewJournalRetryService(retryLoop))
	}
	if auditLog != nil {
		tree.AddDataService(auditLog)
	}
	tree.AddMessagingService(hub)
	tree.AddMessagingService(events.router)
	tree.AddAPIService(services.NewHTTPServerService(server, addr, cfg.Server.ShutdownTimeout))

	logging.Info().Str("addr", addr).Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Received shutdown signal, waiting for supervisor to finish...")
		err = <-errCh
	case err = <-errCh:
		stop()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	if err := shutdown(dispatcher, coordinator, events, journal, auditLog, store, cfg.Server.ShutdownTimeout); err != nil {
		logging.Error().Err(err).Msg("Shutdown completed with errors")
		os.Exit(1)
	}
	logging.Info().Msg("Application stopped gracefully")
}

// shutdown waits for in-flight closes, then releases resources in reverse
// order of creation. Every step runs; failures are collected.
func shutdown(
	dispatcher *persist.Dispatcher,
	coordinator *presence.Coordinator,
	events *EventComponents,
	journal *JournalComponents,
	auditLog *audit.Logger,
	store database.Store,
	timeout time.Duration,
) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var result *multierror.Error
	if err := dispatcher.Wait(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("wait for pending closes: %w", err))
	}

	stats := coordinator.Stats()
	logging.Info().
		Int("live_sessions", stats.Live).
		Int64("sessions_closed", stats.Closed).
		Msg("Presence stopped")

	if err := events.Shutdown(); err != nil {
		result = multierror.Append(result, fmt.Errorf("events: %w", err))
	}
	if err := journal.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("journal: %w", err))
	}
	if err := auditLog.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("audit: %w", err))
	}
	if err := store.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("store: %w", err))
	}
	return result.ErrorOrNil()
}
