// Questline - Gamified Problem Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/questline

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/tomtom215/questline/docs" // Import swagger docs
	"github.com/tomtom215/questline/internal/api"
	"github.com/tomtom215/questline/internal/auth"
	"github.com/tomtom215/questline/internal/config"
	"github.com/tomtom215/questline/internal/limiter"
	"github.com/tomtom215/questline/internal/logging"
	"github.com/tomtom215/questline/internal/rooms"
	"github.com/tomtom215/questline/internal/supervisor"
	"github.com/tomtom215/questline/internal/supervisor/services"
	ws "github.com/tomtom215/questline/internal/websocket"
)

//nolint:gocyclo // Main initialization function with sequential setup steps
func main() {
	// Load configuration first to get logging settings
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
		Str("addr", cfg.Server.Addr()).
		Dur("heartbeat_interval", cfg.Heartbeat.Interval).
		Bool("nats_enabled", cfg.NATS.Enabled).
		Msg("Starting Questline realtime server")

	verifier := auth.NewVerifier(cfg.Security.JWTSecret)

	lim := limiter.New(limiter.Config{
		MaxPerUser:    cfg.Limits.MaxPerUser,
		MaxPerAddress: cfg.Limits.MaxPerAddress,
		Window:        cfg.Limits.Window,
	})

	var dir rooms.Directory
	if cfg.Directory.URL != "" {
		dir = rooms.NewHTTPDirectory(cfg.Directory.URL, cfg.Directory.Timeout)
		logging.Info().Str("url", cfg.Directory.URL).Msg("Using membership directory service")
	} else {
		dir = rooms.NewStaticDirectory()
		logging.Warn().Msg("DIRECTORY_URL not set; group and challenge joins use the in-memory directory")
	}
	authz := rooms.NewAuthorizer(dir, rooms.AuthorizerConfig{
		FailureThreshold: cfg.Directory.BreakerFailures,
		OpenTimeout:      cfg.Directory.BreakerTimeout,
		LookupTimeout:    cfg.Directory.Timeout,
	})

	registry := rooms.NewRegistry[*ws.Conn](authz)
	monitor := ws.NewHeartbeatMonitor(cfg.Heartbeat.Interval)
	gateway := ws.NewGateway(ws.Options{
		AllowedOrigins: cfg.Security.AllowedOrigins,
		AuthTimeout:    cfg.Security.AuthTimeout,
		ReadTimeout:    cfg.Heartbeat.ReadDeadline(),
		InboundRate:    cfg.Limits.InboundRate,
		InboundBurst:   cfg.Limits.InboundBurst,
	}, verifier, lim, registry, monitor)
	hub := ws.NewHub(registry, lim)

	ingestComponents, err := InitIngest(cfg, hub)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize NATS ingest")
	}

	mwConfig := api.DefaultChiMiddlewareConfig()
	mwConfig.CORSAllowedOrigins = cfg.Security.AllowedOrigins
	mwConfig.UpgradeRateLimitRequests = cfg.Security.UpgradeRateLimitRequests
	mwConfig.UpgradeRateLimitWindow = cfg.Security.UpgradeRateLimitWindow
	mwConfig.TrustProxyHeaders = cfg.Security.TrustProxyHeaders

	router := api.NewRouter(api.Dependencies{
		Gateway:       gateway,
		Registry:      registry,
		Limiter:       lim,
		Authorizer:    authz,
		Heartbeats:    monitor,
		Verifier:      verifier,
		IngestEnabled: ingestComponents.IsRunning(),
	}, api.NewChiMiddleware(mwConfig))

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// === BUILD SUPERVISOR TREE ===

	treeConfig := supervisor.DefaultTreeConfig()
	treeConfig.ShutdownTimeout = cfg.Server.ShutdownTimeout
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), treeConfig)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddMessagingService(services.NewHubService(hub))
	if sub := ingestComponents.Subscriber(); sub != nil {
		tree.AddMessagingService(services.NewIngestService(sub))
		logging.Info().Msg("NATS ingest added to supervisor tree")
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	// === START SUPERVISOR TREE ===

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Received shutdown signal, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
		cancel()
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	ingestComponents.Shutdown(shutdownCtx)

	logging.Info().Msg("Questline realtime server stopped")
}
