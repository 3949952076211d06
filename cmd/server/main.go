// Chartsync - Role-Filtered Library Synchronization for Ensembles
// Copyright 2026 M. Reyes (bandworks)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bandworks/chartsync

// Package main is the entry point for the Chartsync server.
//
// Chartsync keeps per-member chart library views synchronized against a
// canonical cloud storage folder. Each ensemble member gets a private
// folder tree filtered to their instruments, populated with shortcut
// references into the canonical library so storage is never duplicated.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: Koanf v2 layered sources (defaults, file, env)
//  2. Store: BadgerDB record store for views, operations and channels
//  3. Remote gateway: rate-limited provider client with retry and
//     circuit breaker
//  4. Sync pipeline: organizer and synchronizer over the gateway
//  5. WebSocket hub: real-time member event feed
//  6. Sync engine: job queue, scheduler, stale sweep, watch channels
//  7. HTTP server: REST API under /api/v1 plus /ws and /metrics
//
// All long-running pieces run under a suture supervisor tree and restart
// independently on failure.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (REMOTE_TOKEN, SOURCE_FOLDER_ID, HTTP_PORT, ...)
//   - Config file (config.yaml, or CONFIG_PATH)
//   - Built-in defaults
//
// The member roster (IDs, share emails, instruments) can only come from
// the config file.
//
// Minimal setup:
//
//	export REMOTE_TOKEN=your-provider-token
//	export SOURCE_FOLDER_ID=folder-id
//	./chartsync
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: the HTTP
// server stops accepting connections and drains in-flight requests, the
// engine finishes or abandons queued jobs, and the store closes last.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bandworks/chartsync/internal/api"
	"github.com/bandworks/chartsync/internal/config"
	"github.com/bandworks/chartsync/internal/engine"
	"github.com/bandworks/chartsync/internal/logging"
	"github.com/bandworks/chartsync/internal/organize"
	"github.com/bandworks/chartsync/internal/ratelimit"
	"github.com/bandworks/chartsync/internal/remote"
	"github.com/bandworks/chartsync/internal/store"
	"github.com/bandworks/chartsync/internal/supervisor"
	"github.com/bandworks/chartsync/internal/syncer"
	ws "github.com/bandworks/chartsync/internal/websocket"
)

func main() {
	// Load configuration first to get logging settings.
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().Msg("Starting Chartsync")
	logging.Info().
		Str("source_folder", cfg.Sync.SourceFolderID).
		Int("members", len(cfg.Members)).
		Str("store_path", cfg.Store.Path).
		Bool("in_memory", cfg.Store.InMemory).
		Bool("webhooks", cfg.Webhook.Enabled).
		Msg("Configuration loaded")

	if len(cfg.Members) == 0 {
		logging.Warn().Msg("Member roster is empty; nothing will sync until members are configured")
	}

	st, err := store.Open(store.Config{
		Path:     cfg.Store.Path,
		InMemory: cfg.Store.InMemory,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open record store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing record store")
		}
	}()
	logging.Info().Msg("Record store opened")

	directory := cfg.Directory()

	// Remote pipeline: token bucket -> retrying client -> gateway. The
	// gateway is shared by the synchronizer, the organizer and the watch
	// channel registrar, so they all draw from one rate budget.
	limiter := ratelimit.New(cfg.Remote.RateLimit)
	creds := remote.NewStaticProvider(cfg.Remote.Token)
	client := remote.NewClient(&cfg.Remote, creds, limiter)
	gateway := remote.NewGateway(client, &cfg.Remote, &cfg.Sync)

	wsHub := ws.NewHub()

	organizer := organize.New(gateway, &cfg.Sync)
	synchronizer := syncer.New(gateway, organizer, st, directory, wsHub, &cfg.Sync)

	var channels engine.ChannelRegistrar
	if cfg.Webhook.Enabled {
		channels = gateway
	}
	eng := engine.New(synchronizer, st, channels, directory, engine.NewStats(), cfg)

	handler := api.NewHandler(eng, wsHub, st, cfg)
	router := api.NewRouter(handler, cfg.API)

	server := &http.Server{
		Addr:         cfg.Server.ListenAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	// Badger value log GC only matters for on-disk stores.
	if !cfg.Store.InMemory {
		tree.AddStoreService(supervisor.NewStoreGCService(st, 0))
	}
	tree.AddSyncService(wsHub)
	tree.AddSyncService(eng)
	tree.AddAPIService(supervisor.NewHTTPService(server, server.Addr, cfg.Server.ShutdownTimeout))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Str("addr", server.Addr).Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutting down, waiting for services to stop")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Drain the error channel; it closes when the tree has fully stopped.
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

	logging.Info().Msg("Chartsync stopped")
}
