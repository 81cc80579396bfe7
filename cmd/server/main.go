// Fluxmesh - Realtime IoT Telemetry Dispatch and Rule Engine
// Copyright 2026 Fluxmesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fluxmesh/fluxmesh

// Package main is the entry point for the Fluxmesh server.
//
// Fluxmesh is a realtime IoT telemetry platform: input devices publish
// telemetry over websocket connections, consumers subscribe to device
// streams, and user-authored rules transform input telemetry into commands
// for output devices.
//
// The server initializes components in the following order:
//
//  1. Configuration: layered sources via Koanf v2 (defaults, config.yaml,
//     FLUXMESH_* environment variables)
//  2. Store: BadgerDB document store holding users, device types, devices,
//     datapoints and rules
//  3. Rule engine: the sandboxed expression evaluator with step and
//     wall-clock budgets
//  4. Realtime layer: websocket gateway, room hub, ingestion and
//     subscription handlers
//  5. Rule trigger: consumes stored-datapoint events and fans rule output
//     out to output streams
//  6. HTTP server: websocket endpoint, rule and data API, health, metrics
//
// The supervisor tree restarts crashed components with exponential backoff
// and handles graceful shutdown on SIGINT and SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/fluxmesh/fluxmesh/internal/api"
	"github.com/fluxmesh/fluxmesh/internal/auth"
	"github.com/fluxmesh/fluxmesh/internal/config"
	"github.com/fluxmesh/fluxmesh/internal/logging"
	"github.com/fluxmesh/fluxmesh/internal/realtime"
	"github.com/fluxmesh/fluxmesh/internal/rules"
	"github.com/fluxmesh/fluxmesh/internal/store"
	"github.com/fluxmesh/fluxmesh/internal/supervisor"
)

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
		Str("db_path", cfg.Database.Path).
		Bool("db_in_memory", cfg.Database.InMemory).
		Int("port", cfg.Server.Port).
		Msg("Configuration loaded")

	db, err := store.Open(cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open store")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()

	verifier, err := auth.NewTokenVerifier(cfg.Security.TokenSecret)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to configure token verifier")
	}

	engine := rules.NewEngine(cfg.Rules)
	manager := rules.NewManager(db, engine)

	bus := rules.NewBus(logging.NewWatermillAdapter())
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}()

	hub := realtime.NewHub()
	subs := realtime.NewSubscriptions(db, hub)
	ingest := realtime.NewIngestor(db, hub, bus)
	gateway := realtime.NewGateway(hub, subs, ingest, verifier, cfg.Realtime, cfg.Server.CORSOrigins)
	trigger := rules.NewTrigger(bus, db, engine, hub)

	router := api.New(db, manager, verifier, gateway, cfg.Server)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddStorageService(store.NewGCService(db))
	tree.AddDispatchService(hub)
	tree.AddDispatchService(trigger)
	tree.AddAPIService(supervisor.NewHTTPService(server, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", server.Addr).Msg("Fluxmesh started")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("Supervisor tree terminated")
	}
	logging.Info().Msg("Fluxmesh stopped")
}
