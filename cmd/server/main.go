// Sitelens - Privacy-First Web Analytics
// Copyright 2026 Sitelens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sitelens/sitelens

// Package main is the entry point for the Sitelens ingestion server.
//
// Sitelens is a privacy-first web analytics platform. The server accepts
// event beacons from the tracking client, validates and rate limits them,
// derives anonymous session identifiers, enriches events with coarse
// geolocation, and batches the resulting rows into ClickHouse.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered load from defaults, config file, and
//     environment variables (Koanf v2)
//  2. Dedup store: BadgerDB with TTL'd keys for unique-event tracking
//  3. Geo enricher: MaxMind database reader with hot reload
//  4. Storage: ClickHouse connection and the batching writer
//  5. Pipeline: validation, rate limiting, sessionization, enrichment
//  6. HTTP server: ingestion API under /api/v1 plus /metrics
//
// Long-lived components run under a suture supervisor tree so a crash in
// one layer restarts only that layer.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (HTTP_PORT, CLICKHOUSE_ADDR, GEO_DATABASE_PATH, ...)
//   - Config file (config.yaml, or CONFIG_PATH)
//   - Built-in defaults
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM: the
// listener drains in-flight requests, the writer flushes buffered rows,
// and the dedup database closes cleanly.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/sitelens/sitelens/internal/api"
	"github.com/sitelens/sitelens/internal/config"
	"github.com/sitelens/sitelens/internal/dedup"
	"github.com/sitelens/sitelens/internal/geo"
	"github.com/sitelens/sitelens/internal/logging"
	"github.com/sitelens/sitelens/internal/pipeline"
	"github.com/sitelens/sitelens/internal/ratelimit"
	"github.com/sitelens/sitelens/internal/storage"
	"github.com/sitelens/sitelens/internal/supervisor"
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

	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Str("environment", cfg.Server.Environment).
		Str("geo_db", cfg.Geo.DatabasePath).
		Msg("Starting Sitelens")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Dedup store. The database is shared between the store and the GC
	// service, so main owns its lifecycle.
	badgerOpts := badger.DefaultOptions(cfg.Ingest.DedupPath)
	badgerOpts.Logger = nil
	dedupDB, err := badger.Open(badgerOpts)
	if err != nil {
		logging.Fatal().Err(err).Str("path", cfg.Ingest.DedupPath).Msg("Failed to open dedup database")
	}
	defer func() {
		if err := dedupDB.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing dedup database")
		}
	}()
	dedupStore := dedup.NewBadgerStoreWithDB(dedupDB)
	logging.Info().Str("path", cfg.Ingest.DedupPath).Msg("Dedup store opened")

	// Geo enricher tolerates a missing database file; lookups return
	// null fields until the refresher picks the file up.
	enricher := geo.NewEnricher(cfg.Geo.DatabasePath)
	defer func() {
		if err := enricher.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing geo database")
		}
	}()
	if enricher.Loaded() {
		logging.Info().Str("path", cfg.Geo.DatabasePath).Msg("Geolocation database loaded")
	} else {
		logging.Warn().Str("path", cfg.Geo.DatabasePath).Msg("Geolocation database not available, events will not be enriched")
	}

	// ClickHouse connection and batching writer.
	conn, err := storage.OpenClickHouse(ctx, cfg.ClickHouse)
	if err != nil {
		logging.Fatal().Err(err).Strs("addr", cfg.ClickHouse.Addr).Msg("Failed to connect to ClickHouse")
	}
	store := storage.NewClickHouseStore(conn)
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing ClickHouse connection")
		}
	}()
	writer := storage.NewWriter(store, cfg.Writer)
	logging.Info().
		Int("batch_size", cfg.Writer.BatchSize).
		Dur("flush_interval", cfg.Writer.FlushInterval).
		Msg("Storage writer configured")

	// Ingestion pipeline.
	limiter := ratelimit.New()
	proc := pipeline.New(
		limiter,
		pipeline.NewSessions(),
		dedupStore,
		enricher,
		writer,
		pipeline.Config{
			MaxRequests: cfg.Ingest.MaxRequests,
			Window:      cfg.Ingest.Window,
			DedupTTL:    cfg.Ingest.DedupTTL,
		},
	)

	handler := api.NewHandler(proc, enricher, limiter, writer, cfg.IPLookup)
	router := api.NewRouter(handler, cfg.Server)
	server := api.NewServer(router, cfg.Server)

	// Supervisor tree. The slog adapter bridges zerolog to sutureslog.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddPipelineService(writer)
	tree.AddPipelineService(dedup.NewGC(dedupDB, cfg.Ingest.DedupGCInterval))
	tree.AddPipelineService(geo.NewRefresher(enricher, cfg.Geo.RefreshInterval))
	tree.AddAPIService(server)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Drain the error channel until the supervisor has fully stopped.
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Application stopped gracefully")
}
