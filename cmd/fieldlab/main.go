// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command fieldlab starts the CliffordLab field simulation server.
//
// The server runs multivector field simulations on request and streams
// their progress:
//   - Run submission with a bounded concurrency budget
//   - Live progress over WebSocket
//   - Run records persisted in an embedded Badger store
//   - Optional spool directory: drop a RunSpec YAML, get a run
//   - Optional per-iteration series export to InfluxDB
//
// Usage:
//
//	go run ./cmd/fieldlab
//	go run ./cmd/fieldlab -port 9090 -max-runs 4
//	go run ./cmd/fieldlab -spool /var/spool/fieldlab
//
// With InfluxDB series export:
//
//	INFLUXDB_URL=http://localhost:8086 INFLUXDB_TOKEN=... go run ./cmd/fieldlab
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/fieldlab/health
//
//	# Submit a relaxation run
//	curl -X POST http://localhost:8080/v1/fieldlab/runs \
//	  -H "Content-Type: application/json" \
//	  -d '{"name": "vacuum", "mode": "relax", "spec": {"algebra": {"p": 1, "q": 8}, "lattice": {"d": 2, "l": 8}}}'
//
//	# Watch its progress
//	websocat ws://localhost:8080/v1/fieldlab/runs/<id>/stream
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/AleutianAI/CliffordLab/pkg/logging"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/server"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/storage/badger"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/storage/influx"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/telemetry"
)

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	storePath := flag.String("store", defaultStorePath(), "Run record store directory")
	spoolDir := flag.String("spool", "", "Spool directory to watch for run spec YAMLs (empty disables)")
	maxRuns := flag.Int64("max-runs", server.DefaultManagerConfig().MaxConcurrent, "Runs allowed to execute at once")
	logDir := flag.String("log-dir", "", "Directory for JSON log files (empty disables file logging)")
	flag.Parse()

	level := logging.LevelInfo
	if *debug {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  *logDir,
		Service: "fieldlab",
	})
	slogger := logger.Slog()
	slog.SetDefault(slogger)

	ctx := context.Background()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.DefaultConfig())
	if err != nil {
		slogger.Error("Failed to initialize telemetry", slog.String("error", err.Error()))
		os.Exit(1)
	}

	storeCfg := badger.DefaultConfig()
	storeCfg.Path = *storePath
	db, err := badger.OpenDB(storeCfg)
	if err != nil {
		slogger.Error("Failed to open run store",
			slog.String("path", *storePath), slog.String("error", err.Error()))
		os.Exit(1)
	}
	store := badger.NewRunStore(db)

	var sink *influx.SeriesSink
	if cfg := influx.FromEnv(); cfg.Enabled() {
		sink, err = influx.New(cfg, slogger)
		if err != nil {
			slogger.Warn("InfluxDB series export disabled", slog.String("error", err.Error()))
			sink = nil
		} else {
			slogger.Info("InfluxDB series export enabled", slog.String("url", cfg.URL))
		}
	}

	mgrCfg := server.DefaultManagerConfig()
	mgrCfg.MaxConcurrent = *maxRuns
	mgr := server.NewManager(mgrCfg, store, sink, slogger)

	var spool *server.Spool
	if *spoolDir != "" {
		spool, err = server.NewSpool(*spoolDir, mgr, slogger, nil)
		if err != nil {
			slogger.Error("Failed to create spool", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := spool.Start(ctx); err != nil {
			slogger.Error("Failed to start spool", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	handlers := server.NewHandlers(mgr, store)
	router := server.NewRouter(server.RouterConfig{Debug: *debug}, handlers)

	printBanner(*port, spool, sink != nil)

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slogger.Info("Shutting down field lab server")
		if spool != nil {
			spool.Stop()
		}
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := mgr.Shutdown(sctx); err != nil {
			slogger.Warn("Run manager shutdown incomplete", slog.String("error", err.Error()))
		}
		if sink != nil {
			sink.Close()
		}
		if err := shutdownTelemetry(sctx); err != nil {
			slogger.Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
		}
		if err := db.Close(); err != nil {
			slogger.Warn("Run store close failed", slog.String("error", err.Error()))
		}
		_ = logger.Close()
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%d", *port)
	slogger.Info("Starting field lab server", slog.String("address", addr))
	if err := router.Run(addr); err != nil {
		slogger.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// defaultStorePath mirrors the CLI's default, so server and CLI share
// records out of the box.
func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".cliffordlab", "runs")
	}
	return filepath.Join(home, ".cliffordlab", "runs")
}

func printBanner(port int, spool *server.Spool, influxEnabled bool) {
	spoolStatus := "DISABLED (pass -spool DIR to enable)"
	if spool != nil {
		spoolStatus = spool.Dir()
	}
	influxStatus := "DISABLED (set INFLUXDB_URL and INFLUXDB_TOKEN)"
	if influxEnabled {
		influxStatus = "ENABLED"
	}

	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                     CLIFFORD FIELD LAB SERVER                     ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  Multivector field simulations over HTTP.                         ║
║  Spool:  %-56s ║
║  Influx: %-56s ║
║                                                                   ║
║  Quick Start:                                                     ║
║  ┌─────────────────────────────────────────────────────────────┐  ║
║  │ # Health check                                              │  ║
║  │ curl http://localhost:%d/v1/fieldlab/health               │  ║
║  │                                                             │  ║
║  │ # Submit a relaxation run                                   │  ║
║  │ curl -X POST http://localhost:%d/v1/fieldlab/runs \       │  ║
║  │   -H "Content-Type: application/json" \                     │  ║
║  │   -d '{"mode": "relax", "name": "vacuum", "spec":           │  ║
║  │        {"algebra": {"p": 1, "q": 8},                        │  ║
║  │         "lattice": {"d": 2, "l": 8}}}'                      │  ║
║  │                                                             │  ║
║  │ # Stream its progress                                       │  ║
║  │ websocat ws://localhost:%d/v1/fieldlab/runs/<id>/stream   │  ║
║  └─────────────────────────────────────────────────────────────┘  ║
║                                                                   ║
║  Endpoints:                                                       ║
║  ├── Runs: POST /runs, GET /runs/:id, POST /runs/:id/cancel       ║
║  ├── Stream: GET /runs/:id/stream (WebSocket)                     ║
║  ├── Results: /results, /results/:name, /results/:name/:id        ║
║  ├── Searches: /searches/:name/trials, /searches/:name/best       ║
║  └── Ops: /health, /healthz, /readyz, /metrics                    ║
║                                                                   ║
║  Press Ctrl+C to stop                                             ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, spoolStatus, influxStatus, port, port, port)
}
