// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package influx streams run telemetry to InfluxDB.
//
// The sink is optional: runs work without it, and the service only
// opens one when a token is configured. It carries two measurements,
// a per-check progress series for live dashboards and a one-point
// summary per finished run. Writes go through a rate limiter so a
// tight stability cadence cannot flood the database.
package influx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/CliffordLab/services/fieldlab/engine"
)

// Measurement names the sink writes under.
const (
	// MeasurementProgress holds the per-check norm and residual series.
	MeasurementProgress = "field_progress"

	// MeasurementRuns holds one summary point per finished run.
	MeasurementRuns = "field_runs"
)

// Config holds the connection settings for the sink.
//
// FromEnv reads the standard INFLUXDB_* variables, so the service and
// a docker-compose InfluxDB agree without extra flags.
type Config struct {
	// URL is the InfluxDB endpoint.
	URL string

	// Token authenticates writes. An empty token disables the sink.
	Token string

	// Org and Bucket select where points land.
	Org    string
	Bucket string

	// WritesPerSec caps the sustained write rate. Zero or negative
	// means unlimited.
	WritesPerSec float64

	// Burst is the limiter burst size.
	Burst int
}

// DefaultConfig returns settings for a local InfluxDB.
func DefaultConfig() Config {
	return Config{
		URL:          "http://localhost:8086",
		Org:          "cliffordlab",
		Bucket:       "fieldlab",
		WritesPerSec: 50,
		Burst:        100,
	}
}

// FromEnv layers INFLUXDB_URL, INFLUXDB_TOKEN, INFLUXDB_ORG and
// INFLUXDB_BUCKET over the defaults.
func FromEnv() Config {
	cfg := DefaultConfig()
	if v := os.Getenv("INFLUXDB_URL"); v != "" {
		cfg.URL = v
	}
	cfg.Token = os.Getenv("INFLUXDB_TOKEN")
	if v := os.Getenv("INFLUXDB_ORG"); v != "" {
		cfg.Org = v
	}
	if v := os.Getenv("INFLUXDB_BUCKET"); v != "" {
		cfg.Bucket = v
	}
	return cfg
}

// Enabled reports whether the config carries enough to open a sink.
func (c Config) Enabled() bool {
	return c.Token != ""
}

func (c Config) validate() error {
	if c.URL == "" {
		return errors.New("influx url is required")
	}
	if c.Token == "" {
		return errors.New("influx token is required")
	}
	if c.Org == "" || c.Bucket == "" {
		return errors.New("influx org and bucket are required")
	}
	return nil
}

// SeriesSink writes progress and summary points for named runs.
//
// # Thread Safety
//
//	Safe for concurrent use. The shared limiter orders concurrent
//	writers behind one budget.
type SeriesSink struct {
	client    influxdb2.Client
	write     api.WriteAPIBlocking
	limiter   *rate.Limiter
	logger    *slog.Logger
	closeOnce sync.Once
}

// New opens a sink against the configured InfluxDB.
//
// # Inputs
//
//   - cfg: validated connection settings.
//   - logger: optional; defaults to slog.Default().
//
// # Outputs
//
//   - *SeriesSink: the open sink. Caller must Close() it.
//   - error: non-nil when the config is unusable.
func New(cfg Config, logger *slog.Logger) (*SeriesSink, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if cfg.WritesPerSec > 0 {
		limit = rate.Limit(cfg.WritesPerSec)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &SeriesSink{
		client:  client,
		write:   client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}, nil
}

// Health checks the server is up and passing.
func (s *SeriesSink) Health(ctx context.Context) error {
	health, err := s.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("influx health: %w", err)
	}
	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("influx unhealthy: %s %s", health.Status, msg)
	}
	return nil
}

// WriteProgress writes one progress observation for a run.
//
// # Description
//
//	Blocks on the rate limiter, so call it from a pump goroutine, not
//	from an engine progress callback. Non-finite norms are written as
//	zero to keep the line protocol valid.
func (s *SeriesSink) WriteProgress(ctx context.Context, run string, p engine.Progress) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate wait: %w", err)
	}

	point := influxdb2.NewPoint(
		MeasurementProgress,
		map[string]string{
			"run":  run,
			"mode": p.Mode,
		},
		map[string]interface{}{
			"iteration": p.Iteration,
			"total":     p.Total,
			"norm":      finite(p.Norm),
			"residual":  finite(p.Residual),
		},
		time.Now().UTC(),
	)
	if err := s.write.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("write progress point: %w", err)
	}
	return nil
}

// WriteResult writes the summary point for a finished run.
func (s *SeriesSink) WriteResult(ctx context.Context, run, mode string, res engine.RunResult) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate wait: %w", err)
	}

	point := influxdb2.NewPoint(
		MeasurementRuns,
		map[string]string{
			"run":     run,
			"mode":    mode,
			"outcome": string(res.Outcome),
		},
		map[string]interface{}{
			"iterations":      res.Iterations,
			"final_norm":      finite(res.FinalNorm),
			"residual":        finite(res.Residual),
			"elapsed_seconds": res.Elapsed.Seconds(),
		},
		time.Now().UTC(),
	)
	if err := s.write.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("write run point: %w", err)
	}
	return nil
}

// Close releases the client. Safe to call more than once.
func (s *SeriesSink) Close() {
	s.closeOnce.Do(func() {
		if s.client != nil {
			s.client.Close()
		}
	})
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
