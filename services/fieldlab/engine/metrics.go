// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/CliffordLab/services/fieldlab/algebra"
	"github.com/AleutianAI/CliffordLab/services/fieldlab/lattice"
)

// Package-level tracer and meter for simulation runs.
var (
	tracer = otel.Tracer("cliffordlab.engine")
	meter  = otel.Meter("cliffordlab.engine")
)

// Metrics for simulation runs.
var (
	// Run metrics
	runsTotal   metric.Int64Counter
	runDuration metric.Float64Histogram

	// Iteration metrics
	iterationsTotal metric.Int64Counter

	// Field metrics
	finalNorm metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		runsTotal, err = meter.Int64Counter(
			"fieldlab_runs_total",
			metric.WithDescription("Total simulation runs by mode and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runDuration, err = meter.Float64Histogram(
			"fieldlab_run_duration_seconds",
			metric.WithDescription("Wall-clock duration of simulation runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		iterationsTotal, err = meter.Int64Counter(
			"fieldlab_iterations_total",
			metric.WithDescription("Total integration steps across runs"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		finalNorm, err = meter.Float64Histogram(
			"fieldlab_final_norm",
			metric.WithDescription("Global field norm at run termination"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordRun records metrics for a finished run.
//
// Thread Safety: Safe for concurrent use.
func recordRun(ctx context.Context, mode string, res RunResult) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("outcome", string(res.Outcome)),
	)

	runsTotal.Add(ctx, 1, attrs)
	runDuration.Record(ctx, res.Elapsed.Seconds(), attrs)
	iterationsTotal.Add(ctx, int64(res.Iterations), metric.WithAttributes(attribute.String("mode", mode)))
	if res.FinalNorm > 0 {
		finalNorm.Record(ctx, res.FinalNorm, attrs)
	}
}

// startRunSpan creates a span for one simulation run.
func startRunSpan(ctx context.Context, mode string, lat lattice.Lattice, m *algebra.Model) (context.Context, trace.Span) {
	return tracer.Start(ctx, "engine."+mode,
		trace.WithAttributes(
			attribute.Int("lattice.d", lat.D()),
			attribute.Int("lattice.l", lat.L()),
			attribute.Int("lattice.points", lat.Points()),
			attribute.Int("algebra.blades", m.BladeCount()),
		),
	)
}

// finishRunSpan closes a run span with outcome and error status.
func finishRunSpan(span trace.Span, outcome Outcome, err error) {
	if outcome != "" {
		span.SetAttributes(attribute.String("run.outcome", string(outcome)))
	}
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
