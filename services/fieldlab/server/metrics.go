// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for service operations. Run-level metrics live
// with the engine; these cover admission and the spool.
var meter = otel.Meter("cliffordlab.server")

// Metrics for service operations.
var (
	submissionsTotal metric.Int64Counter
	runsActive       metric.Int64UpDownCounter
	spoolFilesTotal  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		submissionsTotal, err = meter.Int64Counter(
			"fieldlab_server_submissions_total",
			metric.WithDescription("Run submissions by result"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runsActive, err = meter.Int64UpDownCounter(
			"fieldlab_server_runs_active",
			metric.WithDescription("Currently executing managed runs"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		spoolFilesTotal, err = meter.Int64Counter(
			"fieldlab_server_spool_files_total",
			metric.WithDescription("Spool files by disposition"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordSubmission counts one submission attempt.
//
// Thread Safety: Safe for concurrent use.
func recordSubmission(ctx context.Context, result string) {
	if err := initMetrics(); err != nil {
		return
	}
	submissionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// recordRunActive moves the active-run gauge.
//
// Thread Safety: Safe for concurrent use.
func recordRunActive(ctx context.Context, delta int64) {
	if err := initMetrics(); err != nil {
		return
	}
	runsActive.Add(ctx, delta)
}

// recordSpoolFile counts one spool file disposition.
//
// Thread Safety: Safe for concurrent use.
func recordSpoolFile(ctx context.Context, disposition string) {
	if err := initMetrics(); err != nil {
		return
	}
	spoolFilesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("disposition", disposition)))
}
