// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package explore

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for exploration operations.
var (
	tracer = otel.Tracer("cliffordlab.explore")
	meter  = otel.Meter("cliffordlab.explore")
)

// Metrics for exploration operations.
var (
	// Trial metrics
	trialsTotal   metric.Int64Counter
	trialDuration metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		trialsTotal, err = meter.Int64Counter(
			"fieldlab_trials_total",
			metric.WithDescription("Total search trials by scoring result"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		trialDuration, err = meter.Float64Histogram(
			"fieldlab_trial_duration_seconds",
			metric.WithDescription("Wall-clock duration of search trials"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordTrial records metrics for a finished trial.
//
// Thread Safety: Safe for concurrent use.
func recordTrial(ctx context.Context, t Trial) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.Bool("scored", t.Scored))
	trialsTotal.Add(ctx, 1, attrs)
	trialDuration.Record(ctx, t.Elapsed.Seconds(), attrs)
}
