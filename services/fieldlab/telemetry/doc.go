// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry provides OpenTelemetry-based observability for the
// field laboratory.
//
// This package initializes the OTel SDK with opinionated defaults for
// tracing and metrics while keeping the backend swappable through exporter
// configuration. OpenTelemetry IS the abstraction layer: packages use
// otel.Tracer() and otel.Meter() directly, and operators change backends
// by changing exporter configuration, not code.
//
// # Trace Backend (default: OTLP)
//
// Traces export over OTLP/gRPC to any compatible receiver (Jaeger 1.35+
// speaks OTLP natively). Long simulation runs produce one span per run,
// so traces stay cheap even at full sampling.
//
// # Metrics Backend (default: Prometheus)
//
// Metrics are exposed through a pull handler returned by MetricsHandler();
// the owning HTTP server mounts it at /metrics.
//
// # Logging
//
// Uses slog for structured logging. LoggerWithTrace injects trace_id and
// span_id into log entries so run logs correlate with run spans.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	shutdown, err := telemetry.Init(ctx, cfg)
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer shutdown(ctx)
//
// # Environment Variables
//
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint (default: localhost:4317)
//   - OTEL_TRACES_EXPORTER: otlp, stdout, or none (default: otlp)
//   - OTEL_METRICS_EXPORTER: prometheus, stdout, or none (default: prometheus)
//   - CLIFFORDLAB_ENV: environment name (default: development)
//
// # Thread Safety
//
// All exported functions are safe for concurrent use after Init() returns.
package telemetry
