// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a new span from the context using the global tracer.
//
// # Description
//
//	Convenience wrapper that uses otel.Tracer() to create spans without
//	explicitly managing tracer instances.
//
// # Inputs
//
//	ctx - Parent context. May contain an existing span context.
//	tracerName - Tracer name (e.g., "cliffordlab.engine").
//	spanName - Span name ("package.Type.Method" or operation name).
//	opts - Optional span start options (attributes, links, etc.).
//
// # Outputs
//
//	context.Context - Context with the new span attached.
//	trace.Span - The created span. Caller must call span.End().
//
// # Example
//
//	func (e *Engine) Relax(ctx context.Context, ...) (RunResult, error) {
//	    ctx, span := telemetry.StartSpan(ctx, "cliffordlab.engine", "Engine.Relax",
//	        trace.WithAttributes(attribute.Int("lattice.side", lat.Side())),
//	    )
//	    defer span.End()
//	    // ... run
//	}
//
// # Thread Safety
//
//	Safe for concurrent use.
func StartSpan(ctx context.Context, tracerName, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanName, opts...)
}

// SpanFromContext returns the current span from the context.
//
// Returns a no-op span if no span is present, so callers never need a
// nil check.
//
// # Thread Safety
//
//	Safe for concurrent use.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// RecordError records an error on the span with proper status.
//
// # Description
//
//	Records the error as a span event and sets the span status to Error.
//	If the span or error is nil, this is a no-op.
//
// # Inputs
//
//	span - The span to record the error on. May be nil.
//	err - The error to record. May be nil.
//	attrs - Optional additional attributes to record with the error.
//
// # Example
//
//	res, err := engine.Relax(ctx, params, lat, nil)
//	if err != nil {
//	    telemetry.RecordError(span, err, attribute.String("phase", "relax"))
//	    return err
//	}
//
// # Thread Safety
//
//	Safe for concurrent use.
func RecordError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if span == nil || err == nil {
		return
	}

	opts := make([]trace.EventOption, 0, 1)
	if len(attrs) > 0 {
		opts = append(opts, trace.WithAttributes(attrs...))
	}
	span.RecordError(err, opts...)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK marks the span as successful. Nil spans are ignored.
//
// # Thread Safety
//
//	Safe for concurrent use.
func SetSpanOK(span trace.Span) {
	if span == nil {
		return
	}
	span.SetStatus(codes.Ok, "")
}

// AddSpanEvent adds a timestamped event to the span with optional
// attributes. Nil spans are ignored.
//
// # Example
//
//	telemetry.AddSpanEvent(span, "stability_check",
//	    attribute.Int("iteration", iter),
//	    attribute.Float64("norm", norm),
//	)
//
// # Thread Safety
//
//	Safe for concurrent use.
func AddSpanEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanAttributes sets attributes on the span. Nil spans are ignored.
//
// # Thread Safety
//
//	Safe for concurrent use.
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	span.SetAttributes(attrs...)
}

// TraceID returns the hex-encoded trace ID from the context, or an empty
// string if no valid span context is present.
//
// # Example
//
//	logger.Info("run complete", slog.String("trace_id", telemetry.TraceID(ctx)))
//
// # Thread Safety
//
//	Safe for concurrent use.
func TraceID(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return ""
	}
	return spanCtx.TraceID().String()
}

// HasActiveSpan returns true if the context contains a valid, recording
// span. Useful for conditional instrumentation.
//
// # Thread Safety
//
//	Safe for concurrent use.
func HasActiveSpan(ctx context.Context) bool {
	span := trace.SpanFromContext(ctx)
	return span.SpanContext().IsValid() && span.IsRecording()
}
