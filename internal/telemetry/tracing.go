/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package telemetry configures OpenTelemetry tracing for the alerting engine.
//
// Custom span attributes use the `vigil.` prefix.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "vigil.calder-ops.dev/engine"
)

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider initialises the OTel trace provider with an OTLP gRPC exporter.
// If endpoint is empty, tracing is disabled (noop provider is used).
// Returns a shutdown function that must be called on application exit.
func InitTraceProvider(ctx context.Context, endpoint string, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		// No-op: tracing disabled
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(), // TLS configurable via env (OTEL_EXPORTER_OTLP_INSECURE)
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("vigild"),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// --- Span helpers ---

// StartEvaluationSpan creates the parent span for one evaluation pass.
func StartEvaluationSpan(ctx context.Context, ruleCount int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "engine.evaluate",
		trace.WithAttributes(
			attribute.Int("vigil.rule_count", ruleCount),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartDispatchSpan creates a child span for action dispatch of one alert.
func StartDispatchSpan(ctx context.Context, alertID string, actionCount int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "engine.dispatch",
		trace.WithAttributes(
			attribute.String("vigil.alert_id", alertID),
			attribute.Int("vigil.action_count", actionCount),
		),
	)
}

// StartSampleSpan creates a span for one collection pass of a metric source.
func StartSampleSpan(ctx context.Context, category string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "engine.sample",
		trace.WithAttributes(
			attribute.String("vigil.category", category),
		),
	)
}

// EndEvaluationSpan enriches the evaluation span with outcome counts.
func EndEvaluationSpan(span trace.Span, fired, errored int) {
	span.SetAttributes(
		attribute.Int("vigil.rules_fired", fired),
		attribute.Int("vigil.rules_errored", errored),
	)
	span.End()
}
