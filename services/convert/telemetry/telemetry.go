// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires tracing and metrics for the serve command.
//
// Setup owns one prometheus registry. The pipeline's collectors, the otel
// validator instruments and the Go runtime collectors all land in it, and
// Handler exposes it on /metrics. Spans go to the global tracer provider
// because the pipeline starts them through otel.Tracer.
//
// Environment variables read by FromEnv:
//
//   - REPORTBRIDGE_ENV: deployment environment (default: development)
//   - OTEL_TRACES_EXPORTER: otlp, stdout or none (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: collector address (default: localhost:4317)
//   - REPORTBRIDGE_METRICS_STDOUT: also print otel metrics to stdout when "true"
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// ErrUnknownExporter is returned for an unsupported trace exporter name.
var ErrUnknownExporter = errors.New("telemetry: unknown trace exporter")

// Settings selects where telemetry goes.
type Settings struct {
	Service     string
	Environment string

	// Traces is "otlp", "stdout" or "none".
	Traces       string
	OTLPEndpoint string

	// MetricsStdout adds a periodic stdout reader next to /metrics.
	MetricsStdout bool
}

// FromEnv reads Settings from the environment.
func FromEnv() Settings {
	return Settings{
		Service:       "reportbridge",
		Environment:   envOr("REPORTBRIDGE_ENV", "development"),
		Traces:        envOr("OTEL_TRACES_EXPORTER", "none"),
		OTLPEndpoint:  envOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		MetricsStdout: os.Getenv("REPORTBRIDGE_METRICS_STDOUT") == "true",
	}
}

// Telemetry is the set of providers built by Setup.
type Telemetry struct {
	// Registry receives every prometheus collector of the process.
	Registry *prometheus.Registry

	// MeterProvider exports otel instruments into Registry.
	MeterProvider metric.MeterProvider

	shutdown []func(context.Context) error
}

// Setup builds the registry and meter provider and installs the tracer.
//
// Inputs:
//
//	ctx - Used to dial the OTLP collector.
//	s - Exporter selection. Use FromEnv for the defaults.
//
// Outputs:
//
//	*Telemetry - Call Shutdown when done.
//	error - Unknown exporter, or an exporter that could not be created.
func Setup(ctx context.Context, s Settings) (*Telemetry, error) {
	res := resource.NewWithAttributes("",
		attribute.String("service.name", s.Service),
		attribute.String("deployment.environment", s.Environment),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	exporter, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("prometheus exporter: %w", err)
	}
	readers := []sdkmetric.Option{sdkmetric.WithResource(res), sdkmetric.WithReader(exporter)}
	if s.MetricsStdout {
		out, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("stdout metric exporter: %w", err)
		}
		readers = append(readers, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(out)))
	}
	mp := sdkmetric.NewMeterProvider(readers...)
	t := &Telemetry{Registry: reg, MeterProvider: mp, shutdown: []func(context.Context) error{mp.Shutdown}}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	spans, err := spanExporter(ctx, s)
	if err != nil {
		_ = t.Shutdown(ctx)
		return nil, err
	}
	if spans != nil {
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(spans), sdktrace.WithResource(res))
		otel.SetTracerProvider(tp)
		t.shutdown = append(t.shutdown, tp.Shutdown)
	}
	return t, nil
}

// spanExporter returns nil when tracing is off.
func spanExporter(ctx context.Context, s Settings) (sdktrace.SpanExporter, error) {
	switch s.Traces {
	case "", "none":
		return nil, nil
	case "otlp":
		exp, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(s.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("otlp exporter: %w", err)
		}
		return exp, nil
	case "stdout":
		return stdouttrace.New()
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, s.Traces)
	}
}

// Handler serves Registry in the prometheus text format.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.Registry, promhttp.HandlerOpts{Registry: t.Registry})
}

// Shutdown flushes and stops every provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range t.shutdown {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}

// LoggerWithTrace adds the trace and span IDs of ctx to logger.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
