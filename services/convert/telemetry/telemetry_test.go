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
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestFromEnv(t *testing.T) {
	t.Setenv("REPORTBRIDGE_ENV", "")
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("REPORTBRIDGE_METRICS_STDOUT", "")

	s := FromEnv()
	assert.Equal(t, "reportbridge", s.Service)
	assert.Equal(t, "development", s.Environment)
	assert.Equal(t, "none", s.Traces)
	assert.Equal(t, "localhost:4317", s.OTLPEndpoint)
	assert.False(t, s.MetricsStdout)

	t.Setenv("REPORTBRIDGE_ENV", "production")
	t.Setenv("OTEL_TRACES_EXPORTER", "stdout")
	t.Setenv("REPORTBRIDGE_METRICS_STDOUT", "true")
	s = FromEnv()
	assert.Equal(t, "production", s.Environment)
	assert.Equal(t, "stdout", s.Traces)
	assert.True(t, s.MetricsStdout)
}

func TestSetup_UnknownTraceExporter(t *testing.T) {
	_, err := Setup(context.Background(), Settings{Service: "test", Traces: "zipkin"})
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestSetup_ServesRegistry(t *testing.T) {
	tel, err := Setup(context.Background(), Settings{Service: "test", Traces: "none"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "reportbridge_test_total", Help: "test"})
	require.NoError(t, tel.Registry.Register(counter))
	counter.Inc()

	otelCounter, err := tel.MeterProvider.Meter("test").Int64Counter("reportbridge_otel_test")
	require.NoError(t, err)
	otelCounter.Add(context.Background(), 3)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "reportbridge_test_total 1")
	assert.Contains(t, string(body), "reportbridge_otel_test")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestSetup_RegistriesAreIndependent(t *testing.T) {
	a, err := Setup(context.Background(), Settings{Service: "a"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	b, err := Setup(context.Background(), Settings{Service: "b"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Shutdown(context.Background()) })

	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "reportbridge_shared_total", Help: "test"})
	require.NoError(t, a.Registry.Register(c))
	assert.NoError(t, b.Registry.Register(c))
}

func TestLoggerWithTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	t.Run("no span", func(t *testing.T) {
		buf.Reset()
		LoggerWithTrace(context.Background(), logger).Info("hello")
		assert.NotContains(t, buf.String(), "trace_id")
	})

	t.Run("nil logger", func(t *testing.T) {
		assert.NotNil(t, LoggerWithTrace(context.Background(), nil))
	})

	t.Run("with span", func(t *testing.T) {
		buf.Reset()
		tp := sdktrace.NewTracerProvider()
		defer func() { _ = tp.Shutdown(context.Background()) }()

		ctx, span := tp.Tracer("test").Start(context.Background(), "op")
		defer span.End()

		LoggerWithTrace(ctx, logger).Info("hello")
		assert.Contains(t, buf.String(), `"trace_id":"`+span.SpanContext().TraceID().String()+`"`)
		assert.Contains(t, buf.String(), "span_id")
	})
}
