// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package strategy

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/AleutianAI/ReportBridge/services/convert/converter"
	"github.com/AleutianAI/ReportBridge/services/convert/datatypes"
)

// =============================================================================
// Pipeline metrics
// =============================================================================

// pipelineMetrics holds the collectors of one FallbackStrategy.
//
// Prometheus collectors are registered with the Registerer given through
// WithRegisterer; without one they count but are never exported. Validator
// runs are recorded through the otel meter given through WithMeterProvider.
// Validators themselves stay free of side effects.
type pipelineMetrics struct {
	conversions    *prometheus.CounterVec
	fallbacks      *prometheus.CounterVec
	confidence     *prometheus.HistogramVec
	externalCall   *prometheus.HistogramVec
	needsReview    *prometheus.CounterVec
	retries        *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	breakerState   *prometheus.GaugeVec
	validations    metric.Int64Counter
	validationTime metric.Float64Histogram
	findings       metric.Int64Counter
}

func newPipelineMetrics(reg prometheus.Registerer, mp metric.MeterProvider) *pipelineMetrics {
	m := &pipelineMetrics{
		// Labels: kind, strategy
		conversions: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reportbridge",
			Subsystem: "strategy",
			Name:      "conversions_total",
			Help:      "Total conversions by expression kind and strategy used",
		}, []string{"kind", "strategy"})),

		// Labels: kind, trigger
		fallbacks: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reportbridge",
			Subsystem: "strategy",
			Name:      "fallbacks_total",
			Help:      "Total fallbacks by expression kind and trigger",
		}, []string{"kind", "trigger"})),

		confidence: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reportbridge",
			Subsystem: "strategy",
			Name:      "confidence",
			Help:      "Distribution of final conversion confidence",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1.0},
		}, []string{"kind"})),

		// Labels: kind, status (success, error, transient, timeout, cancelled, unsuccessful, circuit_open)
		externalCall: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reportbridge",
			Subsystem: "strategy",
			Name:      "external_call_duration_seconds",
			Help:      "External converter call latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"kind", "status"})),

		needsReview: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reportbridge",
			Subsystem: "strategy",
			Name:      "needs_review_total",
			Help:      "Total results flagged for human review",
		}, []string{"kind"})),

		retries: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reportbridge",
			Subsystem: "strategy",
			Name:      "retries_total",
			Help:      "Total external converter retries",
		}, []string{"kind"})),

		// Labels: kind, result (hit, miss)
		cacheLookups: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reportbridge",
			Subsystem: "strategy",
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by result",
		}, []string{"kind", "result"})),

		// 0 closed, 1 open, 2 half-open
		breakerState: register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "reportbridge",
			Subsystem: "strategy",
			Name:      "breaker_state",
			Help:      "External converter circuit breaker state",
		}, []string{"kind"})),
	}
	m.initValidatorInstruments(mp)
	return m
}

// register adds c to reg. A reload builds a new strategy against the same
// registry, so an identical collector that is already registered is reused.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *pipelineMetrics) initValidatorInstruments(mp metric.MeterProvider) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter("reportbridge.validate")
	fallback := noop.Meter{}

	var err error
	if m.validations, err = meter.Int64Counter(
		"reportbridge_validations_total",
		metric.WithDescription("Validator runs by validator and outcome"),
	); err != nil {
		m.validations, _ = fallback.Int64Counter("")
	}
	if m.validationTime, err = meter.Float64Histogram(
		"reportbridge_validation_duration_seconds",
		metric.WithDescription("Validator run duration by validator"),
		metric.WithUnit("s"),
	); err != nil {
		m.validationTime, _ = fallback.Float64Histogram("")
	}
	if m.findings, err = meter.Int64Counter(
		"reportbridge_validation_findings_total",
		metric.WithDescription("Validator findings by validator and severity"),
	); err != nil {
		m.findings, _ = fallback.Int64Counter("")
	}
}

// =============================================================================
// Recording helpers
// =============================================================================

func (m *pipelineMetrics) recordConversion(result datatypes.ConversionResult) {
	kind := result.Kind.String()
	m.conversions.WithLabelValues(kind, string(result.Strategy)).Inc()
	m.confidence.WithLabelValues(kind).Observe(result.Confidence)
	if result.FallbackApplied {
		m.fallbacks.WithLabelValues(kind, string(result.FallbackTrigger)).Inc()
	}
	if result.NeedsReview {
		m.needsReview.WithLabelValues(kind).Inc()
	}
}

func (m *pipelineMetrics) recordExternalCall(kind datatypes.ExpressionKind, status string, duration time.Duration) {
	m.externalCall.WithLabelValues(kind.String(), status).Observe(duration.Seconds())
}

func (m *pipelineMetrics) recordOutcome(kind datatypes.ExpressionKind, out converter.Outcome) {
	m.recordExternalCall(kind, out.Status.String(), out.Duration)
}

func (m *pipelineMetrics) recordRetry(kind datatypes.ExpressionKind) {
	m.retries.WithLabelValues(kind.String()).Inc()
}

func (m *pipelineMetrics) recordCacheLookup(kind datatypes.ExpressionKind, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(kind.String(), result).Inc()
}

func (m *pipelineMetrics) recordBreakerState(kind datatypes.ExpressionKind, state CircuitState) {
	m.breakerState.WithLabelValues(kind.String()).Set(float64(state))
}

// recordValidation records one validator run.
func (m *pipelineMetrics) recordValidation(validator string, out datatypes.ValidationOutcome, duration time.Duration) {
	ctx := context.Background()
	v := attribute.String("validator", validator)

	m.validations.Add(ctx, 1, metric.WithAttributes(v, attribute.Bool("valid", out.IsValid)))
	m.validationTime.Record(ctx, duration.Seconds(), metric.WithAttributes(v))
	if n := len(out.Issues); n > 0 {
		m.findings.Add(ctx, int64(n), metric.WithAttributes(v, attribute.String("severity", "issue")))
	}
	if n := len(out.Warnings); n > 0 {
		m.findings.Add(ctx, int64(n), metric.WithAttributes(v, attribute.String("severity", "warning")))
	}
}
