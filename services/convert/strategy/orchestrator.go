// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package strategy sequences validation, the external converter and the
// deterministic fallbacks into one total conversion pipeline.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/ReportBridge/services/convert/converter"
	"github.com/AleutianAI/ReportBridge/services/convert/datatypes"
	"github.com/AleutianAI/ReportBridge/services/convert/fallback"
	"github.com/AleutianAI/ReportBridge/services/convert/validate"
)

// ErrUnhandledKind is returned at construction when an expression kind has no pipeline.
var ErrUnhandledKind = errors.New("no pipeline for expression kind")

// pipeline is the validator and fallback pair of one expression kind.
type pipeline struct {
	kind     datatypes.ExpressionKind
	timeout  time.Duration
	breaker  *Breaker
	validate func(text string, ctx datatypes.ConversionContext) datatypes.ValidationOutcome
	safe     func(req datatypes.ConversionRequest) (string, error)
	manual   func(req datatypes.ConversionRequest) string
}

// Option configures a FallbackStrategy.
type Option func(*FallbackStrategy)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *FallbackStrategy) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithResultSink appends every finished result to sink.
func WithResultSink(sink ResultSink) Option {
	return func(s *FallbackStrategy) {
		s.sink = sink
	}
}

// WithProgressSink reports every finished result to sink.
func WithProgressSink(sink ProgressSink) Option {
	return func(s *FallbackStrategy) {
		if sink != nil {
			s.progress = sink
		}
	}
}

// WithRegisterer registers the pipeline's prometheus collectors with reg.
// Without it the collectors are private to the instance.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *FallbackStrategy) {
		s.registerer = reg
	}
}

// WithMeterProvider records validator runs through mp. Defaults to the
// global otel meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *FallbackStrategy) {
		if mp != nil {
			s.meterProvider = mp
		}
	}
}

// FallbackStrategy is the conversion orchestrator.
//
// Description:
//
//	Runs each request through source pre-validation, the external
//	converter and target post-validation, and substitutes a deterministic
//	fallback whenever the external output cannot be trusted. Convert never
//	fails: every path ends in a validated ConversionResult.
//
//	External calls go through, in order: the circuit breaker, the rate
//	limiter, a bounded semaphore, singleflight coalescing, an optional
//	response cache and a per-attempt timeout, with exponential backoff
//	between retries of transient errors.
//
// Thread Safety: Safe for concurrent use. The configuration is read-only
// for the lifetime of the instance.
type FallbackStrategy struct {
	config    StrategyConfig
	logger    *slog.Logger
	sink      ResultSink
	progress  ProgressSink
	generator *fallback.Generator
	source    *validate.SourceExpressionValidator
	pipelines map[datatypes.ExpressionKind]*pipeline

	semaphore chan struct{}
	limiter   *rate.Limiter
	cache     *ResponseCache
	inflight  singleflight.Group

	registerer    prometheus.Registerer
	meterProvider metric.MeterProvider
	metrics       *pipelineMetrics
}

// NewFallbackStrategy creates a pipeline instance.
//
// Inputs:
//
//	config - Thresholds and toggles. Must pass Validate.
//	opts - Logger, result sink and progress sink.
//
// Outputs:
//
//	*FallbackStrategy - Ready-to-use pipeline.
//	error - Invalid config, or an expression kind without a pipeline.
func NewFallbackStrategy(config StrategyConfig, opts ...Option) (*FallbackStrategy, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &FallbackStrategy{
		config:    config,
		logger:    slog.Default(),
		progress:  noopProgress{},
		generator: fallback.NewGenerator(),
		source:    validate.NewSourceExpressionValidator(validate.WithComplexityWarning(config.SourceComplexityWarning)),
		semaphore:     make(chan struct{}, config.MaxConcurrentRequests),
		meterProvider: otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics = newPipelineMetrics(s.registerer, s.meterProvider)

	if config.RequestsPerSecond > 0 {
		burst := int(math.Ceil(config.RequestsPerSecond))
		s.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}
	if config.CacheTTL > 0 {
		s.cache = NewResponseCache(config.CacheTTL, config.CacheMaxEntries)
	}

	pipelines, err := s.buildPipelines()
	if err != nil {
		return nil, err
	}
	s.pipelines = pipelines
	return s, nil
}

func (s *FallbackStrategy) buildPipelines() (map[datatypes.ExpressionKind]*pipeline, error) {
	exprValidator := validate.NewTargetExpressionValidator()
	queryValidator := validate.NewTargetQueryValidator(s.config.FoldingPreference)
	strictColumns := s.config.StrictColumns

	pipelines := make(map[datatypes.ExpressionKind]*pipeline, len(datatypes.AllExpressionKinds()))
	for _, kind := range datatypes.AllExpressionKinds() {
		p := &pipeline{kind: kind}
		switch kind {
		case datatypes.KindCalculationExpr:
			p.timeout = s.config.ExpressionTimeout
			p.validate = func(text string, ctx datatypes.ConversionContext) datatypes.ValidationOutcome {
				ctx.StrictColumns = ctx.StrictColumns || strictColumns
				return exprValidator.Validate(text, ctx)
			}
			p.validate = s.observed(exprValidator.Name(), p.validate)
			p.safe = func(req datatypes.ConversionRequest) (string, error) {
				return s.generator.SafeTargetExpr(req.SourceText, req.Context), nil
			}
			p.manual = func(datatypes.ConversionRequest) string {
				return s.generator.ManualExprTemplate()
			}
		case datatypes.KindRetrievalQuery:
			p.timeout = s.config.QueryTimeout
			p.validate = s.observed(queryValidator.Name(), queryValidator.Validate)
			p.safe = func(req datatypes.ConversionRequest) (string, error) {
				return s.generator.SafeTargetQuery(req.Context)
			}
			p.manual = func(req datatypes.ConversionRequest) string {
				return s.generator.ManualTemplate(req.Context)
			}
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnhandledKind, kind)
		}

		if s.config.BreakerFailureThreshold > 0 {
			p.breaker = NewBreaker(BreakerConfig{
				FailureThreshold: s.config.BreakerFailureThreshold,
				OpenTimeout:      s.config.BreakerOpenTimeout,
				OnStateChange:    s.breakerStateChanged(kind),
			})
			s.metrics.recordBreakerState(kind, CircuitClosed)
		}
		pipelines[kind] = p
	}
	return pipelines, nil
}

// observed wraps a target validator so each run is recorded.
func (s *FallbackStrategy) observed(name string, fn func(string, datatypes.ConversionContext) datatypes.ValidationOutcome) func(string, datatypes.ConversionContext) datatypes.ValidationOutcome {
	return func(text string, ctx datatypes.ConversionContext) datatypes.ValidationOutcome {
		start := time.Now()
		out := fn(text, ctx)
		s.metrics.recordValidation(name, out, time.Since(start))
		return out
	}
}

func (s *FallbackStrategy) breakerStateChanged(kind datatypes.ExpressionKind) func(from, to CircuitState) {
	return func(from, to CircuitState) {
		s.metrics.recordBreakerState(kind, to)
		s.logger.Warn("converter circuit breaker changed state",
			slog.String("kind", kind.String()),
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
	}
}

// Config returns the configuration of this instance.
func (s *FallbackStrategy) Config() StrategyConfig {
	return s.config
}

// CacheStats returns the response cache hit rate and size. Both are 0 when caching is off.
func (s *FallbackStrategy) CacheStats() (hitRate float64, size int) {
	if s.cache == nil {
		return 0, 0
	}
	return s.cache.HitRate(), s.cache.Size()
}

// =============================================================================
// Convert
// =============================================================================

// conversion is the mutable state of one Convert call.
type conversion struct {
	req        datatypes.ConversionRequest
	p          *pipeline
	run        *run
	result     datatypes.ConversionResult
	complexity int
}

// Convert converts one request.
//
// Description:
//
//	Empty source text is a trivial success. Otherwise the source is
//	pre-validated (calculation expressions only), the external converter
//	is called and its output validated. A structurally invalid or missing
//	output is replaced by the safe fallback, or the manual template when
//	the safe form is disabled, unavailable or rejected. Low confidence
//	only flags a valid result for review.
//
// Inputs:
//
//	ctx - Cancellation and deadline. Cancellation leads to a fallback, never an error.
//	req - The request. A Kind outside the closed set ends in the manual
//	      template with an issue; the converter is not called.
//	conv - The external converter. A nil converter behaves as a failing one.
//
// Outputs:
//
//	datatypes.ConversionResult - Always Validated. Also appended to the
//	result sink and reported to the progress sink.
//
// Thread Safety: Safe for concurrent use.
func (s *FallbackStrategy) Convert(ctx context.Context, req datatypes.ConversionRequest, conv converter.Converter) datatypes.ConversionResult {
	if ctx == nil {
		ctx = context.Background()
	}
	p, ok := s.pipelines[req.Kind]

	start := time.Now()
	ctx, span := otel.Tracer("strategy").Start(ctx, "strategy.FallbackStrategy.Convert",
		trace.WithAttributes(
			attribute.String("kind", req.Kind.String()),
			attribute.Int("source_length", len(req.SourceText)),
		),
	)
	defer span.End()

	c := &conversion{req: req, p: p, run: newRun(), result: newResult(req)}
	if ok {
		s.execute(ctx, c, conv)
	} else {
		s.rejectKind(c)
	}
	result := c.finish(start)

	span.SetAttributes(
		attribute.String("strategy", string(result.Strategy)),
		attribute.Float64("confidence", result.Confidence),
		attribute.Bool("fallback_applied", result.FallbackApplied),
		attribute.String("fallback_trigger", string(result.FallbackTrigger)),
		attribute.Bool("needs_review", result.NeedsReview),
		attribute.Int("attempts", result.Attempts),
	)

	s.publish(result)
	return result
}

func newResult(req datatypes.ConversionRequest) datatypes.ConversionResult {
	r := datatypes.ConversionResult{
		ID:         uuid.NewString(),
		RequestID:  req.ID,
		SourceText: req.SourceText,
		Kind:       req.Kind,
		Issues:     []string{},
		Warnings:   []string{},
		Metadata:   map[string]string{},
		CreatedAt:  time.Now().UTC(),
	}
	if req.Context.EntityName != "" {
		r.Metadata[datatypes.MetaEntity] = req.Context.EntityName
	}
	return r
}

func (s *FallbackStrategy) execute(ctx context.Context, c *conversion, conv converter.Converter) {
	req := c.req

	if req.IsTrivial() {
		c.result.Strategy = datatypes.StrategyFullyValidatedExternal
		c.result.Confidence = 1.0
		c.run.advance(StateDone)
		return
	}

	if req.Kind == datatypes.KindCalculationExpr {
		if s.preValidate(c) {
			return
		}
	}
	c.run.advance(StatePreValidated)

	if req.Kind == datatypes.KindCalculationExpr && c.complexity > s.config.ComplexityThreshold {
		c.result.Warnings = append(c.result.Warnings,
			fmt.Sprintf("Source complexity %d exceeds threshold %d", c.complexity, s.config.ComplexityThreshold))
		if s.config.FallbackOnHighComplexity {
			c.run.mark(MarkComplexityExceeded)
			s.applyFallback(c, datatypes.TriggerComplexityExceeded)
			return
		}
	}

	ext := s.callExternal(ctx, c.p, req, conv)
	c.run.advance(StateExternalAttempted)
	c.result.Attempts = ext.attempts
	if ext.cached {
		c.run.mark(MarkCacheHit)
		c.result.Metadata[datatypes.MetaCacheHit] = "true"
	}

	if ext.outcome.Status != converter.StatusSucceeded {
		s.externalFailed(c, ext)
		return
	}

	s.postValidate(c, ext.outcome.Response)
}

// rejectKind ends a request whose kind has no pipeline in the manual template.
func (s *FallbackStrategy) rejectKind(c *conversion) {
	c.result.Issues = append(c.result.Issues, fmt.Sprintf("Unsupported expression kind %s", c.req.Kind))
	c.run.advance(StateFallbackApplied)
	c.run.mark(MarkManualTemplate)
	c.result.FallbackApplied = true
	c.result.FallbackTrigger = datatypes.TriggerValidationFailed
	c.result.NeedsReview = true
	c.result.Confidence = 1.0
	c.result.ResultText = s.generator.ManualExprTemplate()
	c.result.Strategy = datatypes.StrategyManualTemplate
	c.run.advance(StateDone)

	s.logger.Warn("unsupported expression kind, using manual template",
		slog.String("request_id", c.req.ID),
		slog.String("kind", c.req.Kind.String()),
	)
}

// preValidate runs the source validator and reports whether the conversion
// already ended in a fallback.
func (s *FallbackStrategy) preValidate(c *conversion) bool {
	if !s.config.EnablePreValidation {
		c.complexity = s.source.Complexity(c.req.SourceText)
		c.result.Metadata[datatypes.MetaComplexityScore] = strconv.Itoa(c.complexity)
		return false
	}

	start := time.Now()
	pre := s.source.Validate(c.req.SourceText)
	s.metrics.recordValidation(s.source.Name(), pre, time.Since(start))
	c.complexity = pre.ComplexityScore
	c.result.Metadata[datatypes.MetaComplexityScore] = strconv.Itoa(c.complexity)
	c.result.Warnings = append(c.result.Warnings, pre.Warnings...)
	if pre.IsValid {
		return false
	}

	c.result.Issues = append(c.result.Issues, pre.Issues...)
	c.run.mark(MarkPreValidationFailed)
	s.logger.Debug("source pre-validation failed",
		slog.String("request_id", c.req.ID),
		slog.String("issues", strings.Join(pre.Issues, "; ")),
	)
	if !s.config.FallbackOnValidationFailure {
		return false
	}
	s.applyFallback(c, datatypes.TriggerValidationFailed)
	return true
}

func (s *FallbackStrategy) externalFailed(c *conversion, ext externalResult) {
	out := ext.outcome
	c.run.mark(MarkExternalFailed)
	c.result.Issues = append(c.result.Issues,
		fmt.Sprintf("External converter failed (%s): %v", out.Status, out.Err))
	c.result.Metadata[datatypes.MetaExternalError] = out.Err.Error()
	if model := out.Response.Model; model != "" {
		c.result.Metadata[datatypes.MetaConverterModel] = model
	}

	trigger := datatypes.TriggerExternalError
	if ext.exhausted {
		trigger = datatypes.TriggerRetriesExhausted
	}

	s.logger.Warn("external converter failed, applying fallback",
		slog.String("request_id", c.req.ID),
		slog.String("kind", c.req.Kind.String()),
		slog.String("status", out.Status.String()),
		slog.Int("attempts", ext.attempts),
		slog.String("trigger", string(trigger)),
		slog.String("error", out.Err.Error()),
	)
	s.applyFallback(c, trigger)
}

func (s *FallbackStrategy) postValidate(c *conversion, resp converter.Response) {
	if resp.Model != "" {
		c.result.Metadata[datatypes.MetaConverterModel] = resp.Model
	}

	text := strings.TrimSpace(resp.Text)
	confidence := 0.0
	if resp.Confidence == nil {
		c.result.Warnings = append(c.result.Warnings, "External converter reported no confidence score")
	} else {
		confidence = clampConfidence(*resp.Confidence)
		if confidence != *resp.Confidence {
			c.result.Warnings = append(c.result.Warnings,
				fmt.Sprintf("Reported confidence %v clamped to %.2f", *resp.Confidence, confidence))
		}
	}

	post := c.p.validate(text, c.req.Context)
	c.run.advance(StatePostValidated)
	c.recordOutputMetadata(post)

	if !post.IsValid {
		c.result.Issues = append(c.result.Issues, post.Issues...)
		c.result.Metadata[datatypes.MetaRejectedOutput] = text
		c.run.mark(MarkPostValidationFailed)
		s.logger.Info("external output failed validation, applying fallback",
			slog.String("request_id", c.req.ID),
			slog.String("kind", c.req.Kind.String()),
			slog.String("issues", strings.Join(post.Issues, "; ")),
		)
		s.applyFallback(c, datatypes.TriggerValidationFailed)
		return
	}

	c.result.ResultText = text
	c.result.Confidence = confidence
	c.result.Strategy = datatypes.StrategyFullyValidatedExternal
	if s.config.EnablePostValidation && len(post.Warnings) > 0 {
		c.result.Warnings = append(c.result.Warnings, post.Warnings...)
		c.result.Strategy = datatypes.StrategyExternalWithWarnings
	}

	// Low confidence never discards a structurally valid result.
	if confidence < s.config.ConfidenceThreshold && s.config.FallbackOnLowConfidence {
		c.result.NeedsReview = true
		c.result.FallbackTrigger = datatypes.TriggerLowConfidence
		c.result.Warnings = append(c.result.Warnings,
			fmt.Sprintf("Low confidence: %.2f (threshold %.2f)", confidence, s.config.ConfidenceThreshold))
		c.run.mark(MarkLowConfidence)
	}
	c.run.advance(StateDone)
}

// applyFallback replaces the result text with a deterministic template.
//
// The safe template is used when enabled for the trigger; a safe template
// that cannot be built or fails its own validator escalates to the manual
// template, which is accepted unconditionally.
func (s *FallbackStrategy) applyFallback(c *conversion, trigger datatypes.FallbackTrigger) {
	c.run.advance(StateFallbackApplied)
	c.result.FallbackApplied = true
	c.result.FallbackTrigger = trigger
	c.result.NeedsReview = true
	c.result.Confidence = 1.0

	useSafe := s.config.EnableSafeFallback && (s.fallbackEnabled(trigger) || !s.config.EnableManualTemplate)
	if useSafe {
		text, err := c.p.safe(c.req)
		if err == nil {
			check := c.p.validate(text, c.req.Context)
			if check.IsValid {
				c.result.ResultText = text
				c.result.Strategy = datatypes.StrategySafeFallback
				c.recordOutputMetadata(check)
				c.run.advance(StateDone)
				return
			}
			err = errors.New(strings.Join(check.Issues, "; "))
			c.run.mark(MarkSafeFallbackRejected)
		}
		c.result.Warnings = append(c.result.Warnings, fmt.Sprintf("Safe fallback unavailable: %v", err))
		s.logger.Warn("safe fallback unavailable, using manual template",
			slog.String("request_id", c.req.ID),
			slog.String("kind", c.req.Kind.String()),
			slog.String("error", err.Error()),
		)
	}

	c.run.mark(MarkManualTemplate)
	c.result.ResultText = c.p.manual(c.req)
	c.result.Strategy = datatypes.StrategyManualTemplate
	c.run.advance(StateDone)
}

func (s *FallbackStrategy) fallbackEnabled(trigger datatypes.FallbackTrigger) bool {
	switch trigger {
	case datatypes.TriggerValidationFailed:
		return s.config.FallbackOnValidationFailure
	case datatypes.TriggerExternalError, datatypes.TriggerRetriesExhausted:
		return s.config.FallbackOnExternalError
	case datatypes.TriggerComplexityExceeded:
		return s.config.FallbackOnHighComplexity
	case datatypes.TriggerLowConfidence:
		return s.config.FallbackOnLowConfidence
	default:
		return false
	}
}

func (c *conversion) recordOutputMetadata(v datatypes.ValidationOutcome) {
	if c.req.Kind != datatypes.KindRetrievalQuery {
		return
	}
	c.result.Metadata[datatypes.MetaPerformanceScore] = strconv.Itoa(v.PerformanceScore)
	c.result.Metadata[datatypes.MetaFoldingPreserved] = strconv.FormatBool(v.FoldingPreserved)
}

func (c *conversion) finish(start time.Time) datatypes.ConversionResult {
	r := c.result
	r.Validated = true
	r.Path = c.run.path
	r.Duration = time.Since(start)
	r.Metadata[datatypes.MetaAttempts] = strconv.Itoa(r.Attempts)
	r.Metadata[datatypes.MetaDurationMS] = strconv.FormatInt(r.Duration.Milliseconds(), 10)
	return r
}

func (s *FallbackStrategy) publish(result datatypes.ConversionResult) {
	s.metrics.recordConversion(result)

	if s.sink != nil {
		if err := s.sink.Append(result.Clone()); err != nil {
			s.logger.Warn("failed to append result to ledger",
				slog.String("result_id", result.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	s.progress.Record(result.Clone())

	level := slog.LevelDebug
	if result.FallbackApplied {
		level = slog.LevelInfo
	}
	s.logger.Log(context.Background(), level, "conversion finished",
		slog.String("result_id", result.ID),
		slog.String("kind", result.Kind.String()),
		slog.String("strategy", string(result.Strategy)),
		slog.Float64("confidence", result.Confidence),
		slog.Bool("needs_review", result.NeedsReview),
		slog.String("trigger", string(result.FallbackTrigger)),
		slog.Duration("duration", result.Duration),
	)
}

func clampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c) || c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

// =============================================================================
// External call
// =============================================================================

type externalResult struct {
	outcome   converter.Outcome
	attempts  int
	exhausted bool
	cached    bool
}

// callExternal runs the converter through cache, coalescing and retries.
//
// Identical in-flight requests share one external call. The shared call runs
// detached from any single caller's cancellation and stays bounded by the
// per-attempt timeout; each caller waits on it under its own ctx, so one
// caller giving up never fails the others.
func (s *FallbackStrategy) callExternal(ctx context.Context, p *pipeline, req datatypes.ConversionRequest, conv converter.Converter) externalResult {
	key := converterKey(conv) + "|" + RequestKey(req)

	if s.cache != nil {
		if resp, ok := s.cache.Get(key); ok {
			s.metrics.recordCacheLookup(p.kind, true)
			return externalResult{
				outcome: converter.Outcome{Status: converter.StatusSucceeded, Response: resp},
				cached:  true,
			}
		}
		s.metrics.recordCacheLookup(p.kind, false)
	}

	if err := ctx.Err(); err != nil {
		return externalResult{outcome: contextOutcome(ctx, err)}
	}

	shared := context.WithoutCancel(ctx)
	ch := s.inflight.DoChan(key, func() (interface{}, error) {
		ext := s.callWithRetry(shared, p, req, conv)
		if s.cache != nil && ext.outcome.Status == converter.StatusSucceeded {
			s.cache.Set(key, ext.outcome.Response)
		}
		return ext, nil
	})

	select {
	case res := <-ch:
		return res.Val.(externalResult)
	case <-ctx.Done():
		return externalResult{outcome: contextOutcome(ctx, ctx.Err())}
	}
}

// converterKey identifies a converter for caching and coalescing. Converters
// that implement Name() are identified by it, others by their dynamic type
// and, for pointer-like values, their address.
func converterKey(conv converter.Converter) string {
	if named, ok := conv.(interface{ Name() string }); ok {
		return named.Name()
	}
	v := reflect.ValueOf(conv)
	switch v.Kind() {
	case reflect.Pointer, reflect.Func, reflect.Map, reflect.Chan, reflect.UnsafePointer:
		return fmt.Sprintf("%T@%x", conv, v.Pointer())
	default:
		return fmt.Sprintf("%T", conv)
	}
}

// callWithRetry retries transient failures with exponential backoff.
// Timeouts and cancellations are never retried.
func (s *FallbackStrategy) callWithRetry(ctx context.Context, p *pipeline, req datatypes.ConversionRequest, conv converter.Converter) externalResult {
	var ext externalResult

	for attempt := 0; attempt <= s.config.MaxRetryAttempts; attempt++ {
		if attempt > 0 {
			backoff := s.config.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				ext.outcome = contextOutcome(ctx, ctx.Err())
				return ext
			case <-time.After(backoff):
			}
			s.metrics.recordRetry(p.kind)
		}

		ext.attempts++
		ext.outcome = s.attempt(ctx, p, req, conv, attempt)
		if !ext.outcome.Retryable() {
			return ext
		}

		s.logger.Debug("external converter attempt failed, retrying",
			slog.String("kind", p.kind.String()),
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", s.config.MaxRetryAttempts),
			slog.String("error", ext.outcome.Err.Error()),
		)
	}

	ext.exhausted = s.config.MaxRetryAttempts > 0
	return ext
}

// attempt performs one guarded external call under its own span.
func (s *FallbackStrategy) attempt(ctx context.Context, p *pipeline, req datatypes.ConversionRequest, conv converter.Converter, attempt int) converter.Outcome {
	ctx, span := otel.Tracer("strategy").Start(ctx, "strategy.FallbackStrategy.attempt",
		trace.WithAttributes(
			attribute.String("kind", p.kind.String()),
			attribute.Int("attempt", attempt),
		),
	)
	defer span.End()

	out := s.guardedCall(ctx, p, req, conv)
	span.SetAttributes(attribute.String("status", out.Status.String()))
	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Status.String())
	}
	return out
}

func (s *FallbackStrategy) guardedCall(ctx context.Context, p *pipeline, req datatypes.ConversionRequest, conv converter.Converter) converter.Outcome {
	if p.breaker != nil && !p.breaker.Allow() {
		s.metrics.recordExternalCall(p.kind, "circuit_open", 0)
		return converter.Outcome{Status: converter.StatusFailed, Err: ErrCircuitOpen}
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return contextOutcome(ctx, err)
		}
	}

	select {
	case s.semaphore <- struct{}{}:
		defer func() { <-s.semaphore }()
	case <-ctx.Done():
		return contextOutcome(ctx, ctx.Err())
	}

	out := converter.Call(ctx, conv, req, p.timeout)
	s.metrics.recordOutcome(p.kind, out)
	if p.breaker != nil && out.Status != converter.StatusCancelled {
		p.breaker.Record(out.Status == converter.StatusSucceeded)
	}
	return out
}

// contextOutcome classifies a wait that ended before the converter was called.
func contextOutcome(ctx context.Context, err error) converter.Outcome {
	if errors.Is(ctx.Err(), context.Canceled) {
		return converter.Outcome{Status: converter.StatusCancelled, Err: fmt.Errorf("converter call cancelled: %w", err)}
	}
	return converter.Outcome{Status: converter.StatusTimedOut, Err: fmt.Errorf("converter call timed out: %w", err)}
}
