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
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/ReportBridge/services/convert/datatypes"
)

// ProgressSink receives every finished conversion.
//
// Implementations must be safe for concurrent use. Record must not block.
type ProgressSink interface {
	Record(result datatypes.ConversionResult)
}

// ResultSink persists finished conversions. A failing Append is logged
// and never changes the returned result.
type ResultSink interface {
	Append(result datatypes.ConversionResult) error
}

type noopProgress struct{}

func (noopProgress) Record(datatypes.ConversionResult) {}

// ProgressSnapshot is a point-in-time view of a ProgressTracker.
type ProgressSnapshot struct {
	Total           int                                `json:"total"`
	Completed       int                                `json:"completed"`
	FallbackApplied int                                `json:"fallback_applied"`
	NeedsReview     int                                `json:"needs_review"`
	ByStrategy      map[datatypes.Strategy]int         `json:"by_strategy"`
	ByTrigger       map[datatypes.FallbackTrigger]int  `json:"by_trigger"`
	ByBucket        map[datatypes.ConfidenceBucket]int `json:"by_bucket"`
	Elapsed         time.Duration                      `json:"elapsed_ns"`
}

// ProgressTracker counts conversions for one job.
//
// Description:
//
//	The caller owns the lifecycle: Begin before the job, Snapshot or
//	LogReport while or after it runs. Nothing is process-wide.
//
// Thread Safety: Safe for concurrent use.
type ProgressTracker struct {
	mu       sync.Mutex
	started  time.Time
	snapshot ProgressSnapshot
}

// NewProgressTracker creates an empty tracker.
func NewProgressTracker() *ProgressTracker {
	t := &ProgressTracker{}
	t.Begin(0)
	return t
}

// Begin resets the tracker for a job of total requests. total may be 0 when unknown.
func (t *ProgressTracker) Begin(total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = time.Now()
	t.snapshot = ProgressSnapshot{
		Total:      total,
		ByStrategy: make(map[datatypes.Strategy]int),
		ByTrigger:  make(map[datatypes.FallbackTrigger]int),
		ByBucket:   make(map[datatypes.ConfidenceBucket]int),
	}
}

// Record implements ProgressSink.
func (t *ProgressTracker) Record(result datatypes.ConversionResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &t.snapshot
	s.Completed++
	s.ByStrategy[result.Strategy]++
	s.ByBucket[datatypes.BucketFor(result.Confidence)]++
	if result.FallbackTrigger != datatypes.TriggerNone {
		s.ByTrigger[result.FallbackTrigger]++
	}
	if result.FallbackApplied {
		s.FallbackApplied++
	}
	if result.NeedsReview {
		s.NeedsReview++
	}
}

// Snapshot returns a copy of the current counters.
func (t *ProgressTracker) Snapshot() ProgressSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.snapshot
	out.Elapsed = time.Since(t.started)
	out.ByStrategy = make(map[datatypes.Strategy]int, len(t.snapshot.ByStrategy))
	for k, v := range t.snapshot.ByStrategy {
		out.ByStrategy[k] = v
	}
	out.ByTrigger = make(map[datatypes.FallbackTrigger]int, len(t.snapshot.ByTrigger))
	for k, v := range t.snapshot.ByTrigger {
		out.ByTrigger[k] = v
	}
	out.ByBucket = make(map[datatypes.ConfidenceBucket]int, len(t.snapshot.ByBucket))
	for k, v := range t.snapshot.ByBucket {
		out.ByBucket[k] = v
	}
	return out
}

// LogReport writes the current counters as one structured log line.
func (t *ProgressTracker) LogReport(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	s := t.Snapshot()
	logger.Info("conversion progress",
		slog.Int("total", s.Total),
		slog.Int("completed", s.Completed),
		slog.Int("fallback_applied", s.FallbackApplied),
		slog.Int("needs_review", s.NeedsReview),
		slog.Int("fully_validated", s.ByStrategy[datatypes.StrategyFullyValidatedExternal]),
		slog.Int("with_warnings", s.ByStrategy[datatypes.StrategyExternalWithWarnings]),
		slog.Int("safe_fallback", s.ByStrategy[datatypes.StrategySafeFallback]),
		slog.Int("manual_template", s.ByStrategy[datatypes.StrategyManualTemplate]),
		slog.Duration("elapsed", s.Elapsed),
	)
}
