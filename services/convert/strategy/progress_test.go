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
	"bytes"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/ReportBridge/services/convert/datatypes"
)

func TestProgressTracker(t *testing.T) {
	tracker := NewProgressTracker()
	tracker.Begin(3)

	var wg sync.WaitGroup
	results := []datatypes.ConversionResult{
		{Strategy: datatypes.StrategyFullyValidatedExternal, Confidence: 0.9},
		{Strategy: datatypes.StrategyFullyValidatedExternal, Confidence: 0.6, NeedsReview: true, FallbackTrigger: datatypes.TriggerLowConfidence},
		{Strategy: datatypes.StrategySafeFallback, Confidence: 1, NeedsReview: true, FallbackApplied: true, FallbackTrigger: datatypes.TriggerExternalError},
	}
	for _, r := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.Record(r)
		}()
	}
	wg.Wait()

	snap := tracker.Snapshot()
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 3, snap.Completed)
	assert.Equal(t, 1, snap.FallbackApplied)
	assert.Equal(t, 2, snap.NeedsReview)
	assert.Equal(t, 2, snap.ByStrategy[datatypes.StrategyFullyValidatedExternal])
	assert.Equal(t, 1, snap.ByTrigger[datatypes.TriggerExternalError])
	assert.Equal(t, 1, snap.ByTrigger[datatypes.TriggerLowConfidence])
	assert.Equal(t, 2, snap.ByBucket[datatypes.BucketHigh])
	assert.Equal(t, 1, snap.ByBucket[datatypes.BucketMedium])

	snap.ByStrategy[datatypes.StrategySafeFallback] = 99
	assert.Equal(t, 1, tracker.Snapshot().ByStrategy[datatypes.StrategySafeFallback], "snapshots are copies")

	var buf bytes.Buffer
	tracker.LogReport(slog.New(slog.NewTextHandler(&buf, nil)))
	assert.Contains(t, buf.String(), "completed=3")
	assert.Contains(t, buf.String(), "safe_fallback=1")

	tracker.Begin(0)
	assert.Zero(t, tracker.Snapshot().Completed)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateStart, StatePreValidated, true},
		{StateStart, StateDone, true},
		{StateStart, StateExternalAttempted, false},
		{StatePreValidated, StateExternalAttempted, true},
		{StateExternalAttempted, StatePostValidated, true},
		{StateExternalAttempted, StateDone, false},
		{StatePostValidated, StateDone, true},
		{StatePostValidated, StateFallbackApplied, true},
		{StateFallbackApplied, StateDone, true},
		{StateFallbackApplied, StatePostValidated, false},
		{StateDone, StateStart, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}

	r := newRun()
	assert.Panics(t, func() { r.advance(StatePostValidated) })
}
