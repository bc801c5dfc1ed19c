// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ledger

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ReportBridge/services/convert/datatypes"
)

func makeResult(id string, strategy datatypes.Strategy, confidence float64) datatypes.ConversionResult {
	r := datatypes.ConversionResult{
		ID:         id,
		SourceText: "Sum({Orders.Amount})",
		ResultText: "SUM('Orders'[Amount])",
		Kind:       datatypes.KindCalculationExpr,
		Strategy:   strategy,
		Confidence: confidence,
		Validated:  true,
		Path:       []string{"START", "DONE"},
		Metadata:   map[string]string{"attempts": "1"},
		Attempts:   1,
		CreatedAt:  time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if strategy.IsFallback() {
		r.FallbackApplied = true
		r.FallbackTrigger = datatypes.TriggerExternalError
		r.NeedsReview = true
	}
	return r
}

func TestLedger_AppendAndGet(t *testing.T) {
	l := New()
	r := makeResult("a", datatypes.StrategyFullyValidatedExternal, 0.9)
	require.NoError(t, l.Append(r))

	assert.Equal(t, 1, l.Len())

	got, err := l.Get("a")
	require.NoError(t, err)
	assert.Equal(t, r, got)

	_, err = l.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLedger_RecordsAreCopies(t *testing.T) {
	l := New()
	r := makeResult("a", datatypes.StrategyFullyValidatedExternal, 0.9)
	require.NoError(t, l.Append(r))

	r.Metadata["attempts"] = "99"
	r.Issues = append(r.Issues, "mutated")

	records := l.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "1", records[0].Metadata["attempts"])
	assert.Empty(t, records[0].Issues)

	records[0].Path[0] = "X"
	again, err := l.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "START", again.Path[0])
}

func TestLedger_List(t *testing.T) {
	l := New()
	clean := makeResult("clean", datatypes.StrategyFullyValidatedExternal, 0.9)
	fallback := makeResult("fallback", datatypes.StrategySafeFallback, 0.6)
	fallback.Kind = datatypes.KindRetrievalQuery
	require.NoError(t, l.Append(clean))
	require.NoError(t, l.Append(fallback))

	all, err := l.List(ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	review, err := l.List(ListOptions{NeedsReview: true})
	require.NoError(t, err)
	require.Len(t, review, 1)
	assert.Equal(t, "fallback", review[0].ID)

	queries, err := l.List(ListOptions{Kind: datatypes.KindRetrievalQuery})
	require.NoError(t, err)
	require.Len(t, queries, 1)

	first, err := l.List(ListOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "clean", first[0].ID)
}

func TestLedger_ConcurrentAppend(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := makeResult(fmt.Sprintf("r%d", i), datatypes.StrategySafeFallback, 0.5)
			_ = l.Append(r)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, l.Len())
	assert.Equal(t, 50, l.Summary().Total)
}

func TestSummarize(t *testing.T) {
	results := []datatypes.ConversionResult{
		makeResult("1", datatypes.StrategyFullyValidatedExternal, 0.95),
		makeResult("2", datatypes.StrategyExternalWithWarnings, 0.8),
		makeResult("3", datatypes.StrategySafeFallback, 0.6),
		makeResult("4", datatypes.StrategyManualTemplate, 0.1),
	}
	results[3].Kind = datatypes.KindRetrievalQuery

	s := Summarize(results)

	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 1, s.ByStrategy[datatypes.StrategyFullyValidatedExternal])
	assert.Equal(t, 1, s.ByStrategy[datatypes.StrategyExternalWithWarnings])
	assert.Equal(t, 1, s.ByStrategy[datatypes.StrategySafeFallback])
	assert.Equal(t, 1, s.ByStrategy[datatypes.StrategyManualTemplate])
	assert.Equal(t, 2, s.ByTrigger[datatypes.TriggerExternalError])
	assert.Equal(t, 3, s.ByKind["calculation_expr"])
	assert.Equal(t, 1, s.ByKind["retrieval_query"])
	assert.Equal(t, 2, s.ConfidenceBuckets[datatypes.BucketHigh])
	assert.Equal(t, 1, s.ConfidenceBuckets[datatypes.BucketMedium])
	assert.Equal(t, 1, s.ConfidenceBuckets[datatypes.BucketLow])
	assert.Equal(t, 2, s.NeedsReview)
	assert.Equal(t, 2, s.FallbackApplied)
	assert.InDelta(t, 0.5, s.FallbackRate, 1e-9)
	assert.InDelta(t, (0.95+0.8+0.6+0.1)/4, s.AverageConfidence, 1e-9)
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)

	assert.Zero(t, s.Total)
	assert.Zero(t, s.FallbackRate)
	assert.Zero(t, s.AverageConfidence)
	assert.Len(t, s.ByStrategy, len(datatypes.AllStrategies()))
	assert.Len(t, s.ConfidenceBuckets, 3)
	assert.Empty(t, s.ByTrigger)
}

func TestReviewQueue(t *testing.T) {
	advisory := makeResult("advisory", datatypes.StrategyFullyValidatedExternal, 0.4)
	advisory.NeedsReview = true
	advisory.FallbackTrigger = datatypes.TriggerLowConfidence

	results := []datatypes.ConversionResult{
		makeResult("clean", datatypes.StrategyFullyValidatedExternal, 0.9),
		advisory,
		makeResult("safe", datatypes.StrategySafeFallback, 0.6),
		makeResult("manual", datatypes.StrategyManualTemplate, 0.1),
	}

	queue := ReviewQueue(results)

	ids := make([]string, len(queue))
	for i, r := range queue {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"manual", "safe", "advisory"}, ids)
}

type failingSink struct{ err error }

func (f failingSink) Append(datatypes.ConversionResult) error { return f.err }

func TestTee(t *testing.T) {
	a, b := New(), New()
	boom := errors.New("disk full")
	tee := Tee{a, nil, failingSink{err: boom}, b}

	err := tee.Append(makeResult("x", datatypes.StrategySafeFallback, 0.6))

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, a.Len(), "sinks before a failure still receive the result")
	assert.Equal(t, 1, b.Len(), "sinks after a failure still receive the result")
}
