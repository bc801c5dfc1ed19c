// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ledger collects finished conversion results for reporting.
package ledger

import (
	"errors"
	"sort"
	"sync"

	"github.com/AleutianAI/ReportBridge/services/convert/datatypes"
)

// ErrNotFound is returned when a result ID is not in the ledger.
var ErrNotFound = errors.New("result not found")

// Sink accepts finished results. Implemented by Ledger, Store and Tee.
type Sink interface {
	Append(result datatypes.ConversionResult) error
}

// Reader is the read side shared by Ledger and Store.
type Reader interface {
	Get(id string) (datatypes.ConversionResult, error)
	List(opts ListOptions) ([]datatypes.ConversionResult, error)
}

// Ledger is an append-only in-memory sequence of results.
//
// Description:
//
//	Results are copied on Append and on every read, so callers can never
//	mutate a stored record. Order is append order, which for concurrent
//	conversions is completion order rather than submission order.
//
// Thread Safety: Safe for concurrent use.
type Ledger struct {
	mu      sync.RWMutex
	records []datatypes.ConversionResult
	index   map[string]int
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{index: make(map[string]int)}
}

// Append stores a copy of result.
func (l *Ledger) Append(result datatypes.ConversionResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.index[result.ID] = len(l.records)
	l.records = append(l.records, result.Clone())
	return nil
}

// Len returns the number of stored results.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Records returns copies of all results in append order.
func (l *Ledger) Records() []datatypes.ConversionResult {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]datatypes.ConversionResult, len(l.records))
	for i, r := range l.records {
		out[i] = r.Clone()
	}
	return out
}

// Get returns a copy of the result with the given ID.
func (l *Ledger) Get(id string) (datatypes.ConversionResult, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[id]
	if !ok {
		return datatypes.ConversionResult{}, ErrNotFound
	}
	return l.records[i].Clone(), nil
}

// List returns copies of the results matching opts, in append order.
func (l *Ledger) List(opts ListOptions) ([]datatypes.ConversionResult, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []datatypes.ConversionResult
	for _, r := range l.records {
		if !opts.match(r) {
			continue
		}
		out = append(out, r.Clone())
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

// Summary aggregates all stored results.
func (l *Ledger) Summary() Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Summarize(l.records)
}

// ReviewQueue returns the results flagged for review: fallbacks before
// advisories, lowest confidence first within each group.
func ReviewQueue(results []datatypes.ConversionResult) []datatypes.ConversionResult {
	var queue []datatypes.ConversionResult
	for _, r := range results {
		if r.NeedsReview {
			queue = append(queue, r.Clone())
		}
	}
	sort.SliceStable(queue, func(i, j int) bool {
		a, b := queue[i], queue[j]
		if a.FallbackApplied != b.FallbackApplied {
			return a.FallbackApplied
		}
		return a.Confidence < b.Confidence
	})
	return queue
}

// Tee appends every result to several sinks.
//
// Every sink receives every result; errors are joined.
type Tee []Sink

// Append implements Sink.
func (t Tee) Append(result datatypes.ConversionResult) error {
	var errs []error
	for _, s := range t {
		if s == nil {
			continue
		}
		if err := s.Append(result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
