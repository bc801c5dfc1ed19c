// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/ReportBridge/pkg/ux"
	"github.com/AleutianAI/ReportBridge/services/convert/converter"
	"github.com/AleutianAI/ReportBridge/services/convert/datatypes"
	"github.com/AleutianAI/ReportBridge/services/convert/ledger"
	"github.com/AleutianAI/ReportBridge/services/convert/llm"
	storage "github.com/AleutianAI/ReportBridge/services/convert/storage/badger"
)

var errOffline = errors.New("external converter disabled (--offline)")

// batchFile is the on-disk batch format. A bare list of requests is
// accepted too.
type batchFile struct {
	Requests []datatypes.ConversionRequest `yaml:"requests" json:"requests"`
}

// readBatch loads and validates a batch of requests from a YAML or JSON
// file. YAML is a superset of JSON, so one decoder serves both.
func readBatch(path string) ([]datatypes.ConversionRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch: %w", err)
	}

	var requests []datatypes.ConversionRequest
	var file batchFile
	if err := yaml.Unmarshal(data, &file); err == nil && len(file.Requests) > 0 {
		requests = file.Requests
	} else if err := yaml.Unmarshal(data, &requests); err != nil {
		return nil, fmt.Errorf("parse batch %s: %w", filepath.Base(path), err)
	}
	if len(requests) == 0 {
		return nil, fmt.Errorf("batch %s has no requests", filepath.Base(path))
	}

	for i := range requests {
		if err := datatypes.ValidateRequest(requests[i]); err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
	}
	return requests, nil
}

// buildConverter returns the OpenAI converter, or one that always fails
// when offline so that every request takes the fallback path.
func buildConverter(offline bool) (converter.Converter, error) {
	if offline {
		return converter.Unavailable(errOffline), nil
	}
	cfg, err := llm.ConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("%w (use --offline to convert with fallbacks only)", err)
	}
	conv, err := llm.NewOpenAIConverter(cfg, llm.WithLogger(slog.Default()))
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// openStore opens the durable ledger in dir.
func openStore(dir string) (*ledger.Store, func() error, error) {
	db, err := storage.OpenPath(dir, slog.Default())
	if err != nil {
		return nil, nil, fmt.Errorf("open ledger %s: %w", dir, err)
	}
	store, err := ledger.NewStore(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, db.Close, nil
}

func formatConfidence(c float64) string {
	return strconv.FormatFloat(c, 'f', 2, 64)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// printSummary renders a summary as tables.
func printSummary(p *ux.Printer, s ledger.Summary) {
	p.Title("Conversion summary")
	p.Table([]string{"metric", "value"}, [][]string{
		{"total", strconv.Itoa(s.Total)},
		{"fallback_applied", strconv.Itoa(s.FallbackApplied)},
		{"fallback_rate", formatConfidence(s.FallbackRate)},
		{"needs_review", strconv.Itoa(s.NeedsReview)},
		{"average_confidence", formatConfidence(s.AverageConfidence)},
	})

	strategyRows := make([][]string, 0, len(s.ByStrategy))
	for _, st := range datatypes.AllStrategies() {
		strategyRows = append(strategyRows, []string{string(st), strconv.Itoa(s.ByStrategy[st])})
	}
	p.Table([]string{"strategy", "count"}, strategyRows)

	p.Table([]string{"confidence", "count"}, [][]string{
		{string(datatypes.BucketHigh), strconv.Itoa(s.ConfidenceBuckets[datatypes.BucketHigh])},
		{string(datatypes.BucketMedium), strconv.Itoa(s.ConfidenceBuckets[datatypes.BucketMedium])},
		{string(datatypes.BucketLow), strconv.Itoa(s.ConfidenceBuckets[datatypes.BucketLow])},
	})

	if len(s.ByTrigger) > 0 {
		triggers := make([]string, 0, len(s.ByTrigger))
		for t := range s.ByTrigger {
			triggers = append(triggers, string(t))
		}
		sort.Strings(triggers)
		rows := make([][]string, len(triggers))
		for i, t := range triggers {
			rows[i] = []string{t, strconv.Itoa(s.ByTrigger[datatypes.FallbackTrigger(t)])}
		}
		p.Table([]string{"fallback_trigger", "count"}, rows)
	}
}

// printResults renders one row per result.
func printResults(p *ux.Printer, results []datatypes.ConversionResult) {
	rows := make([][]string, len(results))
	for i, r := range results {
		id := r.RequestID
		if id == "" {
			id = r.ID
		}
		rows[i] = []string{
			id,
			r.Kind.String(),
			string(r.Strategy),
			string(r.FallbackTrigger),
			formatConfidence(r.Confidence),
			yesNo(r.NeedsReview),
			firstLine(r.ResultText),
		}
	}
	p.Table([]string{"request", "kind", "strategy", "trigger", "confidence", "review", "result"}, rows)
}

func firstLine(s string) string {
	line, _, more := strings.Cut(strings.TrimSpace(s), "\n")
	if more {
		return line + " …"
	}
	return line
}
