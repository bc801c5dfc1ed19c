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

import "github.com/AleutianAI/ReportBridge/services/convert/datatypes"

// Summary is the reporting view over a set of results.
type Summary struct {
	Total             int                                `json:"total"`
	ByStrategy        map[datatypes.Strategy]int         `json:"by_strategy"`
	ByTrigger         map[datatypes.FallbackTrigger]int  `json:"by_trigger"`
	ByKind            map[string]int                     `json:"by_kind"`
	ConfidenceBuckets map[datatypes.ConfidenceBucket]int `json:"confidence_buckets"`
	NeedsReview       int                                `json:"needs_review"`
	FallbackApplied   int                                `json:"fallback_applied"`
	FallbackRate      float64                            `json:"fallback_rate"`
	AverageConfidence float64                            `json:"average_confidence"`
}

// Summarize aggregates results. Every strategy and bucket is present in
// the maps, with zero counts where nothing matched.
func Summarize(results []datatypes.ConversionResult) Summary {
	s := Summary{
		Total:             len(results),
		ByStrategy:        make(map[datatypes.Strategy]int),
		ByTrigger:         make(map[datatypes.FallbackTrigger]int),
		ByKind:            make(map[string]int),
		ConfidenceBuckets: make(map[datatypes.ConfidenceBucket]int),
	}
	for _, st := range datatypes.AllStrategies() {
		s.ByStrategy[st] = 0
	}
	for _, b := range []datatypes.ConfidenceBucket{datatypes.BucketHigh, datatypes.BucketMedium, datatypes.BucketLow} {
		s.ConfidenceBuckets[b] = 0
	}

	var confidenceSum float64
	for _, r := range results {
		s.ByStrategy[r.Strategy]++
		s.ByKind[r.Kind.String()]++
		s.ConfidenceBuckets[datatypes.BucketFor(r.Confidence)]++
		if r.FallbackTrigger != datatypes.TriggerNone {
			s.ByTrigger[r.FallbackTrigger]++
		}
		if r.NeedsReview {
			s.NeedsReview++
		}
		if r.FallbackApplied {
			s.FallbackApplied++
		}
		confidenceSum += r.Confidence
	}

	if s.Total > 0 {
		s.FallbackRate = float64(s.FallbackApplied) / float64(s.Total)
		s.AverageConfidence = confidenceSum / float64(s.Total)
	}
	return s
}
