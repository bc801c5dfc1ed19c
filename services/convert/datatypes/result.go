// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// Metadata keys written by the pipeline.
const (
	MetaConverterModel   = "converter_model"
	MetaAttempts         = "attempts"
	MetaDurationMS       = "duration_ms"
	MetaComplexityScore  = "complexity_score"
	MetaPerformanceScore = "performance_score"
	MetaFoldingPreserved = "folding_preserved"
	MetaExternalError    = "external_error"
	MetaEntity           = "entity"
	MetaCacheHit         = "cache_hit"
	MetaRejectedOutput   = "rejected_output"
)

// ConversionResult is the audited outcome of one conversion.
//
// Description:
//
//	Built exactly once per request by the pipeline. Validated is always
//	true on results returned by the pipeline: when the external output
//	fails validation, ResultText already holds a fallback.
//
// Thread Safety: Immutable after construction. Readers that need to
// mutate must Clone first.
type ConversionResult struct {
	ID              string            `json:"id"`
	RequestID       string            `json:"request_id,omitempty"`
	SourceText      string            `json:"source_text"`
	ResultText      string            `json:"result_text"`
	Kind            ExpressionKind    `json:"expression_kind"`
	Strategy        Strategy          `json:"strategy_used"`
	Confidence      float64           `json:"confidence"`
	Validated       bool              `json:"validated"`
	FallbackApplied bool              `json:"fallback_applied"`
	FallbackTrigger FallbackTrigger   `json:"fallback_trigger,omitempty"`
	Issues          []string          `json:"issues"`
	Warnings        []string          `json:"warnings"`
	Path            []string          `json:"path"`
	NeedsReview     bool              `json:"needs_review"`
	Metadata        map[string]string `json:"metadata"`
	Attempts        int               `json:"attempts"`
	Duration        time.Duration     `json:"duration_ns"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Clone returns a deep copy of the result.
func (r ConversionResult) Clone() ConversionResult {
	out := r
	out.Issues = append([]string(nil), r.Issues...)
	out.Warnings = append([]string(nil), r.Warnings...)
	out.Path = append([]string(nil), r.Path...)
	out.Metadata = cloneStringMap(r.Metadata)
	return out
}

// ConfidenceBucket names the reporting bucket for a confidence score.
type ConfidenceBucket string

const (
	BucketHigh   ConfidenceBucket = "high"
	BucketMedium ConfidenceBucket = "medium"
	BucketLow    ConfidenceBucket = "low"
)

// BucketFor returns the reporting bucket: >= 0.8 high, >= 0.5 medium, otherwise low.
func BucketFor(confidence float64) ConfidenceBucket {
	switch {
	case confidence >= 0.8:
		return BucketHigh
	case confidence >= 0.5:
		return BucketMedium
	default:
		return BucketLow
	}
}

// ValidationOutcome is the transient result of one validator run.
//
// Kind-specific fields are left at their zero values by validators that
// do not compute them.
type ValidationOutcome struct {
	IsValid  bool     `json:"is_valid"`
	Issues   []string `json:"issues"`
	Warnings []string `json:"warnings"`

	// Shared lexical findings.
	BalancedDelimiters bool     `json:"balanced_delimiters"`
	Functions          []string `json:"functions,omitempty"`
	UnknownFunctions   []string `json:"unknown_functions,omitempty"`

	// Expression findings.
	ColumnReferences []string `json:"column_references,omitempty"`
	TableReferences  []string `json:"table_references,omitempty"`
	ComplexityScore  int      `json:"complexity_score"`

	// Retrieval script findings.
	Steps               []string `json:"steps,omitempty"`
	OutputStep          string   `json:"output_step,omitempty"`
	HasSourceDefinition bool     `json:"has_source_definition"`
	HasTypeCoercion     bool     `json:"has_type_coercion"`
	FoldingPreserved    bool     `json:"folding_preserved"`
	PerformanceScore    int      `json:"performance_score"`
}

// NewValidationOutcome returns a valid outcome with no findings.
func NewValidationOutcome() ValidationOutcome {
	return ValidationOutcome{
		IsValid:            true,
		Issues:             []string{},
		Warnings:           []string{},
		BalancedDelimiters: true,
		FoldingPreserved:   true,
		PerformanceScore:   100,
	}
}

// AddIssue records a fatal finding and marks the outcome invalid.
func (v *ValidationOutcome) AddIssue(msg string) {
	v.IsValid = false
	v.Issues = append(v.Issues, msg)
}

// AddWarning records an advisory finding.
func (v *ValidationOutcome) AddWarning(msg string) {
	v.Warnings = append(v.Warnings, msg)
}
