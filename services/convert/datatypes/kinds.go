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

import (
	"fmt"
	"strings"
)

// =============================================================================
// Expression Kind
// =============================================================================

// ExpressionKind identifies which target artifact a request converts into.
//
// Description:
//
//	ExpressionKind is a closed set. The zero value is invalid so that an
//	unset kind can never be dispatched. Code that switches over kinds must
//	handle every value returned by AllExpressionKinds and treat anything
//	else as unreachable.
type ExpressionKind int

const (
	// KindCalculationExpr converts into a tabular-model calculation expression (DAX).
	KindCalculationExpr ExpressionKind = iota + 1

	// KindRetrievalQuery converts into a data-source retrieval script (M query).
	KindRetrievalQuery
)

// AllExpressionKinds returns every valid ExpressionKind in declaration order.
func AllExpressionKinds() []ExpressionKind {
	return []ExpressionKind{KindCalculationExpr, KindRetrievalQuery}
}

// String returns the canonical name of the kind.
func (k ExpressionKind) String() string {
	switch k {
	case KindCalculationExpr:
		return "calculation_expr"
	case KindRetrievalQuery:
		return "retrieval_query"
	default:
		return fmt.Sprintf("unknown_kind(%d)", int(k))
	}
}

// Valid reports whether k is a member of the closed kind set.
func (k ExpressionKind) Valid() bool {
	return k == KindCalculationExpr || k == KindRetrievalQuery
}

// ParseExpressionKind parses a kind name. Accepts the canonical names and
// the common domain aliases ("dax", "expr", "m", "query").
func ParseExpressionKind(s string) (ExpressionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "calculation_expr", "calculationexpr", "calculation", "expr", "expression", "dax":
		return KindCalculationExpr, nil
	case "retrieval_query", "retrievalquery", "retrieval", "query", "m", "mquery", "m_query":
		return KindRetrievalQuery, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k ExpressionKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ExpressionKind) UnmarshalText(b []byte) error {
	parsed, err := ParseExpressionKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// =============================================================================
// Strategy and Fallback Trigger
// =============================================================================

// Strategy records how the final result text was produced.
type Strategy string

const (
	// StrategyFullyValidatedExternal means the external converter output passed validation cleanly.
	StrategyFullyValidatedExternal Strategy = "fully_validated_external"

	// StrategyExternalWithWarnings means the external output passed validation with advisory findings.
	StrategyExternalWithWarnings Strategy = "external_with_warnings"

	// StrategySafeFallback means a deterministic safe template replaced the external output.
	StrategySafeFallback Strategy = "safe_fallback"

	// StrategyManualTemplate means the last-resort manual template was emitted.
	StrategyManualTemplate Strategy = "manual_template"
)

// AllStrategies returns every Strategy in reporting order.
func AllStrategies() []Strategy {
	return []Strategy{
		StrategyFullyValidatedExternal,
		StrategyExternalWithWarnings,
		StrategySafeFallback,
		StrategyManualTemplate,
	}
}

// IsFallback reports whether the strategy replaced the external output.
func (s Strategy) IsFallback() bool {
	return s == StrategySafeFallback || s == StrategyManualTemplate
}

// FallbackTrigger records why a fallback was applied. The empty value means none.
type FallbackTrigger string

const (
	TriggerNone               FallbackTrigger = ""
	TriggerValidationFailed   FallbackTrigger = "validation_failed"
	TriggerLowConfidence      FallbackTrigger = "low_confidence"
	TriggerExternalError      FallbackTrigger = "external_error"
	TriggerComplexityExceeded FallbackTrigger = "complexity_exceeded"
	TriggerRetriesExhausted   FallbackTrigger = "retries_exhausted"
)

// AllFallbackTriggers returns every non-empty trigger.
func AllFallbackTriggers() []FallbackTrigger {
	return []FallbackTrigger{
		TriggerValidationFailed,
		TriggerLowConfidence,
		TriggerExternalError,
		TriggerComplexityExceeded,
		TriggerRetriesExhausted,
	}
}

// =============================================================================
// Folding Preference
// =============================================================================

// FoldingPreference controls how strictly retrieval scripts must preserve
// source-side query folding.
type FoldingPreference string

const (
	// FoldingUnset defers to the pipeline configuration.
	FoldingUnset FoldingPreference = ""

	// FoldingStrict makes every folding violation fatal.
	FoldingStrict FoldingPreference = "strict"

	// FoldingBestEffort reports folding violations as advisory penalties.
	FoldingBestEffort FoldingPreference = "best_effort"

	// FoldingNone disables folding analysis.
	FoldingNone FoldingPreference = "none"
)

// ParseFoldingPreference parses a folding preference name.
func ParseFoldingPreference(s string) (FoldingPreference, error) {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "-", "_"))) {
	case "strict":
		return FoldingStrict, nil
	case "best_effort", "besteffort":
		return FoldingBestEffort, nil
	case "none", "off":
		return FoldingNone, nil
	case "":
		return FoldingUnset, nil
	default:
		return FoldingUnset, fmt.Errorf("%w: %q", ErrUnknownFoldingPreference, s)
	}
}

// Valid reports whether p is a known preference, including unset.
func (p FoldingPreference) Valid() bool {
	switch p {
	case FoldingUnset, FoldingStrict, FoldingBestEffort, FoldingNone:
		return true
	default:
		return false
	}
}
