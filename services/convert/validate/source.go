// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/AleutianAI/ReportBridge/services/convert/datatypes"
)

// DefaultSourceComplexityWarning is the complexity score above which a
// legacy formula draws a warning.
const DefaultSourceComplexityWarning = 10

var (
	// sourceCallPattern matches name( including hyphenated names like running-total(.
	sourceCallPattern = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*(?:-[A-Za-z_][A-Za-z0-9_]*)*)\s*\(`)

	// sourceColumnPattern matches [Column] references.
	sourceColumnPattern = regexp.MustCompile(`\[([^\[\]\n]+)\]`)

	// sourceOperatorPattern matches symbolic operators. Two-character forms first.
	sourceOperatorPattern = regexp.MustCompile(`<>|<=|>=|!=|\|\||[-+*/=<>]`)

	sourceWordOperatorPattern = regexp.MustCompile(`(?i)\b(?:and|or|not)\b`)
	sourceConditionalPattern  = regexp.MustCompile(`(?i)\b(?:if|then|else|case|when)\b`)
)

// SourceExpressionValidator checks legacy report formulas before conversion.
//
// Description:
//
//	Structural defects (empty text, unbalanced delimiters) invalidate the
//	formula. Unknown functions and high complexity are advisory.
//
// Thread Safety: Safe for concurrent use. Validate is a pure function of its input.
type SourceExpressionValidator struct {
	functions        map[string]struct{}
	complexityWarnAt int
}

// SourceOption configures a SourceExpressionValidator.
type SourceOption func(*SourceExpressionValidator)

// WithComplexityWarning sets the score above which a warning is emitted.
func WithComplexityWarning(score int) SourceOption {
	return func(v *SourceExpressionValidator) {
		if score > 0 {
			v.complexityWarnAt = score
		}
	}
}

// WithSourceFunctions extends the known function vocabulary.
func WithSourceFunctions(names ...string) SourceOption {
	return func(v *SourceExpressionValidator) {
		for _, n := range names {
			v.functions[strings.ToLower(n)] = struct{}{}
		}
	}
}

// NewSourceExpressionValidator creates a validator with the built-in vocabulary.
func NewSourceExpressionValidator(opts ...SourceOption) *SourceExpressionValidator {
	v := &SourceExpressionValidator{
		functions:        lowerSet(sourceFunctions),
		complexityWarnAt: DefaultSourceComplexityWarning,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Name returns the validator name used in metrics and logs.
func (v *SourceExpressionValidator) Name() string {
	return "source_expression"
}

// Validate checks a legacy formula.
//
// Description:
//
//	Checks, in order: non-empty, delimiter balance over ()[]{}, function
//	calls against the known vocabulary, bracketed column references and
//	the complexity score (open parens + operators + conditional keywords).
//
// Inputs:
//
//	text - The legacy formula.
//
// Outputs:
//
//	datatypes.ValidationOutcome - IsValid is false only for empty text or
//	unbalanced delimiters.
//
// Thread Safety: Safe for concurrent use.
func (v *SourceExpressionValidator) Validate(text string) datatypes.ValidationOutcome {
	out := datatypes.NewValidationOutcome()

	if strings.TrimSpace(text) == "" {
		out.AddIssue("Expression is empty")
		out.BalancedDelimiters = false
		return out
	}

	s := scan(text, sourceDialect)
	if s.unterminated != "" {
		out.AddIssue(fmt.Sprintf("Unterminated %s", s.unterminated))
	}

	if b := checkBalance(s.code); !b.ok {
		out.BalancedDelimiters = false
		out.AddIssue(unbalancedIssue(b))
	}

	hyphensInNames := 0
	for _, m := range sourceCallPattern.FindAllStringSubmatch(s.code, -1) {
		name := strings.ToLower(m[1])
		if _, skip := sourceNonFunctions[name]; skip {
			continue
		}
		hyphensInNames += strings.Count(name, "-")
		resolved, known := v.resolveFunction(name)
		out.Functions = uniqueAppend(out.Functions, resolved)
		if !known {
			out.UnknownFunctions = uniqueAppend(out.UnknownFunctions, resolved)
			out.AddWarning(fmt.Sprintf("Unknown function: %s", resolved))
		}
	}

	for _, m := range sourceColumnPattern.FindAllStringSubmatch(s.withIdents, -1) {
		out.ColumnReferences = uniqueAppend(out.ColumnReferences, strings.TrimSpace(m[1]))
	}

	out.ComplexityScore = sourceComplexity(s.code, hyphensInNames)
	if out.ComplexityScore > v.complexityWarnAt {
		out.AddWarning(fmt.Sprintf("High complexity score: %d (threshold %d)", out.ComplexityScore, v.complexityWarnAt))
	}

	return out
}

// resolveFunction maps a called name onto the vocabulary. A hyphenated
// name that is not known as a whole resolves to its last segment, since
// the hyphen may be a minus sign.
func (v *SourceExpressionValidator) resolveFunction(name string) (string, bool) {
	if _, ok := v.functions[name]; ok {
		return name, true
	}
	if idx := strings.LastIndexByte(name, '-'); idx >= 0 {
		last := name[idx+1:]
		_, ok := v.functions[last]
		return last, ok
	}
	return name, false
}

// Complexity returns the complexity score of a legacy formula.
func (v *SourceExpressionValidator) Complexity(text string) int {
	s := scan(text, sourceDialect)
	hyphens := 0
	for _, m := range sourceCallPattern.FindAllStringSubmatch(s.code, -1) {
		hyphens += strings.Count(m[1], "-")
	}
	return sourceComplexity(s.code, hyphens)
}

func sourceComplexity(code string, hyphensInNames int) int {
	parens := strings.Count(code, "(")
	ops := len(sourceOperatorPattern.FindAllString(code, -1)) - hyphensInNames
	if ops < 0 {
		ops = 0
	}
	ops += len(sourceWordOperatorPattern.FindAllString(code, -1))
	conds := len(sourceConditionalPattern.FindAllString(code, -1))
	return parens + ops + conds
}
