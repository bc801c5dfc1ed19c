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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceExpressionValidator_Validate(t *testing.T) {
	v := NewSourceExpressionValidator()

	tests := []struct {
		name         string
		text         string
		wantValid    bool
		issueContain string
		wantWarnings int
	}{
		{name: "simple aggregate", text: "total([Sales Amount])", wantValid: true},
		{name: "empty", text: "   ", wantValid: false, issueContain: "empty"},
		{name: "unclosed paren", text: "total([Sales Amount]", wantValid: false, issueContain: "Unbalanced parentheses"},
		{name: "extra close", text: "total([Sales Amount]))", wantValid: false, issueContain: "unexpected ')'"},
		{name: "mismatched", text: "(a]", wantValid: false, issueContain: "Unbalanced"},
		{name: "unclosed brace", text: "{ [a]", wantValid: false, issueContain: "never closed"},
		{name: "paren inside string", text: "substring('a(b', 1, 2)", wantValid: true},
		{name: "paren inside column name", text: "total([Revenue (USD)])", wantValid: true},
		{name: "paren inside comment", text: "total([x]) /* ) */", wantValid: true},
		{name: "unknown function is advisory", text: "foo([x])", wantValid: true, wantWarnings: 1},
		{name: "unterminated string", text: "upper('abc)", wantValid: false, issueContain: "Unterminated string literal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.Validate(tt.text)
			assert.Equal(t, tt.wantValid, got.IsValid, "issues: %v", got.Issues)
			if tt.issueContain != "" {
				require.NotEmpty(t, got.Issues)
				assert.Contains(t, strings.Join(got.Issues, "\n"), tt.issueContain)
			}
			assert.Len(t, got.Warnings, tt.wantWarnings, "warnings: %v", got.Warnings)
		})
	}
}

func TestSourceExpressionValidator_Extraction(t *testing.T) {
	v := NewSourceExpressionValidator()

	got := v.Validate("total([Sales Amount]) / count([Order Id])")
	require.True(t, got.IsValid)
	assert.Equal(t, []string{"total", "count"}, got.Functions)
	assert.Equal(t, []string{"Sales Amount", "Order Id"}, got.ColumnReferences)
	assert.Empty(t, got.UnknownFunctions)
	assert.True(t, got.BalancedDelimiters)
}

func TestSourceExpressionValidator_HyphenatedFunctions(t *testing.T) {
	v := NewSourceExpressionValidator()

	got := v.Validate("running-total([Revenue])")
	require.True(t, got.IsValid)
	assert.Equal(t, []string{"running-total"}, got.Functions)
	assert.Empty(t, got.Warnings)
	assert.Equal(t, 1, got.ComplexityScore, "hyphen in a function name is not an operator")
}

func TestSourceExpressionValidator_Complexity(t *testing.T) {
	v := NewSourceExpressionValidator()

	// 4 open parens + 4 symbolic operators + 1 word operator + 3 conditionals.
	text := "if ([a] > 1 and [b] < 2) then (total([c]) * 2 + 1) else (0)"
	got := v.Validate(text)

	require.True(t, got.IsValid, "issues: %v", got.Issues)
	assert.Equal(t, 12, got.ComplexityScore)
	require.Len(t, got.Warnings, 1)
	assert.Equal(t, "High complexity score: 12 (threshold 10)", got.Warnings[0])
	assert.Equal(t, 12, v.Complexity(text))

	relaxed := NewSourceExpressionValidator(WithComplexityWarning(20))
	assert.Empty(t, relaxed.Validate(text).Warnings)
}

func TestSourceExpressionValidator_ExtraFunctions(t *testing.T) {
	v := NewSourceExpressionValidator(WithSourceFunctions("Fiscal_Period"))
	got := v.Validate("fiscal_period([Date])")
	assert.Empty(t, got.Warnings)
}

func TestSourceExpressionValidator_Idempotent(t *testing.T) {
	v := NewSourceExpressionValidator()
	inputs := []string{"", "total([x]", "foo(bar([y]))", "if ([a] = 1) then ('x') else ('y')"}
	for _, in := range inputs {
		assert.Equal(t, v.Validate(in), v.Validate(in), "input %q", in)
	}
}
