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
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseExpressionKind(t *testing.T) {
	tests := []struct {
		in      string
		want    ExpressionKind
		wantErr bool
	}{
		{"calculation_expr", KindCalculationExpr, false},
		{"DAX", KindCalculationExpr, false},
		{" query ", KindRetrievalQuery, false},
		{"m", KindRetrievalQuery, false},
		{"sql", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseExpressionKind(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrUnknownKind))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpressionKind_ClosedSet(t *testing.T) {
	for _, k := range AllExpressionKinds() {
		assert.True(t, k.Valid(), "kind %s should be valid", k)
	}
	assert.False(t, ExpressionKind(0).Valid())
	assert.False(t, ExpressionKind(99).Valid())
	assert.Equal(t, "unknown_kind(99)", ExpressionKind(99).String())
}

func TestExpressionKind_TextEncoding(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		req := ConversionRequest{SourceText: "total([x])", Kind: KindRetrievalQuery}
		data, err := json.Marshal(req)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"expression_kind":"retrieval_query"`)

		var back ConversionRequest
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, KindRetrievalQuery, back.Kind)
	})

	t.Run("yaml alias", func(t *testing.T) {
		var req ConversionRequest
		err := yaml.Unmarshal([]byte("source_text: total([x])\nexpression_kind: dax\n"), &req)
		require.NoError(t, err)
		assert.Equal(t, KindCalculationExpr, req.Kind)
	})

	t.Run("invalid kind does not marshal", func(t *testing.T) {
		_, err := json.Marshal(ConversionRequest{})
		require.Error(t, err)
	})
}

func TestParseFoldingPreference(t *testing.T) {
	got, err := ParseFoldingPreference("Best-Effort")
	require.NoError(t, err)
	assert.Equal(t, FoldingBestEffort, got)

	got, err = ParseFoldingPreference("STRICT")
	require.NoError(t, err)
	assert.Equal(t, FoldingStrict, got)

	_, err = ParseFoldingPreference("sometimes")
	assert.ErrorIs(t, err, ErrUnknownFoldingPreference)
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     ConversionRequest
		wantErr bool
	}{
		{
			name: "valid expression request",
			req:  ConversionRequest{SourceText: "total([Sales])", Kind: KindCalculationExpr},
		},
		{
			name: "empty source text is allowed",
			req:  ConversionRequest{Kind: KindRetrievalQuery},
		},
		{
			name:    "missing kind",
			req:     ConversionRequest{SourceText: "x"},
			wantErr: true,
		},
		{
			name: "column without name",
			req: ConversionRequest{
				Kind:    KindCalculationExpr,
				Context: ConversionContext{Columns: []Column{{DataType: "string"}}},
			},
			wantErr: true,
		},
		{
			name: "unknown folding preference",
			req: ConversionRequest{
				Kind:    KindRetrievalQuery,
				Context: ConversionContext{FoldingPreference: "sometimes"},
			},
			wantErr: true,
		},
		{
			name: "bad result type",
			req: ConversionRequest{
				Kind:    KindCalculationExpr,
				Context: ConversionContext{ResultType: "date"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequest(tt.req)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidRequest)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestConversionContext_TableName(t *testing.T) {
	assert.Equal(t, "Sales", ConversionContext{EntityName: " Sales "}.TableName())
	assert.Equal(t, "FactSales", ConversionContext{
		EntityName: "Sales",
		Connection: Connection{Table: "FactSales"},
	}.TableName())
	assert.Equal(t, "", ConversionContext{}.TableName())
}

func TestClone_IsDeep(t *testing.T) {
	req := ConversionRequest{
		Kind: KindCalculationExpr,
		Context: ConversionContext{
			Columns:          []Column{{Name: "Amount"}},
			AvailableColumns: map[string][]string{"Sales": {"Amount"}},
			Hints:            map[string]string{"a": "b"},
		},
	}
	cp := req.Clone()
	cp.Context.Columns[0].Name = "Changed"
	cp.Context.AvailableColumns["Sales"][0] = "Changed"
	cp.Context.Hints["a"] = "changed"

	assert.Equal(t, "Amount", req.Context.Columns[0].Name)
	assert.Equal(t, "Amount", req.Context.AvailableColumns["Sales"][0])
	assert.Equal(t, "b", req.Context.Hints["a"])

	res := ConversionResult{Issues: []string{"a"}, Metadata: map[string]string{"k": "v"}}
	rc := res.Clone()
	rc.Issues[0] = "b"
	rc.Metadata["k"] = "x"
	assert.Equal(t, "a", res.Issues[0])
	assert.Equal(t, "v", res.Metadata["k"])
}

func TestBucketFor(t *testing.T) {
	assert.Equal(t, BucketHigh, BucketFor(1.0))
	assert.Equal(t, BucketHigh, BucketFor(0.8))
	assert.Equal(t, BucketMedium, BucketFor(0.79))
	assert.Equal(t, BucketMedium, BucketFor(0.5))
	assert.Equal(t, BucketLow, BucketFor(0.49))
	assert.Equal(t, BucketLow, BucketFor(0))
}

func TestValidationOutcome_AddIssue(t *testing.T) {
	v := NewValidationOutcome()
	assert.True(t, v.IsValid)
	v.AddWarning("advisory")
	assert.True(t, v.IsValid)
	v.AddIssue("fatal")
	assert.False(t, v.IsValid)
	assert.Equal(t, []string{"fatal"}, v.Issues)
	assert.Equal(t, []string{"advisory"}, v.Warnings)
}
