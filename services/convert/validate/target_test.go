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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ReportBridge/services/convert/datatypes"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in      string
		want    Target
		wantErr bool
	}{
		{"source", TargetSource, false},
		{"DAX", TargetExpr, false},
		{"expr", TargetExpr, false},
		{"m", TargetQuery, false},
		{" query ", TargetQuery, false},
		{"sql", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTarget(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownTarget)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheck(t *testing.T) {
	t.Run("source", func(t *testing.T) {
		out, err := Check(TargetSource, "Sum({Orders.Amount}", datatypes.ConversionContext{}, CheckOptions{})
		require.NoError(t, err)
		assert.False(t, out.IsValid)
	})

	t.Run("expr", func(t *testing.T) {
		out, err := Check(TargetExpr, "SUM('Orders'[Amount])", datatypes.ConversionContext{}, CheckOptions{})
		require.NoError(t, err)
		assert.True(t, out.IsValid)
	})

	t.Run("query", func(t *testing.T) {
		out, err := Check(TargetQuery, "", datatypes.ConversionContext{}, CheckOptions{})
		require.NoError(t, err)
		assert.False(t, out.IsValid)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := Check(Target("sql"), "x", datatypes.ConversionContext{}, CheckOptions{})
		assert.ErrorIs(t, err, ErrUnknownTarget)
	})
}
