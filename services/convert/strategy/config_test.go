// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package strategy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ReportBridge/services/convert/datatypes"
)

func TestDefaultStrategyConfig(t *testing.T) {
	cfg := DefaultStrategyConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.7, cfg.ConfidenceThreshold)
	assert.Equal(t, 15, cfg.ComplexityThreshold)
	assert.Equal(t, 10, cfg.SourceComplexityWarning)
	assert.Equal(t, 30*time.Second, cfg.ExpressionTimeout)
	assert.Equal(t, 120*time.Second, cfg.QueryTimeout)
	assert.Equal(t, datatypes.FoldingBestEffort, cfg.FoldingPreference)
	assert.True(t, cfg.FallbackOnLowConfidence)
	assert.False(t, cfg.FallbackOnHighComplexity)
	assert.Zero(t, cfg.CacheTTL)
}

func TestStrategyConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*StrategyConfig)
		wantErr string
	}{
		{"confidence above 1", func(c *StrategyConfig) { c.ConfidenceThreshold = 1.5 }, "confidence_threshold"},
		{"negative retries", func(c *StrategyConfig) { c.MaxRetryAttempts = -1 }, "max_retry_attempts"},
		{"zero concurrency", func(c *StrategyConfig) { c.MaxConcurrentRequests = 0 }, "max_concurrent_requests"},
		{"zero expression timeout", func(c *StrategyConfig) { c.ExpressionTimeout = 0 }, "expression_timeout"},
		{"zero query timeout", func(c *StrategyConfig) { c.QueryTimeout = 0 }, "query_timeout"},
		{"bad folding", func(c *StrategyConfig) { c.FoldingPreference = "eager" }, "folding_preference"},
		{"no fallback template", func(c *StrategyConfig) {
			c.EnableSafeFallback = false
			c.EnableManualTemplate = false
		}, "enable_manual_template"},
		{"cache without capacity", func(c *StrategyConfig) {
			c.CacheTTL = time.Minute
			c.CacheMaxEntries = 0
		}, "cache_max_entries"},
		{"breaker without timeout", func(c *StrategyConfig) { c.BreakerOpenTimeout = 0 }, "breaker_open_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultStrategyConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid strategy config")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("collects every violation", func(t *testing.T) {
		cfg := DefaultStrategyConfig()
		cfg.ConfidenceThreshold = -1
		cfg.MaxConcurrentRequests = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "confidence_threshold")
		assert.Contains(t, err.Error(), "; max_concurrent_requests")
	})
}

func TestStrategyConfig_TimeoutFor(t *testing.T) {
	cfg := DefaultStrategyConfig()
	assert.Equal(t, cfg.ExpressionTimeout, cfg.TimeoutFor(datatypes.KindCalculationExpr))
	assert.Equal(t, cfg.QueryTimeout, cfg.TimeoutFor(datatypes.KindRetrievalQuery))
	assert.Panics(t, func() { cfg.TimeoutFor(datatypes.ExpressionKind(0)) })
}

func TestLoadStrategyConfig(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		cfg, err := LoadStrategyConfig("")
		require.NoError(t, err)
		assert.Equal(t, DefaultStrategyConfig(), cfg)
	})

	t.Run("missing file returns defaults", func(t *testing.T) {
		cfg, err := LoadStrategyConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, DefaultStrategyConfig(), cfg)
	})

	t.Run("yaml file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "strategy.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
confidence_threshold: 0.8
max_retry_attempts: 1
retry_backoff: 250ms
query_timeout: 90s
folding_preference: strict
strict_columns: true
`), 0o600))

		cfg, err := LoadStrategyConfig(path)
		require.NoError(t, err)
		assert.Equal(t, 0.8, cfg.ConfidenceThreshold)
		assert.Equal(t, 1, cfg.MaxRetryAttempts)
		assert.Equal(t, 250*time.Millisecond, cfg.RetryBackoff)
		assert.Equal(t, 90*time.Second, cfg.QueryTimeout)
		assert.Equal(t, datatypes.FoldingStrict, cfg.FoldingPreference)
		assert.True(t, cfg.StrictColumns)
		assert.Equal(t, 30*time.Second, cfg.ExpressionTimeout, "unset fields keep defaults")
	})

	t.Run("json file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "strategy.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"complexity_threshold": 20, "expression_timeout": 5000000000}`), 0o600))

		cfg, err := LoadStrategyConfig(path)
		require.NoError(t, err)
		assert.Equal(t, 20, cfg.ComplexityThreshold)
		assert.Equal(t, 5*time.Second, cfg.ExpressionTimeout)
	})

	t.Run("env overrides file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "strategy.yaml")
		require.NoError(t, os.WriteFile(path, []byte("confidence_threshold: 0.8\n"), 0o600))
		t.Setenv("REPORTBRIDGE_CONFIDENCE_THRESHOLD", "0.55")
		t.Setenv("REPORTBRIDGE_EXPRESSION_TIMEOUT", "10s")
		t.Setenv("REPORTBRIDGE_STRICT_COLUMNS", "1")

		cfg, err := LoadStrategyConfig(path)
		require.NoError(t, err)
		assert.Equal(t, 0.55, cfg.ConfidenceThreshold)
		assert.Equal(t, 10*time.Second, cfg.ExpressionTimeout)
		assert.True(t, cfg.StrictColumns)
	})

	t.Run("invalid env folding preference", func(t *testing.T) {
		t.Setenv("REPORTBRIDGE_FOLDING_PREFERENCE", "sometimes")
		_, err := LoadStrategyConfig("")
		require.Error(t, err)
	})

	t.Run("invalid result", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "strategy.yaml")
		require.NoError(t, os.WriteFile(path, []byte("max_concurrent_requests: 0\n"), 0o600))
		_, err := LoadStrategyConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_concurrent_requests")
	})

	t.Run("unparseable file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "strategy.yaml")
		require.NoError(t, os.WriteFile(path, []byte("confidence_threshold: [unclosed\n"), 0o600))
		_, err := LoadStrategyConfig(path)
		require.Error(t, err)
	})
}
