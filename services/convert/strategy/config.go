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
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/ReportBridge/services/convert/datatypes"
	"github.com/AleutianAI/ReportBridge/services/convert/validate"
)

// StrategyConfig holds the thresholds and toggles of one pipeline instance.
//
// Thread Safety: Read-only once passed to NewFallbackStrategy.
type StrategyConfig struct {
	// ConfidenceThreshold below which a valid external result needs review.
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold"`

	// ComplexityThreshold is the pipeline gate on source complexity.
	ComplexityThreshold int `json:"complexity_threshold" yaml:"complexity_threshold"`

	// SourceComplexityWarning is the advisory threshold of the source validator.
	SourceComplexityWarning int `json:"source_complexity_warning" yaml:"source_complexity_warning"`

	// MaxRetryAttempts is the number of retries of the external call on transient errors.
	MaxRetryAttempts int `json:"max_retry_attempts" yaml:"max_retry_attempts"`

	// RetryBackoff is the base of the exponential backoff between retries.
	RetryBackoff time.Duration `json:"retry_backoff" yaml:"retry_backoff"`

	// MaxConcurrentRequests bounds in-flight external calls.
	MaxConcurrentRequests int `json:"max_concurrent_requests" yaml:"max_concurrent_requests"`

	// RequestsPerSecond rate-limits external calls. 0 = unlimited.
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`

	// ExpressionTimeout bounds one external call for a calculation expression.
	ExpressionTimeout time.Duration `json:"expression_timeout" yaml:"expression_timeout"`

	// QueryTimeout bounds one external call for a retrieval script.
	QueryTimeout time.Duration `json:"query_timeout" yaml:"query_timeout"`

	EnablePreValidation  bool `json:"enable_pre_validation" yaml:"enable_pre_validation"`
	EnablePostValidation bool `json:"enable_post_validation" yaml:"enable_post_validation"`

	FallbackOnValidationFailure bool `json:"fallback_on_validation_failure" yaml:"fallback_on_validation_failure"`
	FallbackOnLowConfidence     bool `json:"fallback_on_low_confidence" yaml:"fallback_on_low_confidence"`
	FallbackOnExternalError     bool `json:"fallback_on_external_error" yaml:"fallback_on_external_error"`
	FallbackOnHighComplexity    bool `json:"fallback_on_high_complexity" yaml:"fallback_on_high_complexity"`

	// EnableSafeFallback allows the safe template. When false the manual template is used.
	EnableSafeFallback bool `json:"enable_safe_fallback" yaml:"enable_safe_fallback"`

	// EnableManualTemplate allows the last-resort template for retrieval scripts.
	EnableManualTemplate bool `json:"enable_manual_template" yaml:"enable_manual_template"`

	// StrictColumns makes unknown column references fatal for every request.
	StrictColumns bool `json:"strict_columns" yaml:"strict_columns"`

	// FoldingPreference applies when a request leaves it unset.
	FoldingPreference datatypes.FoldingPreference `json:"folding_preference" yaml:"folding_preference"`

	// BreakerFailureThreshold is consecutive external failures before the breaker opens. 0 disables.
	BreakerFailureThreshold int `json:"breaker_failure_threshold" yaml:"breaker_failure_threshold"`

	// BreakerOpenTimeout is how long the breaker stays open before probing.
	BreakerOpenTimeout time.Duration `json:"breaker_open_timeout" yaml:"breaker_open_timeout"`

	// CacheTTL caches successful external responses. 0 disables.
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl"`

	// CacheMaxEntries bounds the response cache.
	CacheMaxEntries int `json:"cache_max_entries" yaml:"cache_max_entries"`
}

// DefaultStrategyConfig returns production defaults.
func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		ConfidenceThreshold:         0.7,
		ComplexityThreshold:         15,
		SourceComplexityWarning:     validate.DefaultSourceComplexityWarning,
		MaxRetryAttempts:            2,
		RetryBackoff:                500 * time.Millisecond,
		MaxConcurrentRequests:       4,
		RequestsPerSecond:           0,
		ExpressionTimeout:           30 * time.Second,
		QueryTimeout:                120 * time.Second,
		EnablePreValidation:         true,
		EnablePostValidation:        true,
		FallbackOnValidationFailure: true,
		FallbackOnLowConfidence:     true,
		FallbackOnExternalError:     true,
		FallbackOnHighComplexity:    false,
		EnableSafeFallback:          true,
		EnableManualTemplate:        true,
		StrictColumns:               false,
		FoldingPreference:           datatypes.FoldingBestEffort,
		BreakerFailureThreshold:     5,
		BreakerOpenTimeout:          30 * time.Second,
		CacheTTL:                    0,
		CacheMaxEntries:             1000,
	}
}

// Validate checks that the configuration is usable.
//
// Outputs:
//
//	error - Lists every violation, or nil.
func (c StrategyConfig) Validate() error {
	var errs []string

	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		errs = append(errs, "confidence_threshold must be between 0 and 1")
	}
	if c.ComplexityThreshold < 1 {
		errs = append(errs, "complexity_threshold must be >= 1")
	}
	if c.SourceComplexityWarning < 1 {
		errs = append(errs, "source_complexity_warning must be >= 1")
	}
	if c.MaxRetryAttempts < 0 {
		errs = append(errs, "max_retry_attempts must be >= 0")
	}
	if c.MaxRetryAttempts > 0 && c.RetryBackoff < 0 {
		errs = append(errs, "retry_backoff must be >= 0")
	}
	if c.MaxConcurrentRequests < 1 {
		errs = append(errs, "max_concurrent_requests must be >= 1")
	}
	if c.RequestsPerSecond < 0 {
		errs = append(errs, "requests_per_second must be >= 0")
	}
	if c.ExpressionTimeout <= 0 {
		errs = append(errs, "expression_timeout must be > 0")
	}
	if c.QueryTimeout <= 0 {
		errs = append(errs, "query_timeout must be > 0")
	}
	if !c.FoldingPreference.Valid() {
		errs = append(errs, fmt.Sprintf("folding_preference %q is not one of strict, best_effort, none", c.FoldingPreference))
	}
	if c.BreakerFailureThreshold < 0 {
		errs = append(errs, "breaker_failure_threshold must be >= 0")
	}
	if c.BreakerFailureThreshold > 0 && c.BreakerOpenTimeout <= 0 {
		errs = append(errs, "breaker_open_timeout must be > 0 when the breaker is enabled")
	}
	if !c.EnableSafeFallback && !c.EnableManualTemplate {
		errs = append(errs, "at least one of enable_safe_fallback and enable_manual_template must be true")
	}
	if c.CacheTTL < 0 {
		errs = append(errs, "cache_ttl must be >= 0")
	}
	if c.CacheTTL > 0 && c.CacheMaxEntries < 1 {
		errs = append(errs, "cache_max_entries must be >= 1 when caching is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid strategy config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// TimeoutFor returns the external call timeout for a kind.
func (c StrategyConfig) TimeoutFor(kind datatypes.ExpressionKind) time.Duration {
	switch kind {
	case datatypes.KindCalculationExpr:
		return c.ExpressionTimeout
	case datatypes.KindRetrievalQuery:
		return c.QueryTimeout
	default:
		panic(fmt.Sprintf("unhandled expression kind %s", kind))
	}
}

// LoadStrategyConfig loads configuration with priority: env > file > defaults.
//
// Inputs:
//
//	configPath - Path to a YAML or JSON file. Empty or missing means defaults.
//
// Outputs:
//
//	StrategyConfig - Merged configuration.
//	error - Non-nil if the file is unreadable or the result is invalid.
func LoadStrategyConfig(configPath string) (StrategyConfig, error) {
	config := DefaultStrategyConfig()

	if configPath != "" {
		if err := loadConfigFile(configPath, &config); err != nil {
			return config, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := loadConfigFromEnv(&config); err != nil {
		return config, fmt.Errorf("load config from env: %w", err)
	}

	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

func loadConfigFile(path string, config *StrategyConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if strings.HasSuffix(strings.ToLower(path), ".json") {
		return json.Unmarshal(data, config)
	}

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		if jsonErr := json.Unmarshal(data, config); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

func loadConfigFromEnv(config *StrategyConfig) error {
	if v := os.Getenv("REPORTBRIDGE_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.ConfidenceThreshold = f
		}
	}
	if v := os.Getenv("REPORTBRIDGE_COMPLEXITY_THRESHOLD"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.ComplexityThreshold = i
		}
	}
	if v := os.Getenv("REPORTBRIDGE_MAX_RETRY_ATTEMPTS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.MaxRetryAttempts = i
		}
	}
	if v := os.Getenv("REPORTBRIDGE_MAX_CONCURRENT_REQUESTS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.MaxConcurrentRequests = i
		}
	}
	if v := os.Getenv("REPORTBRIDGE_REQUESTS_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.RequestsPerSecond = f
		}
	}
	if v := os.Getenv("REPORTBRIDGE_EXPRESSION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ExpressionTimeout = d
		}
	}
	if v := os.Getenv("REPORTBRIDGE_QUERY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.QueryTimeout = d
		}
	}
	if v := os.Getenv("REPORTBRIDGE_STRICT_COLUMNS"); v != "" {
		config.StrictColumns = v == "true" || v == "1"
	}
	if v := os.Getenv("REPORTBRIDGE_FOLDING_PREFERENCE"); v != "" {
		pref, err := datatypes.ParseFoldingPreference(v)
		if err != nil {
			return err
		}
		config.FoldingPreference = pref
	}
	return nil
}
