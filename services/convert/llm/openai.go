// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm adapts an OpenAI-compatible chat completion endpoint to the
// converter port.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/ReportBridge/services/convert/converter"
	"github.com/AleutianAI/ReportBridge/services/convert/datatypes"
)

const (
	defaultModel       = "gpt-4o-mini"
	apiKeySecretPath   = "/run/secrets/openai_api_key"
	defaultMaxTokens   = 2048
	defaultTemperature = 0
)

// ErrMissingAPIKey is returned when no API key is configured.
var ErrMissingAPIKey = errors.New("OPENAI_API_KEY environment variable not set")

// Config configures the OpenAI converter.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int

	// HTTPClient overrides the transport. Nil uses the library default.
	HTTPClient *http.Client
}

// ConfigFromEnv reads OPENAI_API_KEY (or the mounted secret), OPENAI_BASE_URL
// and OPENAI_MODEL.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		APIKey:      os.Getenv("OPENAI_API_KEY"),
		BaseURL:     os.Getenv("OPENAI_BASE_URL"),
		Model:       os.Getenv("OPENAI_MODEL"),
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	}
	if cfg.APIKey == "" {
		keyBytes, err := os.ReadFile(apiKeySecretPath)
		if err != nil {
			return cfg, ErrMissingAPIKey
		}
		cfg.APIKey = strings.TrimSpace(string(keyBytes))
		slog.Info("Read the OpenAI API key from the secrets mount")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
		slog.Warn("OPENAI_MODEL not set, using default", slog.String("model", defaultModel))
	}
	return cfg, nil
}

// Option configures an OpenAIConverter.
type Option func(*OpenAIConverter)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *OpenAIConverter) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPrompts replaces the built-in prompts.
func WithPrompts(p PromptSet) Option {
	return func(c *OpenAIConverter) {
		c.prompts = p
	}
}

// OpenAIConverter converts requests through a chat completion endpoint.
//
// Description:
//
//	Renders a per-kind prompt, asks for a JSON object reply and extracts
//	the converted text and self-reported confidence. Rate limits and
//	server errors are marked transient so the pipeline retries them.
//
// Thread Safety: Safe for concurrent use.
type OpenAIConverter struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	prompts     PromptSet
	logger      *slog.Logger
}

// NewOpenAIConverter creates a converter.
//
// Outputs:
//
//	*OpenAIConverter - Ready to use.
//	error - ErrMissingAPIKey when cfg has no key.
func NewOpenAIConverter(cfg Config, opts ...Option) (*OpenAIConverter, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	c := &OpenAIConverter{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		prompts:     DefaultPromptSet(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger.Info("Initializing OpenAI converter", slog.String("model", model))
	return c, nil
}

// Name identifies the converter in cache keys and result metadata.
func (c *OpenAIConverter) Name() string {
	return "openai:" + c.model
}

// Convert implements converter.Converter.
func (c *OpenAIConverter) Convert(ctx context.Context, req datatypes.ConversionRequest) (converter.Response, error) {
	prompt, err := c.prompts.Render(req)
	if err != nil {
		return converter.Response{}, err
	}

	chatReq := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.prompts.System},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature:         c.temperature,
		MaxCompletionTokens: c.maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	c.logger.Debug("Requesting conversion",
		slog.String("model", c.model),
		slog.String("kind", req.Kind.String()),
	)

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		if ctx.Err() != nil {
			return converter.Response{}, ctx.Err()
		}
		c.logger.Warn("OpenAI API call failed", slog.String("error", err.Error()))
		return converter.Response{}, classify(err)
	}

	if len(resp.Choices) == 0 {
		return converter.Response{}, ErrNoChoices
	}
	c.logger.Debug("Received conversion", slog.String("finish_reason", string(resp.Choices[0].FinishReason)))

	out, err := ParseReply(resp.Choices[0].Message.Content)
	if err != nil {
		return converter.Response{}, err
	}
	out.Model = resp.Model
	if out.Model == "" {
		out.Model = c.model
	}
	return out, nil
}

// classify marks rate limits and server-side failures as transient.
func classify(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	wrapped := fmt.Errorf("OpenAI API call failed: %w", err)
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return converter.MarkTransient(wrapped)
	}
	return wrapped
}
