// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ReportBridge/services/convert/converter"
	"github.com/AleutianAI/ReportBridge/services/convert/datatypes"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func exprRequest() datatypes.ConversionRequest {
	return datatypes.ConversionRequest{
		SourceText: "Sum({Orders.Amount})",
		Kind:       datatypes.KindCalculationExpr,
		Context: datatypes.ConversionContext{
			EntityName:    "Orders",
			Columns:       []datatypes.Column{{Name: "Amount"}, {Name: "Region"}},
			ColumnMapping: map[string]string{"Orders.Amount": "Amount"},
		},
	}
}

func completionBody(content string) string {
	body, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-test",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	})
	return string(body)
}

func newTestConverter(t *testing.T, handler http.HandlerFunc) *OpenAIConverter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewOpenAIConverter(Config{
		APIKey:  "test-key",
		BaseURL: srv.URL + "/v1",
		Model:   "gpt-test",
	}, WithLogger(quietLogger()))
	require.NoError(t, err)
	return c
}

func TestNewOpenAIConverter_RequiresKey(t *testing.T) {
	_, err := NewOpenAIConverter(Config{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestOpenAIConverter_Name(t *testing.T) {
	c, err := NewOpenAIConverter(Config{APIKey: "k", Model: "gpt-x"}, WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.Equal(t, "openai:gpt-x", c.Name())
}

func TestOpenAIConverter_Convert(t *testing.T) {
	var gotPrompt string
	c := newTestConverter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-test", body.Model)
		require.Len(t, body.Messages, 2)
		gotPrompt = body.Messages[1].Content

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionBody(`{"expression": "SUM('Orders'[Amount])", "confidence": 0.91}`))
	})

	resp, err := c.Convert(context.Background(), exprRequest())
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, "SUM('Orders'[Amount])", resp.Text)
	require.NotNil(t, resp.Confidence)
	assert.InDelta(t, 0.91, *resp.Confidence, 1e-9)
	assert.Equal(t, "gpt-test", resp.Model)

	assert.Contains(t, gotPrompt, "Sum({Orders.Amount})")
	assert.Contains(t, gotPrompt, "Amount, Region")
	assert.Contains(t, gotPrompt, "Orders.Amount -> Amount")
}

func TestOpenAIConverter_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusBadGateway, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestConverter(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"error": {"message": "nope", "type": "test_error"}}`)
			})

			_, err := c.Convert(context.Background(), exprRequest())
			require.Error(t, err)
			assert.Equal(t, tt.transient, converter.IsTransient(err))
		})
	}
}

func TestOpenAIConverter_ThroughCall(t *testing.T) {
	t.Run("garbage reply is a failure", func(t *testing.T) {
		c := newTestConverter(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, completionBody("I cannot help with that."))
		})
		out := converter.Call(context.Background(), c, exprRequest(), time.Second)
		assert.Equal(t, converter.StatusFailed, out.Status)
		assert.True(t, errors.Is(out.Err, ErrMalformedReply))
	})

	t.Run("slow endpoint times out", func(t *testing.T) {
		release := make(chan struct{})
		c := newTestConverter(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		})
		defer close(release)

		out := converter.Call(context.Background(), c, exprRequest(), 50*time.Millisecond)
		assert.Equal(t, converter.StatusTimedOut, out.Status)
	})
}

func TestParseReply(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantText string
		wantConf *float64
		wantErr  error
	}{
		{
			name:     "bare object",
			content:  `{"expression": "1 + 1", "confidence": 0.8}`,
			wantText: "1 + 1",
			wantConf: ptr(0.8),
		},
		{
			name:     "fenced",
			content:  "```json\n{\"expression\": \"let x = 1 in x\", \"confidence\": 0.5}\n```",
			wantText: "let x = 1 in x",
			wantConf: ptr(0.5),
		},
		{
			name:     "prose around object",
			content:  "Here you go: {\"expression\": \"[Sales]\"} hope it helps",
			wantText: "[Sales]",
		},
		{
			name:    "no object",
			content: "no json here",
			wantErr: ErrMalformedReply,
		},
		{
			name:    "invalid json",
			content: `{"expression": }`,
			wantErr: ErrMalformedReply,
		},
		{
			name:    "empty expression",
			content: `{"expression": "  ", "confidence": 0.9}`,
			wantErr: converter.ErrEmptyOutput,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := ParseReply(tt.content)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, resp.Success)
			assert.Equal(t, tt.wantText, resp.Text)
			if tt.wantConf == nil {
				assert.Nil(t, resp.Confidence)
			} else {
				require.NotNil(t, resp.Confidence)
				assert.InDelta(t, *tt.wantConf, *resp.Confidence, 1e-9)
			}
		})
	}
}

func TestPromptSet_Render(t *testing.T) {
	p := DefaultPromptSet()

	query := datatypes.ConversionRequest{
		SourceText: "SELECT * FROM dbo.Orders",
		Kind:       datatypes.KindRetrievalQuery,
		Context: datatypes.ConversionContext{
			EntityName: "Orders",
			Connection: datatypes.Connection{Connector: "sqlserver", Server: "db01", Database: "Sales"},
		},
	}
	out, err := p.Render(query)
	require.NoError(t, err)
	assert.Contains(t, out, "Power Query M")
	assert.Contains(t, out, "SELECT * FROM dbo.Orders")
	assert.Contains(t, out, "Server: db01")
	assert.Contains(t, out, "Folding preference: best_effort")
	assert.Contains(t, out, "Schema: (none)")

	_, err = p.Render(datatypes.ConversionRequest{SourceText: "x"})
	assert.ErrorIs(t, err, datatypes.ErrUnknownKind)
}

func ptr(f float64) *float64 { return &f }
