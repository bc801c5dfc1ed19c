// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatText, false},
		{"text", FormatText, false},
		{"JSON", FormatJSON, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)

	lvl, err = ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew_PrimaryStream(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: slog.LevelInfo, Format: FormatJSON, Output: &buf, Service: "reportbridge"})
	require.NoError(t, err)
	defer logger.Close()

	logger.Slog().Debug("hidden")
	logger.Slog().Info("conversion finished", slog.String("strategy", "safe_fallback"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	assert.Equal(t, "conversion finished", record["msg"])
	assert.Equal(t, "safe_fallback", record["strategy"])
	assert.Equal(t, "reportbridge", record["service"])
	assert.Empty(t, logger.Path())
}

func TestNew_TextIsDefault(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Output: &buf})
	require.NoError(t, err)

	logger.Slog().Info("hello", slog.Int("n", 1))
	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "n=1")
}

func TestNew_RejectsUnknownFormat(t *testing.T) {
	_, err := New(Config{Format: Format("xml"), Output: &bytes.Buffer{}})
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestNew_LogDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	var buf bytes.Buffer

	logger, err := New(Config{Level: slog.LevelWarn, Output: &buf, LogDir: dir, Service: "cli"})
	require.NoError(t, err)
	require.NotEmpty(t, logger.Path())
	assert.True(t, strings.HasPrefix(filepath.Base(logger.Path()), "cli_"))

	logger.Slog().Info("filtered")
	logger.Slog().Warn("external converter failed", slog.String("error", "timeout"))
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close(), "second close is a no-op")

	data, err := os.ReadFile(logger.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	assert.Equal(t, "external converter failed", record["msg"])
	assert.Equal(t, "cli", record["service"])

	assert.Contains(t, buf.String(), "external converter failed")
	assert.NotContains(t, buf.String(), "filtered")
}

func TestNew_LogDirUnwritable(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	_, err := New(Config{Output: &bytes.Buffer{}, LogDir: filepath.Join(file, "logs")})
	assert.Error(t, err)
}

func TestMultiHandler(t *testing.T) {
	var debug, warn bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&warn, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}}

	assert.True(t, h.Enabled(context.Background(), slog.LevelDebug))

	logger := slog.New(h).With(slog.String("kind", "calculation_expr")).WithGroup("req")
	logger.Info("info", slog.String("id", "a"))
	logger.Warn("warn", slog.String("id", "b"))

	assert.Contains(t, debug.String(), "msg=info")
	assert.Contains(t, debug.String(), "msg=warn")
	assert.Contains(t, debug.String(), "kind=calculation_expr")
	assert.Contains(t, debug.String(), "req.id=a")
	assert.NotContains(t, warn.String(), "msg=info")
	assert.Contains(t, warn.String(), "req.id=b")
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".reportbridge/logs"), expandPath("~/.reportbridge/logs"))
	assert.Equal(t, "/var/log", expandPath("/var/log"))
	assert.Equal(t, "relative/path", expandPath("relative/path"))
}
