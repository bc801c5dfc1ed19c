// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ReportBridge/services/convert/ledger"
)

func TestConfigWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reportbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("confidence_threshold: 0.7\n"), 0o644))

	holder, err := NewPipelineHolder(testConfig(), buildWith(ledger.New()))
	require.NoError(t, err)

	w, err := NewConfigWatcher(path, holder, quietLogger())
	require.NoError(t, err)
	w.debounce = 50 * time.Millisecond
	reloaded := make(chan error, 8)
	w.onReload = func(err error) { reloaded <- err }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("confidence_threshold: 0.4\n"), 0o644))
	select {
	case err := <-reloaded:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after config change")
	}
	assert.InDelta(t, 0.4, holder.Load().Config().ConfidenceThreshold, 1e-9)

	// An invalid file is rejected and the running pipeline kept.
	require.NoError(t, os.WriteFile(path, []byte("confidence_threshold: 3\n"), 0o644))
	select {
	case err := <-reloaded:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload attempt after invalid change")
	}
	assert.InDelta(t, 0.4, holder.Load().Config().ConfidenceThreshold, 1e-9)
}

func TestConfigWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reportbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("confidence_threshold: 0.7\n"), 0o644))

	holder, err := NewPipelineHolder(testConfig(), buildWith(ledger.New()))
	require.NoError(t, err)
	w, err := NewConfigWatcher(path, holder, quietLogger())
	require.NoError(t, err)
	w.debounce = 50 * time.Millisecond
	reloaded := make(chan error, 8)
	w.onReload = func(err error) { reloaded <- err }

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o644))
	select {
	case <-reloaded:
		t.Fatal("unrelated file triggered a reload")
	case <-time.After(200 * time.Millisecond):
	}
	assert.Zero(t, holder.Reloads())
}

func TestNewConfigWatcher_Validation(t *testing.T) {
	_, err := NewConfigWatcher("", nil, nil)
	assert.Error(t, err)

	holder, err := NewPipelineHolder(testConfig(), buildWith(ledger.New()))
	require.NoError(t, err)
	_, err = NewConfigWatcher("x.yaml", nil, nil)
	assert.Error(t, err)

	w, err := NewConfigWatcher("x.yaml", holder, nil)
	require.NoError(t, err)
	w.Stop()
}
