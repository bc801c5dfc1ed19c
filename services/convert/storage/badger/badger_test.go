// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenInMemory(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	assert.True(t, db.InMemory())
	assert.Empty(t, db.Path())

	require.NoError(t, db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("result/1"), []byte(`{"id":"1"}`))
	}))
	require.NoError(t, db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("result/1"))
		require.NoError(t, err)
		return item.Value(func(val []byte) error {
			assert.JSONEq(t, `{"id":"1"}`, string(val))
			return nil
		})
	}))
}

func TestOpenPath_Persists(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := OpenPath(dir, logger)
	require.NoError(t, err)
	assert.Equal(t, dir, db.Path())
	require.NoError(t, db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("k"), []byte("v"))
	}))
	require.NoError(t, db.Close())
	require.NoError(t, db.Close(), "close is idempotent")

	db, err = OpenPath(dir, logger)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte("k"))
		return err
	}))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default with path", func() Config { c := DefaultConfig(); c.Path = "/tmp/x"; return c }(), false},
		{"in memory", InMemoryConfig(), false},
		{"missing path", DefaultConfig(), true},
		{"bad ratio", Config{InMemory: true, NumVersionsToKeep: 1, GCInterval: time.Minute, GCDiscardRatio: 1.5}, true},
		{"zero versions", Config{InMemory: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	_, err := Open(DefaultConfig())
	assert.ErrorContains(t, err, ErrPathRequired.Error())
}

func TestGCRunner(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewGCRunner(nil, time.Minute, 0.5, nil)
	assert.Error(t, err)
	_, err = NewGCRunner(db.DB, 0, 0.5, nil)
	assert.Error(t, err)
	_, err = NewGCRunner(db.DB, time.Minute, 2, nil)
	assert.Error(t, err)

	runner, err := NewGCRunner(db.DB, 10*time.Millisecond, 0.5, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	runner.Start()
	runner.Start()
	time.Sleep(30 * time.Millisecond)
	runner.Stop()
	runner.Stop()

	idle, err := NewGCRunner(db.DB, time.Minute, 0.5, nil)
	require.NoError(t, err)
	idle.Stop()
}
