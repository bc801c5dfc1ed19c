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
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/ReportBridge/services/convert/strategy"
)

// DefaultReloadDebounce is how long the watcher waits after the last
// change before reloading.
const DefaultReloadDebounce = 200 * time.Millisecond

// ConfigWatcher reloads the pipeline when its configuration file changes.
//
// # Description
//
// Watches the directory holding the file rather than the file itself, so
// editors that save by rename-and-replace keep triggering reloads. Events
// are debounced; an invalid file is logged and the running pipeline is
// kept.
//
// # Thread Safety
//
// Safe for concurrent use. Reloads run on a single goroutine.
type ConfigWatcher struct {
	path     string
	holder   *PipelineHolder
	logger   *slog.Logger
	debounce time.Duration
	watcher  *fsnotify.Watcher

	// onReload is called after every reload attempt. Tests hook it.
	onReload func(err error)

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewConfigWatcher creates a watcher for path. Call Start to begin.
func NewConfigWatcher(path string, holder *PipelineHolder, logger *slog.Logger) (*ConfigWatcher, error) {
	if path == "" {
		return nil, errors.New("config watcher requires a path")
	}
	if holder == nil {
		return nil, errors.New("config watcher requires a pipeline holder")
	}
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &ConfigWatcher{
		path:     abs,
		holder:   holder,
		logger:   logger,
		debounce: DefaultReloadDebounce,
		watcher:  w,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. Watching stops on Stop or when ctx is done.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.wg.Add(1)
	go w.loop(ctx)
	w.logger.Info("watching config for changes", slog.String("path", w.path))
	return nil
}

// Stop stops watching and waits for the loop to exit.
func (w *ConfigWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
	})
	w.wg.Wait()
}

func (w *ConfigWatcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", slog.String("error", err.Error()))
		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

func (w *ConfigWatcher) reload() {
	cfg, err := strategy.LoadStrategyConfig(w.path)
	if err == nil {
		err = w.holder.Reload(cfg)
	}
	if err != nil {
		w.logger.Warn("config reload failed, keeping current pipeline",
			slog.String("path", w.path),
			slog.String("error", err.Error()),
		)
	} else {
		w.logger.Info("config reloaded",
			slog.String("path", w.path),
			slog.Float64("confidence_threshold", cfg.ConfidenceThreshold),
			slog.Int("complexity_threshold", cfg.ComplexityThreshold),
		)
	}
	if w.onReload != nil {
		w.onReload(err)
	}
}
