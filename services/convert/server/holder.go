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
	"errors"
	"sync/atomic"

	"github.com/AleutianAI/ReportBridge/services/convert/strategy"
)

// BuildFunc creates a pipeline instance from a configuration.
type BuildFunc func(cfg strategy.StrategyConfig) (*strategy.FallbackStrategy, error)

// PipelineHolder publishes the current pipeline instance.
//
// Requests load the instance once and use it to completion, so a reload
// never changes thresholds halfway through a conversion.
//
// Thread Safety: Safe for concurrent use.
type PipelineHolder struct {
	current atomic.Pointer[strategy.FallbackStrategy]
	build   BuildFunc
	reloads atomic.Int64
}

// NewPipelineHolder builds the initial instance from cfg.
func NewPipelineHolder(cfg strategy.StrategyConfig, build BuildFunc) (*PipelineHolder, error) {
	if build == nil {
		return nil, errors.New("pipeline holder requires a build function")
	}
	p, err := build(cfg)
	if err != nil {
		return nil, err
	}
	h := &PipelineHolder{build: build}
	h.current.Store(p)
	return h, nil
}

// Load returns the current instance.
func (h *PipelineHolder) Load() *strategy.FallbackStrategy {
	return h.current.Load()
}

// Reload builds a new instance from cfg and swaps it in. On error the
// current instance stays in place.
func (h *PipelineHolder) Reload(cfg strategy.StrategyConfig) error {
	p, err := h.build(cfg)
	if err != nil {
		return err
	}
	h.current.Store(p)
	h.reloads.Add(1)
	return nil
}

// Reloads returns the number of successful reloads.
func (h *PipelineHolder) Reloads() int64 {
	return h.reloads.Load()
}
