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
	"errors"
	"fmt"
	"sync"
	"time"
)

// CircuitState represents the state of the external converter breaker.
//
// # States
//
//   - Closed: external calls flow through
//   - Open: external calls are skipped and the request falls back
//   - HalfOpen: probing whether the converter recovered
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// String returns a human-readable state name.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// ErrCircuitOpen is reported as the external error when the breaker skips a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig configures the breaker guarding one external converter.
type BreakerConfig struct {
	// FailureThreshold is consecutive failures before opening.
	FailureThreshold int

	// SuccessThreshold is consecutive successes to close from half-open.
	SuccessThreshold int

	// OpenTimeout is how long to stay open before probing.
	OpenTimeout time.Duration

	// OnStateChange is called asynchronously on each transition.
	OnStateChange func(from, to CircuitState)

	// now is overridable in tests.
	now func() time.Time
}

// Breaker stops calling an external converter that keeps failing.
//
// # Description
//
// Only external call outcomes are recorded. Validation failures of a
// successful response do not count, so a converter producing poor output
// is still consulted.
//
// # Thread Safety
//
// Breaker is safe for concurrent use.
type Breaker struct {
	config      BreakerConfig
	state       CircuitState
	failures    int
	successes   int
	lastFailure time.Time
	mu          sync.RWMutex
}

// NewBreaker creates a breaker in the closed state.
func NewBreaker(config BreakerConfig) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 30 * time.Second
	}
	if config.now == nil {
		config.now = time.Now
	}
	return &Breaker{config: config, state: CircuitClosed}
}

// Allow reports whether an external call may be made now.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if b.config.now().Sub(b.lastFailure) > b.config.OpenTimeout {
			b.transitionTo(CircuitHalfOpen)
			return true
		}
		return false
	default:
		return false
	}
}

// Record updates the breaker with the result of an allowed call.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !success {
		b.failures++
		b.successes = 0
		b.lastFailure = b.config.now()
		switch b.state {
		case CircuitClosed:
			if b.failures >= b.config.FailureThreshold {
				b.transitionTo(CircuitOpen)
			}
		case CircuitHalfOpen:
			b.transitionTo(CircuitOpen)
		}
		return
	}

	b.successes++
	switch b.state {
	case CircuitClosed:
		b.failures = 0
	case CircuitHalfOpen:
		if b.successes >= b.config.SuccessThreshold {
			b.failures = 0
			b.transitionTo(CircuitClosed)
		}
	}
}

func (b *Breaker) transitionTo(state CircuitState) {
	if b.state == state {
		return
	}
	old := b.state
	b.state = state
	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(old, state)
	}
}

// State returns the current state.
func (b *Breaker) State() CircuitState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.failures
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.successes = 0
	b.transitionTo(CircuitClosed)
}
