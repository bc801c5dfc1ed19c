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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestBreaker_Lifecycle(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	transitions := make(chan [2]CircuitState, 8)
	b := NewBreaker(BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenTimeout:      10 * time.Second,
		OnStateChange:    func(from, to CircuitState) { transitions <- [2]CircuitState{from, to} },
		now:              clock.now,
	})

	assert.Equal(t, CircuitClosed, b.State())
	for i := 0; i < 2; i++ {
		assert.True(t, b.Allow())
		b.Record(false)
	}
	assert.Equal(t, CircuitClosed, b.State())
	assert.Equal(t, 2, b.Failures())

	b.Record(false)
	assert.Equal(t, CircuitOpen, b.State())
	assert.False(t, b.Allow())

	clock.t = clock.t.Add(11 * time.Second)
	assert.True(t, b.Allow(), "probe after the open timeout")
	assert.Equal(t, CircuitHalfOpen, b.State())

	b.Record(true)
	assert.Equal(t, CircuitHalfOpen, b.State())
	b.Record(true)
	assert.Equal(t, CircuitClosed, b.State())
	assert.Zero(t, b.Failures())

	want := [][2]CircuitState{
		{CircuitClosed, CircuitOpen},
		{CircuitOpen, CircuitHalfOpen},
		{CircuitHalfOpen, CircuitClosed},
	}
	got := make(map[[2]CircuitState]bool)
	for range want {
		select {
		case tr := <-transitions:
			got[tr] = true
		case <-time.After(time.Second):
			t.Fatal("missing state change callback")
		}
	}
	for _, w := range want {
		assert.True(t, got[w], "transition %s -> %s", w[0], w[1])
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, OpenTimeout: time.Second, now: clock.now})

	b.Record(false)
	assert.Equal(t, CircuitOpen, b.State())

	clock.t = clock.t.Add(2 * time.Second)
	assert.True(t, b.Allow())
	b.Record(false)
	assert.Equal(t, CircuitOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 2})
	b.Record(false)
	b.Record(true)
	b.Record(false)
	assert.Equal(t, CircuitClosed, b.State())

	b.Record(false)
	assert.Equal(t, CircuitOpen, b.State())
	b.Reset()
	assert.Equal(t, CircuitClosed, b.State())
	assert.True(t, b.Allow())
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "CLOSED", CircuitClosed.String())
	assert.Equal(t, "OPEN", CircuitOpen.String())
	assert.Equal(t, "HALF_OPEN", CircuitHalfOpen.String())
	assert.Equal(t, "UNKNOWN(9)", CircuitState(9).String())
}
