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

import "fmt"

// State is a stage of one conversion.
//
// # State Diagram
//
//	START ──► PRE_VALIDATED ──► EXTERNAL_ATTEMPTED ──► POST_VALIDATED ──► DONE
//	  │             │                   │                     │            ▲
//	  │             └───────────────────┴──────────┬──────────┘            │
//	  │                                            ▼                       │
//	  │                                    FALLBACK_APPLIED ───────────────┤
//	  └────────────────────────[empty input]───────────────────────────────┘
type State int

const (
	StateStart State = iota
	StatePreValidated
	StateExternalAttempted
	StatePostValidated
	StateFallbackApplied
	StateDone
)

// String returns the stage name recorded in ConversionResult.Path.
func (s State) String() string {
	switch s {
	case StateStart:
		return "START"
	case StatePreValidated:
		return "PRE_VALIDATED"
	case StateExternalAttempted:
		return "EXTERNAL_ATTEMPTED"
	case StatePostValidated:
		return "POST_VALIDATED"
	case StateFallbackApplied:
		return "FALLBACK_APPLIED"
	case StateDone:
		return "DONE"
	default:
		return fmt.Sprintf("STATE(%d)", int(s))
	}
}

// Path markers recorded alongside stage names.
const (
	MarkPreValidationFailed  = "PRE_VALIDATION_FAILED"
	MarkPostValidationFailed = "POST_VALIDATION_FAILED"
	MarkExternalFailed       = "EXTERNAL_FAILED"
	MarkComplexityExceeded   = "COMPLEXITY_EXCEEDED"
	MarkLowConfidence        = "LOW_CONFIDENCE"
	MarkCacheHit             = "CACHE_HIT"
	MarkSafeFallbackRejected = "SAFE_FALLBACK_REJECTED"
	MarkManualTemplate       = "MANUAL_TEMPLATE"
)

var allowedTransitions = map[State][]State{
	StateStart:             {StatePreValidated, StateFallbackApplied, StateDone},
	StatePreValidated:      {StateExternalAttempted, StateFallbackApplied},
	StateExternalAttempted: {StatePostValidated, StateFallbackApplied},
	StatePostValidated:     {StateFallbackApplied, StateDone},
	StateFallbackApplied:   {StateDone},
	StateDone:              nil,
}

// CanTransition reports whether the pipeline may move from one state to another.
func CanTransition(from, to State) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// run tracks the state and audit path of one conversion.
type run struct {
	state State
	path  []string
}

func newRun() *run {
	return &run{state: StateStart, path: []string{StateStart.String()}}
}

// advance moves to the next state. An illegal transition is a programming
// error in the orchestrator and panics.
func (r *run) advance(to State) {
	if !CanTransition(r.state, to) {
		panic(fmt.Sprintf("illegal pipeline transition %s -> %s", r.state, to))
	}
	r.state = to
	r.path = append(r.path, to.String())
}

func (r *run) mark(marker string) {
	r.path = append(r.path, marker)
}
