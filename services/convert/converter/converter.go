// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package converter defines the port through which the conversion pipeline
// reaches the external text-generation service.
//
// The pipeline treats the service as an opaque function. Implementations
// may fail, hang, panic or return garbage; Call turns every such behavior
// into an Outcome the pipeline can match on.
package converter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/ReportBridge/services/convert/datatypes"
)

var (
	// ErrTransient marks failures worth retrying (rate limits, 5xx, connection resets).
	ErrTransient = errors.New("transient converter error")

	// ErrUnsuccessful is reported when the converter returns without error but
	// without a success flag.
	ErrUnsuccessful = errors.New("converter reported an unsuccessful result")

	// ErrEmptyOutput is reported when a successful response carries no text.
	ErrEmptyOutput = errors.New("converter returned empty text")

	// ErrPanicked is reported when the converter panics.
	ErrPanicked = errors.New("converter panicked")
)

// Response is what a converter returns for one request.
type Response struct {
	// Text is the converted expression or script.
	Text string `json:"text"`

	// Confidence is the converter's self-reported confidence (0.0-1.0).
	// Nil means the converter did not report one.
	Confidence *float64 `json:"confidence,omitempty"`

	// Success must be true for the response to be used.
	Success bool `json:"success"`

	// Model identifies the model or engine that produced the text.
	Model string `json:"model,omitempty"`
}

// Succeeded builds a successful response with a reported confidence.
func Succeeded(text string, confidence float64) Response {
	c := confidence
	return Response{Text: text, Confidence: &c, Success: true}
}

// Converter converts one request through the external service.
type Converter interface {
	Convert(ctx context.Context, req datatypes.ConversionRequest) (Response, error)
}

// Func adapts an ordinary function to the Converter interface.
type Func func(ctx context.Context, req datatypes.ConversionRequest) (Response, error)

// Convert calls f.
func (f Func) Convert(ctx context.Context, req datatypes.ConversionRequest) (Response, error) {
	return f(ctx, req)
}

// Unavailable returns a converter that always fails with err. Used for
// offline runs where every request goes straight to the fallback path.
func Unavailable(err error) Converter {
	if err == nil {
		err = errors.New("converter unavailable")
	}
	return Func(func(context.Context, datatypes.ConversionRequest) (Response, error) {
		return Response{}, err
	})
}

// transientError wraps an error so that errors.Is(err, ErrTransient) holds.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }
func (e *transientError) Is(target error) bool {
	return target == ErrTransient
}

// MarkTransient marks err as retryable. Returns nil for nil.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked retryable.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// =============================================================================
// Call outcome
// =============================================================================

// Status classifies how one converter call ended.
type Status int

const (
	StatusSucceeded Status = iota
	StatusFailed
	StatusTransient
	StatusTimedOut
	StatusCancelled
	StatusUnsuccessful
)

// String returns the metric label for the status.
func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "success"
	case StatusFailed:
		return "error"
	case StatusTransient:
		return "transient"
	case StatusTimedOut:
		return "timeout"
	case StatusCancelled:
		return "cancelled"
	case StatusUnsuccessful:
		return "unsuccessful"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is the result of one converter call. Err is nil only when
// Status is StatusSucceeded.
type Outcome struct {
	Status   Status
	Response Response
	Err      error
	Duration time.Duration
}

// Retryable reports whether another attempt may succeed.
func (o Outcome) Retryable() bool {
	return o.Status == StatusTransient
}

// Call invokes conv once under a timeout and classifies the result.
//
// Description:
//
//	Runs the external call on its own goroutine and waits for it or for
//	the deadline, whichever comes first. A converter that ignores ctx is
//	abandoned when the deadline fires; its goroutine finishes in the
//	background and its result is discarded. Timeouts, cancellations,
//	errors, panics, unsuccessful responses and empty text all come back
//	as a non-success Outcome; Call never panics and never returns a bare
//	error.
//
// Inputs:
//
//	ctx - Parent context. Cancellation yields StatusCancelled.
//	conv - The converter. Must not be nil.
//	req - The request to convert.
//	timeout - Per-call timeout. Zero or negative means no extra timeout.
//
// Outputs:
//
//	Outcome - Classified result of the call.
//
// Thread Safety: Safe for concurrent use if conv is.
func Call(ctx context.Context, conv Converter, req datatypes.ConversionRequest, timeout time.Duration) Outcome {
	start := time.Now()
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type reply struct {
		resp Response
		err  error
	}
	// Buffered so an abandoned call never blocks on send.
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: fmt.Errorf("%w: %v", ErrPanicked, r)}
			}
		}()
		resp, err := conv.Convert(callCtx, req)
		done <- reply{resp: resp, err: err}
	}()

	var r reply
	select {
	case r = <-done:
	case <-callCtx.Done():
		return classifyContextErr(ctx, callCtx.Err(), time.Since(start))
	}
	elapsed := time.Since(start)

	switch {
	case r.err == nil && callCtx.Err() != nil:
		return classifyContextErr(ctx, callCtx.Err(), elapsed)
	case errors.Is(r.err, ErrPanicked):
		return Outcome{Status: StatusFailed, Err: r.err, Duration: elapsed}
	case r.err != nil:
		if errors.Is(r.err, context.DeadlineExceeded) || errors.Is(r.err, context.Canceled) {
			return classifyContextErr(ctx, r.err, elapsed)
		}
		if IsTransient(r.err) {
			return Outcome{Status: StatusTransient, Err: r.err, Duration: elapsed}
		}
		return Outcome{Status: StatusFailed, Err: r.err, Duration: elapsed}
	case !r.resp.Success:
		return Outcome{Status: StatusUnsuccessful, Response: r.resp, Err: ErrUnsuccessful, Duration: elapsed}
	case r.resp.Text == "":
		return Outcome{Status: StatusUnsuccessful, Response: r.resp, Err: ErrEmptyOutput, Duration: elapsed}
	default:
		return Outcome{Status: StatusSucceeded, Response: r.resp, Duration: elapsed}
	}
}

func classifyContextErr(parent context.Context, err error, elapsed time.Duration) Outcome {
	if parent.Err() != nil && errors.Is(parent.Err(), context.Canceled) {
		return Outcome{Status: StatusCancelled, Err: fmt.Errorf("converter call cancelled: %w", err), Duration: elapsed}
	}
	return Outcome{Status: StatusTimedOut, Err: fmt.Errorf("converter call timed out after %s: %w", elapsed.Round(time.Millisecond), err), Duration: elapsed}
}
