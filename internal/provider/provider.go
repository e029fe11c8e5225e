// Package provider adapts the external speech-to-text provider behind a
// batching, throttling, circuit-broken call path.
package provider

import (
	"context"
	"errors"
)

// UnavailableText is the placeholder delivered when the provider cannot be
// reached; the session survives upstream outages.
const UnavailableText = "[Transcription temporarily unavailable]"

// ErrRateLimited marks the retryable error class. Provider clients wrap
// rate-limit responses with this sentinel; only these errors are retried
// with backoff. All other failures go straight to the circuit breaker.
var ErrRateLimited = errors.New("provider rate limited")

// Result is the raw outcome of one transcription request.
//
// Confidence carries the provider-supplied signal without normalization;
// it may be NaN when the provider reports nothing. The adapter clamps it
// into [0,1] before it reaches a TranscriptionUpdate.
type Result struct {
	Text       string
	Final      bool
	Confidence float64
}

// Transcriber is the narrow request/response interface to the external
// speech-to-text provider. One call transcribes one batched audio payload.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (Result, error)
	Name() string
}
