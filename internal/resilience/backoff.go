// Package resilience provides the retry backoff calculator and the circuit
// breaker that guard calls to the external transcription provider.
package resilience

import (
	"errors"
	"time"
)

// maxShift caps the exponential multiplier at 2^30 so large attempt numbers
// cannot overflow the delay computation.
const maxShift = 30

// Errors returned by NewBackoffPolicy for invalid configuration.
var (
	ErrNonPositiveBaseDelay = errors.New("base delay must be positive")
	ErrMaxBelowBase         = errors.New("max delay must be >= base delay")
)

// BackoffPolicy computes exponential retry delays:
// delay(n) = min(base * 2^n, max).
type BackoffPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// NewBackoffPolicy validates and builds a BackoffPolicy.
func NewBackoffPolicy(base, max time.Duration, maxAttempts int) (BackoffPolicy, error) {
	if base <= 0 {
		return BackoffPolicy{}, ErrNonPositiveBaseDelay
	}
	if max < base {
		return BackoffPolicy{}, ErrMaxBelowBase
	}
	return BackoffPolicy{BaseDelay: base, MaxDelay: max, MaxAttempts: maxAttempts}, nil
}

// Delay returns the backoff delay for a zero-based attempt number. Delays
// are non-decreasing in the attempt number and never exceed MaxDelay.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	shift := attempt
	if shift > maxShift {
		shift = maxShift
	}
	// base << shift would overflow for large bases, so compare against the
	// cap before shifting.
	if p.BaseDelay > p.MaxDelay>>shift {
		return p.MaxDelay
	}
	return p.BaseDelay << shift
}

// TotalDelay returns the summed delay across attempts 0..maxAttempts-1.
func (p BackoffPolicy) TotalDelay(maxAttempts int) time.Duration {
	var total time.Duration
	for i := 0; i < maxAttempts; i++ {
		total += p.Delay(i)
	}
	return total
}
