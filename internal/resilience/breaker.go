package resilience

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// BreakerState is the circuit breaker state.
type BreakerState int32

const (
	// BreakerClosed - calls flow through, outcomes are recorded.
	BreakerClosed BreakerState = iota
	// BreakerOpen - calls are rejected without reaching the provider.
	BreakerOpen
	// BreakerHalfOpen - probe calls are allowed to test recovery.
	BreakerHalfOpen
)

// String returns the state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerSettings configures a CircuitBreaker.
type BreakerSettings struct {
	Name string
	// FailureRateThreshold is the failure percentage (0-100) at or above
	// which the breaker opens.
	FailureRateThreshold float64
	// SlidingWindowSize is the number of recent call outcomes considered.
	SlidingWindowSize int
	// MinimumCalls is the number of recorded calls required before the
	// failure rate is evaluated.
	MinimumCalls int
	// OpenStateWait is how long the breaker stays OPEN before probing.
	OpenStateWait time.Duration
}

// BreakerMetrics is a snapshot of breaker counters for monitoring.
type BreakerMetrics struct {
	State         BreakerState
	FailureRate   float64
	Successes     int
	Failures      int
	RejectedCalls int64
}

// CircuitBreaker tracks call outcomes over a count-based sliding window and
// gates calls to a shared downstream dependency. One instance is shared by
// all sessions because the protected resource is shared.
type CircuitBreaker struct {
	settings BreakerSettings

	// state is read lock-free on the hot path; transitions hold mu.
	state    atomic.Int32
	rejected atomic.Int64

	mu       sync.Mutex
	window   []bool // true = failure
	idx      int
	recorded int
	openedAt time.Time

	now func() time.Time
}

// NewCircuitBreaker builds a breaker in the CLOSED state.
func NewCircuitBreaker(settings BreakerSettings) *CircuitBreaker {
	if settings.SlidingWindowSize <= 0 {
		settings.SlidingWindowSize = 10
	}
	if settings.MinimumCalls <= 0 {
		settings.MinimumCalls = settings.SlidingWindowSize
	}
	if settings.FailureRateThreshold <= 0 {
		settings.FailureRateThreshold = 50
	}
	if settings.OpenStateWait <= 0 {
		settings.OpenStateWait = 30 * time.Second
	}
	return &CircuitBreaker{
		settings: settings,
		window:   make([]bool, settings.SlidingWindowSize),
		now:      time.Now,
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	return BreakerState(cb.state.Load())
}

// Allow reports whether a call may proceed. An OPEN breaker transitions to
// HALF_OPEN once OpenStateWait has elapsed; rejected calls are counted.
func (cb *CircuitBreaker) Allow() bool {
	if cb.State() != BreakerOpen {
		return true
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if BreakerState(cb.state.Load()) != BreakerOpen {
		return true
	}
	if cb.now().Sub(cb.openedAt) >= cb.settings.OpenStateWait {
		cb.transition(BreakerHalfOpen)
		return true
	}
	cb.rejected.Add(1)
	return false
}

// AcceptingCalls reports whether a call would currently be permitted. Unlike
// Allow it never transitions state and never counts a rejection, so an OPEN
// breaker whose wait has elapsed reports true here while staying OPEN until
// the next real call probes it.
func (cb *CircuitBreaker) AcceptingCalls() bool {
	if cb.State() != BreakerOpen {
		return true
	}
	cb.mu.Lock()
	openedAt := cb.openedAt
	cb.mu.Unlock()
	return cb.now().Sub(openedAt) >= cb.settings.OpenStateWait
}

// RecordSuccess records a successful call outcome.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if BreakerState(cb.state.Load()) == BreakerHalfOpen {
		cb.resetWindow()
		cb.transition(BreakerClosed)
		return
	}
	cb.record(false)
}

// RecordFailure records a failed call outcome and opens the breaker when the
// window failure rate crosses the threshold.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if BreakerState(cb.state.Load()) == BreakerHalfOpen {
		cb.openedAt = cb.now()
		cb.transition(BreakerOpen)
		return
	}
	cb.record(true)

	if cb.recorded >= cb.settings.MinimumCalls && cb.failureRate() >= cb.settings.FailureRateThreshold {
		cb.openedAt = cb.now()
		cb.transition(BreakerOpen)
	}
}

// FailureRate returns the failure percentage over the sliding window.
func (cb *CircuitBreaker) FailureRate() float64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureRate()
}

// Metrics returns a snapshot of the breaker counters.
func (cb *CircuitBreaker) Metrics() BreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var failures int
	for i := 0; i < cb.recorded; i++ {
		if cb.window[i] {
			failures++
		}
	}
	return BreakerMetrics{
		State:         BreakerState(cb.state.Load()),
		FailureRate:   cb.failureRate(),
		Successes:     cb.recorded - failures,
		Failures:      failures,
		RejectedCalls: cb.rejected.Load(),
	}
}

// TransitionToOpen forces the breaker OPEN. Operational override.
func (cb *CircuitBreaker) TransitionToOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.openedAt = cb.now()
	cb.transition(BreakerOpen)
}

// TransitionToClosed forces the breaker CLOSED. Operational override.
func (cb *CircuitBreaker) TransitionToClosed() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.resetWindow()
	cb.transition(BreakerClosed)
}

// TransitionToHalfOpen forces the breaker HALF_OPEN. Operational override.
func (cb *CircuitBreaker) TransitionToHalfOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(BreakerHalfOpen)
}

// Reset restores the initial CLOSED state and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.resetWindow()
	cb.rejected.Store(0)
	cb.transition(BreakerClosed)
}

// record must be called with mu held. The window is a ring: once full, the
// oldest outcome is overwritten.
func (cb *CircuitBreaker) record(failure bool) {
	cb.window[cb.idx] = failure
	cb.idx = (cb.idx + 1) % len(cb.window)
	if cb.recorded < len(cb.window) {
		cb.recorded++
	}
}

func (cb *CircuitBreaker) resetWindow() {
	for i := range cb.window {
		cb.window[i] = false
	}
	cb.idx = 0
	cb.recorded = 0
}

func (cb *CircuitBreaker) failureRate() float64 {
	if cb.recorded == 0 {
		return 0
	}
	var failures int
	for i := 0; i < cb.recorded; i++ {
		if cb.window[i] {
			failures++
		}
	}
	return float64(failures) / float64(cb.recorded) * 100
}

func (cb *CircuitBreaker) transition(to BreakerState) {
	from := BreakerState(cb.state.Load())
	if from == to {
		return
	}
	cb.state.Store(int32(to))
	log.Info().
		Str("breaker", cb.settings.Name).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Circuit breaker state transition")
}
