package resilience

import (
	"testing"
	"time"
)

func newTestBreaker() *CircuitBreaker {
	return NewCircuitBreaker(BreakerSettings{
		Name:                 "test",
		FailureRateThreshold: 50,
		SlidingWindowSize:    10,
		MinimumCalls:         5,
		OpenStateWait:        time.Minute,
	})
}

func TestBreaker_InitialState(t *testing.T) {
	cb := newTestBreaker()

	if cb.State() != BreakerClosed {
		t.Errorf("expected CLOSED, got %v", cb.State())
	}
	if !cb.Allow() {
		t.Error("expected Allow to be true when CLOSED")
	}
}

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	cb := newTestBreaker()

	for i := 0; i < 10; i++ {
		if cb.Allow() {
			cb.RecordFailure()
		}
	}

	if cb.State() != BreakerOpen {
		t.Errorf("expected OPEN after 10 failures, got %v", cb.State())
	}
	if cb.Allow() {
		t.Error("expected Allow to be false when OPEN")
	}

	m := cb.Metrics()
	if m.RejectedCalls == 0 {
		t.Error("expected rejected calls to be counted")
	}
}

func TestBreaker_StaysClosedBelowMinimumCalls(t *testing.T) {
	cb := newTestBreaker()

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}

	if cb.State() != BreakerClosed {
		t.Errorf("expected CLOSED below minimum calls, got %v", cb.State())
	}
}

func TestBreaker_StaysClosedBelowThreshold(t *testing.T) {
	cb := newTestBreaker()

	// 4 failures out of 10 = 40%, below the 50% threshold.
	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	for i := 0; i < 6; i++ {
		cb.RecordSuccess()
	}

	if cb.State() != BreakerClosed {
		t.Errorf("expected CLOSED at 40%% failure rate, got %v", cb.State())
	}
	if rate := cb.FailureRate(); rate != 40 {
		t.Errorf("expected failure rate 40, got %v", rate)
	}
}

func TestBreaker_OpenToHalfOpenAfterWait(t *testing.T) {
	cb := newTestBreaker()
	current := time.Now()
	cb.now = func() time.Time { return current }

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	if cb.State() != BreakerOpen {
		t.Fatalf("expected OPEN, got %v", cb.State())
	}
	if cb.Allow() {
		t.Fatal("expected rejection immediately after opening")
	}

	current = current.Add(time.Minute + time.Second)
	if !cb.Allow() {
		t.Fatal("expected probe call to be permitted after wait")
	}
	if cb.State() != BreakerHalfOpen {
		t.Errorf("expected HALF_OPEN, got %v", cb.State())
	}
}

func TestBreaker_AcceptingCallsAgreesWithAllow(t *testing.T) {
	cb := newTestBreaker()
	current := time.Now()
	cb.now = func() time.Time { return current }

	if !cb.AcceptingCalls() {
		t.Fatal("expected accepting calls when CLOSED")
	}

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	if cb.AcceptingCalls() {
		t.Error("expected not accepting calls immediately after opening")
	}
	rejectedBefore := cb.Metrics().RejectedCalls

	// Once the wait elapses, availability must agree with what the next
	// Allow would decide, without mutating state or counting a rejection.
	current = current.Add(time.Minute + time.Second)
	if !cb.AcceptingCalls() {
		t.Error("expected accepting calls after the open-state wait")
	}
	if cb.State() != BreakerOpen {
		t.Errorf("peek must not transition state, got %v", cb.State())
	}
	if got := cb.Metrics().RejectedCalls; got != rejectedBefore {
		t.Errorf("peek must not count rejections, got %d", got)
	}

	if !cb.Allow() {
		t.Error("expected the real probe call to be permitted")
	}
	if cb.State() != BreakerHalfOpen {
		t.Errorf("expected HALF_OPEN after probe, got %v", cb.State())
	}
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	cb := newTestBreaker()
	cb.TransitionToHalfOpen()

	cb.RecordSuccess()

	if cb.State() != BreakerClosed {
		t.Errorf("expected CLOSED after half-open success, got %v", cb.State())
	}
	// Window must restart clean so one stale failure cannot re-trip it.
	if rate := cb.FailureRate(); rate != 0 {
		t.Errorf("expected failure rate reset to 0, got %v", rate)
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := newTestBreaker()
	cb.TransitionToHalfOpen()

	cb.RecordFailure()

	if cb.State() != BreakerOpen {
		t.Errorf("expected OPEN after half-open failure, got %v", cb.State())
	}
}

func TestBreaker_ManualTransitionsAndReset(t *testing.T) {
	cb := newTestBreaker()

	cb.TransitionToOpen()
	if cb.State() != BreakerOpen {
		t.Errorf("expected OPEN, got %v", cb.State())
	}

	cb.TransitionToClosed()
	if cb.State() != BreakerClosed {
		t.Errorf("expected CLOSED, got %v", cb.State())
	}

	for i := 0; i < 10; i++ {
		cb.RecordFailure()
	}
	cb.Reset()

	m := cb.Metrics()
	if m.State != BreakerClosed || m.Failures != 0 || m.RejectedCalls != 0 {
		t.Errorf("expected clean CLOSED state after reset, got %+v", m)
	}
}

func TestBreaker_SlidingWindowEvictsOldOutcomes(t *testing.T) {
	cb := newTestBreaker()

	// Fill the window with failures, then overwrite with successes.
	for i := 0; i < 10; i++ {
		cb.RecordFailure()
	}
	cb.Reset()
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	cb.TransitionToClosed()
	for i := 0; i < 10; i++ {
		cb.RecordSuccess()
	}

	if rate := cb.FailureRate(); rate != 0 {
		t.Errorf("expected old failures evicted, failure rate %v", rate)
	}
}

func TestBreaker_MetricsCounts(t *testing.T) {
	cb := newTestBreaker()

	cb.RecordSuccess()
	cb.RecordSuccess()
	cb.RecordFailure()

	m := cb.Metrics()
	if m.Successes != 2 || m.Failures != 1 {
		t.Errorf("expected 2 successes / 1 failure, got %+v", m)
	}
}
