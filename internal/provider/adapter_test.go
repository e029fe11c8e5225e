package provider

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"audio-transcription-service/internal/resilience"
)

type scriptedClient struct {
	mu      sync.Mutex
	results []Result
	errs    []error
	calls   int
}

func (c *scriptedClient) Name() string { return "scripted" }

func (c *scriptedClient) Transcribe(ctx context.Context, audio []byte) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		return Result{}, err
	}
	if len(c.results) == 0 {
		return Result{Text: "ok", Final: true, Confidence: 0.9}, nil
	}
	res := c.results[0]
	if len(c.results) > 1 {
		c.results = c.results[1:]
	}
	return res, nil
}

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func testBreaker() *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(resilience.BreakerSettings{
		Name:                 "test",
		FailureRateThreshold: 50,
		SlidingWindowSize:    10,
		MinimumCalls:         5,
		OpenStateWait:        30 * time.Second,
	})
}

func testAdapter(client Transcriber, breaker *resilience.CircuitBreaker) *Adapter {
	a := NewAdapter(client, breaker, Config{
		BatchWindow:        10 * time.Millisecond,
		MinRequestInterval: 0,
		RequestTimeout:     time.Second,
		Retry:              mustPolicy(time.Millisecond, 10*time.Millisecond, 3),
	}, nil)
	a.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return a
}

func mustPolicy(base, max time.Duration, attempts int) resilience.BackoffPolicy {
	p, err := resilience.NewBackoffPolicy(base, max, attempts)
	if err != nil {
		panic(err)
	}
	return p
}

func TestParseConfidence(t *testing.T) {
	cases := []struct {
		name string
		raw  float64
		want float64
	}{
		{"in range", 0.85, 0.85},
		{"above one", 1.5, 1.0},
		{"below zero", -0.2, 0.0},
		{"nan", math.NaN(), 0.0},
		{"positive infinity", math.Inf(1), 0.0},
		{"negative infinity", math.Inf(-1), 0.0},
		{"zero", 0.0, 0.0},
		{"one", 1.0, 1.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ParseConfidence(tc.raw); got != tc.want {
				t.Errorf("ParseConfidence(%v) = %v, want %v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestTranscribeSuccess(t *testing.T) {
	client := &scriptedClient{results: []Result{{Text: "hello world", Final: true, Confidence: 0.92}}}
	a := testAdapter(client, testBreaker())

	update := a.transcribe(context.Background(), []byte("audio"), "s1")
	if update.Text != "hello world" {
		t.Errorf("expected text %q, got %q", "hello world", update.Text)
	}
	if !update.IsFinal() {
		t.Errorf("expected final update")
	}
	if update.Confidence != 0.92 {
		t.Errorf("expected confidence 0.92, got %v", update.Confidence)
	}
	if update.SequenceID != 1 {
		t.Errorf("expected sequence 1, got %d", update.SequenceID)
	}
}

func TestTranscribeDegradedWhenBreakerOpen(t *testing.T) {
	client := &scriptedClient{}
	breaker := testBreaker()
	breaker.TransitionToOpen()
	a := testAdapter(client, breaker)

	update := a.transcribe(context.Background(), []byte("audio"), "s1")
	if update.Text != UnavailableText {
		t.Errorf("expected placeholder text, got %q", update.Text)
	}
	if update.IsFinal() {
		t.Errorf("degraded update must be partial")
	}
	if update.Confidence != 0.0 {
		t.Errorf("degraded update must carry confidence 0.0, got %v", update.Confidence)
	}
	if client.callCount() != 0 {
		t.Errorf("provider must not be called while breaker is open, got %d calls", client.callCount())
	}
}

func TestTranscribeRetriesRateLimitThenSucceeds(t *testing.T) {
	client := &scriptedClient{
		errs:    []error{ErrRateLimited, ErrRateLimited},
		results: []Result{{Text: "recovered", Final: true, Confidence: 0.8}},
	}
	a := testAdapter(client, testBreaker())

	var slept []time.Duration
	a.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	update := a.transcribe(context.Background(), []byte("audio"), "s1")
	if update.Text != "recovered" {
		t.Fatalf("expected success after retries, got %q", update.Text)
	}
	if client.callCount() != 3 {
		t.Errorf("expected 3 provider calls, got %d", client.callCount())
	}
	// delays double: base, base<<1
	if len(slept) != 2 || slept[0] != time.Millisecond || slept[1] != 2*time.Millisecond {
		t.Errorf("unexpected backoff delays: %v", slept)
	}
}

func TestTranscribeRateLimitExhaustsRetries(t *testing.T) {
	client := &scriptedClient{
		errs: []error{ErrRateLimited, ErrRateLimited, ErrRateLimited, ErrRateLimited},
	}
	a := testAdapter(client, testBreaker())

	update := a.transcribe(context.Background(), []byte("audio"), "s1")
	if update.Text != UnavailableText {
		t.Errorf("expected degraded update after exhausted retries, got %q", update.Text)
	}
	// MaxAttempts=3 allows 3 retries after the initial call.
	if client.callCount() != 4 {
		t.Errorf("expected 4 provider calls, got %d", client.callCount())
	}
}

func TestTranscribeThrottlesBackToBackCalls(t *testing.T) {
	client := &scriptedClient{}
	a := testAdapter(client, testBreaker())
	a.cfg.MinRequestInterval = 100 * time.Millisecond

	var slept []time.Duration
	a.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	a.transcribe(context.Background(), []byte("first"), "s1")
	a.transcribe(context.Background(), []byte("second"), "s1")

	if client.callCount() != 2 {
		t.Fatalf("both calls must reach the provider, got %d", client.callCount())
	}
	// The first call sees no prior request; the second waits out the
	// remainder of the interval instead of being dropped or sent early.
	if len(slept) != 1 {
		t.Fatalf("expected exactly one throttle wait, got %v", slept)
	}
	if slept[0] < 90*time.Millisecond || slept[0] > 100*time.Millisecond {
		t.Errorf("expected a wait near the full interval, got %v", slept[0])
	}

	// Throttle state is per session: a different session is not delayed.
	a.transcribe(context.Background(), []byte("third"), "s2")
	if len(slept) != 1 {
		t.Errorf("other sessions must not inherit the throttle, waits %v", slept)
	}
}

func TestTranscribeGenericFailureDegradesWithoutRetry(t *testing.T) {
	client := &scriptedClient{errs: []error{errors.New("upstream exploded")}}
	breaker := testBreaker()
	a := testAdapter(client, breaker)

	update := a.transcribe(context.Background(), []byte("audio"), "s1")
	if update.Text != UnavailableText {
		t.Errorf("expected degraded update, got %q", update.Text)
	}
	if client.callCount() != 1 {
		t.Errorf("generic failure must not retry, got %d calls", client.callCount())
	}
	if got := breaker.Metrics().Failures; got != 1 {
		t.Errorf("expected 1 recorded failure, got %d", got)
	}
}

func TestStreamTranscriptionBatchesAndCloses(t *testing.T) {
	client := &scriptedClient{results: []Result{{Text: "batched", Final: true, Confidence: 0.9}}}
	a := testAdapter(client, testBreaker())
	// Large batch window so only the close-time flush fires.
	a.cfg.BatchWindow = time.Hour

	audio := make(chan []byte, 3)
	audio <- []byte("one ")
	audio <- []byte("two ")
	audio <- []byte("three")
	close(audio)

	out := a.StreamTranscription(context.Background(), audio, "s1")

	var updates int
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-out:
			if !ok {
				if updates != 1 {
					t.Errorf("expected 1 flushed update, got %d", updates)
				}
				return
			}
			updates++
		case <-deadline:
			t.Fatal("stream did not close")
		}
	}
}

func TestStreamTranscriptionContextCancel(t *testing.T) {
	client := &scriptedClient{}
	a := testAdapter(client, testBreaker())
	a.cfg.BatchWindow = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	audio := make(chan []byte)
	out := a.StreamTranscription(ctx, audio, "s1")

	cancel()
	select {
	case _, ok := <-out:
		if ok {
			t.Errorf("expected closed channel after cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("output channel did not close after cancellation")
	}
}

func TestSequenceIsolationPerSession(t *testing.T) {
	a := testAdapter(&scriptedClient{}, testBreaker())

	if got := a.NextSequenceID("a"); got != 1 {
		t.Errorf("expected first sequence 1, got %d", got)
	}
	if got := a.NextSequenceID("a"); got != 2 {
		t.Errorf("expected second sequence 2, got %d", got)
	}
	if got := a.NextSequenceID("b"); got != 1 {
		t.Errorf("sessions must not share counters, got %d", got)
	}

	a.CloseSession("a")
	if got := a.NextSequenceID("a"); got != 1 {
		t.Errorf("expected counter reset after close, got %d", got)
	}
}

func TestIsAvailable(t *testing.T) {
	breaker := testBreaker()
	a := testAdapter(&scriptedClient{}, breaker)

	if !a.IsAvailable() {
		t.Errorf("expected available with closed breaker")
	}
	breaker.TransitionToOpen()
	if a.IsAvailable() {
		t.Errorf("expected unavailable with open breaker")
	}
	breaker.TransitionToHalfOpen()
	if !a.IsAvailable() {
		t.Errorf("expected available with half-open breaker")
	}
}
