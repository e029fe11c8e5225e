package provider

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"audio-transcription-service/internal/models"
	"audio-transcription-service/internal/observability/logging"
	"audio-transcription-service/internal/observability/metrics"
	"audio-transcription-service/internal/resilience"
)

// Default adapter timings.
const (
	DefaultBatchWindow        = 5 * time.Second
	DefaultMinRequestInterval = 5 * time.Second
	DefaultRequestTimeout     = 30 * time.Second
)

// Config holds adapter batching, throttling and retry settings.
type Config struct {
	// BatchWindow is how long audio accumulates before one provider call.
	BatchWindow time.Duration
	// MinRequestInterval is the minimum spacing between calls per session.
	// A batch that is ready early waits out the remainder.
	MinRequestInterval time.Duration
	// RequestTimeout bounds a single provider call.
	RequestTimeout time.Duration
	// Retry is applied only to rate-limit-class errors.
	Retry resilience.BackoffPolicy
}

// sessionState is the adapter-private state of one session: the update
// sequence counter and the request throttle. No cross-session sharing.
type sessionState struct {
	seq         atomic.Int64
	lastRequest atomic.Int64 // unix nanos of the last provider call, 0 = none yet
}

// Adapter batches per-session audio into provider requests, guarded by the
// shared circuit breaker and the retry policy, and parses responses into
// TranscriptionUpdates. It never terminates a stream on upstream failure;
// it degrades to placeholder updates instead.
type Adapter struct {
	client  Transcriber
	breaker *resilience.CircuitBreaker
	cfg     Config
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*sessionState

	sleep func(ctx context.Context, d time.Duration) error
}

// NewAdapter builds an Adapter around a Transcriber and a shared breaker.
func NewAdapter(client Transcriber, breaker *resilience.CircuitBreaker, cfg Config, m *metrics.Metrics) *Adapter {
	if cfg.BatchWindow <= 0 {
		cfg.BatchWindow = DefaultBatchWindow
	}
	if cfg.MinRequestInterval < 0 {
		cfg.MinRequestInterval = DefaultMinRequestInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if m == nil {
		m = metrics.Default
	}
	return &Adapter{
		client:   client,
		breaker:  breaker,
		cfg:      cfg,
		log:      logging.WithComponent("provider-adapter").With().Str("provider", client.Name()).Logger(),
		metrics:  m,
		sessions: make(map[string]*sessionState),
		sleep:    sleepCtx,
	}
}

// StreamTranscription consumes batches of audio bytes for a session and
// emits one TranscriptionUpdate per provider call. The returned channel
// closes after the input channel closes and the last batch is flushed.
func (a *Adapter) StreamTranscription(ctx context.Context, audio <-chan []byte, sessionID string) <-chan models.TranscriptionUpdate {
	a.session(sessionID) // materialize throttle/sequence state up front

	out := make(chan models.TranscriptionUpdate, 16)
	go func() {
		defer close(out)

		ticker := time.NewTicker(a.cfg.BatchWindow)
		defer ticker.Stop()

		var batch []byte
		var batched int

		flush := func() bool {
			if len(batch) == 0 {
				return true
			}
			payload := batch
			count := batched
			batch = nil
			batched = 0

			a.log.Debug().
				Str("sessionId", sessionID).
				Int("chunks", count).
				Int("bytes", len(payload)).
				Msg("Dispatching batched audio")

			update := a.transcribe(ctx, payload, sessionID)
			select {
			case out <- update:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case data, ok := <-audio:
				if !ok {
					flush()
					return
				}
				batch = append(batch, data...)
				batched++
			case <-ticker.C:
				if !flush() {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// transcribe performs one guarded provider call: throttle, breaker, retry
// on rate limits, degrade on everything else.
func (a *Adapter) transcribe(ctx context.Context, payload []byte, sessionID string) models.TranscriptionUpdate {
	if err := a.throttle(ctx, sessionID); err != nil {
		return a.degraded(sessionID)
	}

	if !a.breaker.Allow() {
		a.log.Warn().Str("sessionId", sessionID).Msg("Circuit breaker open, returning degraded update")
		a.metrics.BreakerRejected.Inc()
		a.metrics.ProviderDegraded.Inc()
		return a.degraded(sessionID)
	}

	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
		start := time.Now()
		res, err := a.client.Transcribe(callCtx, payload)
		cancel()

		a.metrics.BreakerState.Set(float64(a.breaker.State()))

		if err == nil {
			a.breaker.RecordSuccess()
			a.metrics.RecordProviderRequest(a.client.Name(), "success", time.Since(start).Seconds())
			return a.parse(res, sessionID)
		}

		if isRateLimited(err) && attempt < a.cfg.Retry.MaxAttempts {
			delay := a.cfg.Retry.Delay(attempt)
			a.log.Warn().
				Str("sessionId", sessionID).
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Msg("Provider rate limited, backing off")
			a.metrics.ProviderRetries.Inc()
			a.metrics.RecordProviderRequest(a.client.Name(), "rate_limited", time.Since(start).Seconds())
			if a.sleep(ctx, delay) != nil {
				return a.degraded(sessionID)
			}
			continue
		}

		a.breaker.RecordFailure()
		a.metrics.BreakerState.Set(float64(a.breaker.State()))
		a.metrics.RecordProviderRequest(a.client.Name(), "failure", time.Since(start).Seconds())
		a.metrics.ProviderDegraded.Inc()
		a.log.Error().Str("sessionId", sessionID).Err(err).Msg("Provider call failed")
		return a.degraded(sessionID)
	}
}

// throttle enforces the minimum inter-request interval for a session. A
// ready batch is delayed, never dropped or sent early.
func (a *Adapter) throttle(ctx context.Context, sessionID string) error {
	st := a.session(sessionID)
	interval := a.cfg.MinRequestInterval
	if interval > 0 {
		last := st.lastRequest.Load()
		if last > 0 {
			elapsed := time.Since(time.Unix(0, last))
			if wait := interval - elapsed; wait > 0 {
				a.log.Debug().Str("sessionId", sessionID).Dur("wait", wait).Msg("Throttling provider call")
				if err := a.sleep(ctx, wait); err != nil {
					return err
				}
			}
		}
	}
	st.lastRequest.Store(time.Now().UnixNano())
	return nil
}

// parse converts a raw provider result into a validated update. Confidence
// clamping: finite values outside [0,1] clamp to the nearer bound, and
// non-finite values map to 0.0.
func (a *Adapter) parse(res Result, sessionID string) models.TranscriptionUpdate {
	confidence := ParseConfidence(res.Confidence)
	seq := a.NextSequenceID(sessionID)
	if res.Final {
		return models.Final(res.Text, confidence, seq)
	}
	return models.Partial(res.Text, confidence, seq)
}

// degraded builds the placeholder update emitted when the provider is
// unreachable.
func (a *Adapter) degraded(sessionID string) models.TranscriptionUpdate {
	return models.Partial(UnavailableText, 0.0, a.NextSequenceID(sessionID))
}

// ParseConfidence clamps a raw provider confidence signal into [0,1].
// NaN and infinities map to 0.0.
func ParseConfidence(raw float64) float64 {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0.0
	}
	return math.Max(0.0, math.Min(1.0, raw))
}

// NextSequenceID returns the next update sequence id for a session.
func (a *Adapter) NextSequenceID(sessionID string) int64 {
	return a.session(sessionID).seq.Add(1)
}

// CloseSession releases the session's throttle and sequence state.
func (a *Adapter) CloseSession(sessionID string) {
	a.mu.Lock()
	delete(a.sessions, sessionID)
	a.mu.Unlock()
	a.log.Debug().Str("sessionId", sessionID).Msg("Released provider session state")
}

// IsAvailable reports whether the circuit breaker currently permits calls.
// An OPEN breaker whose wait has elapsed counts as available, matching what
// the next call's Allow would decide.
func (a *Adapter) IsAvailable() bool {
	return a.breaker.AcceptingCalls()
}

func (a *Adapter) session(sessionID string) *sessionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.sessions[sessionID]
	if !ok {
		st = &sessionState{}
		a.sessions[sessionID] = st
	}
	return st
}

func isRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// sleepCtx sleeps for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
