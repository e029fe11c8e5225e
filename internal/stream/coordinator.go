// Package stream coordinates the per-session transcription flow: it feeds
// validated audio into the provider adapter, records the resulting updates,
// publishes them, and produces the end-of-session aggregate.
package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"audio-transcription-service/internal/events"
	"audio-transcription-service/internal/models"
	"audio-transcription-service/internal/observability/logging"
	"audio-transcription-service/internal/observability/metrics"
	"audio-transcription-service/internal/provider"
	"audio-transcription-service/internal/session"
)

// DefaultRecoveryBudget caps the per-session recovery buffer.
const DefaultRecoveryBudget = 4 << 20 // 4 MiB

// recoveryBuffer retains recent raw audio for a session so a future
// reconnect can resume context. Oldest chunks are evicted once the byte
// budget is exceeded.
type recoveryBuffer struct {
	chunks [][]byte
	bytes  int
}

// Coordinator drives transcription streams. Updates for a session are
// recorded and emitted in adapter order; updates arriving after the session
// closes are discarded.
type Coordinator struct {
	adapter   *provider.Adapter
	registry  *session.Registry
	publisher *events.Publisher
	log       zerolog.Logger
	metrics   *metrics.Metrics

	budget int

	mu       sync.Mutex
	recovery map[string]*recoveryBuffer
}

// NewCoordinator wires the adapter, registry and publisher together.
func NewCoordinator(adapter *provider.Adapter, registry *session.Registry, publisher *events.Publisher, m *metrics.Metrics) *Coordinator {
	if m == nil {
		m = metrics.Default
	}
	return &Coordinator{
		adapter:   adapter,
		registry:  registry,
		publisher: publisher,
		log:       logging.WithComponent("stream-coordinator"),
		metrics:   m,
		budget:    DefaultRecoveryBudget,
		recovery:  make(map[string]*recoveryBuffer),
	}
}

// StartStreaming consumes ordered audio chunks for a session and returns
// the stream of transcription updates. The returned channel closes after
// the chunk channel closes and the final batch has been transcribed.
func (c *Coordinator) StartStreaming(ctx context.Context, sessionID string, chunks <-chan models.AudioChunk) <-chan models.TranscriptionUpdate {
	audio := make(chan []byte, 32)
	go func() {
		defer close(audio)
		for {
			select {
			case chunk, ok := <-chunks:
				if !ok {
					return
				}
				select {
				case audio <- chunk.Data:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	updates := c.adapter.StreamTranscription(ctx, audio, sessionID)

	out := make(chan models.TranscriptionUpdate, 16)
	go func() {
		defer close(out)
		for update := range updates {
			if !c.record(ctx, sessionID, update) {
				continue
			}
			select {
			case out <- update:
			case <-ctx.Done():
				return
			}
		}
		c.log.Debug().Str("sessionId", sessionID).Msg("Transcription stream drained")
	}()
	return out
}

// SendUpdate validates and records a single update outside of a running
// stream, for example the end-of-session aggregate.
func (c *Coordinator) SendUpdate(ctx context.Context, sessionID string, update models.TranscriptionUpdate) error {
	if !update.Valid() {
		c.metrics.RecordInvalidUpdate()
		return fmt.Errorf("invalid update for session %s: seq=%d", sessionID, update.SequenceID)
	}
	if !c.record(ctx, sessionID, update) {
		return fmt.Errorf("session %s not accepting updates", sessionID)
	}
	return nil
}

// record appends a validated update to the session history and publishes
// it. Returns false when the session is unknown or closed; such updates are
// discarded, never delivered late.
func (c *Coordinator) record(ctx context.Context, sessionID string, update models.TranscriptionUpdate) bool {
	if !update.Valid() {
		c.metrics.RecordInvalidUpdate()
		c.log.Warn().
			Str("sessionId", sessionID).
			Int64("sequenceId", update.SequenceID).
			Msg("Dropping structurally invalid update")
		return false
	}
	if !c.registry.AddTranscriptionUpdate(sessionID, update) {
		c.metrics.RecordUpdateDropped()
		c.log.Debug().
			Str("sessionId", sessionID).
			Int64("sequenceId", update.SequenceID).
			Msg("Discarding update for closed or unknown session")
		return false
	}
	c.metrics.RecordUpdate(update.IsFinal())
	if err := c.publisher.PublishUpdate(ctx, sessionID, update); err != nil {
		// Publishing is best-effort; the client delivery path is unaffected.
		c.log.Warn().Err(err).Str("sessionId", sessionID).Msg("Event publish failed")
	}
	return true
}

// EndSession aggregates the session history into one final update, records
// and returns it, then closes the session in the registry and releases the
// adapter and recovery state. Ending an unknown session is an error; ending
// a session with an empty history yields an empty final update.
func (c *Coordinator) EndSession(ctx context.Context, sessionID string) (models.TranscriptionUpdate, error) {
	sess, ok := c.registry.GetSession(sessionID)
	if !ok {
		return models.TranscriptionUpdate{}, fmt.Errorf("session %s not found", sessionID)
	}

	text, confidence := aggregate(sess.History())
	final := models.Final(text, confidence, c.adapter.NextSequenceID(sessionID))

	if !c.record(ctx, sessionID, final) {
		c.log.Warn().Str("sessionId", sessionID).Msg("Aggregate not recorded, session already closed")
	}

	c.registry.CloseSession(sessionID)
	c.adapter.CloseSession(sessionID)
	c.DiscardAudioData(sessionID)
	c.metrics.RecordSessionEnd(time.Since(sess.CreatedAt()).Seconds())

	c.log.Info().
		Str("sessionId", sessionID).
		Int64("sequenceId", final.SequenceID).
		Float64("confidence", final.Confidence).
		Msg("Session ended with aggregated transcription")
	return final, nil
}

// GetAggregatedTranscription computes the aggregate over the session
// history so far without closing the session.
func (c *Coordinator) GetAggregatedTranscription(sessionID string) (string, float64, error) {
	sess, ok := c.registry.GetSession(sessionID)
	if !ok {
		return "", 0, fmt.Errorf("session %s not found", sessionID)
	}
	text, confidence := aggregate(sess.History())
	return text, confidence, nil
}

// aggregate joins the texts of final updates with single spaces, skipping
// blanks. When no final update exists, the text of the latest partial is
// used. Confidence is the mean over every update in the history, or 0.0 for
// an empty history.
func aggregate(history []models.TranscriptionUpdate) (string, float64) {
	if len(history) == 0 {
		return "", 0.0
	}

	var finals []string
	var lastPartial string
	var sum float64
	for _, u := range history {
		sum += u.Confidence
		if u.IsFinal() {
			if strings.TrimSpace(u.Text) != "" {
				finals = append(finals, u.Text)
			}
		} else {
			lastPartial = u.Text
		}
	}

	text := strings.Join(finals, " ")
	if len(finals) == 0 {
		text = lastPartial
	}
	return text, sum / float64(len(history))
}

// PreserveAudioData copies a chunk into the session's recovery buffer,
// evicting the oldest chunks beyond the byte budget. The caller's slice is
// never retained.
func (c *Coordinator) PreserveAudioData(sessionID string, data []byte) {
	if len(data) == 0 {
		return
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	c.mu.Lock()
	defer c.mu.Unlock()
	rb, ok := c.recovery[sessionID]
	if !ok {
		rb = &recoveryBuffer{}
		c.recovery[sessionID] = rb
	}
	rb.chunks = append(rb.chunks, buf)
	rb.bytes += len(buf)
	for rb.bytes > c.budget && len(rb.chunks) > 1 {
		rb.bytes -= len(rb.chunks[0])
		rb.chunks = rb.chunks[1:]
	}
}

// PreservedAudioData returns copies of the buffered chunks for a session,
// oldest first.
func (c *Coordinator) PreservedAudioData(sessionID string) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	rb, ok := c.recovery[sessionID]
	if !ok {
		return nil
	}
	out := make([][]byte, len(rb.chunks))
	for i, chunk := range rb.chunks {
		buf := make([]byte, len(chunk))
		copy(buf, chunk)
		out[i] = buf
	}
	return out
}

// DiscardAudioData drops the recovery buffer for a session.
func (c *Coordinator) DiscardAudioData(sessionID string) {
	c.mu.Lock()
	delete(c.recovery, sessionID)
	c.mu.Unlock()
}
