// Package audio validates, timestamps and reorders inbound audio chunks.
package audio

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"audio-transcription-service/internal/models"
	"audio-transcription-service/internal/observability/logging"
)

// webmSignature is the EBML magic number that opens a WebM container.
var webmSignature = []byte{0x1A, 0x45, 0xDF, 0xA3}

// Default processing limits.
const (
	DefaultMinChunkSize     = 4
	DefaultMaxChunkSize     = 1024 * 1024
	DefaultReorderMaxChunks = 100
	DefaultReorderWindow    = 200 * time.Millisecond
)

// ValidationError describes why an inbound chunk was rejected. Rejection is
// synchronous and never fatal to the connection.
type ValidationError struct {
	Reason string
	Size   int
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid audio chunk (%d bytes): %s", e.Size, e.Reason)
}

// Config holds chunk processing limits.
type Config struct {
	MinChunkSize     int
	MaxChunkSize     int
	ReorderMaxChunks int
	ReorderWindow    time.Duration
}

// DefaultConfig returns the default processing limits.
func DefaultConfig() Config {
	return Config{
		MinChunkSize:     DefaultMinChunkSize,
		MaxChunkSize:     DefaultMaxChunkSize,
		ReorderMaxChunks: DefaultReorderMaxChunks,
		ReorderWindow:    DefaultReorderWindow,
	}
}

// Processor validates inbound audio chunks and assigns ordering metadata.
// The timestamp counter is process-wide and shared across all sessions;
// sequence counters are per session.
type Processor struct {
	cfg Config
	log zerolog.Logger

	timestamps atomic.Int64
	sequences  sync.Map // sessionID -> *atomic.Int64
}

// NewProcessor builds a Processor, filling zero config fields with defaults.
func NewProcessor(cfg Config) *Processor {
	if cfg.MinChunkSize <= 0 {
		cfg.MinChunkSize = DefaultMinChunkSize
	}
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = DefaultMaxChunkSize
	}
	if cfg.ReorderMaxChunks <= 0 {
		cfg.ReorderMaxChunks = DefaultReorderMaxChunks
	}
	if cfg.ReorderWindow <= 0 {
		cfg.ReorderWindow = DefaultReorderWindow
	}
	return &Processor{
		cfg: cfg,
		log: logging.WithComponent("audio-processor"),
	}
}

// Process validates a raw frame and turns it into a timestamped AudioChunk.
// The session sequence counter only advances for accepted chunks, so a
// rejected frame leaves session ordering untouched.
func (p *Processor) Process(data []byte, sessionID string) (models.AudioChunk, error) {
	if err := p.validate(data); err != nil {
		p.log.Debug().Str("sessionId", sessionID).Err(err).Msg("Rejected audio chunk")
		return models.AudioChunk{}, err
	}

	chunk := models.AudioChunk{
		Data:           data,
		Format:         models.ExpectedFormat,
		Timestamp:      p.AssignTimestamp(),
		SequenceNumber: p.nextSequence(sessionID),
		SessionID:      sessionID,
	}

	p.log.Debug().
		Str("sessionId", sessionID).
		Int64("seq", chunk.SequenceNumber).
		Int64("timestamp", chunk.Timestamp).
		Int("size", len(data)).
		Msg("Accepted audio chunk")

	return chunk, nil
}

// validate applies the size bounds and the container signature check.
// Interior frames of a stream do not repeat the container header, so
// signature-less chunks at or above the minimum size are accepted as
// continuation frames.
func (p *Processor) validate(data []byte) error {
	if len(data) < p.cfg.MinChunkSize {
		return &ValidationError{Reason: "below minimum chunk size", Size: len(data)}
	}
	if len(data) > p.cfg.MaxChunkSize {
		return &ValidationError{
			Reason: fmt.Sprintf("exceeds maximum chunk size %d", p.cfg.MaxChunkSize),
			Size:   len(data),
		}
	}
	if !HasContainerSignature(data) {
		p.log.Debug().Int("size", len(data)).Msg("Continuation chunk without container signature")
	}
	return nil
}

// HasContainerSignature reports whether the frame opens with the WebM/EBML
// magic number.
func HasContainerSignature(data []byte) bool {
	return len(data) >= len(webmSignature) && bytes.Equal(data[:len(webmSignature)], webmSignature)
}

// AssignTimestamp returns the next process-wide monotonic timestamp. Callers
// never observe a value less than or equal to a previously returned one.
func (p *Processor) AssignTimestamp() int64 {
	return p.timestamps.Add(1)
}

// CurrentTimestamp returns the last assigned timestamp.
func (p *Processor) CurrentTimestamp() int64 {
	return p.timestamps.Load()
}

// ResetSession drops the sequence counter of a finished session.
func (p *Processor) ResetSession(sessionID string) {
	p.sequences.Delete(sessionID)
	p.log.Debug().Str("sessionId", sessionID).Msg("Reset sequence counter")
}

func (p *Processor) nextSequence(sessionID string) int64 {
	counter, _ := p.sequences.LoadOrStore(sessionID, new(atomic.Int64))
	return counter.(*atomic.Int64).Add(1)
}
