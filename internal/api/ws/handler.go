// Package ws terminates client WebSocket connections: it ingests binary
// audio frames into the transcription pipeline and delivers updates back as
// JSON text frames.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"audio-transcription-service/internal/audio"
	"audio-transcription-service/internal/models"
	"audio-transcription-service/internal/observability/logging"
	"audio-transcription-service/internal/observability/metrics"
	"audio-transcription-service/internal/session"
	"audio-transcription-service/internal/stream"
)

// Defaults for connection handling.
const (
	DefaultIdleTimeout = 60 * time.Second
	DefaultWriteWait   = 10 * time.Second
	// DefaultChunkBuffer bounds the per-connection audio queue. When the
	// pipeline falls behind, the newest chunk is dropped, never blocking
	// the read loop.
	DefaultChunkBuffer = 256
)

// controlMessage is a client text frame steering the session.
type controlMessage struct {
	Action string `json:"action"`
}

// Config holds WebSocket handler settings.
type Config struct {
	IdleTimeout time.Duration
	WriteWait   time.Duration
	ChunkBuffer int
}

// Handler upgrades HTTP requests and runs one session per connection.
type Handler struct {
	upgrader    websocket.Upgrader
	processor   *audio.Processor
	registry    *session.Registry
	coordinator *stream.Coordinator
	cfg         Config
	log         zerolog.Logger
	metrics     *metrics.Metrics
}

// NewHandler creates a WebSocket handler over the audio pipeline.
func NewHandler(processor *audio.Processor, registry *session.Registry, coordinator *stream.Coordinator, cfg Config, m *metrics.Metrics) *Handler {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = DefaultWriteWait
	}
	if cfg.ChunkBuffer <= 0 {
		cfg.ChunkBuffer = DefaultChunkBuffer
	}
	if m == nil {
		m = metrics.Default
	}
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		processor:   processor,
		registry:    registry,
		coordinator: coordinator,
		cfg:         cfg,
		log:         logging.WithComponent("ws-handler"),
		metrics:     m,
	}
}

// ServeHTTP upgrades the connection and runs the session until the client
// disconnects or sends a stop action.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	connectionID := uuid.NewString()
	sess := h.registry.CreateSession(connectionID)
	sessionID := sess.ID()
	h.metrics.RecordSessionStart()

	logger := logging.WithConnection(sessionID, connectionID)
	logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("Connection established")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	chunkCh := make(chan models.AudioChunk, h.cfg.ChunkBuffer)
	ordered := h.processor.ReorderByTimestamp(ctx, chunkCh)
	updates := h.coordinator.StartStreaming(ctx, sessionID, ordered)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.writeLoop(conn, updates, logger)
	}()

	h.readLoop(ctx, conn, sessionID, chunkCh, logger)

	// Input is done: close the chunk channel so the pipeline drains and the
	// writer exits, then emit the aggregate as the last frame.
	close(chunkCh)
	wg.Wait()
	if final, err := h.coordinator.EndSession(context.Background(), sessionID); err == nil {
		h.writeUpdate(conn, final, logger)
	}
	cancel()

	h.processor.ResetSession(sessionID)
	logger.Info().Msg("Connection closed")
}

// readLoop consumes client frames until disconnect or a stop action.
// Binary frames are audio; text frames are control messages.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, sessionID string, chunkCh chan<- models.AudioChunk, logger zerolog.Logger) {
	for {
		conn.SetReadDeadline(time.Now().Add(h.cfg.IdleTimeout))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("Unexpected connection close")
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			h.handleAudio(sessionID, data, chunkCh, logger)
		case websocket.TextMessage:
			if stop := h.handleControl(sessionID, data, logger); stop {
				return
			}
		}

		if ctx.Err() != nil {
			return
		}
	}
}

// handleAudio validates and enqueues one audio frame. A full queue drops
// the newest chunk so a slow provider never stalls the socket.
func (h *Handler) handleAudio(sessionID string, data []byte, chunkCh chan<- models.AudioChunk, logger zerolog.Logger) {
	h.coordinator.PreserveAudioData(sessionID, data)

	chunk, err := h.processor.Process(data, sessionID)
	if err != nil {
		var verr *audio.ValidationError
		reason := "invalid"
		if errors.As(err, &verr) {
			reason = verr.Reason
		}
		h.metrics.RecordChunkRejected(reason)
		logger.Warn().Err(err).Int("bytes", len(data)).Msg("Rejected audio chunk")
		return
	}
	h.metrics.RecordChunkReceived(len(data))

	select {
	case chunkCh <- chunk:
	default:
		h.metrics.RecordChunkDropped()
		logger.Warn().Int64("timestamp", chunk.Timestamp).Msg("Audio queue full, dropping chunk")
	}
}

// handleControl applies a client control frame. Returns true for stop.
func (h *Handler) handleControl(sessionID string, data []byte, logger zerolog.Logger) bool {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Warn().Err(err).Msg("Ignoring malformed control frame")
		return false
	}

	switch msg.Action {
	case "stop":
		logger.Info().Msg("Stop requested by client")
		return true
	case "pause":
		if !h.registry.PauseSession(sessionID) {
			logger.Warn().Msg("Pause ignored, session not active")
		}
	case "resume":
		if !h.registry.ResumeSession(sessionID) {
			logger.Warn().Msg("Resume ignored, session not paused")
		}
	default:
		logger.Warn().Str("action", msg.Action).Msg("Ignoring unknown control action")
	}
	return false
}

// writeLoop is the single writer for the connection. All frames to the
// client funnel through here or writeUpdate after the loop has exited.
func (h *Handler) writeLoop(conn *websocket.Conn, updates <-chan models.TranscriptionUpdate, logger zerolog.Logger) {
	for update := range updates {
		if !h.writeUpdate(conn, update, logger) {
			// Drain so the pipeline can finish even when the client is gone.
			for range updates {
				h.metrics.RecordUpdateDropped()
			}
			return
		}
	}
}

func (h *Handler) writeUpdate(conn *websocket.Conn, update models.TranscriptionUpdate, logger zerolog.Logger) bool {
	payload, err := json.Marshal(update)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to marshal update")
		return true
	}
	conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		logger.Warn().Err(err).Msg("Failed to deliver update")
		return false
	}
	logger.Debug().
		Str("type", string(update.Type)).
		Int64("sequenceId", update.SequenceID).
		Msg("Delivered transcription update")
	return true
}
