// Package events publishes transcription updates to Kafka for downstream
// consumers. Publishing is best-effort: a broker outage never interrupts a
// live session.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"audio-transcription-service/internal/models"
	"audio-transcription-service/internal/observability/logging"
	"audio-transcription-service/internal/observability/metrics"
)

// Config holds Kafka publisher settings.
type Config struct {
	// Enabled gates publishing; when false the publisher only logs.
	Enabled bool
	Brokers []string
	// PartialTopic receives partial transcription updates.
	PartialTopic string
	// FinalTopic receives final transcription updates and session aggregates.
	FinalTopic string
	// WriteTimeout bounds a single publish.
	WriteTimeout time.Duration
}

// UpdateEvent is the wire payload for one transcription update.
type UpdateEvent struct {
	SessionID  string    `json:"sessionId"`
	Type       string    `json:"type"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	SequenceID int64     `json:"sequenceId"`
	Timestamp  time.Time `json:"timestamp"`
	EmittedAt  time.Time `json:"emittedAt"`
}

// Publisher writes transcription updates to the partial and final topics.
// With Enabled false it degrades to log-only, which is the default for
// local development.
type Publisher struct {
	cfg     Config
	partial *kafka.Writer
	final   *kafka.Writer
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// NewPublisher creates a Publisher. Writers are only constructed when
// publishing is enabled.
func NewPublisher(cfg Config, m *metrics.Metrics) *Publisher {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if m == nil {
		m = metrics.Default
	}
	p := &Publisher{
		cfg:     cfg,
		log:     logging.WithComponent("event-publisher"),
		metrics: m,
	}
	if !cfg.Enabled {
		p.log.Info().Msg("Kafka publishing disabled, events will be logged only")
		return p
	}
	p.partial = newWriter(cfg.Brokers, cfg.PartialTopic, cfg.WriteTimeout)
	p.final = newWriter(cfg.Brokers, cfg.FinalTopic, cfg.WriteTimeout)
	p.log.Info().
		Strs("brokers", cfg.Brokers).
		Str("partialTopic", cfg.PartialTopic).
		Str("finalTopic", cfg.FinalTopic).
		Msg("Kafka publisher initialized")
	return p
}

func newWriter(brokers []string, topic string, timeout time.Duration) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: timeout,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
}

// PublishUpdate routes one update to the partial or final topic, keyed by
// session id so a session's updates stay ordered within a partition.
func (p *Publisher) PublishUpdate(ctx context.Context, sessionID string, update models.TranscriptionUpdate) error {
	event := UpdateEvent{
		SessionID:  sessionID,
		Type:       string(update.Type),
		Text:       update.Text,
		Confidence: update.Confidence,
		SequenceID: update.SequenceID,
		Timestamp:  update.Timestamp,
		EmittedAt:  time.Now().UTC(),
	}

	writer := p.partial
	topic := p.cfg.PartialTopic
	eventType := "partial"
	if update.IsFinal() {
		writer = p.final
		topic = p.cfg.FinalTopic
		eventType = "final"
	}

	if !p.cfg.Enabled {
		p.log.Debug().
			Str("sessionId", sessionID).
			Str("type", eventType).
			Int64("sequenceId", update.SequenceID).
			Msg("Kafka disabled, skipping event publish")
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal update event: %w", err)
	}

	start := time.Now()
	err = writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(sessionID),
		Value: payload,
	})
	p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
	if err != nil {
		p.log.Error().
			Err(err).
			Str("sessionId", sessionID).
			Str("topic", topic).
			Msg("Failed to publish transcription event")
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close flushes and closes the underlying writers.
func (p *Publisher) Close() error {
	if !p.cfg.Enabled {
		return nil
	}
	var firstErr error
	for _, w := range []*kafka.Writer{p.partial, p.final} {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
