// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "audio_transcription"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionsClosed  prometheus.Counter
	SessionDuration prometheus.Histogram

	// Audio chunk metrics
	ChunksReceived prometheus.Counter
	ChunksRejected *prometheus.CounterVec
	ChunksDropped  prometheus.Counter
	AudioBytes     prometheus.Counter

	// Transcription update metrics
	UpdatesPartial prometheus.Counter
	UpdatesFinal   prometheus.Counter
	UpdatesInvalid prometheus.Counter
	UpdatesDropped prometheus.Counter

	// Provider metrics
	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	ProviderRetries  prometheus.Counter
	ProviderDegraded prometheus.Counter

	// Circuit breaker metrics
	BreakerState    prometheus.Gauge
	BreakerRejected prometheus.Counter

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// Default is the global metrics instance.
var Default = New()

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of transcription sessions created",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active transcription sessions",
		}),
		SessionsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Total number of sessions closed",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of transcription sessions in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),

		ChunksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_received_total",
			Help:      "Total audio chunks received from clients",
		}),
		ChunksRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_rejected_total",
			Help:      "Total audio chunks rejected by validation",
		}, []string{"reason"}),
		ChunksDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_dropped_total",
			Help:      "Total audio chunks dropped due to a full session buffer",
		}),
		AudioBytes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received",
		}),

		UpdatesPartial: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_partial_total",
			Help:      "Total partial transcription updates recorded",
		}),
		UpdatesFinal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_final_total",
			Help:      "Total final transcription updates recorded",
		}),
		UpdatesInvalid: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_invalid_total",
			Help:      "Total transcription updates dropped by structural validation",
		}),
		UpdatesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_dropped_total",
			Help:      "Total transcription updates not delivered to a client",
		}),

		ProviderRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total requests to the transcription provider",
		}, []string{"provider", "outcome"}),
		ProviderLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_seconds",
			Help:      "Transcription provider request latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"provider"}),
		ProviderRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_retries_total",
			Help:      "Total provider calls retried after a rate limit",
		}),
		ProviderDegraded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_degraded_total",
			Help:      "Total degraded placeholder updates returned",
		}),

		BreakerState: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		BreakerRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_rejected_total",
			Help:      "Total provider calls rejected by the open circuit breaker",
		}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordSessionStart records a new session being created.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session closing.
func (m *Metrics) RecordSessionEnd(durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionsClosed.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordChunkReceived records an accepted inbound chunk.
func (m *Metrics) RecordChunkReceived(bytes int) {
	m.ChunksReceived.Inc()
	m.AudioBytes.Add(float64(bytes))
}

// RecordChunkRejected records a chunk rejected by validation.
func (m *Metrics) RecordChunkRejected(reason string) {
	m.ChunksRejected.WithLabelValues(reason).Inc()
}

// RecordChunkDropped records a chunk dropped by backpressure.
func (m *Metrics) RecordChunkDropped() {
	m.ChunksDropped.Inc()
}

// RecordUpdate records a transcription update by type.
func (m *Metrics) RecordUpdate(final bool) {
	if final {
		m.UpdatesFinal.Inc()
	} else {
		m.UpdatesPartial.Inc()
	}
}

// RecordInvalidUpdate records an update dropped by structural validation.
func (m *Metrics) RecordInvalidUpdate() {
	m.UpdatesInvalid.Inc()
}

// RecordUpdateDropped records an update not delivered to a client.
func (m *Metrics) RecordUpdateDropped() {
	m.UpdatesDropped.Inc()
}

// RecordProviderRequest records one provider call and its latency.
func (m *Metrics) RecordProviderRequest(provider, outcome string, latencySeconds float64) {
	m.ProviderRequests.WithLabelValues(provider, outcome).Inc()
	m.ProviderLatency.WithLabelValues(provider).Observe(latencySeconds)
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
