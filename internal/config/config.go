// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full service configuration, loaded once at startup.
type Config struct {
	Service       ServiceConfig
	Provider      ProviderConfig
	Audio         AudioConfig
	Breaker       BreakerConfig
	Retry         RetryConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds process-level settings.
type ServiceConfig struct {
	// Env selects the logging format: "dev" enables console output.
	Env  string
	Port int
	// IdleTimeout closes WebSocket connections with no inbound frames.
	IdleTimeout time.Duration
	// ChunkBuffer bounds the per-connection audio queue.
	ChunkBuffer int
}

// ProviderConfig selects and tunes the transcription provider.
type ProviderConfig struct {
	// Name is one of "mock", "openai", "google".
	Name string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	GoogleLanguageCode string
	GoogleSampleRateHz int

	// BatchWindow is how long audio accumulates before one provider call.
	BatchWindow time.Duration
	// MinRequestInterval is the minimum spacing between provider calls per
	// session.
	MinRequestInterval time.Duration
	// RequestTimeout bounds one provider call.
	RequestTimeout time.Duration
}

// AudioConfig holds chunk validation and reordering limits.
type AudioConfig struct {
	MinChunkSize     int
	MaxChunkSize     int
	ReorderMaxChunks int
	ReorderWindow    time.Duration
}

// BreakerConfig tunes the provider circuit breaker.
type BreakerConfig struct {
	FailureRateThreshold float64
	SlidingWindowSize    int
	MinimumCalls         int
	OpenStateWait        time.Duration
}

// RetryConfig tunes the rate-limit backoff policy.
type RetryConfig struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// KafkaConfig holds event publishing settings.
type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	PartialTopic string
	FinalTopic   string
	WriteTimeout time.Duration
}

// ObservabilityConfig holds the metrics listener settings.
type ObservabilityConfig struct {
	Port int
}

// Load reads configuration from the environment, applying defaults for
// anything unset.
func Load() Config {
	return Config{
		Service: ServiceConfig{
			Env:         envOrDefault("APP_ENV", "dev"),
			Port:        envOrDefaultInt("HTTP_PORT", 8080),
			IdleTimeout: envOrDefaultDuration("WS_IDLE_TIMEOUT", 60*time.Second),
			ChunkBuffer: envOrDefaultInt("WS_CHUNK_BUFFER", 256),
		},
		Provider: ProviderConfig{
			Name:               envOrDefault("PROVIDER", "mock"),
			OpenAIAPIKey:       envOrDefault("OPENAI_API_KEY", ""),
			OpenAIBaseURL:      envOrDefault("OPENAI_BASE_URL", ""),
			OpenAIModel:        envOrDefault("OPENAI_MODEL", ""),
			GoogleLanguageCode: envOrDefault("GOOGLE_LANGUAGE_CODE", "en-US"),
			GoogleSampleRateHz: envOrDefaultInt("GOOGLE_SAMPLE_RATE_HZ", 48000),
			BatchWindow:        envOrDefaultDuration("PROVIDER_BATCH_WINDOW", 5*time.Second),
			MinRequestInterval: envOrDefaultDuration("PROVIDER_MIN_REQUEST_INTERVAL", 5*time.Second),
			RequestTimeout:     envOrDefaultDuration("PROVIDER_REQUEST_TIMEOUT", 30*time.Second),
		},
		Audio: AudioConfig{
			MinChunkSize:     envOrDefaultInt("AUDIO_MIN_CHUNK_SIZE", 4),
			MaxChunkSize:     envOrDefaultInt("AUDIO_MAX_CHUNK_SIZE", 1024*1024),
			ReorderMaxChunks: envOrDefaultInt("REORDER_MAX_CHUNKS", 100),
			ReorderWindow:    envOrDefaultDuration("REORDER_WINDOW", 200*time.Millisecond),
		},
		Breaker: BreakerConfig{
			FailureRateThreshold: envOrDefaultFloat("BREAKER_FAILURE_RATE_THRESHOLD", 50),
			SlidingWindowSize:    envOrDefaultInt("BREAKER_SLIDING_WINDOW_SIZE", 10),
			MinimumCalls:         envOrDefaultInt("BREAKER_MINIMUM_CALLS", 5),
			OpenStateWait:        envOrDefaultDuration("BREAKER_OPEN_STATE_WAIT", 30*time.Second),
		},
		Retry: RetryConfig{
			BaseDelay:   envOrDefaultDuration("RETRY_BASE_DELAY", time.Second),
			MaxDelay:    envOrDefaultDuration("RETRY_MAX_DELAY", 30*time.Second),
			MaxAttempts: envOrDefaultInt("RETRY_MAX_ATTEMPTS", 3),
		},
		Kafka: KafkaConfig{
			Enabled:      envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:      splitAndTrim(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
			PartialTopic: envOrDefault("KAFKA_PARTIAL_TOPIC", "transcripts.partial"),
			FinalTopic:   envOrDefault("KAFKA_FINAL_TOPIC", "transcripts.final"),
			WriteTimeout: envOrDefaultDuration("KAFKA_WRITE_TIMEOUT", 5*time.Second),
		},
		Observability: ObservabilityConfig{
			Port: envOrDefaultInt("METRICS_PORT", 9090),
		},
	}
}

func envOrDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envOrDefaultBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
