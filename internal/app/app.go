// Package app wires the service components together and manages their
// lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	ws "audio-transcription-service/internal/api/ws"
	"audio-transcription-service/internal/audio"
	"audio-transcription-service/internal/config"
	"audio-transcription-service/internal/events"
	apphttp "audio-transcription-service/internal/http"
	"audio-transcription-service/internal/observability"
	"audio-transcription-service/internal/observability/logging"
	"audio-transcription-service/internal/observability/metrics"
	"audio-transcription-service/internal/provider"
	"audio-transcription-service/internal/provider/google"
	"audio-transcription-service/internal/provider/mock"
	"audio-transcription-service/internal/provider/openai"
	"audio-transcription-service/internal/resilience"
	"audio-transcription-service/internal/session"
	"audio-transcription-service/internal/stream"
)

// SetupLogging configures the global zerolog logger. Console output in dev,
// JSON everywhere else.
func SetupLogging(env string) {
	cfg := logging.DefaultConfig()
	if env == "dev" {
		cfg.Level = "debug"
		cfg.Format = "console"
	}
	logging.Init(cfg)
}

// Application owns the assembled service and its servers.
type Application struct {
	cfg       config.Config
	httpSrv   *http.Server
	obsSrv    *observability.Server
	publisher *events.Publisher
	closer    func() error
	log       zerolog.Logger
}

// New assembles the full pipeline from configuration.
func New(ctx context.Context, cfg config.Config) (*Application, error) {
	client, closer, err := buildTranscriber(ctx, cfg.Provider)
	if err != nil {
		return nil, err
	}

	retry, err := resilience.NewBackoffPolicy(cfg.Retry.BaseDelay, cfg.Retry.MaxDelay, cfg.Retry.MaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("retry policy: %w", err)
	}

	breaker := resilience.NewCircuitBreaker(resilience.BreakerSettings{
		Name:                 "transcription-provider",
		FailureRateThreshold: cfg.Breaker.FailureRateThreshold,
		SlidingWindowSize:    cfg.Breaker.SlidingWindowSize,
		MinimumCalls:         cfg.Breaker.MinimumCalls,
		OpenStateWait:        cfg.Breaker.OpenStateWait,
	})

	adapter := provider.NewAdapter(client, breaker, provider.Config{
		BatchWindow:        cfg.Provider.BatchWindow,
		MinRequestInterval: cfg.Provider.MinRequestInterval,
		RequestTimeout:     cfg.Provider.RequestTimeout,
		Retry:              retry,
	}, metrics.Default)

	registry := session.NewRegistry()
	publisher := events.NewPublisher(events.Config{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		PartialTopic: cfg.Kafka.PartialTopic,
		FinalTopic:   cfg.Kafka.FinalTopic,
		WriteTimeout: cfg.Kafka.WriteTimeout,
	}, metrics.Default)
	coordinator := stream.NewCoordinator(adapter, registry, publisher, metrics.Default)

	processor := audio.NewProcessor(audio.Config{
		MinChunkSize:     cfg.Audio.MinChunkSize,
		MaxChunkSize:     cfg.Audio.MaxChunkSize,
		ReorderMaxChunks: cfg.Audio.ReorderMaxChunks,
		ReorderWindow:    cfg.Audio.ReorderWindow,
	})

	wsHandler := ws.NewHandler(processor, registry, coordinator, ws.Config{
		IdleTimeout: cfg.Service.IdleTimeout,
		ChunkBuffer: cfg.Service.ChunkBuffer,
	}, metrics.Default)

	router := apphttp.NewRouter(wsHandler, registry, coordinator, adapter)

	return &Application{
		cfg: cfg,
		httpSrv: &http.Server{
			Addr:        fmt.Sprintf(":%d", cfg.Service.Port),
			Handler:     router.Handler(),
			ReadTimeout: 0, // long-lived WebSocket connections
		},
		obsSrv:    observability.NewServer(cfg.Observability.Port, adapter.IsAvailable),
		publisher: publisher,
		closer:    closer,
		log:       logging.WithComponent("app"),
	}, nil
}

// buildTranscriber selects the provider client from configuration. The
// returned closer releases provider resources, nil-safe.
func buildTranscriber(ctx context.Context, cfg config.ProviderConfig) (provider.Transcriber, func() error, error) {
	switch cfg.Name {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, nil, fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
		client := openai.New(openai.Config{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		})
		return client, nil, nil
	case "google":
		client, err := google.New(ctx, google.Config{
			LanguageCode: cfg.GoogleLanguageCode,
			SampleRateHz: cfg.GoogleSampleRateHz,
		})
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	case "mock":
		return mock.New(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
}

// Run starts both servers and blocks until the context is cancelled, then
// shuts everything down gracefully.
func (a *Application) Run(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() {
		a.log.Info().Int("port", a.cfg.Service.Port).Msg("HTTP server listening")
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go func() {
		if err := a.obsSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info().Msg("Shutdown requested")
	case err := <-errCh:
		a.log.Error().Err(err).Msg("Server failed")
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	if err := a.obsSrv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("Observability shutdown incomplete")
	}
	if err := a.publisher.Close(); err != nil {
		a.log.Warn().Err(err).Msg("Publisher close failed")
	}
	if a.closer != nil {
		if err := a.closer(); err != nil {
			a.log.Warn().Err(err).Msg("Provider close failed")
		}
	}
	a.log.Info().Msg("Shutdown complete")
	return nil
}
