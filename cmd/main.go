package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"audio-transcription-service/internal/app"
	"audio-transcription-service/internal/config"
)

func main() {
	// Optional .env for local development; the environment always wins.
	_ = godotenv.Load()

	cfg := config.Load()
	app.SetupLogging(cfg.Service.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}

	log.Info().
		Str("env", cfg.Service.Env).
		Str("provider", cfg.Provider.Name).
		Bool("kafkaEnabled", cfg.Kafka.Enabled).
		Msg("Starting audio transcription service")

	if err := application.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Service exited with error")
	}
}
