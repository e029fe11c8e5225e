// Package google provides a Transcriber backed by Google Cloud
// Speech-to-Text.
package google

import (
	"context"
	"fmt"
	"math"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"audio-transcription-service/internal/provider"
)

// Client implements provider.Transcriber using the synchronous Recognize
// API. Requires GOOGLE_APPLICATION_CREDENTIALS to be set.
type Client struct {
	api          *speech.Client
	languageCode string
	sampleRateHz int32
}

// Config holds recognition settings.
type Config struct {
	LanguageCode string
	SampleRateHz int
}

// New creates a Google-backed Transcriber.
func New(ctx context.Context, cfg Config) (*Client, error) {
	api, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "en-US"
	}
	if cfg.SampleRateHz == 0 {
		cfg.SampleRateHz = 48000
	}
	return &Client{
		api:          api,
		languageCode: cfg.LanguageCode,
		sampleRateHz: int32(cfg.SampleRateHz),
	}, nil
}

// Name identifies the provider in logs and metrics.
func (c *Client) Name() string { return "google" }

// Transcribe sends one batched payload through Recognize. ResourceExhausted
// is the retryable rate-limit class.
func (c *Client) Transcribe(ctx context.Context, audio []byte) (provider.Result, error) {
	resp, err := c.api.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:        speechpb.RecognitionConfig_WEBM_OPUS,
			SampleRateHertz: c.sampleRateHz,
			LanguageCode:    c.languageCode,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		if status.Code(err) == codes.ResourceExhausted {
			return provider.Result{}, fmt.Errorf("recognize: %w", provider.ErrRateLimited)
		}
		return provider.Result{}, fmt.Errorf("recognize: %w", err)
	}

	var texts []string
	var confidenceSum float64
	var alternatives int
	for _, r := range resp.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		alt := r.Alternatives[0]
		texts = append(texts, alt.Transcript)
		confidenceSum += float64(alt.Confidence)
		alternatives++
	}

	confidence := math.NaN()
	if alternatives > 0 {
		confidence = confidenceSum / float64(alternatives)
	}

	return provider.Result{
		Text:       strings.Join(texts, " "),
		Final:      alternatives > 0,
		Confidence: confidence,
	}, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	return c.api.Close()
}
