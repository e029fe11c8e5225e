// Package openai provides a Transcriber backed by the OpenAI audio
// transcription API.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"

	goopenai "github.com/sashabaranov/go-openai"

	"audio-transcription-service/internal/provider"
)

const defaultModel = goopenai.Whisper1

// Client implements provider.Transcriber using go-openai. One batched
// audio payload maps to one transcription request.
type Client struct {
	api   *goopenai.Client
	model string
}

// Config holds provider credentials and endpoint settings.
type Config struct {
	APIKey  string
	BaseURL string // optional, for OpenAI-compatible endpoints
	Model   string
}

// New creates an OpenAI-backed Transcriber.
func New(cfg Config) *Client {
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &Client{
		api:   goopenai.NewClientWithConfig(clientCfg),
		model: model,
	}
}

// Name identifies the provider in logs and metrics.
func (c *Client) Name() string { return "openai" }

// Transcribe sends one batched payload and parses the response. Rate-limit
// responses are wrapped with provider.ErrRateLimited so only they retry.
func (c *Client) Transcribe(ctx context.Context, audio []byte) (provider.Result, error) {
	resp, err := c.api.CreateTranscription(ctx, goopenai.AudioRequest{
		Model:    c.model,
		FilePath: "audio.webm",
		Reader:   bytes.NewReader(audio),
		Format:   goopenai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		var apiErr *goopenai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return provider.Result{}, fmt.Errorf("transcription request: %w", provider.ErrRateLimited)
		}
		return provider.Result{}, fmt.Errorf("transcription request: %w", err)
	}

	return provider.Result{
		Text:       resp.Text,
		Final:      resp.Text != "",
		Confidence: confidenceFromSegments(resp.Segments),
	}, nil
}

// confidenceFromSegments derives a raw confidence signal from the average
// segment log probability, exp(logprob). NaN when the provider reports no
// segments; the adapter maps non-finite signals to 0.
func confidenceFromSegments(segments []struct {
	ID               int     `json:"id"`
	Seek             int     `json:"seek"`
	Start            float64 `json:"start"`
	End              float64 `json:"end"`
	Text             string  `json:"text"`
	Tokens           []int   `json:"tokens"`
	Temperature      float64 `json:"temperature"`
	AvgLogprob       float64 `json:"avg_logprob"`
	CompressionRatio float64 `json:"compression_ratio"`
	NoSpeechProb     float64 `json:"no_speech_prob"`
	Transient        bool    `json:"transient"`
}) float64 {
	if len(segments) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, s := range segments {
		sum += s.AvgLogprob
	}
	return math.Exp(sum / float64(len(segments)))
}
