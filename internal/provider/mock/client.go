// Package mock provides a scripted Transcriber for tests and local
// development without provider credentials.
package mock

import (
	"context"
	"sync"

	"audio-transcription-service/internal/provider"
)

// DefaultResults is the canned response cycle used when none is supplied.
var DefaultResults = []provider.Result{
	{Text: "I want to cancel", Final: false, Confidence: 0.72},
	{Text: "I want to cancel my subscription", Final: true, Confidence: 0.94},
	{Text: "Yes please go ahead", Final: true, Confidence: 0.97},
	{Text: "Thank you very much", Final: true, Confidence: 0.98},
}

// Client implements provider.Transcriber with scripted results and errors.
// Calls cycle through Results; Errors are consumed first, one per call.
type Client struct {
	mu      sync.Mutex
	results []provider.Result
	errs    []error
	calls   int
	payload [][]byte
}

// New creates a mock Transcriber cycling through the given results, or
// DefaultResults when none are given.
func New(results ...provider.Result) *Client {
	if len(results) == 0 {
		results = DefaultResults
	}
	return &Client{results: results}
}

// FailWith queues errors to be returned by the next calls, in order,
// before any scripted results are served.
func (c *Client) FailWith(errs ...error) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, errs...)
	return c
}

// Name identifies the provider in logs and metrics.
func (c *Client) Name() string { return "mock" }

// Transcribe serves the next scripted error or result.
func (c *Client) Transcribe(ctx context.Context, audio []byte) (provider.Result, error) {
	if err := ctx.Err(); err != nil {
		return provider.Result{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	buf := make([]byte, len(audio))
	copy(buf, audio)
	c.payload = append(c.payload, buf)

	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		return provider.Result{}, err
	}

	res := c.results[c.calls%len(c.results)]
	c.calls++
	return res, nil
}

// Calls returns how many successful scripted results were served.
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Payloads returns copies of the audio payloads received so far.
func (c *Client) Payloads() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.payload))
	copy(out, c.payload)
	return out
}
