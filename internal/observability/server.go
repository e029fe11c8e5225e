// Package observability hosts the metrics and health endpoints on their own
// listener, separate from the client-facing HTTP surface.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"audio-transcription-service/internal/observability/logging"
)

// Server serves /metrics, /healthz and /readyz.
type Server struct {
	srv   *http.Server
	log   zerolog.Logger
	ready func() bool
}

// NewServer builds the observability server. The ready callback reports
// whether the service can currently reach its provider; nil means always
// ready.
func NewServer(port int, ready func() bool) *Server {
	if ready == nil {
		ready = func() bool { return true }
	}
	s := &Server{
		log:   logging.WithComponent("observability-server"),
		ready: ready,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.healthz)
	mux.HandleFunc("/readyz", s.readyz)

	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start runs the server until Shutdown. Blocks.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("Observability server listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("observability server: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// readyz degrades to 503 while the provider is unreachable so orchestrators
// can steer new traffic away without killing live sessions.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if !s.ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("degraded"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
