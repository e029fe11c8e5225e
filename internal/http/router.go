// Package http exposes the service's HTTP surface: the WebSocket ingest
// endpoint plus health and session diagnostics.
package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	ws "audio-transcription-service/internal/api/ws"
	"audio-transcription-service/internal/provider"
	"audio-transcription-service/internal/session"
	"audio-transcription-service/internal/stream"
)

// Router builds the service's HTTP handler tree.
type Router struct {
	wsHandler   *ws.Handler
	registry    *session.Registry
	coordinator *stream.Coordinator
	adapter     *provider.Adapter
}

// NewRouter wires the WebSocket handler and diagnostics endpoints.
func NewRouter(wsHandler *ws.Handler, registry *session.Registry, coordinator *stream.Coordinator, adapter *provider.Adapter) *Router {
	return &Router{
		wsHandler:   wsHandler,
		registry:    registry,
		coordinator: coordinator,
		adapter:     adapter,
	}
}

// Handler returns the assembled chi router.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger)

	r.Handle("/ws", rt.wsHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/liveness", rt.liveness)
		r.Get("/readiness", rt.readiness)
		r.Get("/sessions", rt.sessions)
		r.Get("/sessions/{sessionID}/transcript", rt.transcript)
	})

	return r
}

func (rt *Router) liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readiness reports degraded while the provider circuit breaker is open.
// The service still accepts connections in that state, so this is 200 with
// a status field rather than a 503.
func (rt *Router) readiness(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if !rt.adapter.IsAvailable() {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"activeSessions": rt.registry.ActiveSessionCount(),
	})
}

type sessionSummary struct {
	SessionID    string `json:"sessionId"`
	ConnectionID string `json:"connectionId"`
	State        string `json:"state"`
	Updates      int    `json:"updates"`
	CreatedAt    string `json:"createdAt"`
}

func (rt *Router) sessions(w http.ResponseWriter, r *http.Request) {
	all := rt.registry.Sessions()
	summaries := make([]sessionSummary, 0, len(all))
	for _, s := range all {
		summaries = append(summaries, sessionSummary{
			SessionID:    s.ID(),
			ConnectionID: s.ConnectionID(),
			State:        s.State().String(),
			Updates:      s.HistoryLen(),
			CreatedAt:    s.CreatedAt().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": summaries,
		"active":   rt.registry.ActiveSessionCount(),
	})
}

func (rt *Router) transcript(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	text, confidence, err := rt.coordinator.GetAggregatedTranscription(sessionID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId":  sessionID,
		"text":       text,
		"confidence": confidence,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
