package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"audio-transcription-service/internal/models"
	"audio-transcription-service/internal/observability/logging"
)

// Session is the server-side state of one client connection's transcription
// lifecycle. All mutation goes through Registry operations; the per-session
// lock keeps unrelated sessions from contending.
type Session struct {
	id           string
	connectionID string
	createdAt    time.Time

	mu      sync.RWMutex
	state   State
	history []models.TranscriptionUpdate
}

// ID returns the opaque session identifier.
func (s *Session) ID() string { return s.id }

// ConnectionID returns the originating connection identifier.
func (s *Session) ConnectionID() string { return s.connectionID }

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// History returns a copy of the append-only transcription history.
func (s *Session) History() []models.TranscriptionUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.TranscriptionUpdate, len(s.history))
	copy(out, s.history)
	return out
}

// HistoryLen returns the number of recorded updates.
func (s *Session) HistoryLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// Registry is the concurrent store of all live sessions, indexed by session
// id and by connection id. The registry lock only guards the indexes; state
// changes take the per-session lock.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*Session
	byConn map[string]string

	log zerolog.Logger
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]*Session),
		byConn: make(map[string]string),
		log:    logging.WithComponent("session-registry"),
	}
}

// CreateSession registers a new ACTIVE session for a connection.
func (r *Registry) CreateSession(connectionID string) *Session {
	s := &Session{
		id:           uuid.NewString(),
		connectionID: connectionID,
		createdAt:    time.Now().UTC(),
		state:        StateActive,
	}

	r.mu.Lock()
	r.byID[s.id] = s
	r.byConn[connectionID] = s.id
	r.mu.Unlock()

	r.log.Info().
		Str("sessionId", s.id).
		Str("connectionId", connectionID).
		Msg("Created session")
	return s
}

// GetSession looks a session up by id.
func (r *Registry) GetSession(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[sessionID]
	return s, ok
}

// GetSessionByConnectionID looks a session up by its originating connection.
func (r *Registry) GetSessionByConnectionID(connectionID string) (*Session, bool) {
	r.mu.RLock()
	sessionID, ok := r.byConn[connectionID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return r.GetSession(sessionID)
}

// UpdateSessionState applies a lifecycle transition. Illegal transitions are
// no-ops reported as not applied, never errors.
func (r *Registry) UpdateSessionState(sessionID string, next State) bool {
	s, ok := r.GetSession(sessionID)
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !canTransition(s.state, next) {
		r.log.Warn().
			Str("sessionId", sessionID).
			Str("from", s.state.String()).
			Str("to", next.String()).
			Msg("Rejected illegal state transition")
		return false
	}
	if s.state != next {
		r.log.Info().
			Str("sessionId", sessionID).
			Str("from", s.state.String()).
			Str("to", next.String()).
			Msg("Session state changed")
		s.state = next
	}
	return true
}

// PauseSession suspends an ACTIVE session. Not applied otherwise.
func (r *Registry) PauseSession(sessionID string) bool {
	s, ok := r.GetSession(sessionID)
	if !ok || s.State() != StateActive {
		return false
	}
	return r.UpdateSessionState(sessionID, StatePaused)
}

// ResumeSession reactivates a PAUSED session. Not applied otherwise.
func (r *Registry) ResumeSession(sessionID string) bool {
	s, ok := r.GetSession(sessionID)
	if !ok || s.State() != StatePaused {
		return false
	}
	return r.UpdateSessionState(sessionID, StateActive)
}

// AddTranscriptionUpdate appends an update to the session history. Returns
// false if the session is unknown or already CLOSED, in which case the
// update must be discarded by the caller.
func (r *Registry) AddTranscriptionUpdate(sessionID string, update models.TranscriptionUpdate) bool {
	s, ok := r.GetSession(sessionID)
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.history = append(s.history, update)
	return true
}

// CloseSession transitions a session to CLOSED and removes it from the
// active indexes. History is discarded with the session.
func (r *Registry) CloseSession(sessionID string) bool {
	s, ok := r.GetSession(sessionID)
	if !ok {
		return false
	}

	s.mu.Lock()
	recorded := len(s.history)
	s.state = StateClosed
	s.mu.Unlock()

	r.mu.Lock()
	delete(r.byID, sessionID)
	delete(r.byConn, s.connectionID)
	r.mu.Unlock()

	r.log.Info().
		Str("sessionId", sessionID).
		Int("updates", recorded).
		Msg("Closed session")
	return true
}

// Sessions returns a snapshot of every registered session.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	return out
}

// ActiveSessionCount returns the number of sessions currently ACTIVE.
func (r *Registry) ActiveSessionCount() int {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	count := 0
	for _, s := range sessions {
		if s.State() == StateActive {
			count++
		}
	}
	return count
}
