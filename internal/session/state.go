// Package session provides the session lifecycle state machine and the
// concurrent registry that owns all live sessions.
package session

import "fmt"

// State represents the lifecycle state of a session.
type State int

const (
	// StateActive - session is streaming; updates may be recorded.
	StateActive State = iota
	// StatePaused - ingestion suspended; the session can resume.
	StatePaused
	// StateClosed - terminal. No transition leaves this state.
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StatePaused:
		return "PAUSED"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// IsTerminal reports whether the state admits no further transitions.
func (s State) IsTerminal() bool {
	return s == StateClosed
}

// canTransition reports whether from -> to is a legal transition.
//
//	ACTIVE <-> PAUSED
//	ACTIVE  -> CLOSED
//	PAUSED  -> CLOSED
//
// A same-state transition is an allowed no-op. Nothing leaves CLOSED.
func canTransition(from, to State) bool {
	if from == to {
		return true
	}
	switch from {
	case StateActive:
		return to == StatePaused || to == StateClosed
	case StatePaused:
		return to == StateActive || to == StateClosed
	default:
		return false
	}
}
