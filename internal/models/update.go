// Package models defines the data structures shared across the pipeline.
package models

import "time"

// UpdateType distinguishes interim results from committed ones.
type UpdateType string

const (
	// UpdatePartial is an interim transcript that later updates may refine.
	UpdatePartial UpdateType = "partial"
	// UpdateFinal is a committed transcript for a stretch of audio.
	UpdateFinal UpdateType = "final"
)

// TranscriptionUpdate is one unit of transcription result delivered to a
// client. SequenceID, not Timestamp, is the authoritative per-session
// ordering key.
type TranscriptionUpdate struct {
	Type       UpdateType `json:"type"`
	Text       string     `json:"text"`
	Confidence float64    `json:"confidence"`
	Timestamp  time.Time  `json:"timestamp"`
	SequenceID int64      `json:"sequenceId"`
}

// Partial builds a partial update stamped with the current time.
func Partial(text string, confidence float64, sequenceID int64) TranscriptionUpdate {
	return TranscriptionUpdate{
		Type:       UpdatePartial,
		Text:       text,
		Confidence: confidence,
		Timestamp:  time.Now().UTC(),
		SequenceID: sequenceID,
	}
}

// Final builds a final update stamped with the current time.
func Final(text string, confidence float64, sequenceID int64) TranscriptionUpdate {
	return TranscriptionUpdate{
		Type:       UpdateFinal,
		Text:       text,
		Confidence: confidence,
		Timestamp:  time.Now().UTC(),
		SequenceID: sequenceID,
	}
}

// Valid reports whether the update is structurally sound. Updates failing
// this check must never enter a session's history or reach a client.
func (u TranscriptionUpdate) Valid() bool {
	if u.Type != UpdatePartial && u.Type != UpdateFinal {
		return false
	}
	if u.Confidence < 0.0 || u.Confidence > 1.0 {
		return false
	}
	if u.Timestamp.IsZero() {
		return false
	}
	if u.SequenceID <= 0 {
		return false
	}
	return true
}

// IsFinal reports whether the update commits its text.
func (u TranscriptionUpdate) IsFinal() bool {
	return u.Type == UpdateFinal
}
