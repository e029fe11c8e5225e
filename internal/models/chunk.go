package models

// ExpectedFormat is the declared container format of inbound audio.
const ExpectedFormat = "webm/opus"

// AudioChunk is one validated, timestamped unit of inbound audio. Timestamp
// is a process-wide monotonic value; SequenceNumber is monotonic within the
// owning session.
type AudioChunk struct {
	Data           []byte
	Format         string
	Timestamp      int64
	SequenceNumber int64
	SessionID      string
}
