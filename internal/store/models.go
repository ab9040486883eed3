package store

import (
	"strings"
	"time"
)

// State is the lifecycle state of a job.
type State string

const (
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

var stateSet = map[State]struct{}{
	StateQueued:     {},
	StateProcessing: {},
	StateCompleted:  {},
	StateFailed:     {},
}

// ParseState converts a string into a known State.
func ParseState(value string) (State, bool) {
	normalized := State(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := stateSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a state can never change again once retries are
// exhausted.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job is the durable record tracking one submitted transcription end-to-end.
// ResultText is set only on completed jobs, ErrorDetail only on failed ones;
// the store enforces this by writing each field together with the state it
// belongs to in a single statement.
type Job struct {
	ID             int64
	SourceFilename string
	ResultText     string
	State          State
	QueueToken     string
	ErrorDetail    string
	CreatedAt      time.Time
}
