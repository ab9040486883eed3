// Package transcribe wraps the external speech-to-text capability. The
// engine is constructed exactly once by the process entry point and injected
// wherever transcription or readiness checks are needed.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Transcriber converts an audio file on disk into text.
type Transcriber interface {
	// Ready reports whether the capability can serve requests without
	// performing a transcription.
	Ready(ctx context.Context) error
	// Transcribe runs speech-to-text on the file at path. It fails with a
	// domain error on any decode or model failure.
	Transcribe(ctx context.Context, path string) (string, error)
}

// ErrEmptyTranscript indicates the model produced no usable output.
var ErrEmptyTranscript = errors.New("empty transcript")

// EngineError carries the failing stage and captured process output of an
// engine invocation.
type EngineError struct {
	Stage  string
	Stderr string
	Err    error
}

func (e *EngineError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Stage, e.Err)
	if detail := strings.TrimSpace(e.Stderr); detail != "" {
		msg += ": " + firstLine(detail)
	}
	return msg
}

func (e *EngineError) Unwrap() error { return e.Err }

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
