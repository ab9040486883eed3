package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// Engine runs whisper-cli against local audio files.
type Engine struct {
	bin      string
	model    string
	language string
	runner   commandRunner
}

// NewEngine builds the whisper engine. It does not probe the binary; call
// Ready for that.
func NewEngine(bin, model, language string) *Engine {
	return &Engine{bin: bin, model: model, language: language, runner: execRunner{}}
}

// Ready verifies the binary is on PATH and the model file exists. No model
// weights are loaded; readiness stays cheap enough for health probes.
func (e *Engine) Ready(ctx context.Context) error {
	if _, err := exec.LookPath(e.bin); err != nil {
		return fmt.Errorf("%s not found in PATH: %w", e.bin, err)
	}
	if _, err := os.Stat(e.model); err != nil {
		return fmt.Errorf("model file %s: %w", e.model, err)
	}
	return nil
}

// Transcribe invokes the engine and returns the transcript text from stdout.
func (e *Engine) Transcribe(ctx context.Context, path string) (string, error) {
	args := []string{
		"-m", e.model,
		"-f", path,
		"--no-prints",
		"--no-timestamps",
	}
	if e.language != "" {
		args = append(args, "-l", e.language)
	}

	res, err := e.runner.Run(ctx, e.bin, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		return "", &EngineError{Stage: "transcribe", Stderr: res.Stderr, Err: err}
	}

	text := strings.TrimSpace(res.Stdout)
	if text == "" {
		return "", &EngineError{Stage: "transcribe", Stderr: res.Stderr, Err: ErrEmptyTranscript}
	}
	return text, nil
}
