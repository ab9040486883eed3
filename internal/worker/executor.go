// Package worker drives queued jobs through the transcription state machine.
// It owns every transition after job creation; no other component mutates a
// job once it is enqueued.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"audioscribe/internal/retry"
	"audioscribe/internal/store"
	"audioscribe/internal/transcribe"
	"audioscribe/pkg/schema"
)

// JobStore is the slice of the repository the executor needs.
type JobStore interface {
	UpdateState(ctx context.Context, id int64, state store.State) error
	UpdateResult(ctx context.Context, id int64, text string) error
	UpdateError(ctx context.Context, id int64, detail string) error
}

// DeliveryStates is the delivery-state backend the executor reports progress to.
type DeliveryStates interface {
	MarkProcessing(ctx context.Context, token, label string) error
	MarkSucceeded(ctx context.Context, token string) error
	MarkFailed(ctx context.Context, token, errMsg string) error
}

// Executor runs one delivery at a time through transcription with the
// configured retry policy and hard per-attempt time limit.
type Executor struct {
	store       JobStore
	states      DeliveryStates
	transcriber transcribe.Transcriber
	policy      retry.Policy
	timeLimit   time.Duration
	logger      *slog.Logger

	// sleep is swapped out in tests for a fake clock.
	sleep func(ctx context.Context, d time.Duration) error
}

// New assembles an executor. timeLimit is the wall-clock ceiling per attempt;
// an attempt exceeding it is cancelled and counted as a failure.
func New(js JobStore, states DeliveryStates, t transcribe.Transcriber, policy retry.Policy, timeLimit time.Duration, logger *slog.Logger) *Executor {
	return &Executor{
		store:       js,
		states:      states,
		transcriber: t,
		policy:      policy,
		timeLimit:   timeLimit,
		logger:      logger,
		sleep:       sleepCtx,
	}
}

// Execute runs a delivery to a terminal outcome. A nil return means the job
// completed and the delivery should be acked; a non-nil return means retries
// are exhausted and the delivery should be terminated. Re-execution of an
// already-attempted delivery is safe: every persistence step is a full
// overwrite keyed by job id.
func (e *Executor) Execute(ctx context.Context, job schema.TranscribeJob) error {
	logger := e.logger.With("job_id", job.JobID, "token", job.Token)

	var lastErr error
	for attempt := 0; attempt <= e.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			// requeued internally between attempts; clients keep seeing the
			// delivery as processing until retries exhaust
			if err := e.store.UpdateState(ctx, job.JobID, store.StateQueued); err != nil {
				logger.Warn("requeue state write failed", "err", err)
			}
			delay := e.policy.Delay(attempt)
			logger.Warn("retrying transcription", "attempt", attempt, "delay", delay, "err", lastErr)
			if err := e.sleep(ctx, delay); err != nil {
				return err
			}
		}

		lastErr = e.attempt(ctx, job, logger)
		if lastErr == nil {
			if err := e.states.MarkSucceeded(ctx, job.Token); err != nil {
				logger.Warn("mark delivery succeeded failed", "err", err)
			}
			logger.Info("job completed", "attempts", attempt+1)
			return nil
		}

		// persist the failure before the queue's retry bookkeeping runs, so
		// the durable record and the broker never disagree about this attempt
		if err := e.store.UpdateError(ctx, job.JobID, lastErr.Error()); err != nil {
			logger.Error("persist job error failed", "err", err)
		}
	}

	if err := e.states.MarkFailed(ctx, job.Token, lastErr.Error()); err != nil {
		logger.Warn("mark delivery failed failed", "err", err)
	}
	logger.Error("job failed permanently", "attempts", e.policy.MaxRetries+1, "err", lastErr)
	return fmt.Errorf("transcription failed after %d attempts: %w", e.policy.MaxRetries+1, lastErr)
}

func (e *Executor) attempt(ctx context.Context, job schema.TranscribeJob, logger *slog.Logger) error {
	if err := e.store.UpdateState(ctx, job.JobID, store.StateProcessing); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if err := e.states.MarkProcessing(ctx, job.Token, "Transcribing audio"); err != nil {
		logger.Warn("mark delivery processing failed", "err", err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, e.timeLimit)
	defer cancel()

	text, err := e.transcriber.Transcribe(attemptCtx, job.ArtifactPath)
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("time limit %s exceeded: %w", e.timeLimit, err)
		}
		return err
	}

	if err := e.states.MarkProcessing(ctx, job.Token, "Saving results"); err != nil {
		logger.Warn("mark delivery processing failed", "err", err)
	}
	if err := e.store.UpdateResult(ctx, job.JobID, text); err != nil {
		return fmt.Errorf("persist result: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
