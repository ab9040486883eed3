// Package status composes queue delivery state and the job store into the
// single client-facing status view.
package status

import (
	"context"
	"strings"

	"audioscribe/internal/store"
	"audioscribe/internal/taskstate"
	"audioscribe/pkg/schema"
)

// JobLookup resolves a delivery token to its job record.
type JobLookup interface {
	GetByToken(ctx context.Context, token string) (*store.Job, error)
}

// StateLookup reads the delivery-state backend.
type StateLookup interface {
	Get(ctx context.Context, token string) (taskstate.State, bool, error)
}

// Report is the well-formed status object returned for every query.
type Report struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	JobID  int64  `json:"transcription_id,omitempty"`
	Meta   string `json:"meta,omitempty"`
	Text   string `json:"text,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Reporter maps delivery + store state to a Report.
type Reporter struct {
	jobs   JobLookup
	states StateLookup
}

// NewReporter builds a status reporter over the two lookups.
func NewReporter(jobs JobLookup, states StateLookup) *Reporter {
	return &Reporter{jobs: jobs, states: states}
}

// Report resolves a delivery token. An unknown token reports pending, which
// also covers a brand-new queue entry whose store record has not landed yet.
// Failed deliveries surface the job's stored error detail, never a raw
// transport error, so retried-then-failed jobs report the last domain error.
func (r *Reporter) Report(ctx context.Context, token string) (Report, error) {
	st, ok, err := r.states.Get(ctx, token)
	if err != nil {
		return Report{}, err
	}
	if !ok || st.Status == taskstate.StatusPending {
		return Report{TaskID: token, Status: schema.TaskStatusPending}, nil
	}

	switch st.Status {
	case taskstate.StatusProcessing:
		return Report{TaskID: token, Status: schema.TaskStatusProcessing, Meta: st.Meta}, nil

	case taskstate.StatusSucceeded:
		report := Report{TaskID: token, Status: schema.TaskStatusCompleted}
		if job, err := r.jobs.GetByToken(ctx, token); err == nil && job != nil {
			report.JobID = job.ID
			report.Text = job.ResultText
		}
		return report, nil

	case taskstate.StatusFailed:
		report := Report{TaskID: token, Status: schema.TaskStatusFailed, Error: st.Error}
		if job, err := r.jobs.GetByToken(ctx, token); err == nil && job != nil && job.ErrorDetail != "" {
			report.JobID = job.ID
			report.Error = job.ErrorDetail
		}
		return report, nil

	default:
		// unmapped queue status, passed through for forward compatibility
		return Report{TaskID: token, Status: strings.ToLower(st.Status)}, nil
	}
}
