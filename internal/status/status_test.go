package status_test

import (
	"context"
	"errors"
	"testing"

	"audioscribe/internal/status"
	"audioscribe/internal/store"
	"audioscribe/internal/taskstate"
)

type fakeJobs struct {
	job *store.Job
	err error
}

func (f *fakeJobs) GetByToken(context.Context, string) (*store.Job, error) {
	return f.job, f.err
}

type fakeStates struct {
	st  taskstate.State
	ok  bool
	err error
}

func (f *fakeStates) Get(context.Context, string) (taskstate.State, bool, error) {
	return f.st, f.ok, f.err
}

func TestReportUnknownTokenIsPending(t *testing.T) {
	r := status.NewReporter(&fakeJobs{}, &fakeStates{ok: false})

	rep, err := r.Report(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if rep.Status != "pending" || rep.TaskID != "never-seen" {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if rep.Text != "" || rep.Error != "" || rep.JobID != 0 {
		t.Fatalf("pending report carries payload: %+v", rep)
	}
}

func TestReportProcessingIncludesMeta(t *testing.T) {
	r := status.NewReporter(&fakeJobs{}, &fakeStates{
		st: taskstate.State{Status: taskstate.StatusProcessing, Meta: "Transcribing audio"},
		ok: true,
	})

	rep, err := r.Report(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if rep.Status != "processing" || rep.Meta != "Transcribing audio" {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestReportCompletedIncludesTranscript(t *testing.T) {
	r := status.NewReporter(
		&fakeJobs{job: &store.Job{ID: 42, ResultText: "hello world", State: store.StateCompleted}},
		&fakeStates{st: taskstate.State{Status: taskstate.StatusSucceeded}, ok: true},
	)

	rep, err := r.Report(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if rep.Status != "completed" || rep.JobID != 42 || rep.Text != "hello world" {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestReportCompletedToleratesMissingJobRecord(t *testing.T) {
	r := status.NewReporter(
		&fakeJobs{},
		&fakeStates{st: taskstate.State{Status: taskstate.StatusSucceeded}, ok: true},
	)

	rep, err := r.Report(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if rep.Status != "completed" || rep.JobID != 0 || rep.Text != "" {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestReportFailedPrefersStoredErrorDetail(t *testing.T) {
	r := status.NewReporter(
		&fakeJobs{job: &store.Job{ID: 9, State: store.StateFailed, ErrorDetail: "decode failure"}},
		&fakeStates{st: taskstate.State{Status: taskstate.StatusFailed, Error: "worker crashed"}, ok: true},
	)

	rep, err := r.Report(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if rep.Status != "failed" || rep.Error != "decode failure" || rep.JobID != 9 {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestReportFailedFallsBackToDeliveryError(t *testing.T) {
	r := status.NewReporter(
		&fakeJobs{},
		&fakeStates{st: taskstate.State{Status: taskstate.StatusFailed, Error: "worker crashed"}, ok: true},
	)

	rep, err := r.Report(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if rep.Status != "failed" || rep.Error != "worker crashed" {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestReportPassesThroughUnmappedStatus(t *testing.T) {
	r := status.NewReporter(&fakeJobs{}, &fakeStates{
		st: taskstate.State{Status: "RETRYING"},
		ok: true,
	})

	rep, err := r.Report(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if rep.Status != "retrying" {
		t.Fatalf("status = %q, want lowercase passthrough", rep.Status)
	}
}

func TestReportSurfacesBackendError(t *testing.T) {
	backendErr := errors.New("redis unreachable")
	r := status.NewReporter(&fakeJobs{}, &fakeStates{err: backendErr})

	if _, err := r.Report(context.Background(), "tok"); !errors.Is(err, backendErr) {
		t.Fatalf("expected backend error, got %v", err)
	}
}
