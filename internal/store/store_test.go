package store_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"audioscribe/internal/store"
)

func mustOpen(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()

	job, err := s.Create(ctx, "sample_1_20240101_120000_deadbeef.mp3")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if job.ID == 0 {
		t.Fatal("expected job ID to be assigned")
	}
	if job.State != store.StateQueued {
		t.Fatalf("new job state = %s, want queued", job.State)
	}
	if job.ResultText != "" || job.ErrorDetail != "" {
		t.Fatalf("new job carries payload: %#v", job)
	}
	if job.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be set")
	}

	fetched, err := s.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched == nil || fetched.SourceFilename != job.SourceFilename {
		t.Fatalf("unexpected fetched job: %#v", fetched)
	}

	missing, err := s.GetByID(ctx, 9999)
	if err != nil {
		t.Fatalf("GetByID for missing job failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing job, got %#v", missing)
	}
}

func TestUniqueFilenameConstraint(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, "unique.mp3"); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	_, err := s.Create(ctx, "unique.mp3")
	if !errors.Is(err, store.ErrDuplicateFilename) {
		t.Fatalf("expected ErrDuplicateFilename, got %v", err)
	}
}

func TestUniqueFilenameUnderConcurrentSubmissions(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()

	const submitters = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		created  int
		rejected int
	)

	wg.Add(submitters)
	for i := 0; i < submitters; i++ {
		go func() {
			defer wg.Done()
			_, err := s.Create(ctx, "contested.mp3")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, store.ErrDuplicateFilename):
				rejected++
			default:
				t.Errorf("unexpected create error: %v", err)
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Fatalf("expected exactly one job per filename, got %d (rejected %d)", created, rejected)
	}
}

func TestResultPopulatedIffCompleted(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()

	job, err := s.Create(ctx, "lifecycle.mp3")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := s.UpdateState(ctx, job.ID, store.StateProcessing); err != nil {
		t.Fatalf("UpdateState failed: %v", err)
	}
	if err := s.UpdateResult(ctx, job.ID, "hello world"); err != nil {
		t.Fatalf("UpdateResult failed: %v", err)
	}

	done, err := s.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if done.State != store.StateCompleted || done.ResultText != "hello world" {
		t.Fatalf("unexpected completed job: %#v", done)
	}
	if done.ErrorDetail != "" {
		t.Fatalf("completed job carries error detail: %q", done.ErrorDetail)
	}

	// a retried job is reset: moving back to queued clears the payload
	if err := s.UpdateState(ctx, job.ID, store.StateQueued); err != nil {
		t.Fatalf("UpdateState failed: %v", err)
	}
	requeued, _ := s.GetByID(ctx, job.ID)
	if requeued.ResultText != "" || requeued.ErrorDetail != "" {
		t.Fatalf("requeued job kept stale payload: %#v", requeued)
	}
}

func TestErrorPopulatedIffFailed(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()

	job, err := s.Create(ctx, "broken.mp3")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := s.UpdateError(ctx, job.ID, "decode failure: bad frame"); err != nil {
		t.Fatalf("UpdateError failed: %v", err)
	}

	failed, err := s.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if failed.State != store.StateFailed {
		t.Fatalf("state = %s, want failed", failed.State)
	}
	if failed.ErrorDetail != "decode failure: bad frame" {
		t.Fatalf("error detail not preserved verbatim: %q", failed.ErrorDetail)
	}
	if failed.ResultText != "" {
		t.Fatalf("failed job carries result text: %q", failed.ResultText)
	}
}

func TestUpdateStateRejectsTerminalStates(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()

	job, err := s.Create(ctx, "terminal.mp3")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := s.UpdateState(ctx, job.ID, store.StateCompleted); err == nil {
		t.Fatal("expected UpdateState to reject completed without a result")
	}
	if err := s.UpdateState(ctx, job.ID, store.StateFailed); err == nil {
		t.Fatal("expected UpdateState to reject failed without an error")
	}
}

func TestQueueTokenLookup(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()

	job, err := s.Create(ctx, "tokened.mp3")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := s.SetQueueToken(ctx, job.ID, "token-123"); err != nil {
		t.Fatalf("SetQueueToken failed: %v", err)
	}

	found, err := s.GetByToken(ctx, "token-123")
	if err != nil {
		t.Fatalf("GetByToken failed: %v", err)
	}
	if found == nil || found.ID != job.ID {
		t.Fatalf("expected job %d, got %#v", job.ID, found)
	}

	missing, err := s.GetByToken(ctx, "no-such-token")
	if err != nil {
		t.Fatalf("GetByToken for missing token failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown token, got %#v", missing)
	}
}

func TestListOrderingAndFilter(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		job, err := s.Create(ctx, fmt.Sprintf("order_%d.mp3", i))
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		ids = append(ids, job.ID)
	}
	if err := s.UpdateResult(ctx, ids[2], "done"); err != nil {
		t.Fatalf("UpdateResult failed: %v", err)
	}

	all, err := s.List(ctx, "", 0, 100)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 jobs, got %d", len(all))
	}
	// most recent first
	if all[0].ID != ids[4] || all[4].ID != ids[0] {
		t.Fatalf("jobs not ordered most-recent-first: %d ... %d", all[0].ID, all[4].ID)
	}

	completed, err := s.List(ctx, store.StateCompleted, 0, 100)
	if err != nil {
		t.Fatalf("List with filter failed: %v", err)
	}
	if len(completed) != 1 || completed[0].ID != ids[2] {
		t.Fatalf("unexpected filtered result: %#v", completed)
	}

	page, err := s.List(ctx, "", 1, 2)
	if err != nil {
		t.Fatalf("List with paging failed: %v", err)
	}
	if len(page) != 2 || page[0].ID != ids[3] {
		t.Fatalf("unexpected page: %#v", page)
	}
}

func TestSearchByFilename(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()

	names := []string{"meeting_notes.mp3", "standup_monday.mp3", "meeting_recap.mp3"}
	for _, name := range names {
		if _, err := s.Create(ctx, name); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	hits, err := s.SearchByFilename(ctx, "meeting")
	if err != nil {
		t.Fatalf("SearchByFilename failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}

	// LIKE wildcards must not be interpreted
	none, err := s.SearchByFilename(ctx, "%")
	if err != nil {
		t.Fatalf("SearchByFilename failed: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("wildcard treated as pattern, got %d hits", len(none))
	}
}
