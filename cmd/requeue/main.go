// cmd/requeue re-drives failed transcription jobs through the pipeline.
// It scans the job store for jobs in a terminal failed state, resets them,
// and publishes a fresh queue entry per job. Dry-run by default.
//
// Usage:
//
//	./requeue                      # show what would be requeued
//	./requeue -execute             # actually requeue
//	./requeue -execute -limit 50   # requeue at most 50 jobs
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"audioscribe/internal/config"
	"audioscribe/internal/queue"
	"audioscribe/internal/store"
	"audioscribe/internal/taskstate"
	"audioscribe/pkg/schema"
)

type options struct {
	Limit   int
	Batch   int
	DryRun  bool
	Execute bool
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	opts := options{DryRun: true}
	flag.IntVar(&opts.Limit, "limit", 0, "Maximum number of jobs to requeue (0 = unlimited)")
	flag.IntVar(&opts.Batch, "batch", 100, "Number of jobs to read per batch")
	flag.BoolVar(&opts.Execute, "execute", false, "Actually requeue jobs (disables dry-run)")
	flag.Parse()
	if opts.Execute {
		opts.DryRun = false
	}

	cfg, err := config.Load()
	if err != nil {
		fatal(logger, "load config", err)
	}
	logger.Info("requeue starting",
		"database", cfg.DatabasePath,
		"limit", opts.Limit,
		"dry_run", opts.DryRun,
	)

	jobs, err := store.Open(cfg.DatabasePath)
	if err != nil {
		fatal(logger, "open job store", err)
	}
	defer jobs.Close()

	ctx := context.Background()

	var (
		qc     *queue.Client
		states *taskstate.Backend
	)
	if !opts.DryRun {
		qc, err = queue.Connect(queue.Config{
			URL:     cfg.NATSURL,
			Subject: cfg.JobSubject,
			Stream:  cfg.StreamName,
			Durable: cfg.DurableName,
			AckWait: cfg.AckWait(),
		})
		if err != nil {
			fatal(logger, "connect to queue", err, "nats_url", cfg.NATSURL)
		}
		defer qc.Close()

		rdb, err := taskstate.NewClient(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			fatal(logger, "connect to redis", err, "redis_addr", cfg.RedisAddr)
		}
		defer rdb.Close()
		states = taskstate.NewBackend(rdb, cfg.TaskStateTTL, cfg.HeartbeatTTL)
	}

	// offset only advances past records that stay failed; a requeued job
	// leaves the failed set, shifting the remainder down
	var scanned, requeued, skipped, failed, offset int
	for {
		batch, err := jobs.List(ctx, store.StateFailed, offset, opts.Batch)
		if err != nil {
			fatal(logger, "list failed jobs", err)
		}
		if len(batch) == 0 {
			break
		}

		for _, job := range batch {
			if opts.Limit > 0 && requeued >= opts.Limit {
				break
			}
			scanned++

			artifact := filepath.Join(cfg.UploadDir, job.SourceFilename)
			if _, err := os.Stat(artifact); err != nil {
				skipped++
				offset++
				logger.Warn("artifact missing, skipping", "job_id", job.ID, "artifact", artifact)
				continue
			}

			if opts.DryRun {
				requeued++
				offset++
				logger.Info("would requeue", "job_id", job.ID, "filename", job.SourceFilename, "error", job.ErrorDetail)
				continue
			}

			if err := requeueJob(ctx, jobs, qc, states, job, artifact); err != nil {
				failed++
				offset++
				logger.Error("requeue failed", "job_id", job.ID, "err", err)
				continue
			}
			requeued++
			logger.Info("requeued", "job_id", job.ID, "filename", job.SourceFilename)
		}

		if opts.Limit > 0 && requeued >= opts.Limit {
			break
		}
		if len(batch) < opts.Batch {
			break
		}
	}

	logger.Info("requeue complete",
		"scanned", scanned,
		"requeued", requeued,
		"skipped", skipped,
		"failed", failed,
		"dry_run", opts.DryRun,
	)
	if failed > 0 {
		os.Exit(1)
	}
}

// requeueJob resets the job record and publishes a fresh queue entry under a
// new token, so the old delivery's expired state cannot shadow the new run.
func requeueJob(ctx context.Context, jobs *store.Store, qc *queue.Client, states *taskstate.Backend, job *store.Job, artifact string) error {
	token := uuid.NewString()
	if err := jobs.UpdateState(ctx, job.ID, store.StateQueued); err != nil {
		return err
	}
	if err := jobs.SetQueueToken(ctx, job.ID, token); err != nil {
		return err
	}
	if err := states.MarkPending(ctx, token); err != nil {
		slog.Warn("mark pending failed", "token", token, "err", err)
	}
	return qc.Enqueue(ctx, schema.TranscribeJob{
		Token:        token,
		JobID:        job.ID,
		ArtifactPath: artifact,
		EnqueuedAt:   time.Now().Unix(),
	})
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
