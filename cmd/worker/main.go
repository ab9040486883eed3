// cmd/worker/main.go
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"audioscribe/internal/config"
	"audioscribe/internal/queue"
	"audioscribe/internal/retry"
	"audioscribe/internal/store"
	"audioscribe/internal/taskstate"
	"audioscribe/internal/transcribe"
	"audioscribe/internal/worker"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		fatal(logger, "load config", err)
	}
	logger.Info("worker starting",
		"nats_url", cfg.NATSURL,
		"job_subject", cfg.JobSubject,
		"durable", cfg.DurableName,
		"concurrency", cfg.WorkerConcurrency,
		"time_limit", cfg.TaskTimeLimit,
		"max_retries", cfg.MaxRetries,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobs, err := store.Open(cfg.DatabasePath)
	if err != nil {
		fatal(logger, "open job store", err, "path", cfg.DatabasePath)
	}
	defer jobs.Close()

	redisClient, err := taskstate.NewClient(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		fatal(logger, "connect to redis", err, "addr", cfg.RedisAddr)
	}
	states := taskstate.NewBackend(redisClient, cfg.TaskStateTTL, cfg.HeartbeatTTL)

	qc, err := queue.Connect(queue.Config{
		URL:     cfg.NATSURL,
		Subject: cfg.JobSubject,
		Stream:  cfg.StreamName,
		Durable: cfg.DurableName,
		AckWait: cfg.AckWait(),
	})
	if err != nil {
		fatal(logger, "connect to NATS", err, "nats_url", cfg.NATSURL)
	}
	defer qc.Close()

	// the engine is built once here and injected; it is never torn down
	// before process shutdown
	engine := transcribe.NewEngine(cfg.WhisperBin, cfg.WhisperModel, cfg.WhisperLanguage)
	if err := engine.Ready(ctx); err != nil {
		logger.Warn("transcription engine not ready at startup", "err", err)
	}

	policy := retry.Policy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryBaseDelay,
		MaxDelay:   cfg.RetryMaxDelay,
		Jitter:     retry.FullJitter,
	}
	executor := worker.New(jobs, states, engine, policy, cfg.TaskTimeLimit, logger)

	workerID := uuid.NewString()
	if err := states.RegisterWorker(ctx, workerID); err != nil {
		logger.Warn("register worker heartbeat failed", "err", err)
	}
	go states.KeepAlive(ctx, workerID, cfg.HeartbeatInterval)
	logger.Info("worker registered", "worker_id", workerID)

	var wg sync.WaitGroup
	for slot := 0; slot < cfg.WorkerConcurrency; slot++ {
		puller, err := qc.PullWorker()
		if err != nil {
			fatal(logger, "bind worker slot", err, "slot", slot)
		}

		wg.Add(1)
		go func(slot int, puller *queue.Worker) {
			defer wg.Done()
			defer func() { _ = puller.Drain() }()
			runSlot(ctx, slot, puller, executor, logger)
		}(slot, puller)
	}

	logger.Info("listening for jobs", "subject", cfg.JobSubject, "slots", cfg.WorkerConcurrency)
	wg.Wait()
	logger.Info("worker stopped")
}

// runSlot pulls one delivery at a time and runs it to a terminal outcome.
func runSlot(ctx context.Context, slot int, puller *queue.Worker, executor *worker.Executor, logger *slog.Logger) {
	slotLogger := logger.With("slot", slot)
	for {
		if ctx.Err() != nil {
			return
		}

		delivery, err := puller.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slotLogger.Warn("fetch delivery failed", "err", err)
			continue
		}
		if delivery == nil {
			continue
		}

		slotLogger.Info("received job", "job_id", delivery.Job.JobID, "token", delivery.Job.Token)
		if err := executor.Execute(ctx, delivery.Job); err != nil {
			if ctx.Err() != nil {
				// shutdown mid-job: leave the delivery unacked so another
				// worker picks it up after the ack deadline
				return
			}
			if termErr := delivery.Term(); termErr != nil {
				slotLogger.Warn("terminate delivery failed", "err", termErr)
			}
			continue
		}
		if err := delivery.Ack(); err != nil {
			slotLogger.Warn("ack delivery failed", "err", err)
		}
	}
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
