// cmd/api/main.go
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"

	"audioscribe/internal/config"
	"audioscribe/internal/health"
	"audioscribe/internal/intake"
	"audioscribe/internal/queue"
	"audioscribe/internal/server"
	"audioscribe/internal/status"
	"audioscribe/internal/store"
	"audioscribe/internal/taskstate"
	"audioscribe/internal/transcribe"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		fatal(logger, "load config", err)
	}
	logger.Info("api starting",
		"addr", cfg.HTTPAddr,
		"upload_dir", cfg.UploadDir,
		"max_upload_mb", cfg.MaxUploadSizeMB,
		"nats_url", cfg.NATSURL,
	)

	ctx := context.Background()

	jobs, err := store.Open(cfg.DatabasePath)
	if err != nil {
		fatal(logger, "open job store", err, "path", cfg.DatabasePath)
	}
	defer jobs.Close()
	logger.Info("job store ready", "path", cfg.DatabasePath)

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
	logger.Info("connected to NATS", "nats_url", cfg.NATSURL)

	validator := intake.NewValidator(cfg.AllowedExtensions, cfg.MaxUploadBytes())
	intakeSvc, err := intake.NewService(cfg.UploadDir, cfg.CanonicalExtension(), validator, logger)
	if err != nil {
		fatal(logger, "init intake", err, "upload_dir", cfg.UploadDir)
	}

	// built once, injected into the health surface; the api side only uses
	// the cheap readiness check, never the model itself
	engine := transcribe.NewEngine(cfg.WhisperBin, cfg.WhisperModel, cfg.WhisperLanguage)

	reporter := status.NewReporter(jobs, states)
	aggregator := health.New(
		engine.Ready,
		jobs.Ping,
		func(ctx context.Context) error { return qc.Ping(ctx, 2) },
		func(ctx context.Context) error { return probeWorkers(ctx, states) },
		logger,
	)

	srv := server.New(jobs, intakeSvc, qc, states, reporter, aggregator, logger)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	srv.Register(r)

	if err := r.Run(cfg.HTTPAddr); err != nil {
		fatal(logger, "http server", err, "addr", cfg.HTTPAddr)
	}
}

func probeWorkers(ctx context.Context, states *taskstate.Backend) error {
	n, err := states.LiveWorkers(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		return errNoWorkers
	}
	return nil
}

var errNoWorkers = workerProbeError("no live workers")

type workerProbeError string

func (e workerProbeError) Error() string { return string(e) }

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
