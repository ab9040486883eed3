// Package server exposes the intake, status, and health surfaces over HTTP.
// The handlers are thin adapters over the core components; routing concerns
// beyond the route table itself live outside this module.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"audioscribe/internal/health"
	"audioscribe/internal/intake"
	"audioscribe/internal/status"
	"audioscribe/internal/store"
	"audioscribe/pkg/schema"
)

// JobRepository is the store surface the handlers use.
type JobRepository interface {
	Create(ctx context.Context, sourceFilename string) (*store.Job, error)
	SetQueueToken(ctx context.Context, id int64, token string) error
	UpdateError(ctx context.Context, id int64, detail string) error
	List(ctx context.Context, state store.State, offset, limit int) ([]*store.Job, error)
	SearchByFilename(ctx context.Context, query string) ([]*store.Job, error)
}

// Enqueuer submits accepted jobs to the queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, job schema.TranscribeJob) error
}

// PendingMarker records the initial delivery state at enqueue time.
type PendingMarker interface {
	MarkPending(ctx context.Context, token string) error
}

// Reporter resolves delivery tokens into status reports.
type Reporter interface {
	Report(ctx context.Context, token string) (status.Report, error)
}

// HealthChecker produces the composite dependency verdict.
type HealthChecker interface {
	Check(ctx context.Context) health.Summary
}

// Server wires the handlers to the core components.
type Server struct {
	jobs     JobRepository
	intake   *intake.Service
	queue    Enqueuer
	pending  PendingMarker
	reporter Reporter
	health   HealthChecker
	logger   *slog.Logger
}

// New builds the HTTP server facade.
func New(jobs JobRepository, in *intake.Service, q Enqueuer, pending PendingMarker, reporter Reporter, h HealthChecker, logger *slog.Logger) *Server {
	return &Server{
		jobs:     jobs,
		intake:   in,
		queue:    q,
		pending:  pending,
		reporter: reporter,
		health:   h,
		logger:   logger,
	}
}

// Register mounts the route table on the engine.
func (s *Server) Register(r *gin.Engine) {
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Ok"})
	})

	v1 := r.Group("/api/v1")
	{
		v1.POST("/transcribe", s.handleTranscribe)
		v1.GET("/status/:task_id", s.handleStatus)
		v1.GET("/transcriptions", s.handleList)
		v1.GET("/search", s.handleSearch)
		v1.GET("/health", s.handleHealth)
	}
}

type taskResponse struct {
	TaskID          string `json:"task_id"`
	TranscriptionID int64  `json:"transcription_id"`
	Filename        string `json:"filename"`
	Status          string `json:"status"`
}

type jobResponse struct {
	ID             int64     `json:"id"`
	AudioFilename  string    `json:"audio_filename"`
	Text           string    `json:"transcribed_text,omitempty"`
	CreatedAt      time.Time `json:"created_timestamp"`
	Status         string    `json:"status"`
	TaskID         string    `json:"task_id,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

func toJobResponse(j *store.Job) jobResponse {
	return jobResponse{
		ID:            j.ID,
		AudioFilename: j.SourceFilename,
		Text:          j.ResultText,
		CreatedAt:     j.CreatedAt,
		Status:        string(j.State),
		TaskID:        j.QueueToken,
		ErrorMessage:  j.ErrorDetail,
	}
}

// handleTranscribe accepts one or more audio uploads and enqueues a
// transcription job per file. Validation failures abort the request before
// any record or artifact is created for the offending file.
func (s *Server) handleTranscribe(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form required"})
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one file required"})
		return
	}

	ctx := c.Request.Context()
	tasks := make([]taskResponse, 0, len(files))

	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "read upload failed"})
			return
		}

		storedName, path, err := s.intake.Accept(fh.Filename, f)
		_ = f.Close()
		if err != nil {
			var vErr intake.ValidationError
			if errors.As(err, &vErr) {
				code := http.StatusBadRequest
				if vErr.Reason == intake.ReasonTooLarge {
					code = http.StatusRequestEntityTooLarge
				}
				c.JSON(code, gin.H{"error": vErr.Message})
				return
			}
			s.logger.Error("store upload failed", "filename", fh.Filename, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save file"})
			return
		}

		job, err := s.jobs.Create(ctx, storedName)
		if err != nil {
			s.logger.Error("create job failed", "stored_name", storedName, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create job"})
			return
		}

		token := uuid.NewString()
		if err := s.jobs.SetQueueToken(ctx, job.ID, token); err != nil {
			s.logger.Error("set queue token failed", "job_id", job.ID, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create job"})
			return
		}
		if err := s.pending.MarkPending(ctx, token); err != nil {
			s.logger.Warn("mark pending failed", "token", token, "err", err)
		}

		msg := schema.TranscribeJob{
			Token:        token,
			JobID:        job.ID,
			ArtifactPath: path,
			EnqueuedAt:   time.Now().Unix(),
		}
		if err := s.queue.Enqueue(ctx, msg); err != nil {
			s.logger.Error("enqueue failed", "job_id", job.ID, "err", err)
			_ = s.jobs.UpdateError(ctx, job.ID, "enqueue failed: "+err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue job"})
			return
		}

		tasks = append(tasks, taskResponse{
			TaskID:          token,
			TranscriptionID: job.ID,
			Filename:        fh.Filename,
			Status:          string(store.StateQueued),
		})
	}

	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (s *Server) handleStatus(c *gin.Context) {
	report, err := s.reporter.Report(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		s.logger.Error("status query failed", "task_id", c.Param("task_id"), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status unavailable"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleList(c *gin.Context) {
	skip, err := parseQueryInt(c, "skip", 0, 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid skip"})
		return
	}
	limit, err := parseQueryInt(c, "limit", 100, 1)
	if err != nil || limit > 1000 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	var state store.State
	if raw := c.Query("status"); raw != "" {
		parsed, ok := store.ParseState(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status filter"})
			return
		}
		state = parsed
	}

	jobs, err := s.jobs.List(c.Request.Context(), state, skip, limit)
	if err != nil {
		s.logger.Error("list jobs failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list unavailable"})
		return
	}

	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobResponse(j))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleSearch(c *gin.Context) {
	query := sanitizeSearchQuery(c.Query("filename"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid search query"})
		return
	}

	jobs, err := s.jobs.SearchByFilename(c.Request.Context(), query)
	if err != nil {
		s.logger.Error("search jobs failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search unavailable"})
		return
	}

	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobResponse(j))
	}
	c.JSON(http.StatusOK, gin.H{"results": out, "query": query})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.health.Check(c.Request.Context()))
}

func parseQueryInt(c *gin.Context, name string, def, min int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min {
		return 0, errInvalidQuery
	}
	return v, nil
}

var errInvalidQuery = errors.New("invalid query parameter")
