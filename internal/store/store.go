// Package store persists jobs in SQLite and owns their state machine.
// Every transition is a single statement keyed by job id, so a concurrent
// reader always sees state and result/error as a consistent pair.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// ErrDuplicateFilename indicates the unique source_filename constraint fired.
var ErrDuplicateFilename = errors.New("source filename already exists")

// Store manages job persistence backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open initializes or connects to the job database and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.ExecContext(context.Background(), schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping runs a lightweight round trip used by the health aggregator.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	return nil
}

// Create inserts a new job in the queued state. The stored filename must be
// unique; a collision returns ErrDuplicateFilename.
func (s *Store) Create(ctx context.Context, sourceFilename string) (*Job, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (source_filename, state, created_at) VALUES (?, ?, ?)`,
		sourceFilename,
		StateQueued,
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateFilename, sourceFilename)
		}
		return nil, fmt.Errorf("insert job: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a job by identifier. Missing jobs return (nil, nil).
func (s *Store) GetByID(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetByToken fetches the job correlated with a queue delivery token.
func (s *Store) GetByToken(ctx context.Context, token string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE queue_token = ?`, token)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job by token: %w", err)
	}
	return job, nil
}

// SetQueueToken records the delivery token assigned at enqueue time.
func (s *Store) SetQueueToken(ctx context.Context, id int64, token string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE jobs SET queue_token = ? WHERE id = ?`, token, id); err != nil {
		return fmt.Errorf("set queue token: %w", err)
	}
	return nil
}

// UpdateState moves a job into a non-terminal state, clearing any result or
// error left over from a prior attempt so redeliveries stay idempotent.
// Terminal states are only reachable through UpdateResult and UpdateError.
func (s *Store) UpdateState(ctx context.Context, id int64, state State) error {
	if state != StateQueued && state != StateProcessing {
		return fmt.Errorf("state %q requires a result or error payload", state)
	}
	if _, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET state = ?, result_text = NULL, error_detail = NULL WHERE id = ?`,
		state, id,
	); err != nil {
		return fmt.Errorf("update state: %w", err)
	}
	return nil
}

// UpdateResult stores the transcript and marks the job completed in one
// statement, a full overwrite of both fields.
func (s *Store) UpdateResult(ctx context.Context, id int64, text string) error {
	if _, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET state = ?, result_text = ?, error_detail = NULL WHERE id = ?`,
		StateCompleted, text, id,
	); err != nil {
		return fmt.Errorf("update result: %w", err)
	}
	return nil
}

// UpdateError stores the failure diagnostic and marks the job failed in one
// statement.
func (s *Store) UpdateError(ctx context.Context, id int64, detail string) error {
	if _, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET state = ?, error_detail = ?, result_text = NULL WHERE id = ?`,
		StateFailed, detail, id,
	); err != nil {
		return fmt.Errorf("update error: %w", err)
	}
	return nil
}

// List returns jobs most recent first, optionally filtered by state. A zero
// State means no filter.
func (s *Store) List(ctx context.Context, state State, offset, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, 0, 3)
	if state != "" {
		query += ` WHERE state = ?`
		args = append(args, state)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// SearchByFilename returns jobs whose stored filename contains the query
// substring, most recent first. instr avoids LIKE wildcard interpretation of
// the user-supplied query.
func (s *Store) SearchByFilename(ctx context.Context, query string) ([]*Job, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE instr(source_filename, ?) > 0 ORDER BY created_at DESC, id DESC`,
		query,
	)
	if err != nil {
		return nil, fmt.Errorf("search jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

const jobColumns = `id, source_filename, result_text, state, queue_token, error_detail, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job        Job
		resultText sql.NullString
		queueToken sql.NullString
		errDetail  sql.NullString
		createdAt  string
		state      string
	)
	if err := row.Scan(&job.ID, &job.SourceFilename, &resultText, &state, &queueToken, &errDetail, &createdAt); err != nil {
		return nil, err
	}
	job.ResultText = resultText.String
	job.QueueToken = queueToken.String
	job.ErrorDetail = errDetail.String
	job.State = State(state)
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	job.CreatedAt = ts
	return &job, nil
}

func collectJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: jobs.source_filename")
}
