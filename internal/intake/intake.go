package intake

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// copyChunkSize keeps artifact writes at a bounded memory footprint.
const copyChunkSize = 64 * 1024

// Service validates uploads and writes accepted ones into the upload
// directory under a unique name.
type Service struct {
	uploadDir    string
	canonicalExt string
	validator    *Validator
	logger       *slog.Logger
}

// NewService ensures the upload directory exists and returns the intake
// pipeline.
func NewService(uploadDir, canonicalExt string, validator *Validator, logger *slog.Logger) (*Service, error) {
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure upload directory: %w", err)
	}
	return &Service{
		uploadDir:    uploadDir,
		canonicalExt: canonicalExt,
		validator:    validator,
		logger:       logger,
	}, nil
}

// Accept validates the upload and, if it passes, stores it under a unique
// name. It returns the stored name and absolute path. A rejected upload
// leaves no trace on disk; a failed write removes the partial file.
func (s *Service) Accept(filename string, r io.ReadSeeker) (string, string, error) {
	if err := s.validator.Validate(filename, r); err != nil {
		return "", "", err
	}

	storedName := UniqueName(filename, s.canonicalExt)
	path := filepath.Join(s.uploadDir, storedName)

	// O_EXCL backs up the namer's uniqueness guarantee: a collision surfaces
	// as an error instead of silently overwriting another job's artifact.
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", "", fmt.Errorf("create artifact: %w", err)
	}

	if _, err := io.CopyBuffer(dst, r, make([]byte, copyChunkSize)); err != nil {
		_ = dst.Close()
		_ = os.Remove(path)
		return "", "", fmt.Errorf("write artifact: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(path)
		return "", "", fmt.Errorf("close artifact: %w", err)
	}

	s.logger.Info("artifact stored", "stored_name", storedName)
	return storedName, path, nil
}

// Remove deletes a stored artifact. Administrative use only; nothing in the
// job pipeline deletes artifacts implicitly.
func (s *Service) Remove(storedName string) (bool, error) {
	path := filepath.Join(s.uploadDir, SanitizeFilename(storedName, s.canonicalExt))
	err := os.Remove(path)
	if err == nil {
		s.logger.Info("artifact deleted", "stored_name", storedName)
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("delete artifact: %w", err)
}
