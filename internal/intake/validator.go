// Package intake turns untrusted uploads into validated, uniquely named
// artifacts in the upload directory. Validation is fail-fast and happens
// before anything touches disk.
package intake

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Reason classifies why an upload was rejected.
type Reason string

const (
	ReasonMissingFilename Reason = "missing_filename"
	ReasonExtension       Reason = "invalid_extension"
	ReasonTooLarge        Reason = "too_large"
	ReasonContentType     Reason = "invalid_content"
)

// ValidationError is returned for uploads rejected before persistence.
type ValidationError struct {
	Reason  Reason
	Message string
}

func (e ValidationError) Error() string { return e.Message }

// sniffLen bounds how much of the upload is read for magic-byte detection.
const sniffLen = 2048

// allowedMIMETypes is the allow-set of true (sniffed) audio types.
// audio/mpeg is the official MP3 type, audio/mp3 a common non-standard alias.
var allowedMIMETypes = map[string]struct{}{
	"audio/mpeg": {},
	"audio/mp3":  {},
}

// Validator checks an upload's filename, extension, size, and actual byte
// content against the configured limits.
type Validator struct {
	allowedExts map[string]struct{}
	extList     []string
	maxBytes    int64
}

// NewValidator builds a validator from the extension allow-list and the size
// ceiling in bytes.
func NewValidator(allowedExts []string, maxBytes int64) *Validator {
	set := make(map[string]struct{}, len(allowedExts))
	for _, ext := range allowedExts {
		set[strings.ToLower(ext)] = struct{}{}
	}
	return &Validator{allowedExts: set, extList: allowedExts, maxBytes: maxBytes}
}

// Validate runs all checks in order and resets the reader to the start on
// success. Any failure aborts before a single byte is persisted.
func (v *Validator) Validate(filename string, r io.ReadSeeker) error {
	if strings.TrimSpace(filename) == "" {
		return ValidationError{Reason: ReasonMissingFilename, Message: "no filename provided"}
	}
	if err := v.validateExtension(filename); err != nil {
		return err
	}
	if err := v.validateSize(r); err != nil {
		return err
	}
	return v.validateContent(r)
}

func (v *Validator) validateExtension(filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := v.allowedExts[ext]; !ok {
		return ValidationError{
			Reason:  ReasonExtension,
			Message: fmt.Sprintf("invalid file type, allowed: %s", strings.Join(v.extList, ", ")),
		}
	}
	return nil
}

// validateSize measures the stream by seeking to its end; the client-declared
// size header is never trusted.
func (v *Validator) validateSize(r io.ReadSeeker) error {
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("measure upload: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind upload: %w", err)
	}
	if size > v.maxBytes {
		return ValidationError{
			Reason:  ReasonTooLarge,
			Message: fmt.Sprintf("file too large, maximum size: %dMB", v.maxBytes/(1024*1024)),
		}
	}
	return nil
}

// validateContent sniffs the real MIME type from the first bytes of the
// upload; the client-declared content type is never trusted.
func (v *Validator) validateContent(r io.ReadSeeker) error {
	header := make([]byte, sniffLen)
	n, err := io.ReadFull(r, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return fmt.Errorf("read upload header: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind upload: %w", err)
	}

	detected := mimetype.Detect(header[:n])
	for allowed := range allowedMIMETypes {
		if detected.Is(allowed) {
			return nil
		}
	}
	return ValidationError{
		Reason:  ReasonContentType,
		Message: fmt.Sprintf("invalid audio format (detected %s), only MP3 files are allowed", detected.String()),
	}
}
