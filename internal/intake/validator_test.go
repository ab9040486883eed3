package intake

import (
	"bytes"
	"errors"
	"testing"
)

// mp3Bytes builds a minimal upload that sniffs as audio/mpeg.
func mp3Bytes(size int) []byte {
	buf := make([]byte, size)
	copy(buf, []byte("ID3\x03\x00\x00\x00\x00\x00\x00"))
	return buf
}

// exeBytes builds content that sniffs as a Windows executable.
func exeBytes(size int) []byte {
	buf := make([]byte, size)
	copy(buf, []byte("MZ\x90\x00\x03\x00\x00\x00"))
	return buf
}

func newTestValidator(maxBytes int64) *Validator {
	return NewValidator([]string{".mp3"}, maxBytes)
}

func TestValidateAcceptsWellFormedUpload(t *testing.T) {
	v := newTestValidator(1 << 20)
	r := bytes.NewReader(mp3Bytes(4096))

	if err := v.Validate("sample 1.mp3", r); err != nil {
		t.Fatalf("Validate rejected valid upload: %v", err)
	}

	// the reader must be rewound for the subsequent write
	if pos, _ := r.Seek(0, 1); pos != 0 {
		t.Fatalf("reader not rewound, position %d", pos)
	}
}

func TestValidateRejectsMissingFilename(t *testing.T) {
	v := newTestValidator(1 << 20)

	err := v.Validate("   ", bytes.NewReader(mp3Bytes(64)))
	assertReason(t, err, ReasonMissingFilename)
}

func TestValidateRejectsDisallowedExtension(t *testing.T) {
	v := newTestValidator(1 << 20)

	err := v.Validate("notes.txt", bytes.NewReader(mp3Bytes(64)))
	assertReason(t, err, ReasonExtension)
}

func TestValidateExtensionIsCaseInsensitive(t *testing.T) {
	v := newTestValidator(1 << 20)

	if err := v.Validate("SAMPLE.MP3", bytes.NewReader(mp3Bytes(4096))); err != nil {
		t.Fatalf("uppercase extension rejected: %v", err)
	}
}

func TestValidateRejectsOversizedUpload(t *testing.T) {
	v := newTestValidator(1024)

	err := v.Validate("big.mp3", bytes.NewReader(mp3Bytes(2048)))
	assertReason(t, err, ReasonTooLarge)
}

func TestValidateRejectsSpoofedContent(t *testing.T) {
	v := newTestValidator(1 << 20)

	// executable content behind an .mp3 name and (implicitly) any declared
	// content type the client cares to claim
	err := v.Validate("report.mp3", bytes.NewReader(exeBytes(4096)))
	assertReason(t, err, ReasonContentType)
}

func TestValidateChecksRunInOrder(t *testing.T) {
	v := newTestValidator(1024)

	// both extension and size are wrong; extension must fail first
	err := v.Validate("big.txt", bytes.NewReader(exeBytes(2048)))
	assertReason(t, err, ReasonExtension)
}

func assertReason(t *testing.T, err error, want Reason) {
	t.Helper()
	if err == nil {
		t.Fatal("expected validation error")
	}
	var vErr ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
	if vErr.Reason != want {
		t.Fatalf("expected reason %s, got %s (%v)", want, vErr.Reason, err)
	}
}
