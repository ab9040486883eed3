package intake

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func newTestService(t *testing.T, maxBytes int64) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := NewService(dir, ".mp3", NewValidator([]string{".mp3"}, maxBytes), logger)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc, dir
}

func TestAcceptStoresArtifact(t *testing.T) {
	svc, dir := newTestService(t, 1<<20)
	content := mp3Bytes(4096)

	storedName, path, err := svc.Accept("sample 1.mp3", bytes.NewReader(content))
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("artifact stored outside upload dir: %s", path)
	}
	if !safeName.MatchString(storedName) {
		t.Fatalf("stored name %q is not filesystem safe", storedName)
	}

	written, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !bytes.Equal(written, content) {
		t.Fatal("artifact bytes differ from upload")
	}
}

func TestAcceptRejectedUploadLeavesNoArtifact(t *testing.T) {
	svc, dir := newTestService(t, 1024)

	rejects := []struct {
		name    string
		content []byte
	}{
		{"too big.mp3", mp3Bytes(4096)},
		{"spoofed.mp3", exeBytes(512)},
		{"wrong.txt", mp3Bytes(512)},
	}

	for _, rej := range rejects {
		if _, _, err := svc.Accept(rej.name, bytes.NewReader(rej.content)); err == nil {
			t.Fatalf("expected rejection for %q", rej.name)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read upload dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("rejected uploads left %d artifacts behind", len(entries))
	}
}

func TestAcceptConcurrentSameFilename(t *testing.T) {
	svc, dir := newTestService(t, 1<<20)

	const uploads = 10
	errs := make(chan error, uploads)
	for i := 0; i < uploads; i++ {
		go func() {
			_, _, err := svc.Accept("sample 1.mp3", bytes.NewReader(mp3Bytes(2048)))
			errs <- err
		}()
	}
	for i := 0; i < uploads; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("concurrent Accept failed: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read upload dir: %v", err)
	}
	if len(entries) != uploads {
		t.Fatalf("expected %d distinct artifacts, found %d", uploads, len(entries))
	}
}

func TestRemove(t *testing.T) {
	svc, _ := newTestService(t, 1<<20)

	storedName, _, err := svc.Accept("gone.mp3", bytes.NewReader(mp3Bytes(512)))
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}

	removed, err := svc.Remove(storedName)
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if !removed {
		t.Fatal("expected artifact to be removed")
	}

	removed, err = svc.Remove(storedName)
	if err != nil {
		t.Fatalf("second Remove failed: %v", err)
	}
	if removed {
		t.Fatal("expected second Remove to report missing artifact")
	}
}
