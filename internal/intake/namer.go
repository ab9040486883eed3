package intake

import (
	"crypto/rand"
	"encoding/hex"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var (
	unsafeChars  = regexp.MustCompile(`[^A-Za-z0-9._-]`)
	underscoreRuns = regexp.MustCompile(`_+`)
)

// SanitizeFilename reduces an attacker-controlled filename to a name safe to
// use as a single path segment, always ending in the canonical extension.
// It never fails: pathological input degrades to "unnamed" plus extension.
func SanitizeFilename(filename, canonicalExt string) string {
	name := filepath.Base(filename)

	name = strings.ReplaceAll(name, "\x00", "")
	name = strings.ReplaceAll(name, "..", "")
	name = strings.ReplaceAll(name, "/", "")
	name = strings.ReplaceAll(name, "\\", "")

	name = unsafeChars.ReplaceAllString(name, "_")
	name = underscoreRuns.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_.")

	if name == "" {
		name = "unnamed"
	}
	if !strings.HasSuffix(strings.ToLower(name), canonicalExt) {
		name += canonicalExt
	}
	return name
}

// UniqueName derives a collision-free artifact name from an arbitrary
// original filename: {sanitized-stem}_{YYYYMMDD_HHMMSS}_{8-hex}{ext}.
// The random token makes concurrent callers with the same original name
// produce distinct artifacts without any shared counter or lock.
func UniqueName(filename, canonicalExt string) string {
	sanitized := SanitizeFilename(filename, canonicalExt)
	stem := sanitized[:len(sanitized)-len(canonicalExt)]

	timestamp := time.Now().UTC().Format("20060102_150405")

	token := make([]byte, 4)
	// rand.Read never fails on supported platforms
	_, _ = rand.Read(token)

	return stem + "_" + timestamp + "_" + hex.EncodeToString(token) + canonicalExt
}
