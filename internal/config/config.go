// Package config builds the runtime configuration from the environment.
// The resulting struct is constructed once in each binary's main and passed
// into component constructors; nothing reads the environment after startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable the api and worker binaries share.
type Config struct {
	HTTPAddr string

	DatabasePath string

	UploadDir         string
	MaxUploadSizeMB   int
	AllowedExtensions []string

	NATSURL     string
	JobSubject  string
	StreamName  string
	DurableName string

	RedisAddr    string
	RedisDB      int
	TaskStateTTL time.Duration

	WorkerConcurrency int
	TaskTimeLimit     time.Duration
	MaxRetries        int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration

	HeartbeatInterval time.Duration
	HeartbeatTTL      time.Duration

	WhisperBin      string
	WhisperModel    string
	WhisperLanguage string
}

// Load reads the environment (and an optional .env file) into a Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		DatabasePath:    getenv("DATABASE_PATH", "./data/transcriptions.db"),
		UploadDir:       getenv("UPLOAD_DIR", "./uploads"),
		NATSURL:         getenv("NATS_URL", "nats://127.0.0.1:4222"),
		JobSubject:      getenv("JOB_SUBJECT", "transcribe.jobs"),
		StreamName:      getenv("JOB_STREAM", "TRANSCRIBE"),
		DurableName:     getenv("JOB_DURABLE", "transcribe-workers"),
		RedisAddr:       getenv("REDIS_ADDR", "127.0.0.1:6379"),
		WhisperBin:      getenv("WHISPER_BIN", "whisper-cli"),
		WhisperModel:    getenv("WHISPER_MODEL", "./model_cache/ggml-tiny.bin"),
		WhisperLanguage: getenv("WHISPER_LANGUAGE", "auto"),
	}

	exts := strings.Split(getenv("ALLOWED_EXTENSIONS", ".mp3"), ",")
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		cfg.AllowedExtensions = append(cfg.AllowedExtensions, ext)
	}
	if len(cfg.AllowedExtensions) == 0 {
		return nil, fmt.Errorf("ALLOWED_EXTENSIONS must list at least one extension")
	}

	var err error
	if cfg.MaxUploadSizeMB, err = parsePositiveInt(getenv("MAX_UPLOAD_SIZE_MB", "15"), "MAX_UPLOAD_SIZE_MB"); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = parseNonNegativeInt(getenv("REDIS_DB", "0"), "REDIS_DB"); err != nil {
		return nil, err
	}
	if cfg.WorkerConcurrency, err = parsePositiveInt(getenv("WORKER_CONCURRENCY", "2"), "WORKER_CONCURRENCY"); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = parseNonNegativeInt(getenv("MAX_RETRIES", "3"), "MAX_RETRIES"); err != nil {
		return nil, err
	}
	if cfg.TaskTimeLimit, err = parseDuration(getenv("TASK_TIME_LIMIT", "180s"), "TASK_TIME_LIMIT"); err != nil {
		return nil, err
	}
	if cfg.RetryBaseDelay, err = parseDuration(getenv("RETRY_BASE_DELAY", "1s"), "RETRY_BASE_DELAY"); err != nil {
		return nil, err
	}
	if cfg.RetryMaxDelay, err = parseDuration(getenv("RETRY_MAX_DELAY", "30s"), "RETRY_MAX_DELAY"); err != nil {
		return nil, err
	}
	if cfg.TaskStateTTL, err = parseDuration(getenv("TASK_STATE_TTL", "1h"), "TASK_STATE_TTL"); err != nil {
		return nil, err
	}
	if cfg.HeartbeatInterval, err = parseDuration(getenv("WORKER_HEARTBEAT_INTERVAL", "15s"), "WORKER_HEARTBEAT_INTERVAL"); err != nil {
		return nil, err
	}
	if cfg.HeartbeatTTL, err = parseDuration(getenv("WORKER_HEARTBEAT_TTL", "45s"), "WORKER_HEARTBEAT_TTL"); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MaxUploadBytes returns the upload ceiling in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadSizeMB) * 1024 * 1024
}

// CanonicalExtension is the extension forced onto every stored artifact.
func (c *Config) CanonicalExtension() string {
	return c.AllowedExtensions[0]
}

// AckWait is how long the broker waits for an ack before redelivering a job
// to another worker. It must outlast a full retry cycle: every attempt plus
// the capped backoff pauses between them, with slack for persistence.
func (c *Config) AckWait() time.Duration {
	attempts := time.Duration(c.MaxRetries + 1)
	backoff := time.Duration(c.MaxRetries) * c.RetryMaxDelay
	return attempts*c.TaskTimeLimit + backoff + time.Minute
}

func parsePositiveInt(value, name string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %d)", name, v)
	}
	return v, nil
}

func parseNonNegativeInt(value, name string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("%s must not be negative (got %d)", name, v)
	}
	return v, nil
}

func parseDuration(value, name string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %s)", name, d)
	}
	return d, nil
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
