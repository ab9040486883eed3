// Package taskstate tracks queue delivery state in Redis, keyed by delivery
// token, and worker liveness via TTL'd heartbeat keys. It is the result
// backend the status reporter composes with the job store.
package taskstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Delivery states recorded by the pipeline. Anything else found under a task
// key is passed through to the reporter unmapped.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusSucceeded  = "success"
	StatusFailed     = "failure"
)

const (
	taskKeyPrefix   = "task:"
	workerKeyPrefix = "worker:"
)

// State is the persisted delivery state of one queued job.
type State struct {
	Status    string `json:"status"`
	Meta      string `json:"meta,omitempty"`
	Error     string `json:"error,omitempty"`
	UpdatedAt int64  `json:"updated_at"`
}

// Backend stores delivery states and worker heartbeats in Redis.
type Backend struct {
	client       *redis.Client
	ttl          time.Duration
	heartbeatTTL time.Duration
}

// NewBackend wraps an existing Redis client. ttl bounds how long terminal
// states stay queryable; heartbeatTTL bounds how long a silent worker still
// counts as live.
func NewBackend(client *redis.Client, ttl, heartbeatTTL time.Duration) *Backend {
	return &Backend{client: client, ttl: ttl, heartbeatTTL: heartbeatTTL}
}

// NewClient dials Redis and verifies the connection.
func NewClient(ctx context.Context, addr string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

func (b *Backend) set(ctx context.Context, token string, st State) error {
	st.UpdatedAt = time.Now().Unix()
	body, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal task state: %w", err)
	}
	if err := b.client.Set(ctx, taskKeyPrefix+token, body, b.ttl).Err(); err != nil {
		return fmt.Errorf("set task state: %w", err)
	}
	return nil
}

// MarkPending records a freshly enqueued delivery.
func (b *Backend) MarkPending(ctx context.Context, token string) error {
	return b.set(ctx, token, State{Status: StatusPending})
}

// MarkProcessing records an in-flight delivery with a progress label such as
// "Transcribing audio" or "Saving results".
func (b *Backend) MarkProcessing(ctx context.Context, token, label string) error {
	return b.set(ctx, token, State{Status: StatusProcessing, Meta: label})
}

// MarkSucceeded records a completed delivery.
func (b *Backend) MarkSucceeded(ctx context.Context, token string) error {
	return b.set(ctx, token, State{Status: StatusSucceeded})
}

// MarkFailed records a terminally failed delivery with its last domain error.
func (b *Backend) MarkFailed(ctx context.Context, token, errMsg string) error {
	return b.set(ctx, token, State{Status: StatusFailed, Error: errMsg})
}

// Get looks up a delivery state. A missing key returns ok=false; callers
// treat that as pending, which also covers brand-new entries whose state has
// not landed yet.
func (b *Backend) Get(ctx context.Context, token string) (State, bool, error) {
	body, err := b.client.Get(ctx, taskKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("get task state: %w", err)
	}
	var st State
	if err := json.Unmarshal(body, &st); err != nil {
		return State{}, false, fmt.Errorf("unmarshal task state: %w", err)
	}
	return st, true, nil
}

// Ping verifies the backend round trip for health probes.
func (b *Backend) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// RegisterWorker refreshes this worker's liveness key.
func (b *Backend) RegisterWorker(ctx context.Context, workerID string) error {
	key := workerKeyPrefix + workerID
	value := time.Now().UTC().Format(time.RFC3339)
	if err := b.client.Set(ctx, key, value, b.heartbeatTTL).Err(); err != nil {
		return fmt.Errorf("register worker: %w", err)
	}
	return nil
}

// KeepAlive re-registers the worker on every interval tick until the context
// is cancelled.
func (b *Backend) KeepAlive(ctx context.Context, workerID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = b.client.Del(context.WithoutCancel(ctx), workerKeyPrefix+workerID).Err()
			return
		case <-ticker.C:
			_ = b.RegisterWorker(ctx, workerID)
		}
	}
}

// LiveWorkers counts workers whose heartbeat keys have not expired.
func (b *Backend) LiveWorkers(ctx context.Context) (int, error) {
	var (
		cursor uint64
		count  int
	)
	for {
		keys, next, err := b.client.Scan(ctx, cursor, workerKeyPrefix+"*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("scan workers: %w", err)
		}
		count += len(keys)
		if next == 0 {
			return count, nil
		}
		cursor = next
	}
}
