// Package queue is the durable job channel between the intake flow and the
// workers, backed by NATS JetStream. Delivery is at-least-once: unacked
// deliveries are handed to another worker after the ack deadline, and
// publishes deduplicate on the delivery token.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"audioscribe/pkg/schema"
)

// Config carries the broker settings the client needs.
type Config struct {
	URL     string
	Subject string
	Stream  string
	Durable string
	AckWait time.Duration
}

// Client wraps the NATS connection and JetStream context.
type Client struct {
	nc  *nats.Conn
	js  nats.JetStreamContext
	cfg Config
}

// Connect dials the broker and ensures the job stream exists.
func Connect(cfg Config) (*Client, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	client := &Client{nc: nc, js: js, cfg: cfg}
	if err := client.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return client, nil
}

func (c *Client) ensureStream() error {
	_, err := c.js.StreamInfo(c.cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info: %w", err)
	}

	_, err = c.js.AddStream(&nats.StreamConfig{
		Name:      c.cfg.Stream,
		Subjects:  []string{c.cfg.Subject},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	return nil
}

// Close drains the connection.
func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

// Enqueue publishes a job to the stream. The delivery token doubles as the
// message id, so a repeated publish of the same token is dropped by the
// broker's dedupe window instead of creating a second delivery.
func (c *Client) Enqueue(ctx context.Context, job schema.TranscribeJob) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if _, err := c.js.Publish(c.cfg.Subject, b, nats.MsgId(job.Token), nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Ping probes broker reachability with a short bounded retry, for the health
// aggregator. It never blocks beyond attempts round trips.
func (c *Client) Ping(ctx context.Context, attempts int) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if c.nc.Status() == nats.CONNECTED {
			if _, err := c.nc.RTT(); err == nil {
				return nil
			} else {
				lastErr = err
			}
		} else {
			lastErr = fmt.Errorf("connection status %s", c.nc.Status())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return fmt.Errorf("broker unreachable: %w", lastErr)
}

// Delivery is one unit of work pulled from the stream.
type Delivery struct {
	Job schema.TranscribeJob
	msg *nats.Msg
}

// Ack confirms the delivery; the broker will not redeliver it.
func (d *Delivery) Ack() error { return d.msg.Ack() }

// Term records the delivery as terminally failed; the broker will not
// redeliver it even though it was never acked successfully.
func (d *Delivery) Term() error { return d.msg.Term() }

// Worker is one pull consumer slot. Each slot keeps at most one delivery in
// flight so a slow job never parks queued work behind a busy worker.
type Worker struct {
	sub *nats.Subscription
}

// PullWorker binds a worker slot to the shared durable consumer.
func (c *Client) PullWorker() (*Worker, error) {
	sub, err := c.js.PullSubscribe(c.cfg.Subject, c.cfg.Durable,
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(c.cfg.AckWait),
	)
	if err != nil {
		return nil, fmt.Errorf("pull subscribe: %w", err)
	}
	return &Worker{sub: sub}, nil
}

// Next fetches a single delivery. It returns (nil, nil) when the wait
// expires with no work available.
func (w *Worker) Next(ctx context.Context) (*Delivery, error) {
	msgs, err := w.sub.Fetch(1, nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch job: %w", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	msg := msgs[0]
	var job schema.TranscribeJob
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		// malformed payloads can never succeed; drop them permanently
		_ = msg.Term()
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &Delivery{Job: job, msg: msg}, nil
}

// Drain unsubscribes the worker slot.
func (w *Worker) Drain() error {
	if w.sub == nil {
		return nil
	}
	return w.sub.Drain()
}
