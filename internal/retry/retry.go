// Package retry provides the backoff-with-jitter policy that parameterizes
// the worker executor. It only computes delays; sleeping is left to the
// caller so the policy stays testable with a fake clock.
package retry

import (
	"math/rand"
	"time"
)

// Policy describes how many retries a failed execution gets and how long to
// wait between them.
type Policy struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int
	// BaseDelay is the wait before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration
	// Jitter randomizes a computed delay to avoid synchronized retry storms
	// across workers. Nil means no jitter.
	Jitter func(time.Duration) time.Duration
}

// Default mirrors the production tuning: three retries, exponential backoff
// capped at 30 seconds, full jitter.
func Default() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Jitter:     FullJitter,
	}
}

// Delay returns the wait before the given retry (1-based). The raw delay is
// BaseDelay doubled per retry, capped at MaxDelay, then jittered.
func (p Policy) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}

	delay := p.BaseDelay
	for i := 1; i < retry; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	if p.Jitter != nil {
		delay = p.Jitter(delay)
	}
	return delay
}

// FullJitter draws a random delay in [0, d].
func FullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}
