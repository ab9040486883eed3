// Package health aggregates the readiness of the pipeline's dependencies:
// the transcription model, the job database, the queue broker, and the
// worker pool.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Probe checks one dependency. A nil return means healthy.
type Probe func(ctx context.Context) error

// Summary is the composite verdict plus the individual probe results.
type Summary struct {
	Status          string    `json:"status"`
	Timestamp       time.Time `json:"timestamp"`
	ModelLoaded     bool      `json:"model_loaded"`
	DatabaseHealthy bool      `json:"db_healthy"`
	BrokerHealthy   bool      `json:"broker_healthy"`
	WorkersActive   bool      `json:"workers_active"`
}

// Aggregator runs the four probes independently; one failing probe never
// aborts the others.
type Aggregator struct {
	model    Probe
	database Probe
	broker   Probe
	workers  Probe
	logger   *slog.Logger
}

// New builds an aggregator from the four probes.
func New(model, database, broker, workers Probe, logger *slog.Logger) *Aggregator {
	return &Aggregator{model: model, database: database, broker: broker, workers: workers, logger: logger}
}

// Check runs every probe and reports healthy only when all four pass.
// It never returns an error and never panics.
func (a *Aggregator) Check(ctx context.Context) Summary {
	s := Summary{
		Timestamp:       time.Now().UTC(),
		ModelLoaded:     a.run(ctx, "model", a.model),
		DatabaseHealthy: a.run(ctx, "database", a.database),
		BrokerHealthy:   a.run(ctx, "broker", a.broker),
		WorkersActive:   a.run(ctx, "workers", a.workers),
	}
	if s.ModelLoaded && s.DatabaseHealthy && s.BrokerHealthy && s.WorkersActive {
		s.Status = "healthy"
	} else {
		s.Status = "degraded"
	}
	return s
}

func (a *Aggregator) run(ctx context.Context, name string, probe Probe) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("health probe panicked", "probe", name, "panic", fmt.Sprint(r))
			ok = false
		}
	}()

	if probe == nil {
		return false
	}
	if err := probe(ctx); err != nil {
		a.logger.Warn("health probe failed", "probe", name, "err", err)
		return false
	}
	return true
}
