// Package scheduler drives the learner -> detector -> RCA -> registry
// pipeline at a fixed cadence, and exposes an on-demand synchronous
// trigger for the command surface.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kairoslab/sentryd/internal/anomaly"
	"github.com/kairoslab/sentryd/internal/baseline"
	"github.com/kairoslab/sentryd/internal/registry"
)

// Learner is the subset of the baseline learner the scheduler drives.
type Learner interface {
	Learn(ctx context.Context) error
	Snapshot() *baseline.Snapshot
}

// Detector is the subset of the anomaly detector the scheduler drives.
type Detector interface {
	Detect(ctx context.Context, baselines anomaly.Baselines) ([]anomaly.Anomaly, error)
}

// Correlator is the subset of the RCA engine the scheduler drives.
type Correlator interface {
	Correlate(ctx context.Context, anomalies []anomaly.Anomaly, baselines anomaly.Baselines) ([]registry.Incident, error)
}

// PassResult is what one analysis pass produced, returned directly to an
// on-demand caller and logged by the background loop.
type PassResult struct {
	Anomalies []anomaly.Anomaly
	Incidents []registry.Incident
}

// Scheduler runs the analysis pipeline on a ticker and serializes passes
// so an on-demand trigger never races the background tick.
type Scheduler struct {
	learner    Learner
	detector   Detector
	correlator Correlator
	registry   *registry.Registry
	logger     *slog.Logger

	interval     time.Duration
	incidentTTL  time.Duration
	softDeadline time.Duration

	mu sync.Mutex
}

// New constructs a Scheduler. softDeadline is advisory: a pass that runs
// past it logs a warning but is never aborted.
func New(learner Learner, detector Detector, correlator Correlator, reg *registry.Registry, logger *slog.Logger, interval, incidentTTL, softDeadline time.Duration) *Scheduler {
	return &Scheduler{
		learner:      learner,
		detector:     detector,
		correlator:   correlator,
		registry:     reg,
		logger:       logger,
		interval:     interval,
		incidentTTL:  incidentTTL,
		softDeadline: softDeadline,
	}
}

// Run ticks at the configured interval until ctx is canceled. A failed
// pass is logged and never terminates the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.RunPass(ctx); err != nil {
				s.logger.Warn("analysis pass failed", "error", err)
			}
		}
	}
}

// RunPass executes one learner -> detector -> RCA -> registry cycle
// synchronously, serialized against both the ticker and other on-demand
// callers so two passes never interleave.
func (s *Scheduler) RunPass(ctx context.Context) (PassResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()

	if err := s.learner.Learn(ctx); err != nil {
		return PassResult{}, fmt.Errorf("learn baselines: %w", err)
	}
	baselines := s.learner.Snapshot()

	anomalies, err := s.detector.Detect(ctx, baselines)
	if err != nil {
		return PassResult{}, fmt.Errorf("detect anomalies: %w", err)
	}

	incidents, err := s.correlator.Correlate(ctx, anomalies, baselines)
	if err != nil {
		return PassResult{}, fmt.Errorf("correlate anomalies: %w", err)
	}

	s.registry.ExpirePass(s.incidentTTL)

	elapsed := time.Since(start)
	s.logger.Info("analysis pass complete",
		"anomalies", len(anomalies),
		"incidents", len(incidents),
		"duration", elapsed.String(),
	)
	if s.softDeadline > 0 && elapsed > s.softDeadline {
		s.logger.Warn("analysis pass exceeded soft deadline", "duration", elapsed.String(), "deadline", s.softDeadline.String())
	}

	return PassResult{Anomalies: anomalies, Incidents: incidents}, nil
}
