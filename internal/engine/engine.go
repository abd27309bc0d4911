// Package engine composes the store, injector, learner, detector, RCA
// engine, registry, scheduler, and ingress hook into the single value
// threaded through the instrumentation and command handlers, replacing
// any process-wide globals.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kairoslab/sentryd/internal/anomaly"
	"github.com/kairoslab/sentryd/internal/baseline"
	"github.com/kairoslab/sentryd/internal/config"
	"github.com/kairoslab/sentryd/internal/inject"
	"github.com/kairoslab/sentryd/internal/ingress"
	"github.com/kairoslab/sentryd/internal/rca"
	"github.com/kairoslab/sentryd/internal/registry"
	"github.com/kairoslab/sentryd/internal/scheduler"
	"github.com/kairoslab/sentryd/internal/server"
	"github.com/kairoslab/sentryd/internal/store"
	"github.com/kairoslab/sentryd/internal/telemetry"
)

// Engine is the composite runtime value: every component is constructed
// once at startup and wired together here.
type Engine struct {
	cfg       *config.Config
	logger    *slog.Logger
	version   string
	startedAt time.Time

	Store     *store.Manager
	Injector  *inject.Injector
	Learner   *baseline.Learner
	Detector  *anomaly.Detector
	RCA       *rca.Engine
	Registry  *registry.Registry
	Scheduler *scheduler.Scheduler
	Hook      *ingress.Hook

	httpServer *http.Server
	worker     *ingress.Worker
	ingestCh   chan telemetry.Record
	workerDone chan error
	bgCancel   context.CancelFunc
	bgWG       sync.WaitGroup

	recordsReceived atomic.Int64
	recordsDropped  atomic.Int64
}

// New constructs an Engine against an already-open store, wiring every
// analysis-pipeline component from cfg's tunables. Opening the store is
// the caller's responsibility so startup failures (exit code 2) are
// distinguishable from configuration errors (exit code 1).
func New(cfg *config.Config, logger *slog.Logger, version string, st *store.Manager) *Engine {
	e := &Engine{
		cfg:       cfg,
		logger:    logger,
		version:   version,
		startedAt: time.Now(),
		Store:     st,
		Injector:  inject.New(),
		Registry:  registry.New(),
	}

	e.Learner = baseline.New(st, baseline.Config{
		Window:     cfg.BaselineWindow,
		MinSamples: cfg.MinSamples,
		Alpha:      cfg.Alpha,
	})

	e.Detector = anomaly.New(st, anomaly.Config{
		AnalysisWindow:     cfg.AnalysisWindow,
		BaselineWindow:     cfg.BaselineWindow,
		LatencyMultiplier:  cfg.LatencyMultiplier,
		ErrorRateThreshold: cfg.ErrorRateThreshold,
		MinAnalysisSamples: cfg.MinAnalysisSamples,
		SilenceThreshold:   cfg.SilenceThreshold,
	})

	e.RCA = rca.New(st, e.Registry, rca.Config{
		LatencyMultiplier: cfg.LatencyMultiplier,
		CorrelationWindow: cfg.CorrelationWindow,
	})

	e.Scheduler = scheduler.New(e.Learner, e.Detector, e.RCA, e.Registry, logger, cfg.AnalysisInterval, cfg.IncidentTTL, cfg.AnalysisDeadline)
	e.Hook = ingress.New(cfg.ServiceName, e.Injector)

	return e
}

// Run wires the ingest worker, the query/command HTTP surface, and the
// background loops, then blocks until ctx is canceled.
func (e *Engine) Run(ctx context.Context) error {
	e.ingestCh = make(chan telemetry.Record, ingress.QueueCapacity)
	e.workerDone = make(chan error, 1)

	e.worker = ingress.NewWorker(e.logger, e.Store)
	go func() {
		e.workerDone <- e.worker.Run(e.ingestCh)
	}()

	bgCtx, cancel := context.WithCancel(context.Background())
	e.bgCancel = cancel
	e.startBackgroundLoops(bgCtx)

	e.httpServer = server.New(":"+e.cfg.Port, server.Handlers{
		Health:    server.NewHealthHandler(e.Store, e.Registry, e, e.startedAt, e.version),
		Metrics:   server.NewMetricsHandler(e.Store, e.Learner, e.cfg.AnalysisWindow),
		Incidents: server.NewIncidentsHandler(e.Registry),
		Analyze:   server.NewAnalyzeHandler(e.Scheduler),
		Injection: server.NewInjectionHandler(e.Injector),
	})

	serverErr := make(chan error, 1)
	go func() {
		e.logger.Info("listening", "addr", e.httpServer.Addr)
		if err := e.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		e.logger.Info("shutdown signal received")
		return e.shutdown(context.Background())
	}
}

func (e *Engine) startBackgroundLoops(ctx context.Context) {
	e.bgWG.Add(1)
	go func() {
		defer e.bgWG.Done()
		if err := e.Scheduler.Run(ctx); err != nil {
			e.logger.Warn("analysis scheduler stopped", "error", err)
		}
	}()

	e.bgWG.Add(1)
	go func() {
		defer e.bgWG.Done()
		ticker := time.NewTicker(e.cfg.RetentionInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pruneCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				deleted, err := e.Store.PruneOlderThan(pruneCtx, e.cfg.RetentionWindow, e.cfg.MinKeepWindow())
				cancel()
				if err != nil {
					e.logger.Warn("retention prune failed", "error", err)
				} else if deleted > 0 {
					e.logger.Info("retention prune", "deleted", deleted)
				}
			}
		}
	}()

	e.bgWG.Add(1)
	go func() {
		defer e.bgWG.Done()
		ticker := time.NewTicker(e.cfg.WALCheckpointInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cpCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				_, err := e.Store.CheckpointIfWALExceeds(cpCtx, e.cfg.WALRestartThresholdB)
				cancel()
				if err != nil {
					e.logger.Warn("wal checkpoint failed", "error", err)
				}
			}
		}
	}()
}

func (e *Engine) shutdown(ctx context.Context) error {
	var joined error

	if e.httpServer != nil {
		httpCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := e.httpServer.Shutdown(httpCtx); err != nil {
			joined = errors.Join(joined, fmt.Errorf("http shutdown: %w", err))
		}
	}

	if e.bgCancel != nil {
		e.bgCancel()
		done := make(chan struct{})
		go func() {
			e.bgWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(e.cfg.AnalysisDeadline + 5*time.Second):
			joined = errors.Join(joined, errors.New("background loop shutdown timeout"))
		}
	}

	if e.ingestCh != nil {
		close(e.ingestCh)
		e.ingestCh = nil
	}
	if e.workerDone != nil {
		select {
		case err := <-e.workerDone:
			if err != nil {
				joined = errors.Join(joined, fmt.Errorf("ingest worker shutdown: %w", err))
			}
		case <-time.After(5 * time.Second):
			joined = errors.Join(joined, errors.New("ingest worker drain timeout"))
		}
	}

	cpCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := e.Store.Checkpoint(cpCtx); err != nil {
		joined = errors.Join(joined, fmt.Errorf("wal checkpoint: %w", err))
	}
	if err := e.Store.Close(); err != nil {
		joined = errors.Join(joined, fmt.Errorf("store close: %w", err))
	}

	e.logger.Info("shutdown complete",
		"records_received", e.recordsReceived.Load(),
		"records_dropped", e.recordsDropped.Load(),
		"uptime", time.Since(e.startedAt).String(),
	)
	return joined
}

// Enqueue submits a completed telemetry record for batched persistence.
// It never blocks the request path: a full buffer drops the record and
// counts it.
func (e *Engine) Enqueue(rec telemetry.Record) bool {
	if e.ingestCh == nil {
		e.recordsDropped.Add(1)
		return false
	}
	if ingress.TryEnqueue(e.ingestCh, rec) {
		e.recordsReceived.Add(1)
		return true
	}
	e.recordsDropped.Add(1)
	return false
}

// StartedAt reports when the engine began serving.
func (e *Engine) StartedAt() time.Time {
	return e.startedAt
}

// Snapshot reports the current ingest counters for the health surface.
func (e *Engine) Snapshot() server.IngestSnapshot {
	depth := 0
	if e.ingestCh != nil {
		depth = len(e.ingestCh)
	}
	snap := server.IngestSnapshot{
		QueueDepth:      depth,
		QueueCapacity:   ingress.QueueCapacity,
		RecordsReceived: e.recordsReceived.Load(),
		RecordsDropped:  e.recordsDropped.Load(),
	}
	if e.worker != nil {
		snap.InsertFailures = e.worker.InsertFailures()
		snap.InvalidDropped = e.worker.InvalidDropped()
	}
	return snap
}
