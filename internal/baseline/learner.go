// Package baseline learns per-endpoint latency baselines with an
// exponentially weighted moving average and publishes them for the
// detector to read without blocking the learner's write path.
package baseline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kairoslab/sentryd/internal/telemetry"
)

// Store is the subset of the telemetry store the learner needs.
type Store interface {
	DistinctEndpoints(ctx context.Context, since time.Time) ([]string, error)
	QueryByEndpointTime(ctx context.Context, endpoint string, since, until time.Time) ([]telemetry.Record, error)
}

// Baseline is one endpoint's learned latency baseline.
type Baseline struct {
	Endpoint  string
	MeanMS    float64
	Samples   int
	UpdatedAt time.Time
}

// Snapshot is an immutable view of every learned baseline, published
// atomically by the learner and read without locking by the detector.
type Snapshot struct {
	byEndpoint map[string]Baseline
}

// Get returns the baseline for endpoint and whether it has been learned.
func (s *Snapshot) Get(endpoint string) (Baseline, bool) {
	if s == nil {
		return Baseline{}, false
	}
	b, ok := s.byEndpoint[endpoint]
	return b, ok
}

// Learner computes EWMA latency baselines on a fixed cadence and
// publishes an immutable Snapshot for concurrent readers.
type Learner struct {
	store Store

	window     time.Duration
	minSamples int
	alpha      float64

	current atomic.Pointer[Snapshot]
}

// Config carries the learner's tunable parameters.
type Config struct {
	Window     time.Duration
	MinSamples int
	Alpha      float64
}

// New constructs a Learner with an empty published snapshot.
func New(store Store, cfg Config) *Learner {
	l := &Learner{
		store:      store,
		window:     cfg.Window,
		minSamples: cfg.MinSamples,
		alpha:      cfg.Alpha,
	}
	l.current.Store(&Snapshot{byEndpoint: make(map[string]Baseline)})
	return l
}

// Snapshot returns the most recently published baselines. Safe for
// concurrent use; never blocks on Learn.
func (l *Learner) Snapshot() *Snapshot {
	return l.current.Load()
}

// excludedPrefixes are internal query-surface endpoints that must never
// feed their own baseline: a slow /aiops/incidents call would otherwise
// poison the very model meant to watch application endpoints.
var excludedPrefixes = []string{"/aiops/", "/simulate/"}

func isExcluded(endpoint string) bool {
	for _, p := range excludedPrefixes {
		if len(endpoint) >= len(p) && endpoint[:len(p)] == p {
			return true
		}
	}
	return false
}

// Learn recomputes baselines for every endpoint observed in the window
// and publishes a new snapshot atomically. It computes the full result
// locally before swapping it in, so a failed pass never leaves partial
// state visible to readers.
func (l *Learner) Learn(ctx context.Context) error {
	since := time.Now().Add(-l.window)

	endpoints, err := l.store.DistinctEndpoints(ctx, since)
	if err != nil {
		return fmt.Errorf("list endpoints: %w", err)
	}

	prev := l.current.Load()
	next := &Snapshot{byEndpoint: make(map[string]Baseline, len(endpoints))}

	now := time.Now()
	for _, endpoint := range endpoints {
		if isExcluded(endpoint) {
			continue
		}

		recs, err := l.store.QueryByEndpointTime(ctx, endpoint, since, now)
		if err != nil {
			return fmt.Errorf("query %s: %w", endpoint, err)
		}

		successful := make([]float64, 0, len(recs))
		for _, rec := range recs {
			if rec.Successful() {
				successful = append(successful, rec.LatencyMS)
			}
		}
		if len(successful) < l.minSamples {
			if old, ok := prev.byEndpoint[endpoint]; ok {
				next.byEndpoint[endpoint] = old
			}
			continue
		}

		oldBaseline, hadBaseline := prev.byEndpoint[endpoint]

		latencies := successful
		if hadBaseline {
			latencies = removeOutliers(successful, oldBaseline.MeanMS)
		}

		sampleMean := mean(latencies)

		old := sampleMean
		if hadBaseline {
			old = oldBaseline.MeanMS
		}
		updated := l.alpha*sampleMean + (1-l.alpha)*old

		next.byEndpoint[endpoint] = Baseline{
			Endpoint:  endpoint,
			MeanMS:    updated,
			Samples:   oldBaseline.Samples + len(successful),
			UpdatedAt: now,
		}
	}

	// Baselines are never deleted: an endpoint whose traffic stopped
	// keeps its last learned value, it just goes stale.
	for endpoint, b := range prev.byEndpoint {
		if _, ok := next.byEndpoint[endpoint]; !ok {
			next.byEndpoint[endpoint] = b
		}
	}

	l.current.Store(next)
	return nil
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// removeOutliers drops samples beyond 5x the current baseline mean, once,
// so a single pass of runaway latency can't bias the next learned value.
func removeOutliers(vals []float64, currentMean float64) []float64 {
	if currentMean <= 0 {
		return vals
	}
	threshold := currentMean * 5
	out := make([]float64, 0, len(vals))
	for _, v := range vals {
		if v <= threshold {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return vals
	}
	return out
}
