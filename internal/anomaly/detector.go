package anomaly

import (
	"context"
	"fmt"
	"time"

	"github.com/kairoslab/sentryd/internal/baseline"
	"github.com/kairoslab/sentryd/internal/telemetry"
)

// Store is the subset of the telemetry store the detector needs.
type Store interface {
	DistinctEndpoints(ctx context.Context, since time.Time) ([]string, error)
	QueryByEndpointTime(ctx context.Context, endpoint string, since, until time.Time) ([]telemetry.Record, error)
}

// Baselines is the subset of a learner snapshot the detector reads.
type Baselines interface {
	Get(endpoint string) (baseline.Baseline, bool)
}

// Config carries the detector's tunable parameters.
type Config struct {
	AnalysisWindow     time.Duration
	BaselineWindow     time.Duration
	LatencyMultiplier  float64
	ErrorRateThreshold float64
	MinAnalysisSamples int
	SilenceThreshold   time.Duration
}

// Detector evaluates the current analysis window against learned
// baselines. It retains no state between passes: every call to Detect is
// a fresh, independent evaluation.
type Detector struct {
	store Store
	cfg   Config
}

// New constructs a Detector.
func New(store Store, cfg Config) *Detector {
	return &Detector{store: store, cfg: cfg}
}

var excludedPrefixes = []string{"/aiops/", "/simulate/"}

func isExcluded(endpoint string) bool {
	for _, p := range excludedPrefixes {
		if len(endpoint) >= len(p) && endpoint[:len(p)] == p {
			return true
		}
	}
	return false
}

// Detect runs all three detection passes against every endpoint with a
// learned baseline and returns every anomaly found, in no particular
// order across endpoints.
func (d *Detector) Detect(ctx context.Context, baselines Baselines) ([]Anomaly, error) {
	now := time.Now()
	since := now.Add(-d.cfg.BaselineWindow)

	endpoints, err := d.store.DistinctEndpoints(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}

	var out []Anomaly
	for _, endpoint := range endpoints {
		if isExcluded(endpoint) {
			continue
		}

		b, hasBaseline := baselines.Get(endpoint)
		if !hasBaseline {
			continue
		}

		if a, ok := d.detectSilence(ctx, endpoint, b, now); ok {
			out = append(out, a)
			continue
		}

		windowRecs, err := d.store.QueryByEndpointTime(ctx, endpoint, now.Add(-d.cfg.AnalysisWindow), now)
		if err != nil {
			return nil, fmt.Errorf("query %s analysis window: %w", endpoint, err)
		}
		if len(windowRecs) == 0 {
			continue
		}

		if a, ok := detectLatency(endpoint, b, windowRecs, d.cfg, now); ok {
			out = append(out, a)
		}
		if a, ok := detectErrorSpike(endpoint, windowRecs, d.cfg, now); ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func detectLatency(endpoint string, b baseline.Baseline, recs []telemetry.Record, cfg Config, now time.Time) (Anomaly, bool) {
	if len(recs) < cfg.MinAnalysisSamples {
		return Anomaly{}, false
	}
	// A zero or NaN baseline can't anchor a ratio comparison.
	if !(b.MeanMS > 0) {
		return Anomaly{}, false
	}
	var sum float64
	traceSet := make(map[string]struct{})
	for _, rec := range recs {
		sum += rec.LatencyMS
		traceSet[rec.TraceID] = struct{}{}
	}
	meanLatency := sum / float64(len(recs))

	if meanLatency <= b.MeanMS*cfg.LatencyMultiplier {
		return Anomaly{}, false
	}

	ratio := meanLatency / b.MeanMS
	return Anomaly{
		Kind:       KindLatency,
		Endpoint:   endpoint,
		Severity:   latencySeverity(ratio, meanLatency),
		DetectedAt: now,
		SampleSize: len(recs),
		TraceIDs:   traceIDsOf(traceSet),
		BaselineMS: b.MeanMS,
		CurrentMS:  meanLatency,
		Deviation:  ratio,
	}, true
}

func latencySeverity(ratio, meanMS float64) Severity {
	switch {
	case ratio >= 20 || meanMS >= 10000:
		return SeverityCritical
	case ratio >= 10:
		return SeverityHigh
	case ratio >= 5:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func detectErrorSpike(endpoint string, recs []telemetry.Record, cfg Config, now time.Time) (Anomaly, bool) {
	if len(recs) < cfg.MinAnalysisSamples {
		return Anomaly{}, false
	}

	var errCount int
	traceSet := make(map[string]struct{})
	var sampleErrs []string
	for _, rec := range recs {
		if !rec.ServerError() {
			continue
		}
		errCount++
		traceSet[rec.TraceID] = struct{}{}
		if rec.ErrorMessage != "" && len(sampleErrs) < 5 {
			sampleErrs = append(sampleErrs, rec.ErrorMessage)
		}
	}

	rate := float64(errCount) / float64(len(recs))
	if rate <= cfg.ErrorRateThreshold {
		return Anomaly{}, false
	}

	severity := SeverityHigh
	if rate > 0.5 {
		severity = SeverityCritical
	}

	return Anomaly{
		Kind:       KindErrorSpike,
		Endpoint:   endpoint,
		Severity:   severity,
		DetectedAt: now,
		SampleSize: len(recs),
		TraceIDs:   traceIDsOf(traceSet),
		ErrorRate:  rate,
		ErrorCount: errCount,
		SampleErrs: sampleErrs,
	}, true
}

func (d *Detector) detectSilence(ctx context.Context, endpoint string, b baseline.Baseline, now time.Time) (Anomaly, bool) {
	recentSilence, err := d.store.QueryByEndpointTime(ctx, endpoint, now.Add(-d.cfg.SilenceThreshold), now)
	if err != nil || len(recentSilence) != 0 {
		return Anomaly{}, false
	}

	historical, err := d.store.QueryByEndpointTime(ctx, endpoint, now.Add(-d.cfg.BaselineWindow), now)
	if err != nil || len(historical) == 0 {
		return Anomaly{}, false
	}

	var lastSeen time.Time
	for _, rec := range historical {
		if rec.Timestamp.After(lastSeen) {
			lastSeen = rec.Timestamp
		}
	}

	return Anomaly{
		Kind:       KindSilence,
		Endpoint:   endpoint,
		Severity:   SeverityHigh,
		DetectedAt: now,
		BaselineMS: b.MeanMS,
		LastSeen:   lastSeen,
	}, true
}

func traceIDsOf(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
