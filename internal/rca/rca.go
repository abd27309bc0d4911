// Package rca correlates a detector pass's anomalies across distributed
// traces to identify a single root-cause endpoint and compose or update
// an Incident.
package rca

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/exp/slices"

	"github.com/kairoslab/sentryd/internal/anomaly"
	"github.com/kairoslab/sentryd/internal/registry"
	"github.com/kairoslab/sentryd/internal/telemetry"
)

// Store is the subset of the telemetry store the RCA engine needs.
type Store interface {
	QueryByTrace(ctx context.Context, traceID string) ([]telemetry.Record, error)
}

// Config carries the engine's tunable parameters.
type Config struct {
	LatencyMultiplier float64
	CorrelationWindow time.Duration
}

// Engine groups one detector pass's anomalies into incidents.
type Engine struct {
	store Store
	reg   *registry.Registry
	cfg   Config
}

// New constructs an Engine.
func New(store Store, reg *registry.Registry, cfg Config) *Engine {
	return &Engine{store: store, reg: reg, cfg: cfg}
}

type traceFinding struct {
	traceID      string
	rootEndpoint string
	rootStatus   int
	rootAt       time.Time
	chain        []string
}

// Correlate runs the full RCA algorithm over one pass's anomalies and
// upserts the resulting incidents into the registry, returning them.
func (e *Engine) Correlate(ctx context.Context, anomalies []anomaly.Anomaly, baselines anomaly.Baselines) ([]registry.Incident, error) {
	if len(anomalies) == 0 {
		return nil, nil
	}

	traceIDs := unionTraceIDs(anomalies)
	if len(traceIDs) == 0 {
		return e.simpleIncidents(anomalies), nil
	}

	var findings []traceFinding
	for _, traceID := range traceIDs {
		recs, err := e.store.QueryByTrace(ctx, traceID)
		if err != nil {
			return nil, fmt.Errorf("query trace %s: %w", traceID, err)
		}
		f, ok := firstFailure(traceID, recs, baselines, e.cfg.LatencyMultiplier)
		if !ok {
			continue
		}
		findings = append(findings, f)
	}

	if len(findings) == 0 {
		return e.simpleIncidents(anomalies), nil
	}

	rootEndpoint := pickRoot(findings)

	var affected []string
	var sampleTraces []registry.TraceSample
	votesForRoot := 0
	for _, f := range findings {
		if f.rootEndpoint != rootEndpoint {
			continue
		}
		votesForRoot++
		for _, ep := range f.chain {
			if !slices.Contains(affected, ep) {
				affected = append(affected, ep)
			}
		}
		if len(sampleTraces) < 5 {
			sampleTraces = append(sampleTraces, registry.TraceSample{
				TraceID:       f.traceID,
				RootEndpoint:  f.rootEndpoint,
				RootStatus:    f.rootStatus,
				AffectedChain: f.chain,
			})
		}
	}

	confidence := 0.0
	if len(findings) > 0 {
		confidence = float64(votesForRoot) / float64(len(findings))
	}

	absorbed := anomaliesForEndpoints(anomalies, affected)
	severity := maxSeverity(absorbed)
	title := titleFor(absorbed, rootEndpoint)

	inc := registry.Incident{
		Title:    title,
		Severity: severity,
		Status:   registry.StatusActive,
		RootCause: registry.RootCause{
			Endpoint:    rootEndpoint,
			Description: fmt.Sprintf("%d of %d analyzed traces first failed at %s", votesForRoot, len(findings), rootEndpoint),
			Confidence:  confidence,
		},
		AffectedEndpoints: affected,
		Anomalies:         absorbed,
		TraceCorrelation: registry.TraceCorrelation{
			TotalTraces:  len(findings),
			SampleTraces: sampleTraces,
		},
	}

	return []registry.Incident{e.upsertOrMerge(inc)}, nil
}

// upsertOrMerge consults the registry for an active incident with the
// same root endpoint within the correlation window. A match merges
// anomalies and affected endpoints into the existing incident, keeping
// its id and first_detected; otherwise a fresh incident is created.
func (e *Engine) upsertOrMerge(inc registry.Incident) registry.Incident {
	now := time.Now()

	if existing, ok := e.reg.FindActiveByRoot(inc.RootCause.Endpoint, e.cfg.CorrelationWindow); ok {
		merged := *existing
		merged.Anomalies = mergeAnomalies(merged.Anomalies, inc.Anomalies)
		merged.AffectedEndpoints = mergeEndpoints(merged.AffectedEndpoints, inc.AffectedEndpoints)
		merged.TraceCorrelation.TotalTraces += inc.TraceCorrelation.TotalTraces
		merged.TraceCorrelation.SampleTraces = mergeTraceSamples(merged.TraceCorrelation.SampleTraces, inc.TraceCorrelation.SampleTraces)
		if inc.RootCause.Confidence > merged.RootCause.Confidence {
			merged.RootCause.Confidence = inc.RootCause.Confidence
		}
		if severityRank(inc.Severity) > severityRank(merged.Severity) {
			merged.Severity = inc.Severity
		}
		merged.LastUpdated = now
		e.reg.Upsert(merged)
		return merged
	}

	inc.ID = e.reg.NextID()
	inc.FirstDetected = now
	inc.LastUpdated = now
	e.reg.Upsert(inc)
	return inc
}

// simpleIncidents handles anomalies with no trace correlation available:
// each becomes its own incident, root-caused to its own endpoint.
func (e *Engine) simpleIncidents(anomalies []anomaly.Anomaly) []registry.Incident {
	out := make([]registry.Incident, 0, len(anomalies))
	for _, a := range anomalies {
		inc := registry.Incident{
			Title:    titleFor([]anomaly.Anomaly{a}, a.Endpoint),
			Severity: a.Severity,
			Status:   registry.StatusActive,
			RootCause: registry.RootCause{
				Endpoint:    a.Endpoint,
				Description: "no trace correlation available; anomaly endpoint used as root",
				Confidence:  1.0,
			},
			AffectedEndpoints: []string{a.Endpoint},
			Anomalies:         []anomaly.Anomaly{a},
		}
		out = append(out, e.upsertOrMerge(inc))
	}
	return out
}

func unionTraceIDs(anomalies []anomaly.Anomaly) []string {
	var out []string
	for _, a := range anomalies {
		for _, id := range a.TraceIDs {
			if !slices.Contains(out, id) {
				out = append(out, id)
			}
		}
	}
	return out
}

// firstFailure walks recs (already sorted by timestamp then id) and
// returns the earliest record that is 5xx or exceeds its endpoint's
// current baseline by LatencyMultiplier.
func firstFailure(traceID string, recs []telemetry.Record, baselines anomaly.Baselines, latencyMultiplier float64) (traceFinding, bool) {
	if len(recs) == 0 {
		return traceFinding{}, false
	}

	chain := make([]string, 0, len(recs))
	for _, rec := range recs {
		if !slices.Contains(chain, rec.Endpoint) {
			chain = append(chain, rec.Endpoint)
		}
	}

	for _, rec := range recs {
		failed := rec.ServerError()
		if !failed {
			if b, ok := baselines.Get(rec.Endpoint); ok && b.MeanMS > 0 {
				failed = rec.LatencyMS > b.MeanMS*latencyMultiplier
			}
		}
		if failed {
			return traceFinding{
				traceID:      traceID,
				rootEndpoint: rec.Endpoint,
				rootStatus:   rec.StatusCode,
				rootAt:       rec.Timestamp,
				chain:        chain,
			}, true
		}
	}
	return traceFinding{}, false
}

// pickRoot tallies root endpoint votes and breaks ties by earliest
// first_failure timestamp observed for that endpoint.
func pickRoot(findings []traceFinding) string {
	votes := make(map[string]int)
	earliest := make(map[string]time.Time)
	for _, f := range findings {
		votes[f.rootEndpoint]++
		if t, ok := earliest[f.rootEndpoint]; !ok || f.rootAt.Before(t) {
			earliest[f.rootEndpoint] = f.rootAt
		}
	}

	var best string
	bestVotes := -1
	var bestTime time.Time
	for endpoint, count := range votes {
		switch {
		case count > bestVotes:
			best, bestVotes, bestTime = endpoint, count, earliest[endpoint]
		case count == bestVotes && earliest[endpoint].Before(bestTime):
			best, bestTime = endpoint, earliest[endpoint]
		}
	}
	return best
}

func anomaliesForEndpoints(anomalies []anomaly.Anomaly, endpoints []string) []anomaly.Anomaly {
	var out []anomaly.Anomaly
	for _, a := range anomalies {
		if slices.Contains(endpoints, a.Endpoint) {
			out = append(out, a)
		}
	}
	return out
}

func severityRank(s anomaly.Severity) int {
	switch s {
	case anomaly.SeverityCritical:
		return 3
	case anomaly.SeverityHigh:
		return 2
	case anomaly.SeverityMedium:
		return 1
	default:
		return 0
	}
}

func maxSeverity(anomalies []anomaly.Anomaly) anomaly.Severity {
	best := anomaly.SeverityLow
	for _, a := range anomalies {
		if severityRank(a.Severity) > severityRank(best) {
			best = a.Severity
		}
	}
	return best
}

// titleFor summarizes the dominant anomaly on the root endpoint,
// falling back to the absorbed set when the root itself carried none.
func titleFor(anomalies []anomaly.Anomaly, rootEndpoint string) string {
	onRoot := make([]anomaly.Anomaly, 0, len(anomalies))
	for _, a := range anomalies {
		if a.Endpoint == rootEndpoint {
			onRoot = append(onRoot, a)
		}
	}
	if len(onRoot) == 0 {
		onRoot = anomalies
	}

	issue := "Service degradation"
	for _, a := range onRoot {
		if a.Kind == anomaly.KindErrorSpike {
			issue = "Error spike"
			break
		}
		if a.Kind == anomaly.KindLatency {
			issue = "Latency spike"
		}
		if a.Kind == anomaly.KindSilence && issue == "Service degradation" {
			issue = "Traffic silence"
		}
	}
	return fmt.Sprintf("%s detected in %s", issue, rootEndpoint)
}

func mergeAnomalies(existing, fresh []anomaly.Anomaly) []anomaly.Anomaly {
	out := append([]anomaly.Anomaly{}, existing...)
	for _, a := range fresh {
		out = append(out, a)
	}
	return out
}

func mergeEndpoints(existing, fresh []string) []string {
	out := append([]string{}, existing...)
	for _, ep := range fresh {
		if !slices.Contains(out, ep) {
			out = append(out, ep)
		}
	}
	return out
}

func mergeTraceSamples(existing, fresh []registry.TraceSample) []registry.TraceSample {
	out := append([]registry.TraceSample{}, existing...)
	for _, s := range fresh {
		if len(out) >= 5 {
			break
		}
		out = append(out, s)
	}
	return out
}
