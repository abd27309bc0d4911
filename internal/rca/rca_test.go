package rca

import (
	"context"
	"testing"
	"time"

	"github.com/kairoslab/sentryd/internal/anomaly"
	"github.com/kairoslab/sentryd/internal/baseline"
	"github.com/kairoslab/sentryd/internal/registry"
	"github.com/kairoslab/sentryd/internal/telemetry"
)

type fakeStore struct {
	byTrace map[string][]telemetry.Record
}

func (f *fakeStore) QueryByTrace(ctx context.Context, traceID string) ([]telemetry.Record, error) {
	return f.byTrace[traceID], nil
}

type fakeBaselines struct {
	baselines map[string]baseline.Baseline
}

func (f *fakeBaselines) Get(endpoint string) (baseline.Baseline, bool) {
	b, ok := f.baselines[endpoint]
	return b, ok
}

func TestCorrelateIdentifiesRootFromCascadingFailure(t *testing.T) {
	t.Parallel()

	now := time.Now()
	store := &fakeStore{byTrace: map[string][]telemetry.Record{
		"trace-1": {
			{Endpoint: "/checkout", StatusCode: 200, LatencyMS: 50, TraceID: "trace-1", Timestamp: now},
			{Endpoint: "/payment", StatusCode: 500, LatencyMS: 900, TraceID: "trace-1", Timestamp: now.Add(time.Millisecond)},
		},
		"trace-2": {
			{Endpoint: "/checkout", StatusCode: 200, LatencyMS: 55, TraceID: "trace-2", Timestamp: now},
			{Endpoint: "/payment", StatusCode: 500, LatencyMS: 950, TraceID: "trace-2", Timestamp: now.Add(time.Millisecond)},
		},
	}}
	baselines := &fakeBaselines{baselines: map[string]baseline.Baseline{
		"/checkout": {Endpoint: "/checkout", MeanMS: 50},
		"/payment":  {Endpoint: "/payment", MeanMS: 100},
	}}
	reg := registry.New()
	engine := New(store, reg, Config{LatencyMultiplier: 3.0, CorrelationWindow: 5 * time.Minute})

	anomalies := []anomaly.Anomaly{
		{Kind: anomaly.KindErrorSpike, Endpoint: "/payment", Severity: anomaly.SeverityCritical, TraceIDs: []string{"trace-1", "trace-2"}},
		{Kind: anomaly.KindLatency, Endpoint: "/checkout", Severity: anomaly.SeverityMedium, TraceIDs: []string{"trace-1", "trace-2"}},
	}

	incidents, err := engine.Correlate(context.Background(), anomalies, baselines)
	if err != nil {
		t.Fatalf("correlate: %v", err)
	}
	if len(incidents) != 1 {
		t.Fatalf("len(incidents) = %d, want 1", len(incidents))
	}
	inc := incidents[0]
	if inc.RootCause.Endpoint != "/payment" {
		t.Fatalf("root endpoint = %q, want /payment", inc.RootCause.Endpoint)
	}
	if inc.RootCause.Confidence != 1.0 {
		t.Fatalf("confidence = %v, want 1.0", inc.RootCause.Confidence)
	}
	if len(inc.AffectedEndpoints) != 2 {
		t.Fatalf("affected endpoints = %v, want 2", inc.AffectedEndpoints)
	}
}

func TestCorrelateMergesIntoExistingIncidentWithinWindow(t *testing.T) {
	t.Parallel()

	now := time.Now()
	store := &fakeStore{byTrace: map[string][]telemetry.Record{
		"trace-1": {{Endpoint: "/payment", StatusCode: 500, LatencyMS: 900, TraceID: "trace-1", Timestamp: now}},
	}}
	baselines := &fakeBaselines{baselines: map[string]baseline.Baseline{"/payment": {Endpoint: "/payment", MeanMS: 100}}}
	reg := registry.New()
	engine := New(store, reg, Config{LatencyMultiplier: 3.0, CorrelationWindow: 5 * time.Minute})

	anomalies := []anomaly.Anomaly{
		{Kind: anomaly.KindErrorSpike, Endpoint: "/payment", Severity: anomaly.SeverityHigh, TraceIDs: []string{"trace-1"}},
	}

	first, err := engine.Correlate(context.Background(), anomalies, baselines)
	if err != nil {
		t.Fatalf("first correlate: %v", err)
	}
	firstID := first[0].ID

	second, err := engine.Correlate(context.Background(), anomalies, baselines)
	if err != nil {
		t.Fatalf("second correlate: %v", err)
	}
	if second[0].ID != firstID {
		t.Fatalf("expected merge to keep id %s, got %s", firstID, second[0].ID)
	}
	if len(second[0].Anomalies) != 2 {
		t.Fatalf("expected merged anomalies to accumulate, got %d", len(second[0].Anomalies))
	}
}

func TestCorrelateWithNoTraceIDsCreatesSimpleIncidents(t *testing.T) {
	t.Parallel()

	store := &fakeStore{byTrace: map[string][]telemetry.Record{}}
	baselines := &fakeBaselines{baselines: map[string]baseline.Baseline{}}
	reg := registry.New()
	engine := New(store, reg, Config{LatencyMultiplier: 3.0, CorrelationWindow: 5 * time.Minute})

	anomalies := []anomaly.Anomaly{
		{Kind: anomaly.KindSilence, Endpoint: "/reports", Severity: anomaly.SeverityHigh},
	}

	incidents, err := engine.Correlate(context.Background(), anomalies, baselines)
	if err != nil {
		t.Fatalf("correlate: %v", err)
	}
	if len(incidents) != 1 {
		t.Fatalf("len(incidents) = %d, want 1", len(incidents))
	}
	if incidents[0].RootCause.Endpoint != "/reports" {
		t.Fatalf("root endpoint = %q, want /reports", incidents[0].RootCause.Endpoint)
	}
}

func TestCorrelateEmptyAnomaliesReturnsNothing(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	engine := New(&fakeStore{}, reg, Config{LatencyMultiplier: 3.0, CorrelationWindow: 5 * time.Minute})

	incidents, err := engine.Correlate(context.Background(), nil, &fakeBaselines{baselines: map[string]baseline.Baseline{}})
	if err != nil {
		t.Fatalf("correlate: %v", err)
	}
	if len(incidents) != 0 {
		t.Fatalf("expected no incidents, got %+v", incidents)
	}
}
