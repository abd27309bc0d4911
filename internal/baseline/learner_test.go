package baseline

import (
	"context"
	"testing"
	"time"

	"github.com/kairoslab/sentryd/internal/telemetry"
)

type fakeStore struct {
	endpoints []string
	records   map[string][]telemetry.Record
}

func (f *fakeStore) DistinctEndpoints(ctx context.Context, since time.Time) ([]string, error) {
	return f.endpoints, nil
}

func (f *fakeStore) QueryByEndpointTime(ctx context.Context, endpoint string, since, until time.Time) ([]telemetry.Record, error) {
	return f.records[endpoint], nil
}

func recordsOfLatency(latencies ...float64) []telemetry.Record {
	out := make([]telemetry.Record, 0, len(latencies))
	for _, l := range latencies {
		out = append(out, telemetry.Record{StatusCode: 200, LatencyMS: l, TraceID: "t", Timestamp: time.Now()})
	}
	return out
}

func TestLearnSkipsEndpointBelowMinSamples(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		endpoints: []string{"/checkout"},
		records:   map[string][]telemetry.Record{"/checkout": recordsOfLatency(100, 110, 120)},
	}
	l := New(store, Config{Window: time.Hour, MinSamples: 10, Alpha: 0.1})

	if err := l.Learn(context.Background()); err != nil {
		t.Fatalf("learn: %v", err)
	}

	if _, ok := l.Snapshot().Get("/checkout"); ok {
		t.Fatalf("expected no baseline below MinSamples")
	}
}

func TestLearnFirstPassEqualsSampleMean(t *testing.T) {
	t.Parallel()

	latencies := make([]float64, 20)
	for i := range latencies {
		latencies[i] = 100
	}
	store := &fakeStore{
		endpoints: []string{"/checkout"},
		records:   map[string][]telemetry.Record{"/checkout": recordsOfLatency(latencies...)},
	}
	l := New(store, Config{Window: time.Hour, MinSamples: 10, Alpha: 0.1})

	if err := l.Learn(context.Background()); err != nil {
		t.Fatalf("learn: %v", err)
	}

	b, ok := l.Snapshot().Get("/checkout")
	if !ok {
		t.Fatalf("expected a learned baseline")
	}
	if b.MeanMS != 100 {
		t.Fatalf("MeanMS = %v, want 100", b.MeanMS)
	}
}

func TestLearnSmoothsTowardNewSample(t *testing.T) {
	t.Parallel()

	baseLatencies := make([]float64, 20)
	for i := range baseLatencies {
		baseLatencies[i] = 100
	}
	store := &fakeStore{
		endpoints: []string{"/checkout"},
		records:   map[string][]telemetry.Record{"/checkout": recordsOfLatency(baseLatencies...)},
	}
	l := New(store, Config{Window: time.Hour, MinSamples: 10, Alpha: 0.1})
	if err := l.Learn(context.Background()); err != nil {
		t.Fatalf("first learn: %v", err)
	}

	nextLatencies := make([]float64, 20)
	for i := range nextLatencies {
		nextLatencies[i] = 200
	}
	store.records["/checkout"] = recordsOfLatency(nextLatencies...)
	if err := l.Learn(context.Background()); err != nil {
		t.Fatalf("second learn: %v", err)
	}

	b, _ := l.Snapshot().Get("/checkout")
	want := 0.1*200 + 0.9*100
	if diff := b.MeanMS - want; diff > 0.001 || diff < -0.001 {
		t.Fatalf("MeanMS = %v, want %v", b.MeanMS, want)
	}
}

func TestLearnExcludesInternalEndpoints(t *testing.T) {
	t.Parallel()

	latencies := make([]float64, 20)
	for i := range latencies {
		latencies[i] = 50
	}
	store := &fakeStore{
		endpoints: []string{"/aiops/incidents", "/simulate/inject"},
		records: map[string][]telemetry.Record{
			"/aiops/incidents": recordsOfLatency(latencies...),
			"/simulate/inject": recordsOfLatency(latencies...),
		},
	}
	l := New(store, Config{Window: time.Hour, MinSamples: 10, Alpha: 0.1})

	if err := l.Learn(context.Background()); err != nil {
		t.Fatalf("learn: %v", err)
	}

	if _, ok := l.Snapshot().Get("/aiops/incidents"); ok {
		t.Fatalf("internal endpoint should never get a baseline")
	}
	if _, ok := l.Snapshot().Get("/simulate/inject"); ok {
		t.Fatalf("internal endpoint should never get a baseline")
	}
}

func TestLearnKeepsBaselineWhenTrafficStops(t *testing.T) {
	t.Parallel()

	latencies := make([]float64, 20)
	for i := range latencies {
		latencies[i] = 120
	}
	store := &fakeStore{
		endpoints: []string{"/checkout"},
		records:   map[string][]telemetry.Record{"/checkout": recordsOfLatency(latencies...)},
	}
	l := New(store, Config{Window: time.Hour, MinSamples: 10, Alpha: 0.1})
	if err := l.Learn(context.Background()); err != nil {
		t.Fatalf("first learn: %v", err)
	}

	store.endpoints = nil
	if err := l.Learn(context.Background()); err != nil {
		t.Fatalf("second learn: %v", err)
	}

	b, ok := l.Snapshot().Get("/checkout")
	if !ok {
		t.Fatalf("baseline should survive an endpoint going quiet")
	}
	if b.MeanMS != 120 {
		t.Fatalf("MeanMS = %v, want 120", b.MeanMS)
	}
}

func TestLearnRetainsPreviousBaselineWhenSamplesDrop(t *testing.T) {
	t.Parallel()

	latencies := make([]float64, 20)
	for i := range latencies {
		latencies[i] = 80
	}
	store := &fakeStore{
		endpoints: []string{"/checkout"},
		records:   map[string][]telemetry.Record{"/checkout": recordsOfLatency(latencies...)},
	}
	l := New(store, Config{Window: time.Hour, MinSamples: 10, Alpha: 0.1})
	if err := l.Learn(context.Background()); err != nil {
		t.Fatalf("first learn: %v", err)
	}

	store.records["/checkout"] = recordsOfLatency(90, 90)
	if err := l.Learn(context.Background()); err != nil {
		t.Fatalf("second learn: %v", err)
	}

	b, ok := l.Snapshot().Get("/checkout")
	if !ok {
		t.Fatalf("expected previous baseline to be retained")
	}
	if b.MeanMS != 80 {
		t.Fatalf("MeanMS = %v, want retained 80", b.MeanMS)
	}
}
