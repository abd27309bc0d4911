package ingress

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kairoslab/sentryd/internal/telemetry"
)

type fakeStore struct {
	mu      sync.Mutex
	batches [][]telemetry.Record
}

func (f *fakeStore) InsertBatch(ctx context.Context, recs []telemetry.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch := make([]telemetry.Record, len(recs))
	copy(batch, recs)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeStore) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func TestWorkerFlushesOnChannelClose(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	w := NewWorker(slog.Default(), store)
	ch := make(chan telemetry.Record, QueueCapacity)

	ch <- telemetry.Record{Endpoint: "/a", StatusCode: 200, TraceID: "t1"}
	ch <- telemetry.Record{Endpoint: "/b", StatusCode: 200, TraceID: "t2"}
	close(ch)

	if err := w.Run(ch); err != nil {
		t.Fatalf("run: %v", err)
	}
	if store.total() != 2 {
		t.Fatalf("total records = %d, want 2", store.total())
	}
}

type failingStore struct{}

func (failingStore) InsertBatch(ctx context.Context, recs []telemetry.Record) error {
	return context.DeadlineExceeded
}

func TestWorkerSurvivesFlushFailure(t *testing.T) {
	t.Parallel()

	w := NewWorker(slog.Default(), failingStore{})
	ch := make(chan telemetry.Record, QueueCapacity)

	ch <- telemetry.Record{Endpoint: "/a", StatusCode: 200, TraceID: "t1"}
	close(ch)

	if err := w.Run(ch); err != nil {
		t.Fatalf("run should not fail on a flush error: %v", err)
	}
	if w.InsertFailures() != 1 {
		t.Fatalf("InsertFailures() = %d, want 1", w.InsertFailures())
	}
}

func TestWorkerDropsInvalidRecords(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	w := NewWorker(slog.Default(), store)
	ch := make(chan telemetry.Record, QueueCapacity)

	// Missing trace id, then negative latency, then one valid record.
	ch <- telemetry.Record{Endpoint: "/a", StatusCode: 200, TraceID: ""}
	ch <- telemetry.Record{Endpoint: "/a", StatusCode: 200, LatencyMS: -1, TraceID: "t"}
	ch <- telemetry.Record{Endpoint: "/a", StatusCode: 200, TraceID: "t2"}
	close(ch)

	if err := w.Run(ch); err != nil {
		t.Fatalf("run: %v", err)
	}
	if store.total() != 1 {
		t.Fatalf("total records = %d, want 1 (invalid dropped)", store.total())
	}
	if w.InvalidDropped() != 2 {
		t.Fatalf("InvalidDropped() = %d, want 2", w.InvalidDropped())
	}
}

func TestWorkerFlushesOnBatchSize(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	w := NewWorker(slog.Default(), store)
	ch := make(chan telemetry.Record, QueueCapacity)

	done := make(chan error, 1)
	go func() { done <- w.Run(ch) }()

	for i := 0; i < MaxBatchSize; i++ {
		ch <- telemetry.Record{Endpoint: "/a", StatusCode: 200, TraceID: "t"}
	}

	deadline := time.After(2 * time.Second)
	for store.total() < MaxBatchSize {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for batch flush, got %d", store.total())
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	close(ch)
	<-done
}
