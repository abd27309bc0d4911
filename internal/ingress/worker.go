package ingress

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kairoslab/sentryd/internal/telemetry"
)

// Store is the subset of the telemetry store the worker writes to.
type Store interface {
	InsertBatch(ctx context.Context, recs []telemetry.Record) error
}

// Worker drains a channel of completed telemetry records into the store
// in batches, flushing on whichever comes first: MaxBatchSize records or
// FlushWindow elapsed. Telemetry persistence is best-effort: a failed
// flush is logged and counted, the batch is dropped, and the worker
// keeps draining so the request path never backs up behind storage.
type Worker struct {
	logger *slog.Logger
	store  Store

	insertFailures atomic.Int64
	invalidDropped atomic.Int64
}

// NewWorker constructs a Worker.
func NewWorker(logger *slog.Logger, store Store) *Worker {
	return &Worker{logger: logger, store: store}
}

// InsertFailures reports how many batch flushes have failed so far, the
// counter the health surface watches for storage trouble.
func (w *Worker) InsertFailures() int64 {
	return w.insertFailures.Load()
}

// InvalidDropped reports how many records were rejected for violating
// the record invariants.
func (w *Worker) InvalidDropped() int64 {
	return w.invalidDropped.Load()
}

// Run drains records until the channel is closed, flushing any
// remaining buffered records before returning.
func (w *Worker) Run(records <-chan telemetry.Record) error {
	ticker := time.NewTicker(FlushWindow)
	defer ticker.Stop()

	buffer := make([]telemetry.Record, 0, MaxBatchSize)

	flush := func(batch []telemetry.Record) {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := w.store.InsertBatch(ctx, batch); err != nil {
			w.insertFailures.Add(1)
			w.logger.Error("ingest flush failed, dropping batch", "error", err, "records", len(batch))
		}
	}

	for {
		select {
		case rec, ok := <-records:
			if !ok {
				flush(buffer)
				return nil
			}
			if err := rec.Validate(); err != nil {
				w.invalidDropped.Add(1)
				w.logger.Warn("dropping invalid telemetry record", "error", err, "endpoint", rec.Endpoint)
				continue
			}
			buffer = append(buffer, rec)
			if len(buffer) >= MaxBatchSize {
				flush(buffer)
				buffer = buffer[:0]
			}
		case <-ticker.C:
			if len(buffer) == 0 {
				continue
			}
			flush(buffer)
			buffer = buffer[:0]
		}
	}
}
