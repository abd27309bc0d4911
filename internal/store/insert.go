package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kairoslab/sentryd/internal/telemetry"
)

// Insert assigns an id and persists one record. Concurrent callers serialize
// on the writer connection; readers never observe a partial row because
// SQLite only exposes committed data to other connections.
func (m *Manager) Insert(ctx context.Context, rec telemetry.Record) (int64, error) {
	res, err := m.writer.ExecContext(ctx, `
INSERT INTO telemetry (service_name, endpoint, method, status_code, latency_ms, error_message, trace_id, timestamp_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
		rec.ServiceName,
		rec.Endpoint,
		rec.Method,
		rec.StatusCode,
		rec.LatencyMS,
		nullableText(rec.ErrorMessage),
		rec.TraceID,
		rec.Timestamp.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert telemetry row: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read inserted id: %w", err)
	}
	return id, nil
}

// InsertBatch persists many records in one transaction, used by the
// buffered ingest worker to amortize commit cost under load.
func (m *Manager) InsertBatch(ctx context.Context, recs []telemetry.Record) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := m.writer.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO telemetry (service_name, endpoint, method, status_code, latency_ms, error_message, trace_id, timestamp_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		return fmt.Errorf("prepare telemetry insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		if _, err := stmt.ExecContext(
			ctx,
			rec.ServiceName,
			rec.Endpoint,
			rec.Method,
			rec.StatusCode,
			rec.LatencyMS,
			nullableText(rec.ErrorMessage),
			rec.TraceID,
			rec.Timestamp.UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert telemetry row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (m *Manager) RecordCount(ctx context.Context) (int64, error) {
	var out int64
	if err := m.reader.QueryRowContext(ctx, "SELECT COUNT(*) FROM telemetry").Scan(&out); err != nil {
		return 0, err
	}
	return out, nil
}

func nullableText(s string) any {
	if s == "" {
		return nil
	}
	return s
}
