package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/kairoslab/sentryd/internal/telemetry"
)

func scanRecord(rows interface {
	Scan(dest ...any) error
}) (telemetry.Record, error) {
	var (
		rec          telemetry.Record
		errorMessage sql.NullString
		tsMillis     int64
	)
	if err := rows.Scan(
		&rec.ID,
		&rec.ServiceName,
		&rec.Endpoint,
		&rec.Method,
		&rec.StatusCode,
		&rec.LatencyMS,
		&errorMessage,
		&rec.TraceID,
		&tsMillis,
	); err != nil {
		return telemetry.Record{}, err
	}
	rec.ErrorMessage = errorMessage.String
	rec.Timestamp = time.UnixMilli(tsMillis).UTC()
	return rec, nil
}

const recordColumns = "id, service_name, endpoint, method, status_code, latency_ms, error_message, trace_id, timestamp_ms"

// QueryByEndpointTime returns every record for endpoint with timestamp in
// [since, until). Results are returned in chronological order so callers
// that need that order don't have to re-sort.
func (m *Manager) QueryByEndpointTime(ctx context.Context, endpoint string, since, until time.Time) ([]telemetry.Record, error) {
	rows, err := m.reader.QueryContext(ctx, `
SELECT `+recordColumns+`
FROM telemetry
WHERE endpoint = ? AND timestamp_ms >= ? AND timestamp_ms < ?
ORDER BY timestamp_ms ASC, id ASC
`, endpoint, since.UnixMilli(), until.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []telemetry.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// QueryByTrace returns every record sharing trace_id, sorted ascending by
// timestamp then id — the stable order the RCA engine's first_failure walk
// depends on.
func (m *Manager) QueryByTrace(ctx context.Context, traceID string) ([]telemetry.Record, error) {
	rows, err := m.reader.QueryContext(ctx, `
SELECT `+recordColumns+`
FROM telemetry
WHERE trace_id = ?
ORDER BY timestamp_ms ASC, id ASC
`, traceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []telemetry.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DistinctEndpoints enumerates endpoints observed at or after since, the
// subject list the learner and detector iterate every pass.
func (m *Manager) DistinctEndpoints(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := m.reader.QueryContext(ctx, `
SELECT DISTINCT endpoint FROM telemetry WHERE timestamp_ms >= ?
`, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var endpoint string
		if err := rows.Scan(&endpoint); err != nil {
			return nil, err
		}
		out = append(out, endpoint)
	}
	return out, rows.Err()
}

// Aggregate computes the one-pass summary the metrics surface needs:
// request count, average latency, status histogram, 5xx count, and
// last-seen instant for endpoint within [since, until).
func (m *Manager) Aggregate(ctx context.Context, endpoint string, since, until time.Time) (telemetry.Aggregate, error) {
	recs, err := m.QueryByEndpointTime(ctx, endpoint, since, until)
	if err != nil {
		return telemetry.Aggregate{}, err
	}

	agg := telemetry.Aggregate{
		Endpoint:        endpoint,
		StatusHistogram: make(map[int]int64),
	}
	if len(recs) == 0 {
		return agg, nil
	}

	var latencySum float64
	for _, rec := range recs {
		agg.Count++
		latencySum += rec.LatencyMS
		agg.StatusHistogram[rec.StatusCode]++
		if rec.ServerError() {
			agg.ErrorCount5xx++
		}
		if rec.Timestamp.After(agg.LastSeen) {
			agg.LastSeen = rec.Timestamp
		}
	}
	agg.AvgLatencyMS = latencySum / float64(agg.Count)
	return agg, nil
}
