// Package telemetry defines the wire-level record produced for every
// monitored request and the invariants the rest of the engine relies on.
package telemetry

import (
	"errors"
	"time"
)

// Record is one immutable observation of a completed request. Once inserted
// into the store a Record is never mutated.
type Record struct {
	ID           int64
	ServiceName  string
	Endpoint     string
	Method       string
	StatusCode   int
	LatencyMS    float64
	ErrorMessage string // empty means absent
	TraceID      string
	Timestamp    time.Time
}

// Successful reports whether the record represents a 2xx response, the
// population the baseline learner folds into its latency average.
func (r Record) Successful() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// ServerError reports whether the record is a 5xx response.
func (r Record) ServerError() bool {
	return r.StatusCode >= 500
}

// Validate checks the invariants every Record must satisfy: non-negative
// latency, a status code in the HTTP range, and a non-empty trace id.
// Invalid records are dropped by the caller rather than inserted.
func (r Record) Validate() error {
	if r.LatencyMS < 0 {
		return errors.New("telemetry: negative latency_ms")
	}
	if r.StatusCode < 100 || r.StatusCode > 599 {
		return errors.New("telemetry: status_code out of range [100,599]")
	}
	if r.TraceID == "" {
		return errors.New("telemetry: missing trace_id")
	}
	return nil
}

// Aggregate is the one-pass summary derived from a QueryByEndpointTime
// window for metrics reporting.
type Aggregate struct {
	Endpoint        string
	Count           int64
	AvgLatencyMS    float64
	StatusHistogram map[int]int64
	ErrorCount5xx   int64
	LastSeen        time.Time
}
