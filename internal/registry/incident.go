// Package registry holds the in-memory, TTL-expiring incident lifecycle:
// active incidents produced by the RCA engine, mutated by the analysis
// scheduler (TTL expiration) and the command surface (acknowledge,
// resolve).
package registry

import (
	"time"

	"github.com/kairoslab/sentryd/internal/anomaly"
)

// Status is the lifecycle state of an Incident.
type Status string

const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// RootCause names the endpoint the RCA engine identified as the origin
// of a set of correlated anomalies.
type RootCause struct {
	Endpoint    string
	Description string
	Confidence  float64
}

// TraceSample is one example trace's reconstructed failure chain.
type TraceSample struct {
	TraceID       string
	RootEndpoint  string
	RootStatus    int
	AffectedChain []string
}

// TraceCorrelation summarizes how many traces were analyzed and a
// bounded sample of their failure chains.
type TraceCorrelation struct {
	TotalTraces  int
	SampleTraces []TraceSample
}

// Incident is a deduplicated, root-caused grouping of anomalies.
type Incident struct {
	ID                string
	Title             string
	Severity          anomaly.Severity
	Status            Status
	RootCause         RootCause
	AffectedEndpoints []string
	Anomalies         []anomaly.Anomaly
	TraceCorrelation  TraceCorrelation
	FirstDetected     time.Time
	LastUpdated       time.Time
	ResolutionNote    string

	resolvedGraceElapsed bool
}
