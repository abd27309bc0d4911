// Package anomaly detects latency spikes, error spikes, and silence
// against the baselines published by package baseline.
package anomaly

import "time"

// Kind distinguishes the three detectable anomaly shapes.
type Kind string

const (
	KindLatency    Kind = "latency"
	KindErrorSpike Kind = "error_spike"
	KindSilence    Kind = "silence"
)

// Severity ranks how urgently an anomaly needs attention.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Anomaly is one detector finding for one endpoint in one analysis pass.
type Anomaly struct {
	Kind       Kind      `json:"kind"`
	Endpoint   string    `json:"endpoint"`
	Severity   Severity  `json:"severity"`
	DetectedAt time.Time `json:"detected_at"`
	SampleSize int       `json:"sample_size,omitempty"`
	TraceIDs   []string  `json:"trace_ids,omitempty"`
	BaselineMS float64   `json:"baseline_ms,omitempty"`
	CurrentMS  float64   `json:"observed_ms,omitempty"`
	Deviation  float64   `json:"deviation,omitempty"`
	ErrorRate  float64   `json:"error_rate,omitempty"`
	ErrorCount int       `json:"error_count,omitempty"`
	SampleErrs []string  `json:"sample_errors,omitempty"`
	LastSeen   time.Time `json:"last_seen,omitzero"`
}
