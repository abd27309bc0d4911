package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/kairoslab/sentryd/internal/baseline"
	"github.com/kairoslab/sentryd/internal/telemetry"
)

// MetricsStore is the subset of the telemetry store the metrics handler
// needs.
type MetricsStore interface {
	DistinctEndpoints(ctx context.Context, since time.Time) ([]string, error)
	Aggregate(ctx context.Context, endpoint string, since, until time.Time) (telemetry.Aggregate, error)
}

// BaselineSource supplies the current baseline snapshot on demand so the
// handler always reads the latest published values.
type BaselineSource interface {
	Snapshot() *baseline.Snapshot
}

// EndpointMetrics is one endpoint's row in the metrics response.
type EndpointMetrics struct {
	RequestCount    int64         `json:"request_count"`
	AvgLatencyMS    float64       `json:"avg_latency_ms"`
	ErrorRate       float64       `json:"error_rate"`
	BaselineMS      float64       `json:"baseline_latency_ms,omitempty"`
	BaselineLearned bool          `json:"baseline_learned"`
	StatusHistogram map[int]int64 `json:"status_histogram"`
	HealthScore     float64       `json:"health_score"`
	Status          string        `json:"status"`
}

// MetricsHandler serves the per-endpoint metrics surface.
type MetricsHandler struct {
	store     MetricsStore
	baselines BaselineSource
	window    time.Duration
}

// NewMetricsHandler constructs a MetricsHandler. defaultWindow is used
// when the caller omits ?window_seconds=.
func NewMetricsHandler(store MetricsStore, baselines BaselineSource, defaultWindow time.Duration) *MetricsHandler {
	return &MetricsHandler{store: store, baselines: baselines, window: defaultWindow}
}

func (h *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	window := h.window
	if raw := r.URL.Query().Get("window_seconds"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			window = time.Duration(secs) * time.Second
		}
	}

	ctx := r.Context()
	now := time.Now()
	since := now.Add(-window)

	endpoints, err := h.store.DistinctEndpoints(ctx, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query endpoints failed")
		return
	}

	snapshot := h.baselines.Snapshot()
	out := make(map[string]EndpointMetrics, len(endpoints))
	for _, endpoint := range endpoints {
		if isInternalEndpoint(endpoint) {
			continue
		}
		agg, err := h.store.Aggregate(ctx, endpoint, since, now)
		if err != nil {
			continue
		}
		out[endpoint] = buildEndpointMetrics(agg, snapshot)
	}

	writeJSON(w, http.StatusOK, out)
}

func buildEndpointMetrics(agg telemetry.Aggregate, snapshot *baseline.Snapshot) EndpointMetrics {
	errorRate := 0.0
	if agg.Count > 0 {
		errorRate = float64(agg.ErrorCount5xx) / float64(agg.Count)
	}

	b, learned := snapshot.Get(agg.Endpoint)

	score := healthScore(errorRate, agg.AvgLatencyMS, b.MeanMS, learned)

	return EndpointMetrics{
		RequestCount:    agg.Count,
		AvgLatencyMS:    agg.AvgLatencyMS,
		ErrorRate:       errorRate,
		BaselineMS:      b.MeanMS,
		BaselineLearned: learned,
		StatusHistogram: agg.StatusHistogram,
		HealthScore:     score,
		Status:          healthStatus(score),
	}
}

// healthScore implements the derived score from the query surface:
// 100 − 50·error_rate − 30·max(0, (avg_latency/baseline)−1)/9, clamped
// to [0,100]. An unlearned baseline contributes no latency penalty.
func healthScore(errorRate, avgLatencyMS, baselineMS float64, learned bool) float64 {
	score := 100.0
	score -= 50 * errorRate

	if learned && baselineMS > 0 {
		ratio := avgLatencyMS/baselineMS - 1
		if ratio < 0 {
			ratio = 0
		}
		score -= 30 * ratio / 9
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

func healthStatus(score float64) string {
	switch {
	case score >= 90:
		return "healthy"
	case score >= 60:
		return "degraded"
	default:
		return "unhealthy"
	}
}

var internalPrefixes = []string{"/aiops/", "/simulate/"}

func isInternalEndpoint(endpoint string) bool {
	for _, p := range internalPrefixes {
		if len(endpoint) >= len(p) && endpoint[:len(p)] == p {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
