package server

import (
	"context"
	"net/http"

	"github.com/kairoslab/sentryd/internal/anomaly"
	"github.com/kairoslab/sentryd/internal/scheduler"
)

// PassRunner is the subset of the scheduler the on-demand trigger uses.
type PassRunner interface {
	RunPass(ctx context.Context) (scheduler.PassResult, error)
}

// AnalyzeHandler serves the on-demand analysis trigger.
type AnalyzeHandler struct {
	runner PassRunner
}

// NewAnalyzeHandler constructs an AnalyzeHandler.
func NewAnalyzeHandler(runner PassRunner) *AnalyzeHandler {
	return &AnalyzeHandler{runner: runner}
}

type analyzeResponse struct {
	Anomalies []anomaly.Anomaly `json:"anomalies"`
	Incidents []incidentView    `json:"incidents"`
}

func (h *AnalyzeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	result, err := h.runner.RunPass(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "analysis pass failed: "+err.Error())
		return
	}

	views := make([]incidentView, 0, len(result.Incidents))
	for _, inc := range result.Incidents {
		views = append(views, toView(inc))
	}

	writeJSON(w, http.StatusOK, analyzeResponse{
		Anomalies: result.Anomalies,
		Incidents: views,
	})
}
