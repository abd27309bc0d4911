package server

import (
	"encoding/json"
	"net/http"

	"github.com/dustin/go-humanize"

	"github.com/kairoslab/sentryd/internal/anomaly"
	"github.com/kairoslab/sentryd/internal/registry"
)

// IncidentsHandler serves the incident list/get/acknowledge/resolve
// surface backed by the registry.
type IncidentsHandler struct {
	registry *registry.Registry
}

// NewIncidentsHandler constructs an IncidentsHandler.
func NewIncidentsHandler(reg *registry.Registry) *IncidentsHandler {
	return &IncidentsHandler{registry: reg}
}

type incidentView struct {
	ID                string                    `json:"id"`
	Title             string                    `json:"title"`
	Severity          string                    `json:"severity"`
	Status            string                    `json:"status"`
	RootCause         registry.RootCause        `json:"root_cause"`
	AffectedEndpoints []string                  `json:"affected_endpoints"`
	Anomalies         []anomaly.Anomaly         `json:"anomalies"`
	AnomalyCount      int                       `json:"anomaly_count"`
	TraceCorrelation  registry.TraceCorrelation `json:"trace_correlation"`
	FirstDetected     string                    `json:"first_detected"`
	FirstDetectedAgo  string                    `json:"first_detected_ago"`
	LastUpdated       string                    `json:"last_updated"`
}

func toView(inc registry.Incident) incidentView {
	anomalies := inc.Anomalies
	if anomalies == nil {
		anomalies = []anomaly.Anomaly{}
	}
	return incidentView{
		ID:                inc.ID,
		Title:             inc.Title,
		Severity:          string(inc.Severity),
		Status:            string(inc.Status),
		RootCause:         inc.RootCause,
		AffectedEndpoints: inc.AffectedEndpoints,
		Anomalies:         anomalies,
		AnomalyCount:      len(inc.Anomalies),
		TraceCorrelation:  inc.TraceCorrelation,
		FirstDetected:     inc.FirstDetected.UTC().Format("2006-01-02T15:04:05Z07:00"),
		FirstDetectedAgo:  humanize.Time(inc.FirstDetected),
		LastUpdated:       inc.LastUpdated.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// List handles GET /aiops/incidents, with optional ?status= and
// ?endpoint= filters.
func (h *IncidentsHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := registry.Filter{Endpoint: r.URL.Query().Get("endpoint")}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = registry.Status(status)
		filter.HasStatus = true
	}

	incidents := h.registry.List(filter)
	views := make([]incidentView, 0, len(incidents))
	for _, inc := range incidents {
		views = append(views, toView(inc))
	}
	writeJSON(w, http.StatusOK, views)
}

// Get handles GET /aiops/incidents/{id}.
func (h *IncidentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	inc, ok := h.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "incident not found")
		return
	}
	writeJSON(w, http.StatusOK, toView(inc))
}

// Acknowledge handles POST /aiops/incidents/{id}/acknowledge.
func (h *IncidentsHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.registry.Acknowledge(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	inc, _ := h.registry.Get(id)
	writeJSON(w, http.StatusOK, toView(inc))
}

// Resolve handles POST /aiops/incidents/{id}/resolve.
func (h *IncidentsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var body struct {
		Note string `json:"note"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	if err := h.registry.Resolve(id, body.Note); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	inc, _ := h.registry.Get(id)
	writeJSON(w, http.StatusOK, toView(inc))
}
