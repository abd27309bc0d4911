package server

import (
	"encoding/json"
	"net/http"

	"github.com/kairoslab/sentryd/internal/inject"
)

// InjectionHandler serves the chaos-injection set/clear/status surface.
type InjectionHandler struct {
	injector *inject.Injector
}

// NewInjectionHandler constructs an InjectionHandler.
func NewInjectionHandler(injector *inject.Injector) *InjectionHandler {
	return &InjectionHandler{injector: injector}
}

type setInjectionRequest struct {
	Endpoint  string   `json:"endpoint"`
	DelayMS   *int64   `json:"delay_ms,omitempty"`
	ErrorRate *float64 `json:"error_rate,omitempty"`
}

// Set handles POST /simulate/inject, applying a delay and/or error rate
// to a single endpoint.
func (h *InjectionHandler) Set(w http.ResponseWriter, r *http.Request) {
	var req setInjectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint is required")
		return
	}

	if req.DelayMS != nil {
		h.injector.SetDelay(req.Endpoint, *req.DelayMS)
	}
	if req.ErrorRate != nil {
		h.injector.SetErrorRate(req.Endpoint, *req.ErrorRate)
	}

	writeJSON(w, http.StatusOK, h.injector.Snapshot())
}

// Clear handles POST /simulate/inject/clear, removing every active rule.
func (h *InjectionHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.injector.ClearAll()
	writeJSON(w, http.StatusOK, h.injector.Snapshot())
}

// Status handles GET /simulate/inject, returning the active rule table.
func (h *InjectionHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.injector.Snapshot())
}
