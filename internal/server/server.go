package server

import (
	"net/http"
	"time"
)

// Handlers bundles every query/command handler the mux wires up. A nil
// field is simply not mounted, which keeps the constructor usable from
// tests that only care about one surface.
type Handlers struct {
	Health    *HealthHandler
	Metrics   *MetricsHandler
	Incidents *IncidentsHandler
	Analyze   *AnalyzeHandler
	Injection *InjectionHandler
}

// New builds the query/command HTTP server. It follows the host's
// instrumented-service handler timeouts: the engine itself never accepts
// long-lived connections on this surface.
func New(addr string, h Handlers) *http.Server {
	mux := http.NewServeMux()

	if h.Health != nil {
		mux.Handle("GET /health", h.Health)
	}
	if h.Metrics != nil {
		mux.Handle("GET /aiops/metrics", h.Metrics)
	}
	if h.Incidents != nil {
		mux.HandleFunc("GET /aiops/incidents", h.Incidents.List)
		mux.HandleFunc("GET /aiops/incidents/{id}", h.Incidents.Get)
		mux.HandleFunc("POST /aiops/incidents/{id}/acknowledge", h.Incidents.Acknowledge)
		mux.HandleFunc("POST /aiops/incidents/{id}/resolve", h.Incidents.Resolve)
	}
	if h.Analyze != nil {
		mux.Handle("POST /aiops/analyze", h.Analyze)
	}
	if h.Injection != nil {
		mux.HandleFunc("GET /simulate/inject", h.Injection.Status)
		mux.HandleFunc("POST /simulate/inject", h.Injection.Set)
		mux.HandleFunc("POST /simulate/inject/clear", h.Injection.Clear)
	}

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
