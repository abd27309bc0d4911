package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/kairoslab/sentryd/internal/registry"
	"github.com/kairoslab/sentryd/internal/store"
)

// IngestSnapshot is the ingest-side counters the health handler surfaces.
type IngestSnapshot struct {
	QueueDepth      int
	QueueCapacity   int
	RecordsReceived int64
	RecordsDropped  int64
	InsertFailures  int64
	InvalidDropped  int64
}

// IngestSnapshotter supplies the current ingest counters on demand.
type IngestSnapshotter interface {
	Snapshot() IngestSnapshot
}

// HealthResponse is the JSON body served by GET /health.
type HealthResponse struct {
	Status          string   `json:"status"`
	UptimeSeconds   int64    `json:"uptime_seconds"`
	Uptime          string   `json:"uptime_human"`
	Version         string   `json:"version"`
	DBStatus        string   `json:"db_status"`
	DBSize          string   `json:"db_size"`
	DBSizeBytes     int64    `json:"db_size_bytes"`
	WALSize         string   `json:"wal_size"`
	WALSizeBytes    int64    `json:"wal_size_bytes"`
	QueueDepth      int      `json:"queue_depth"`
	QueueCapacity   int      `json:"queue_capacity"`
	RecordsReceived int64    `json:"records_received"`
	RecordsDropped  int64    `json:"records_dropped"`
	InsertFailures  int64    `json:"insert_failures"`
	InvalidDropped  int64    `json:"invalid_dropped"`
	ActiveIncidents int      `json:"active_incidents"`
	OpenIncidents   int      `json:"open_incidents"`
	GeneratedAt     string   `json:"generated_at"`
	Warnings        []string `json:"warnings,omitempty"`
}

// HealthHandler serves the process/store/pipeline health surface.
type HealthHandler struct {
	store     *store.Manager
	registry  *registry.Registry
	ingest    IngestSnapshotter
	startedAt time.Time
	version   string
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(st *store.Manager, reg *registry.Registry, ingest IngestSnapshotter, startedAt time.Time, version string) *HealthHandler {
	return &HealthHandler{store: st, registry: reg, ingest: ingest, startedAt: startedAt, version: version}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	dbStats := h.store.Stats()
	ingest := h.ingest.Snapshot()

	active := h.registry.List(registry.Filter{Status: registry.StatusActive, HasStatus: true})
	acknowledged := h.registry.List(registry.Filter{Status: registry.StatusAcknowledged, HasStatus: true})

	resp := HealthResponse{
		Status:          "ok",
		UptimeSeconds:   int64(time.Since(h.startedAt).Seconds()),
		Uptime:          humanize.Time(h.startedAt),
		Version:         h.version,
		DBStatus:        dbStats.DBStatus,
		DBSize:          humanize.Bytes(nonNegative(dbStats.DBSizeBytes)),
		DBSizeBytes:     dbStats.DBSizeBytes,
		WALSize:         humanize.Bytes(nonNegative(dbStats.WALSize)),
		WALSizeBytes:    dbStats.WALSize,
		QueueDepth:      ingest.QueueDepth,
		QueueCapacity:   ingest.QueueCapacity,
		RecordsReceived: ingest.RecordsReceived,
		RecordsDropped:  ingest.RecordsDropped,
		InsertFailures:  ingest.InsertFailures,
		InvalidDropped:  ingest.InvalidDropped,
		ActiveIncidents: len(active),
		OpenIncidents:   len(active) + len(acknowledged),
		GeneratedAt:     time.Now().UTC().Format(time.RFC3339),
	}

	if dbStats.DBStatus != "ok" {
		resp.Status = "degraded"
		resp.Warnings = append(resp.Warnings, "store_unhealthy")
	}
	if ingest.RecordsDropped > 0 {
		resp.Warnings = append(resp.Warnings, "ingest_dropping_records")
	}
	if ingest.InsertFailures > 0 {
		resp.Status = "degraded"
		resp.Warnings = append(resp.Warnings, "telemetry_insert_failures")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

func nonNegative(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}
