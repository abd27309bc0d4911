package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/kairoslab/sentryd/internal/registry"
	"github.com/kairoslab/sentryd/internal/store"
)

type staticIngest struct{}

func (staticIngest) Snapshot() IngestSnapshot {
	return IngestSnapshot{QueueDepth: 3, QueueCapacity: 1024, RecordsReceived: 42}
}

func TestHealthAlwaysReturnsContract(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "sentryd.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = st.Close() }()

	reg := registry.New()
	handler := NewHealthHandler(st, reg, staticIngest{}, time.Now().Add(-5*time.Second), "test-version")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode error = %v", err)
	}

	required := []string{
		"status",
		"uptime_seconds",
		"version",
		"db_status",
		"db_size_bytes",
		"wal_size_bytes",
		"queue_depth",
		"queue_capacity",
		"records_received",
		"records_dropped",
		"active_incidents",
		"open_incidents",
		"generated_at",
	}
	for _, key := range required {
		if _, ok := body[key]; !ok {
			t.Fatalf("missing health field %q", key)
		}
	}
}

func TestHealthWarnsWhenIngestDropping(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "sentryd.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = st.Close() }()

	reg := registry.New()
	handler := NewHealthHandler(st, reg, droppingIngest{}, time.Now(), "test-version")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Warnings) == 0 {
		t.Fatalf("expected a warning when records are being dropped")
	}
}

type droppingIngest struct{}

func (droppingIngest) Snapshot() IngestSnapshot {
	return IngestSnapshot{QueueDepth: 1024, QueueCapacity: 1024, RecordsDropped: 5}
}
