package store

const schemaDDL = `
CREATE TABLE IF NOT EXISTS telemetry (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  service_name TEXT NOT NULL,
  endpoint TEXT NOT NULL,
  method TEXT NOT NULL,
  status_code INTEGER NOT NULL,
  latency_ms REAL NOT NULL,
  error_message TEXT,
  trace_id TEXT NOT NULL,
  timestamp_ms INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_endpoint_time ON telemetry (endpoint, timestamp_ms);
CREATE INDEX IF NOT EXISTS idx_trace_id ON telemetry (trace_id);
`
