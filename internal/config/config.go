package config

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config is the full set of tunables governing storage, the instrumented
// service's listening port, and every analysis-pipeline parameter named
// in the component design: baseline learning, anomaly thresholds, RCA
// correlation, and incident expiration.
type Config struct {
	Port     string `env:"SENTRYD_PORT,default=9090"`
	DBPath   string `env:"SENTRYD_DB_PATH,default=/data/sentryd.db"`
	LogLevel string `env:"SENTRYD_LOG_LEVEL,default=info"`

	ServiceName string `env:"SENTRYD_SERVICE_NAME,default=monitored-service"`

	// Baseline Learner
	BaselineWindow time.Duration `env:"SENTRYD_BASELINE_WINDOW,default=60m"`
	MinSamples     int           `env:"SENTRYD_MIN_SAMPLES,default=10"`
	Alpha          float64       `env:"SENTRYD_ALPHA,default=0.1"`

	// Anomaly Detector
	AnalysisWindow     time.Duration `env:"SENTRYD_ANALYSIS_WINDOW,default=5m"`
	LatencyMultiplier  float64       `env:"SENTRYD_LATENCY_MULTIPLIER,default=3.0"`
	ErrorRateThreshold float64       `env:"SENTRYD_ERROR_RATE_THRESHOLD,default=0.20"`
	MinAnalysisSamples int           `env:"SENTRYD_MIN_ANALYSIS_SAMPLES,default=5"`
	SilenceThreshold   time.Duration `env:"SENTRYD_SILENCE_THRESHOLD,default=5m"`

	// RCA Engine / Incident Registry
	CorrelationWindow time.Duration `env:"SENTRYD_CORRELATION_WINDOW,default=5m"`
	IncidentTTL       time.Duration `env:"SENTRYD_INCIDENT_TTL,default=30m"`

	// Analysis Scheduler
	AnalysisInterval time.Duration `env:"SENTRYD_ANALYSIS_INTERVAL,default=30s"`
	AnalysisDeadline time.Duration `env:"SENTRYD_ANALYSIS_DEADLINE,default=10s"`

	// Telemetry Store retention
	RetentionWindow       time.Duration `env:"SENTRYD_RETENTION_WINDOW,default=24h"`
	RetentionInterval     time.Duration `env:"SENTRYD_RETENTION_INTERVAL,default=5m"`
	WALCheckpointInterval time.Duration `env:"SENTRYD_WAL_CHECKPOINT_INTERVAL,default=10m"`
	WALRestartThresholdB  int64         `env:"SENTRYD_WAL_RESTART_THRESHOLD_BYTES,default=52428800"`
}

// Load reads configuration from the process environment, applying
// defaults for anything unset and rejecting values the analysis
// pipeline cannot run with.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Alpha <= 0 || c.Alpha > 1 {
		return fmt.Errorf("SENTRYD_ALPHA must be in (0,1], got %v", c.Alpha)
	}
	if c.LatencyMultiplier <= 1 {
		return fmt.Errorf("SENTRYD_LATENCY_MULTIPLIER must exceed 1, got %v", c.LatencyMultiplier)
	}
	if c.ErrorRateThreshold <= 0 || c.ErrorRateThreshold >= 1 {
		return fmt.Errorf("SENTRYD_ERROR_RATE_THRESHOLD must be in (0,1), got %v", c.ErrorRateThreshold)
	}
	if c.MinSamples < 1 || c.MinAnalysisSamples < 1 {
		return fmt.Errorf("sample minimums must be at least 1")
	}
	for name, d := range map[string]time.Duration{
		"SENTRYD_BASELINE_WINDOW":   c.BaselineWindow,
		"SENTRYD_ANALYSIS_WINDOW":   c.AnalysisWindow,
		"SENTRYD_SILENCE_THRESHOLD": c.SilenceThreshold,
		"SENTRYD_ANALYSIS_INTERVAL": c.AnalysisInterval,
		"SENTRYD_INCIDENT_TTL":      c.IncidentTTL,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, d)
		}
	}
	return nil
}

// MinKeepWindow is the floor PruneOlderThan must never cross: the wider
// of the detector's analysis lookback (bounded by BaselineWindow, since
// the learner reads further back than the detector) protects both the
// learner's and detector's read paths from losing data mid-window.
func (c *Config) MinKeepWindow() time.Duration {
	if c.BaselineWindow > c.AnalysisWindow {
		return c.BaselineWindow
	}
	return c.AnalysisWindow
}

func WriteHelp(w io.Writer, version string) {
	fmt.Fprintf(w, "sentryd %s\n\n", version)
	fmt.Fprintln(w, "Environment variables:")
	fmt.Fprintln(w, "  SENTRYD_PORT=9090")
	fmt.Fprintln(w, "  SENTRYD_DB_PATH=/data/sentryd.db")
	fmt.Fprintln(w, "  SENTRYD_LOG_LEVEL=info")
	fmt.Fprintln(w, "  SENTRYD_SERVICE_NAME=monitored-service")
	fmt.Fprintln(w, "  SENTRYD_BASELINE_WINDOW=60m")
	fmt.Fprintln(w, "  SENTRYD_MIN_SAMPLES=10")
	fmt.Fprintln(w, "  SENTRYD_ALPHA=0.1")
	fmt.Fprintln(w, "  SENTRYD_ANALYSIS_WINDOW=5m")
	fmt.Fprintln(w, "  SENTRYD_LATENCY_MULTIPLIER=3.0")
	fmt.Fprintln(w, "  SENTRYD_ERROR_RATE_THRESHOLD=0.20")
	fmt.Fprintln(w, "  SENTRYD_MIN_ANALYSIS_SAMPLES=5")
	fmt.Fprintln(w, "  SENTRYD_SILENCE_THRESHOLD=5m")
	fmt.Fprintln(w, "  SENTRYD_CORRELATION_WINDOW=5m")
	fmt.Fprintln(w, "  SENTRYD_INCIDENT_TTL=30m")
	fmt.Fprintln(w, "  SENTRYD_ANALYSIS_INTERVAL=30s")
	fmt.Fprintln(w, "  SENTRYD_ANALYSIS_DEADLINE=10s")
	fmt.Fprintln(w, "  SENTRYD_RETENTION_WINDOW=24h")
	fmt.Fprintln(w, "  SENTRYD_RETENTION_INTERVAL=5m")
	fmt.Fprintln(w, "  SENTRYD_WAL_CHECKPOINT_INTERVAL=10m")
	fmt.Fprintln(w, "  SENTRYD_WAL_RESTART_THRESHOLD_BYTES=52428800")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  --help")
	fmt.Fprintln(w, "  --version")
}
