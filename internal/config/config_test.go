package config

import (
	"context"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.BaselineWindow != time.Hour {
		t.Fatalf("BaselineWindow = %v, want 1h", cfg.BaselineWindow)
	}
	if cfg.Alpha != 0.1 {
		t.Fatalf("Alpha = %v, want 0.1", cfg.Alpha)
	}
	if cfg.MinSamples != 10 || cfg.MinAnalysisSamples != 5 {
		t.Fatalf("sample minimums = %d/%d, want 10/5", cfg.MinSamples, cfg.MinAnalysisSamples)
	}
	if cfg.IncidentTTL != 30*time.Minute {
		t.Fatalf("IncidentTTL = %v, want 30m", cfg.IncidentTTL)
	}
}

func TestLoadRejectsInvalidAlpha(t *testing.T) {
	t.Setenv("SENTRYD_ALPHA", "1.5")
	if _, err := Load(context.Background()); err == nil {
		t.Fatalf("expected an error for alpha outside (0,1]")
	}
}

func TestLoadRejectsNonPositiveWindow(t *testing.T) {
	t.Setenv("SENTRYD_ANALYSIS_WINDOW", "0s")
	if _, err := Load(context.Background()); err == nil {
		t.Fatalf("expected an error for a zero analysis window")
	}
}

func TestMinKeepWindowTracksWiderWindow(t *testing.T) {
	cfg := Config{BaselineWindow: time.Hour, AnalysisWindow: 5 * time.Minute}
	if got := cfg.MinKeepWindow(); got != time.Hour {
		t.Fatalf("MinKeepWindow() = %v, want 1h", got)
	}
	cfg = Config{BaselineWindow: time.Minute, AnalysisWindow: 5 * time.Minute}
	if got := cfg.MinKeepWindow(); got != 5*time.Minute {
		t.Fatalf("MinKeepWindow() = %v, want 5m", got)
	}
}
