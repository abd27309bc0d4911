package store

import (
	"context"
	"fmt"
	"os"
	"time"
)

func (m *Manager) WALSizeBytes() int64 {
	fi, err := os.Stat(m.path + "-wal")
	if err != nil {
		return 0
	}
	return fi.Size()
}

func (m *Manager) DBSizeBytes() int64 {
	fi, err := os.Stat(m.path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

func (m *Manager) CheckpointIfWALExceeds(ctx context.Context, thresholdBytes int64) (bool, error) {
	if m.WALSizeBytes() <= thresholdBytes {
		return false, nil
	}
	if _, err := m.writer.ExecContext(ctx, "PRAGMA wal_checkpoint(RESTART)"); err != nil {
		return false, fmt.Errorf("wal restart checkpoint: %w", err)
	}
	return true, nil
}

// PruneOlderThan deletes records older than retention, but never touches
// anything newer than minKeepWindow regardless of how short retention is
// configured: pruning must never reach inside the detector's analysis
// window or the learner's baseline window.
func (m *Manager) PruneOlderThan(ctx context.Context, retention, minKeepWindow time.Duration) (deleted int64, err error) {
	if minKeepWindow > retention {
		retention = minKeepWindow
	}
	cutoff := time.Now().Add(-retention).UnixMilli()

	res, execErr := m.writer.ExecContext(ctx, "DELETE FROM telemetry WHERE timestamp_ms < ?", cutoff)
	if execErr != nil {
		return 0, fmt.Errorf("prune telemetry: %w", execErr)
	}
	deleted, _ = res.RowsAffected()

	if deleted > 0 {
		_, _ = m.writer.ExecContext(ctx, "PRAGMA incremental_vacuum(1000)")
	}
	return deleted, nil
}
