package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/plexushq/plexus/internal/storage/debugfs"
)

const retentionSweepInterval = time.Hour

// DebugRetentionWorker prunes expired debug captures.
type DebugRetentionWorker struct {
	store     *debugfs.Store
	retention time.Duration
}

// NewDebugRetentionWorker creates a retention worker keeping captures for
// retentionDays.
func NewDebugRetentionWorker(store *debugfs.Store, retentionDays int) *DebugRetentionWorker {
	return &DebugRetentionWorker{
		store:     store,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
	}
}

// Run sweeps once at startup, then hourly until ctx is cancelled.
func (w *DebugRetentionWorker) Run(ctx context.Context) error {
	w.sweep(ctx)

	ticker := time.NewTicker(retentionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sweep(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *DebugRetentionWorker) sweep(ctx context.Context) {
	removed, err := w.store.Prune(time.Now().Add(-w.retention))
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "debug retention sweep failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if removed > 0 {
		slog.Info("debug captures pruned", "removed", removed)
	}
}
