package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/plexushq/plexus/internal/quota"
)

const quotaSyncInterval = 60 * time.Second

// QuotaSyncWorker restores quota window state at startup and periodically
// persists the in-memory tracker so usage survives restarts.
type QuotaSyncWorker struct {
	tracker *quota.Tracker
	store   quota.StateStore
}

// NewQuotaSyncWorker creates a QuotaSyncWorker.
func NewQuotaSyncWorker(tracker *quota.Tracker, store quota.StateStore) *QuotaSyncWorker {
	return &QuotaSyncWorker{tracker: tracker, store: store}
}

// Run restores persisted state, then periodically exports the tracker until
// ctx is cancelled. A final export runs on shutdown.
func (w *QuotaSyncWorker) Run(ctx context.Context) error {
	records, err := w.store.LoadQuotaState(ctx)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "quota state restore failed",
			slog.String("error", err.Error()),
		)
	} else if len(records) > 0 {
		w.tracker.Restore(records)
		slog.Info("quota state restored", "windows", len(records))
	}

	ticker := time.NewTicker(quotaSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.export(ctx)
		case <-ctx.Done():
			exportCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.export(exportCtx)
			cancel()
			return nil
		}
	}
}

func (w *QuotaSyncWorker) export(ctx context.Context) {
	if err := w.store.UpsertQuotaState(ctx, w.tracker.Export()); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "quota state export failed",
			slog.String("error", err.Error()),
		)
	}
}
