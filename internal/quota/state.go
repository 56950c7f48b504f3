package quota

import (
	"context"
	"time"
)

// StateRecord is the persisted form of one window, upserted idempotently
// keyed by (key_name, limit_type).
type StateRecord struct {
	KeyName      string     `json:"key_name"`
	QuotaName    string     `json:"quota_name"`
	LimitType    string     `json:"limit_type"`
	CurrentUsage float64    `json:"current_usage"`
	LastUpdated  time.Time  `json:"last_updated"`
	WindowStart  *time.Time `json:"window_start,omitempty"`
}

// StateStore persists quota windows across restarts.
type StateStore interface {
	LoadQuotaState(ctx context.Context) ([]StateRecord, error)
	UpsertQuotaState(ctx context.Context, records []StateRecord) error
}

// Restore seeds the tracker from persisted records. Existing limits are
// preserved; only usage and window starts are restored.
func (t *Tracker) Restore(records []StateRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range records {
		w := t.windowLocked(r.KeyName, WindowType(r.LimitType))
		w.CurrentUsage = r.CurrentUsage
		w.LastUpdated = r.LastUpdated
		if r.WindowStart != nil {
			w.WindowStart = *r.WindowStart
		}
	}
}

// Export returns the persistable state of every window.
func (t *Tracker) Export() []StateRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []StateRecord
	for checkerID, byType := range t.windows {
		for wt, w := range byType {
			rec := StateRecord{
				KeyName:      checkerID,
				QuotaName:    checkerID,
				LimitType:    string(wt),
				CurrentUsage: w.CurrentUsage,
				LastUpdated:  w.LastUpdated,
			}
			if !w.WindowStart.IsZero() {
				ws := w.WindowStart
				rec.WindowStart = &ws
			}
			out = append(out, rec)
		}
	}
	return out
}
