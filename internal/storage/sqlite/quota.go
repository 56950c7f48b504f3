package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/plexushq/plexus/internal/quota"
)

// UpsertQuotaState writes quota window records in a single transaction,
// keyed by (key_name, quota_name, limit_type).
func (s *Store) UpsertQuotaState(ctx context.Context, records []quota.StateRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO quota_state (key_name, quota_name, limit_type, current_usage, window_start, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key_name, quota_name, limit_type) DO UPDATE SET
		 current_usage = excluded.current_usage,
		 window_start = excluded.window_start,
		 last_updated = excluded.last_updated`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		var windowStart any
		if r.WindowStart != nil {
			windowStart = r.WindowStart.UTC().Format(time.RFC3339)
		}
		if _, err := stmt.ExecContext(ctx,
			r.KeyName, r.QuotaName, r.LimitType, r.CurrentUsage,
			windowStart, r.LastUpdated.UTC().Format(time.RFC3339),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadQuotaState returns all persisted quota window records.
func (s *Store) LoadQuotaState(ctx context.Context) ([]quota.StateRecord, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT key_name, quota_name, limit_type, current_usage, window_start, last_updated FROM quota_state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []quota.StateRecord
	for rows.Next() {
		var r quota.StateRecord
		var windowStart sql.NullString
		var lastUpdated string
		if err := rows.Scan(&r.KeyName, &r.QuotaName, &r.LimitType, &r.CurrentUsage, &windowStart, &lastUpdated); err != nil {
			return nil, err
		}
		if windowStart.Valid {
			if t, perr := time.Parse(time.RFC3339, windowStart.String); perr == nil {
				r.WindowStart = &t
			}
		}
		if t, perr := time.Parse(time.RFC3339, lastUpdated); perr == nil {
			r.LastUpdated = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
