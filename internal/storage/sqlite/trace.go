package sqlite

import (
	"context"
	"strings"
	"time"

	plexus "github.com/plexushq/plexus/internal"
)

// traceColumns lists the traces table columns in insert and scan order.
const traceColumns = `id, request_id, client_ip, key_name, client_api,
	alias, provider_id, model, target_api, streaming, success,
	input_tokens, output_tokens, cached_tokens, reasoning_tokens, total_tokens,
	cost_usd, cost_source, provider_ttft_ms, client_ttft_ms, duration_ms,
	tokens_per_second, truncated, error_type, error_message, http_status, created_at`

// InsertTraces batch-inserts trace entries.
func (s *Store) InsertTraces(ctx context.Context, entries []plexus.TraceEntry) error {
	if len(entries) == 0 {
		return nil
	}

	// cols must match the number of columns in the INSERT below.
	// Single multi-row INSERT avoids N round-trips for large batches.
	const cols = 27
	placeholders := make([]string, len(entries))
	args := make([]any, 0, len(entries)*cols)

	for i, e := range entries {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args,
			e.ID, e.RequestID, e.ClientIP, e.KeyName, string(e.ClientAPI),
			e.Alias, e.ProviderID, e.Model, string(e.TargetAPI),
			boolToInt(e.Streaming), boolToInt(e.Success),
			e.Usage.InputTokens, e.Usage.OutputTokens, e.Usage.CachedTokens,
			e.Usage.ReasoningTokens, e.Usage.TotalTokens,
			e.CostUSD, e.CostSource, e.ProviderTTFTMs, e.ClientTTFTMs, e.DurationMs,
			e.TokensPerSecond, boolToInt(e.Truncated),
			e.ErrorType, e.ErrorMessage, e.HTTPStatus,
			e.CreatedAt.UTC().Format(time.RFC3339),
		)
	}

	query := `INSERT INTO traces (` + traceColumns + `) VALUES ` + strings.Join(placeholders, ", ")
	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}

// QueryTraces returns trace entries matching the filter, newest first.
func (s *Store) QueryTraces(ctx context.Context, f plexus.TraceFilter) ([]plexus.TraceEntry, error) {
	where, args := traceWhere(f, nil)
	return s.queryTraces(ctx, where, args, f)
}

// QueryErrors returns failed trace entries matching the filter, newest first.
func (s *Store) QueryErrors(ctx context.Context, f plexus.TraceFilter) ([]plexus.TraceEntry, error) {
	where, args := traceWhere(f, []string{"success = 0"})
	return s.queryTraces(ctx, where, args, f)
}

// CountTraces returns the count of trace entries matching the filter.
func (s *Store) CountTraces(ctx context.Context, f plexus.TraceFilter) (int, error) {
	where, args := traceWhere(f, nil)
	var n int
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM traces`+where, args...,
	).Scan(&n)
	return n, err
}

func (s *Store) queryTraces(ctx context.Context, where string, args []any, f plexus.TraceFilter) ([]plexus.TraceEntry, error) {
	query := `SELECT ` + traceColumns + ` FROM traces` + where + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)

	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []plexus.TraceEntry
	for rows.Next() {
		var e plexus.TraceEntry
		var clientAPI, targetAPI, createdAt string
		var streaming, success, truncated int
		err := rows.Scan(
			&e.ID, &e.RequestID, &e.ClientIP, &e.KeyName, &clientAPI,
			&e.Alias, &e.ProviderID, &e.Model, &targetAPI,
			&streaming, &success,
			&e.Usage.InputTokens, &e.Usage.OutputTokens, &e.Usage.CachedTokens,
			&e.Usage.ReasoningTokens, &e.Usage.TotalTokens,
			&e.CostUSD, &e.CostSource, &e.ProviderTTFTMs, &e.ClientTTFTMs, &e.DurationMs,
			&e.TokensPerSecond, &truncated,
			&e.ErrorType, &e.ErrorMessage, &e.HTTPStatus,
			&createdAt,
		)
		if err != nil {
			return nil, err
		}
		e.ClientAPI = plexus.ClientAPI(clientAPI)
		e.TargetAPI = plexus.ClientAPI(targetAPI)
		e.Streaming = streaming != 0
		e.Success = success != 0
		e.Truncated = truncated != 0
		if t, perr := time.Parse(time.RFC3339, createdAt); perr == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func traceWhere(f plexus.TraceFilter, clauses []string) (string, []any) {
	var args []any
	if f.Provider != "" {
		clauses = append(clauses, "provider_id = ?")
		args = append(args, f.Provider)
	}
	if f.Model != "" {
		clauses = append(clauses, "model = ?")
		args = append(args, f.Model)
	}
	if f.Since != "" {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.Since)
	}
	if f.Until != "" {
		clauses = append(clauses, "created_at < ?")
		args = append(args, f.Until)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
