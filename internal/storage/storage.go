// Package storage defines persistence interfaces for the gateway.
package storage

import (
	"context"

	plexus "github.com/plexushq/plexus/internal"
	"github.com/plexushq/plexus/internal/quota"
)

// TraceStore persists finalized request traces. Success and failure entries
// share one table; failures carry the error columns.
type TraceStore interface {
	InsertTraces(ctx context.Context, entries []plexus.TraceEntry) error
	QueryTraces(ctx context.Context, f plexus.TraceFilter) ([]plexus.TraceEntry, error)
	CountTraces(ctx context.Context, f plexus.TraceFilter) (int, error)
	QueryErrors(ctx context.Context, f plexus.TraceFilter) ([]plexus.TraceEntry, error)
}

// QuotaStateStore persists quota window state across restarts.
type QuotaStateStore interface {
	LoadQuotaState(ctx context.Context) ([]quota.StateRecord, error)
	UpsertQuotaState(ctx context.Context, records []quota.StateRecord) error
}

// Store combines all storage interfaces.
type Store interface {
	TraceStore
	QuotaStateStore
	Ping(ctx context.Context) error
	Close() error
}
