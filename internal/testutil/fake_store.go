package testutil

import (
	"context"
	"sync"

	plexus "github.com/plexushq/plexus/internal"
	"github.com/plexushq/plexus/internal/quota"
)

// FakeStore is an in-memory implementation of storage.Store for testing.
type FakeStore struct {
	mu         sync.Mutex
	traces     []plexus.TraceEntry
	quotaState []quota.StateRecord
	PingErr    error
	InsertErr  error
	LoadErr    error
}

// NewFakeStore returns an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{}
}

// Traces returns a copy of all inserted trace entries.
func (s *FakeStore) Traces() []plexus.TraceEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]plexus.TraceEntry, len(s.traces))
	copy(out, s.traces)
	return out
}

// InsertTraces appends entries, or fails with InsertErr when set.
func (s *FakeStore) InsertTraces(_ context.Context, entries []plexus.TraceEntry) error {
	if s.InsertErr != nil {
		return s.InsertErr
	}
	s.mu.Lock()
	s.traces = append(s.traces, entries...)
	s.mu.Unlock()
	return nil
}

// QueryTraces returns stored entries matching the filter's provider and model.
func (s *FakeStore) QueryTraces(_ context.Context, f plexus.TraceFilter) ([]plexus.TraceEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []plexus.TraceEntry
	for _, e := range s.traces {
		if f.Provider != "" && e.ProviderID != f.Provider {
			continue
		}
		if f.Model != "" && e.Model != f.Model {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// CountTraces counts entries matching the filter.
func (s *FakeStore) CountTraces(ctx context.Context, f plexus.TraceFilter) (int, error) {
	entries, err := s.QueryTraces(ctx, f)
	return len(entries), err
}

// QueryErrors returns stored failure entries matching the filter.
func (s *FakeStore) QueryErrors(ctx context.Context, f plexus.TraceFilter) ([]plexus.TraceEntry, error) {
	entries, err := s.QueryTraces(ctx, f)
	if err != nil {
		return nil, err
	}
	var out []plexus.TraceEntry
	for _, e := range entries {
		if !e.Success {
			out = append(out, e)
		}
	}
	return out, nil
}

// LoadQuotaState returns the stored quota records, or fails with LoadErr when set.
func (s *FakeStore) LoadQuotaState(_ context.Context) ([]quota.StateRecord, error) {
	if s.LoadErr != nil {
		return nil, s.LoadErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]quota.StateRecord, len(s.quotaState))
	copy(out, s.quotaState)
	return out, nil
}

// UpsertQuotaState replaces the stored quota records.
func (s *FakeStore) UpsertQuotaState(_ context.Context, records []quota.StateRecord) error {
	s.mu.Lock()
	s.quotaState = append(s.quotaState[:0], records...)
	s.mu.Unlock()
	return nil
}

// Ping returns PingErr.
func (s *FakeStore) Ping(context.Context) error { return s.PingErr }

// Close is a no-op.
func (s *FakeStore) Close() error { return nil }
