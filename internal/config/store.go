package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// ChangeEvent describes one successful snapshot replacement.
type ChangeEvent struct {
	PreviousChecksum string   `json:"previous_checksum"`
	NewChecksum      string   `json:"new_checksum"`
	ChangedSections  []string `json:"changed_sections"`
	Version          int64    `json:"version"`
}

// Store holds the current Snapshot and the path of its source file. Reads are
// lock-free; writers (admin API, reloads) are serialized by a mutex.
type Store struct {
	path string

	cur atomic.Pointer[Snapshot]

	mu           sync.Mutex // serializes Replace/WriteConfig/Reload
	version      int64
	lastModified time.Time

	subMu   sync.Mutex
	subs    map[int]chan ChangeEvent
	nextSub int
}

// NewStore loads the config file at path and publishes the first snapshot.
func NewStore(path string) (*Store, error) {
	f, raw, err := Load(path)
	if err != nil {
		return nil, err
	}

	s := &Store{
		path: path,
		subs: make(map[int]chan ChangeEvent),
	}
	if fi, err := os.Stat(path); err == nil {
		s.lastModified = fi.ModTime()
	}

	snap := newSnapshot(f, raw)
	s.version = 1
	snap.Version = 1
	s.cur.Store(snap)
	return s, nil
}

// Current returns the live snapshot. The returned value is immutable; its
// Version is constant for the lifetime of the handle regardless of
// concurrent replaces.
func (s *Store) Current() *Snapshot {
	return s.cur.Load()
}

// Path returns the source file path.
func (s *Store) Path() string { return s.path }

// LastModified returns the source file's modification time as of the last
// successful load or write.
func (s *Store) LastModified() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastModified
}

// Subscribe registers a change listener. The returned cancel function must be
// called to release the subscription. Slow subscribers miss events rather
// than blocking a replace.
func (s *Store) Subscribe() (<-chan ChangeEvent, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan ChangeEvent, 8)
	s.subs[id] = ch
	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Store) publish(ev ChangeEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// replaceLocked swaps in a new snapshot and emits exactly one change event.
// Caller holds s.mu.
func (s *Store) replaceLocked(f *File, raw []byte) ChangeEvent {
	prev := s.cur.Load()

	snap := newSnapshot(f, raw)
	s.version++
	snap.Version = s.version
	s.cur.Store(snap)

	ev := ChangeEvent{
		PreviousChecksum: prev.Checksum,
		NewChecksum:      snap.Checksum,
		ChangedSections:  diffSections(prev.Raw, raw),
		Version:          snap.Version,
	}
	s.publish(ev)
	slog.Info("config replaced",
		"version", snap.Version,
		"changed_sections", ev.ChangedSections,
	)
	return ev
}

// Reload re-reads the source file, validates it, and swaps the snapshot.
func (s *Store) Reload() (ChangeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, raw, err := Load(s.path)
	if err != nil {
		return ChangeEvent{}, err
	}
	if fi, err := os.Stat(s.path); err == nil {
		s.lastModified = fi.ModTime()
	}
	return s.replaceLocked(f, raw), nil
}

// WriteConfig atomically rewrites the source file. When validate is true the
// new content must parse and validate before any bytes hit the disk; failure
// aborts before the rename. When reload is true the in-memory snapshot is
// swapped in the same critical section; otherwise the file changes on disk
// but the running snapshot stays until the next Reload.
func (s *Store) WriteConfig(data []byte, validate, reload bool) (ChangeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := Parse(data)
	if err != nil {
		return ChangeEvent{}, err
	}
	if validate {
		if err := f.Validate(); err != nil {
			return ChangeEvent{}, err
		}
	}

	if err := atomicWrite(s.path, data); err != nil {
		return ChangeEvent{}, err
	}
	if fi, err := os.Stat(s.path); err == nil {
		s.lastModified = fi.ModTime()
	}

	if !reload {
		return ChangeEvent{NewChecksum: checksum(data)}, nil
	}
	return s.replaceLocked(f, data), nil
}

// atomicWrite writes data to a temp file next to path, fsyncs, and renames.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
