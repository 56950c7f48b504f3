// Package debugfs captures full request artifacts on the local filesystem
// when debug mode is enabled. Each request gets its own directory named
// <isoTimestamp>-<requestId> holding the client request, the provider
// request, and the byte-exact response stream.
package debugfs

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// dirStamp is a filename-safe ISO timestamp layout. Colons are replaced
// because they are invalid on some filesystems.
const dirStamp = "2006-01-02T15-04-05.000Z"

// Store writes debug captures under a root directory.
type Store struct {
	root string
}

// New creates a Store rooted at dir, creating it if missing.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("debugfs: create root: %w", err)
	}
	return &Store{root: dir}, nil
}

// Root returns the capture root directory.
func (s *Store) Root() string { return s.root }

// Capture is one request's debug directory. Artifact writes are best-effort:
// a failed capture logs a warning and never fails the request.
type Capture struct {
	dir string
}

// Begin creates the capture directory for one request.
func (s *Store) Begin(requestID string, start time.Time) (*Capture, error) {
	name := start.UTC().Format(dirStamp) + "-" + sanitize(requestID)
	dir := filepath.Join(s.root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("debugfs: create capture dir: %w", err)
	}
	return &Capture{dir: dir}, nil
}

// Dir returns the capture directory path.
func (c *Capture) Dir() string { return c.dir }

// Write stores one artifact file in the capture directory.
func (c *Capture) Write(name string, data []byte) {
	if err := os.WriteFile(filepath.Join(c.dir, name), data, 0o644); err != nil {
		slog.Warn("debug capture write failed",
			slog.String("file", name),
			slog.String("error", err.Error()),
		)
	}
}

// Prune removes capture directories older than cutoff, returning how many
// were removed. Directory age comes from the timestamp prefix in the name,
// not file mtimes, so copies and restores do not reset retention.
func (s *Store) Prune(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("debugfs: read root: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		stamp, _, ok := strings.Cut(e.Name(), "Z-")
		if !ok {
			continue
		}
		t, err := time.Parse(dirStamp, stamp+"Z")
		if err != nil {
			continue
		}
		if t.Before(cutoff) {
			if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
				slog.Warn("debug capture prune failed",
					slog.String("dir", e.Name()),
					slog.String("error", err.Error()),
				)
				continue
			}
			removed++
		}
	}
	return removed, nil
}

// sanitize strips path separators from untrusted id components.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '-'
		}
		return r
	}, s)
}
