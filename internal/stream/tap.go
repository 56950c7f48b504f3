package stream

import (
	"sync"
	"time"

	plexus "github.com/plexushq/plexus/internal"
)

// maxTapBytes caps the captured client stream. Streams larger than this keep
// only the most recent bytes and are flagged truncated in the trace.
const maxTapBytes = 8 << 20 // 8 MiB

// Tap captures a byte-exact copy of everything written toward the client.
// The capture never alters the bytes on the wire; it only observes them.
// A Tap is owned by one request goroutine but Bytes may be read after the
// request finishes, so access is locked.
type Tap struct {
	mu        sync.Mutex
	buf       []byte
	truncated bool
	rc        *plexus.RequestContext
}

// NewTap creates a Tap bound to the request context for first-token marks.
func NewTap(rc *plexus.RequestContext) *Tap {
	return &Tap{rc: rc}
}

// Observe records p as bytes sent to the client. The first non-empty call
// marks the client-side time to first token; keep-alive and other empty
// writes do not count.
func (t *Tap) Observe(p []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rc != nil && len(p) > 0 {
		t.rc.MarkClientFirstToken(time.Now())
	}

	t.buf = append(t.buf, p...)
	if len(t.buf) > maxTapBytes {
		// Keep the tail: the end of a stream (finish reason, usage) is
		// worth more in a debug capture than the start.
		t.buf = t.buf[len(t.buf)-maxTapBytes:]
		t.truncated = true
	}
}

// Bytes returns a copy of the captured stream and whether it was truncated.
func (t *Tap) Bytes() ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]byte, len(t.buf))
	copy(out, t.buf)
	return out, t.truncated
}

// Truncated reports whether the capture exceeded the byte cap.
func (t *Tap) Truncated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.truncated
}
