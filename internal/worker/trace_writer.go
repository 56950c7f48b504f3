package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	plexus "github.com/plexushq/plexus/internal"
	"github.com/plexushq/plexus/internal/storage"
)

const (
	traceQueueCap   = 1000
	traceBatchSize  = 100
	traceFlushEvery = 5 * time.Second
	traceDrainTime  = 30 * time.Second
)

// gauge is the queue-length metric sink; satisfied by prometheus.Gauge.
type gauge interface {
	Set(float64)
}

// TraceWriter buffers finalized trace entries and batch-flushes them to the
// store. The queue is bounded: on overflow the oldest error entry is evicted
// first, so a failing upstream cannot crowd successful-request accounting
// out of the trace log.
type TraceWriter struct {
	mu    sync.Mutex
	queue []plexus.TraceEntry

	store storage.TraceStore
	depth gauge
}

// NewTraceWriter creates a TraceWriter backed by store. depth may be nil.
func NewTraceWriter(store storage.TraceStore, depth gauge) *TraceWriter {
	return &TraceWriter{
		queue: make([]plexus.TraceEntry, 0, traceQueueCap),
		store: store,
		depth: depth,
	}
}

// Record enqueues a trace entry. It never blocks.
func (w *TraceWriter) Record(e plexus.TraceEntry) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.queue) >= traceQueueCap {
		w.evictLocked()
	}
	w.queue = append(w.queue, e)
	if w.depth != nil {
		w.depth.Set(float64(len(w.queue)))
	}
}

// evictLocked drops the oldest error entry, or the oldest entry overall when
// the queue holds no errors.
func (w *TraceWriter) evictLocked() {
	idx := 0
	for i := range w.queue {
		if !w.queue[i].Success {
			idx = i
			break
		}
	}
	dropped := w.queue[idx]
	w.queue = append(w.queue[:idx], w.queue[idx+1:]...)
	slog.Warn("trace queue full, entry dropped",
		slog.String("request_id", dropped.RequestID),
		slog.Bool("success", dropped.Success),
	)
}

// Run flushes batches until ctx is cancelled, then drains the queue.
func (w *TraceWriter) Run(ctx context.Context) error {
	ticker := time.NewTicker(traceFlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.flush(ctx)
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), traceDrainTime)
			defer cancel()
			for w.flush(drainCtx) {
			}
			return nil
		}
	}
}

// flush writes up to one batch and reports whether entries remain queued.
func (w *TraceWriter) flush(ctx context.Context) bool {
	w.mu.Lock()
	n := min(len(w.queue), traceBatchSize)
	if n == 0 {
		w.mu.Unlock()
		return false
	}
	batch := make([]plexus.TraceEntry, n)
	copy(batch, w.queue[:n])
	w.queue = append(w.queue[:0], w.queue[n:]...)
	remaining := len(w.queue)
	w.mu.Unlock()

	if w.depth != nil {
		w.depth.Set(float64(remaining))
	}

	// Assign IDs off the hot path; callers leave ID empty.
	for i := range batch {
		if batch[i].ID == "" {
			batch[i].ID = uuid.Must(uuid.NewV7()).String()
		}
	}

	if err := w.store.InsertTraces(ctx, batch); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "trace flush failed",
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
		)
	}
	return remaining > 0
}
