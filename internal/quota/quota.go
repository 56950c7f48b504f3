// Package quota implements windowed usage counters per quota checker and the
// admission check the router applies to providers that declare one.
package quota

import (
	"sync"
	"time"
)

// WindowType identifies one quota window shape.
type WindowType string

const (
	WindowFiveHour     WindowType = "five_hour"
	WindowDaily        WindowType = "daily"
	WindowWeekly       WindowType = "weekly"
	WindowMonthly      WindowType = "monthly"
	WindowToolCalls    WindowType = "toolcalls"
	WindowSearch       WindowType = "search"
	WindowSubscription WindowType = "subscription"
)

// Duration returns the window length. toolcalls and search are usage-count
// windows that roll daily; subscription is an informational balance with no
// rollover.
func (w WindowType) Duration() time.Duration {
	switch w {
	case WindowFiveHour:
		return 5 * time.Hour
	case WindowDaily, WindowToolCalls, WindowSearch:
		return 24 * time.Hour
	case WindowWeekly:
		return 7 * 24 * time.Hour
	case WindowMonthly:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// Gates reports whether the window participates in admission. Subscription
// windows are informational only.
func (w WindowType) Gates() bool { return w != WindowSubscription }

// Window is the state of one (checker, window-type) counter.
type Window struct {
	CheckerID    string     `json:"checker_id"`
	Type         WindowType `json:"window_type"`
	CurrentUsage float64    `json:"current_usage"`
	Limit        float64    `json:"limit"`
	WindowStart  time.Time  `json:"window_start,omitempty"`
	LastUpdated  time.Time  `json:"last_updated"`
}

// UtilizationPercent returns 100 * usage / limit, or 0 for a zero limit.
func (w *Window) UtilizationPercent() float64 {
	if w.Limit <= 0 {
		return 0
	}
	return 100 * w.CurrentUsage / w.Limit
}

// Tracker owns all quota windows. Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	windows map[string]map[WindowType]*Window
	now     func() time.Time
}

// NewTracker creates a Tracker using wall-clock time.
func NewTracker() *Tracker {
	return NewTrackerWithClock(time.Now)
}

// NewTrackerWithClock creates a Tracker with an injected clock for tests.
func NewTrackerWithClock(now func() time.Time) *Tracker {
	return &Tracker{windows: make(map[string]map[WindowType]*Window), now: now}
}

// SetLimit declares (or updates) the limit for a window, creating it when
// absent. A limit of 0 removes the gate but keeps the counter.
func (t *Tracker) SetLimit(checkerID string, wt WindowType, limit float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.windowLocked(checkerID, wt)
	w.Limit = limit
}

// Observe advances a window's usage by delta, rolling the window over first
// when its duration has elapsed.
func (t *Tracker) Observe(checkerID string, wt WindowType, delta float64) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	w := t.windowLocked(checkerID, wt)
	t.rollLocked(w, now)
	w.CurrentUsage += delta
	if w.CurrentUsage < 0 {
		w.CurrentUsage = 0
	}
	w.LastUpdated = now
}

// windowLocked returns the window for (checkerID, wt), creating it if needed.
func (t *Tracker) windowLocked(checkerID string, wt WindowType) *Window {
	byType, ok := t.windows[checkerID]
	if !ok {
		byType = make(map[WindowType]*Window)
		t.windows[checkerID] = byType
	}
	w, ok := byType[wt]
	if !ok {
		w = &Window{CheckerID: checkerID, Type: wt, WindowStart: t.now()}
		byType[wt] = w
	}
	return w
}

// rollLocked resets the window when its duration has elapsed.
func (t *Tracker) rollLocked(w *Window, now time.Time) {
	d := w.Type.Duration()
	if d <= 0 || w.WindowStart.IsZero() {
		return
	}
	if !now.Before(w.WindowStart.Add(d)) {
		w.CurrentUsage = 0
		w.WindowStart = now
	}
}

// Snapshot returns copies of all windows for a checker.
func (t *Tracker) Snapshot(checkerID string) []Window {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	byType := t.windows[checkerID]
	out := make([]Window, 0, len(byType))
	for _, w := range byType {
		t.rollLocked(w, now)
		out = append(out, *w)
	}
	return out
}

// Admit reports whether the checker allows another request: deny when any
// gating window with a positive limit is at or past it.
func (t *Tracker) Admit(checkerID string) bool {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, w := range t.windows[checkerID] {
		if !w.Type.Gates() || w.Limit <= 0 {
			continue
		}
		t.rollLocked(w, now)
		if w.CurrentUsage >= w.Limit {
			return false
		}
	}
	return true
}
