package quota

import (
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1700000000, 0)} }

func TestWindowDurations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		wt   WindowType
		want time.Duration
	}{
		{WindowFiveHour, 5 * time.Hour},
		{WindowDaily, 24 * time.Hour},
		{WindowWeekly, 7 * 24 * time.Hour},
		{WindowMonthly, 30 * 24 * time.Hour},
		{WindowToolCalls, 24 * time.Hour},
		{WindowSearch, 24 * time.Hour},
		{WindowSubscription, 0},
	}
	for _, tt := range tests {
		if got := tt.wt.Duration(); got != tt.want {
			t.Fatalf("%s.Duration() = %v, want %v", tt.wt, got, tt.want)
		}
	}
}

func TestAdmitDeniesAtLimit(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	tr := NewTrackerWithClock(clock.now)

	tr.SetLimit("claude", WindowFiveHour, 3)
	for i := 0; i < 3; i++ {
		if !tr.Admit("claude") {
			t.Fatalf("Admit() = false before limit, at request %d", i)
		}
		tr.Observe("claude", WindowFiveHour, 1)
	}
	if tr.Admit("claude") {
		t.Fatal("Admit() = true at limit")
	}
}

func TestWindowRollsOver(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	tr := NewTrackerWithClock(clock.now)

	tr.SetLimit("claude", WindowFiveHour, 2)
	tr.Observe("claude", WindowFiveHour, 2)
	if tr.Admit("claude") {
		t.Fatal("Admit() = true at limit")
	}

	clock.advance(5*time.Hour + time.Second)
	if !tr.Admit("claude") {
		t.Fatal("Admit() = false after window rollover")
	}
	snap := tr.Snapshot("claude")
	if len(snap) != 1 {
		t.Fatalf("len(Snapshot()) = %d, want 1", len(snap))
	}
	if snap[0].CurrentUsage != 0 {
		t.Fatalf("usage after rollover = %v, want 0", snap[0].CurrentUsage)
	}
}

func TestSubscriptionNeverGates(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	tr := NewTrackerWithClock(clock.now)

	tr.SetLimit("claude", WindowSubscription, 10)
	tr.Observe("claude", WindowSubscription, 250)
	if !tr.Admit("claude") {
		t.Fatal("subscription window gated admission")
	}

	// It never rolls over either.
	clock.advance(90 * 24 * time.Hour)
	snap := tr.Snapshot("claude")
	if snap[0].CurrentUsage != 250 {
		t.Fatalf("subscription usage = %v, want 250", snap[0].CurrentUsage)
	}
}

func TestZeroLimitDoesNotGate(t *testing.T) {
	t.Parallel()
	tr := NewTracker()
	tr.Observe("minimax", WindowDaily, 1e9)
	if !tr.Admit("minimax") {
		t.Fatal("window with no limit gated admission")
	}
}

func TestUnknownCheckerAdmits(t *testing.T) {
	t.Parallel()
	tr := NewTracker()
	if !tr.Admit("nope") {
		t.Fatal("Admit() = false for unknown checker")
	}
}

func TestObserveClampsNegative(t *testing.T) {
	t.Parallel()
	tr := NewTracker()
	tr.Observe("c", WindowDaily, 5)
	tr.Observe("c", WindowDaily, -20)
	snap := tr.Snapshot("c")
	if snap[0].CurrentUsage != 0 {
		t.Fatalf("usage = %v, want 0", snap[0].CurrentUsage)
	}
}

func TestUtilizationPercent(t *testing.T) {
	t.Parallel()
	w := &Window{CurrentUsage: 50, Limit: 200}
	if got := w.UtilizationPercent(); got != 25 {
		t.Fatalf("UtilizationPercent() = %v, want 25", got)
	}
	w.Limit = 0
	if got := w.UtilizationPercent(); got != 0 {
		t.Fatalf("UtilizationPercent() with zero limit = %v, want 0", got)
	}
}

func TestExportRestoreRoundTrip(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	tr := NewTrackerWithClock(clock.now)

	tr.SetLimit("claude", WindowFiveHour, 100)
	tr.Observe("claude", WindowFiveHour, 42)
	tr.Observe("claude", WindowSubscription, 1.25)

	records := tr.Export()
	if len(records) != 2 {
		t.Fatalf("len(Export()) = %d, want 2", len(records))
	}

	fresh := NewTrackerWithClock(clock.now)
	fresh.SetLimit("claude", WindowFiveHour, 100)
	fresh.Restore(records)

	snap := fresh.Snapshot("claude")
	byType := make(map[WindowType]Window, len(snap))
	for _, w := range snap {
		byType[w.Type] = w
	}
	if got := byType[WindowFiveHour].CurrentUsage; got != 42 {
		t.Fatalf("restored five_hour usage = %v, want 42", got)
	}
	if got := byType[WindowFiveHour].Limit; got != 100 {
		t.Fatalf("restored five_hour limit = %v, want 100", got)
	}
	if got := byType[WindowSubscription].CurrentUsage; got != 1.25 {
		t.Fatalf("restored subscription usage = %v, want 1.25", got)
	}
}

func TestRestorePreservesWindowStart(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	tr := NewTrackerWithClock(clock.now)

	start := clock.t.Add(-4 * time.Hour)
	tr.Restore([]StateRecord{{
		KeyName:      "claude",
		LimitType:    string(WindowFiveHour),
		CurrentUsage: 7,
		WindowStart:  &start,
	}})

	// Advance past the restored window's expiry; usage resets.
	clock.advance(2 * time.Hour)
	snap := tr.Snapshot("claude")
	if snap[0].CurrentUsage != 0 {
		t.Fatalf("usage = %v, want 0 after restored window elapsed", snap[0].CurrentUsage)
	}
}
