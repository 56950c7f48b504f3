// Package cooldown implements the per-provider failure tracking state
// machine. A provider is either Free or Active (on cooldown until an expiry);
// classified failures start or extend cooldowns, successes clear them. The
// router consults Filter to skip known-bad providers, reducing failover
// latency from seconds (timeout + network) to a map lookup.
package cooldown

import (
	"sync"
	"time"

	plexus "github.com/plexushq/plexus/internal"
)

// Reason classifies why a provider entered cooldown.
type Reason string

const (
	ReasonRateLimit  Reason = "rate_limit"
	ReasonAuth       Reason = "auth_error"
	ReasonTimeout    Reason = "timeout"
	ReasonServer     Reason = "server_error"
	ReasonConnection Reason = "connection_error"
	ReasonManual     Reason = "manual"
)

// Duration policy per reason. Doubling reasons back off on consecutive
// failures and reset on the first success.
const (
	rateLimitFloor = 30 * time.Second
	rateLimitCap   = time.Hour
	authDuration   = 15 * time.Minute
	timeoutBase    = 60 * time.Second
	timeoutCap     = 10 * time.Minute
	serverBase     = 60 * time.Second
	serverCap      = 10 * time.Minute
	connBase       = 30 * time.Second
	connCap        = 5 * time.Minute
)

// Entry is the externally visible cooldown state for one provider.
type Entry struct {
	ProviderID string    `json:"provider_id"`
	Reason     Reason    `json:"reason"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"` // zero for manual (until cleared)
	HTTPStatus int       `json:"http_status,omitempty"`
	Message    string    `json:"message,omitempty"`
	RetryAfter int       `json:"retry_after_seconds,omitempty"`
}

// Active reports whether the cooldown is still in force at now.
func (e *Entry) Active(now time.Time) bool {
	if e.Reason == ReasonManual && e.End.IsZero() {
		return true
	}
	return now.Before(e.End)
}

// state holds the cooldown entry plus the consecutive-failure counters that
// drive exponential backoff.
type state struct {
	entry       Entry
	consecutive map[Reason]int
}

// Manager owns all cooldown entries. Safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*state
	now     func() time.Time
}

// NewManager creates a Manager using wall-clock time.
func NewManager() *Manager {
	return NewManagerWithClock(time.Now)
}

// NewManagerWithClock creates a Manager with an injected clock for tests.
func NewManagerWithClock(now func() time.Time) *Manager {
	return &Manager{entries: make(map[string]*state), now: now}
}

// RecordFailure transitions the provider to Active with a duration derived
// from the reason's policy. retryAfter applies only to rate_limit; httpStatus
// and msg are carried for operator visibility.
func (m *Manager) RecordFailure(providerID string, reason Reason, httpStatus int, retryAfter time.Duration, msg string) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.entries[providerID]
	if !ok {
		st = &state{consecutive: make(map[Reason]int)}
		m.entries[providerID] = st
	}
	st.consecutive[reason]++

	d := m.duration(reason, retryAfter, st.consecutive[reason])
	end := now.Add(d)
	if reason == ReasonManual {
		end = time.Time{}
	}

	st.entry = Entry{
		ProviderID: providerID,
		Reason:     reason,
		Start:      now,
		End:        end,
		HTTPStatus: httpStatus,
		Message:    msg,
		RetryAfter: int(retryAfter / time.Second),
	}
}

// duration computes the cooldown length for the nth consecutive failure.
func (m *Manager) duration(reason Reason, retryAfter time.Duration, nth int) time.Duration {
	switch reason {
	case ReasonRateLimit:
		d := max(retryAfter, rateLimitFloor)
		return min(d, rateLimitCap)
	case ReasonAuth:
		return authDuration
	case ReasonTimeout:
		return doubled(timeoutBase, timeoutCap, nth)
	case ReasonServer:
		return doubled(serverBase, serverCap, nth)
	case ReasonConnection:
		return doubled(connBase, connCap, nth)
	default:
		return 0
	}
}

// doubled returns base * 2^(nth-1), capped at ceil.
func doubled(base, ceil time.Duration, nth int) time.Duration {
	d := base
	for i := 1; i < nth; i++ {
		d *= 2
		if d >= ceil {
			return ceil
		}
	}
	return min(d, ceil)
}

// RecordSuccess transitions the provider to Free and resets backoff counters.
// Manual cooldowns survive; only Clear releases them.
func (m *Manager) RecordSuccess(providerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.entries[providerID]
	if !ok {
		return
	}
	if st.entry.Reason == ReasonManual && st.entry.Active(m.now()) {
		clear(st.consecutive)
		return
	}
	delete(m.entries, providerID)
}

// Clear removes any cooldown for the provider, including manual ones.
func (m *Manager) Clear(providerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, providerID)
}

// IsOnCooldown reports whether the provider is Active and the remaining
// duration. Manual cooldowns report zero remaining.
func (m *Manager) IsOnCooldown(providerID string) (bool, time.Duration) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.entries[providerID]
	if !ok || !st.entry.Active(now) {
		return false, 0
	}
	if st.entry.End.IsZero() {
		return true, 0
	}
	return true, st.entry.End.Sub(now)
}

// Filter returns the targets whose provider is Free, preserving order.
func (m *Manager) Filter(targets []plexus.Target) []plexus.Target {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]plexus.Target, 0, len(targets))
	for _, t := range targets {
		if st, ok := m.entries[t.Provider]; ok && st.entry.Active(now) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// MinRemaining returns the smallest remaining cooldown across the targets'
// providers, used to populate Retry-After on 503 responses. Returns 0 when no
// target has a finite cooldown.
func (m *Manager) MinRemaining(targets []plexus.Target) time.Duration {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	var best time.Duration
	for _, t := range targets {
		st, ok := m.entries[t.Provider]
		if !ok || !st.entry.Active(now) || st.entry.End.IsZero() {
			continue
		}
		remaining := st.entry.End.Sub(now)
		if best == 0 || remaining < best {
			best = remaining
		}
	}
	return best
}

// Snapshot returns all currently active entries, for the admin surface.
func (m *Manager) Snapshot() []Entry {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Entry
	for _, st := range m.entries {
		if st.entry.Active(now) {
			out = append(out, st.entry)
		}
	}
	return out
}
