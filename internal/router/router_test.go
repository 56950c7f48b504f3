package router

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	plexus "github.com/plexushq/plexus/internal"
	"github.com/plexushq/plexus/internal/config"
	"github.com/plexushq/plexus/internal/cooldown"
	"github.com/plexushq/plexus/internal/quota"
)

const routerConfig = `
providers:
  primary:
    type: openai
    base_url: https://api.openai.com
    api_key: sk-1
  secondary:
    type: anthropic
    base_url: https://api.anthropic.com
    api_key: sk-2
    quota_checker: claude
models:
  gpt-4o:
    targets:
      - provider: primary
        model: gpt-4o-2024-08-06
      - provider: secondary
        model: claude-sonnet-4
  cheapest:
    targets:
      - provider: primary
        model: gpt-4o-mini
    selector: cost
quotas:
  claude:
    type: window
`

func newTestRouter(t *testing.T, seed int64) (*Router, *cooldown.Manager, *quota.Tracker) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plexus.yaml")
	if err := os.WriteFile(path, []byte(routerConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	store, err := config.NewStore(path)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	cd := cooldown.NewManager()
	qt := quota.NewTracker()
	return New(store, cd, qt, seed), cd, qt
}

func TestResolveUnknownAlias(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRouter(t, 1)
	_, err := r.Resolve(context.Background(), "ghost")
	if !errors.Is(err, plexus.ErrModelNotFound) {
		t.Fatalf("Resolve() error = %v, want ErrModelNotFound", err)
	}
}

func TestResolveDeterministicWithSeed(t *testing.T) {
	t.Parallel()
	a, _, _ := newTestRouter(t, 42)
	b, _, _ := newTestRouter(t, 42)

	for i := 0; i < 20; i++ {
		da, err := a.Resolve(context.Background(), "gpt-4o")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		db, err := b.Resolve(context.Background(), "gpt-4o")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if da.ProviderID != db.ProviderID {
			t.Fatalf("pick %d diverged: %q vs %q", i, da.ProviderID, db.ProviderID)
		}
	}
}

func TestResolveSkipsCooledProvider(t *testing.T) {
	t.Parallel()
	r, cd, _ := newTestRouter(t, 7)

	cd.RecordFailure("primary", cooldown.ReasonServer, 500, 0, "boom")
	for i := 0; i < 10; i++ {
		d, err := r.Resolve(context.Background(), "gpt-4o")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if d.ProviderID != "secondary" {
			t.Fatalf("pick %d = %q, want secondary", i, d.ProviderID)
		}
		if d.Model != "claude-sonnet-4" {
			t.Fatalf("model = %q, want claude-sonnet-4", d.Model)
		}
		if d.Provider == nil || d.Provider.Type != plexus.ProviderAnthropic {
			t.Fatalf("decision provider record = %+v", d.Provider)
		}
	}
}

func TestResolveAllCooled(t *testing.T) {
	t.Parallel()
	r, cd, _ := newTestRouter(t, 7)

	cd.RecordFailure("primary", cooldown.ReasonServer, 500, 0, "")
	cd.RecordFailure("secondary", cooldown.ReasonConnection, 0, 0, "")
	_, err := r.Resolve(context.Background(), "gpt-4o")
	if !errors.Is(err, plexus.ErrProvidersCooling) {
		t.Fatalf("Resolve() error = %v, want ErrProvidersCooling", err)
	}
}

func TestResolveQuotaExhausted(t *testing.T) {
	t.Parallel()
	r, cd, qt := newTestRouter(t, 7)

	// primary cooled, secondary's checker at its limit: quota wins the verdict.
	cd.RecordFailure("primary", cooldown.ReasonServer, 500, 0, "")
	qt.SetLimit("claude", quota.WindowFiveHour, 1)
	qt.Observe("claude", quota.WindowFiveHour, 1)

	_, err := r.Resolve(context.Background(), "gpt-4o")
	if !errors.Is(err, plexus.ErrQuotaExhausted) {
		t.Fatalf("Resolve() error = %v, want ErrQuotaExhausted", err)
	}
}

func TestResolveUnimplementedSelector(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRouter(t, 7)
	_, err := r.Resolve(context.Background(), "cheapest")
	if !errors.Is(err, plexus.ErrUnimplementedSelector) {
		t.Fatalf("Resolve() error = %v, want ErrUnimplementedSelector", err)
	}
}

func TestTargets(t *testing.T) {
	t.Parallel()
	r, _, _ := newTestRouter(t, 7)

	targets, ok := r.Targets("gpt-4o")
	if !ok {
		t.Fatal("Targets() ok = false")
	}
	if len(targets) != 2 || targets[0].Provider != "primary" || targets[1].Provider != "secondary" {
		t.Fatalf("Targets() = %v", targets)
	}
	if _, ok := r.Targets("ghost"); ok {
		t.Fatal("Targets(ghost) ok = true")
	}
}

func TestRetryAfterRoundsUp(t *testing.T) {
	t.Parallel()
	r, cd, _ := newTestRouter(t, 7)

	cd.RecordFailure("primary", cooldown.ReasonConnection, 0, 0, "")
	cd.RecordFailure("secondary", cooldown.ReasonAuth, 401, 0, "")

	got := r.RetryAfter("gpt-4o")
	if got < 29*time.Second || got > 30*time.Second {
		t.Fatalf("RetryAfter() = %v, want about 30s", got)
	}
	if got%time.Second != 0 {
		t.Fatalf("RetryAfter() = %v, want whole seconds", got)
	}
}

func TestRecordOutcome(t *testing.T) {
	t.Parallel()
	r, cd, _ := newTestRouter(t, 7)

	r.RecordOutcome("primary", &plexus.APIError{Provider: "primary", StatusCode: 429}, 45*time.Second)
	on, remaining := cd.IsOnCooldown("primary")
	if !on {
		t.Fatal("provider not on cooldown after 429")
	}
	if remaining < 44*time.Second || remaining > 45*time.Second {
		t.Fatalf("remaining = %v, want about 45s", remaining)
	}

	r.RecordOutcome("primary", nil, 0)
	if on, _ := cd.IsOnCooldown("primary"); on {
		t.Fatal("provider still cooled after success")
	}
}

func TestRandomSelectorUniform(t *testing.T) {
	t.Parallel()
	s := NewRandomSelector(99)
	targets := []plexus.Target{{Provider: "a"}, {Provider: "b"}, {Provider: "c"}}

	counts := make(map[string]int)
	for i := 0; i < 300; i++ {
		picked, err := s.Select(targets)
		if err != nil {
			t.Fatalf("Select() error = %v", err)
		}
		counts[picked.Provider]++
	}
	for _, p := range []string{"a", "b", "c"} {
		if counts[p] == 0 {
			t.Fatalf("provider %q never selected: %v", p, counts)
		}
	}
}

func TestRandomSelectorEmpty(t *testing.T) {
	t.Parallel()
	s := NewRandomSelector(1)
	if _, err := s.Select(nil); err == nil {
		t.Fatal("Select(nil) = nil error")
	}
}
