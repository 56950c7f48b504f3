package usage

import (
	"math"
	"testing"
	"time"

	plexus "github.com/plexushq/plexus/internal"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-12
}

func TestResolvePricing(t *testing.T) {
	t.Parallel()

	alias := &plexus.Pricing{InputPer1M: 1, OutputPer1M: 2}
	p, source := ResolvePricing(alias, "gpt-4o")
	if p != alias || source != CostSourceAlias {
		t.Fatalf("ResolvePricing(alias) = %v, %q", p, source)
	}

	p, source = ResolvePricing(nil, "gpt-4o-2024-08-06")
	if source != CostSourceDefault {
		t.Fatalf("source = %q, want default", source)
	}
	if p.InputPer1M != 2.50 {
		t.Fatalf("default gpt-4o input = %v, want 2.50", p.InputPer1M)
	}

	// Longer prefixes win over shorter ones.
	p, _ = ResolvePricing(nil, "gpt-4o-mini-2024-07-18")
	if p.InputPer1M != 0.15 {
		t.Fatalf("gpt-4o-mini matched %v, want the mini row", p.InputPer1M)
	}

	p, source = ResolvePricing(nil, "mystery-model")
	if p != nil || source != CostSourceUnknown {
		t.Fatalf("ResolvePricing(unknown) = %v, %q", p, source)
	}
}

func TestCost(t *testing.T) {
	t.Parallel()

	p := &plexus.Pricing{InputPer1M: 3, OutputPer1M: 15, CachedPer1M: 0.3}
	u := plexus.Usage{InputTokens: 1000, OutputTokens: 500, CachedTokens: 400}
	// 600 fresh at 3 + 400 cached at 0.3 + 500 out at 15, all per million.
	want := (600*3 + 400*0.3 + 500*15) / 1e6
	if got := Cost(p, u); !almostEqual(got, want) {
		t.Fatalf("Cost() = %v, want %v", got, want)
	}
}

func TestCostReasoningTokens(t *testing.T) {
	t.Parallel()

	p := &plexus.Pricing{InputPer1M: 1, OutputPer1M: 10}
	u := plexus.Usage{OutputTokens: 100, ReasoningTokens: 50}
	// Reasoning bills at the output rate without a dedicated rate.
	want := (100*10 + 50*10) / 1e6
	if got := Cost(p, u); !almostEqual(got, want) {
		t.Fatalf("Cost() = %v, want %v", got, want)
	}

	p.ReasoningPer1M = 2
	want = (100*10 + 50*2) / 1e6
	if got := Cost(p, u); !almostEqual(got, want) {
		t.Fatalf("Cost() with reasoning rate = %v, want %v", got, want)
	}
}

func TestCostNilPricing(t *testing.T) {
	t.Parallel()
	if got := Cost(nil, plexus.Usage{InputTokens: 1000}); got != 0 {
		t.Fatalf("Cost(nil) = %v, want 0", got)
	}
}

func TestCostCachedExceedsInput(t *testing.T) {
	t.Parallel()
	p := &plexus.Pricing{InputPer1M: 1, OutputPer1M: 1, CachedPer1M: 0.1}
	u := plexus.Usage{InputTokens: 100, CachedTokens: 200}
	want := 200 * 0.1 / 1e6
	if got := Cost(p, u); !almostEqual(got, want) {
		t.Fatalf("Cost() = %v, want %v", got, want)
	}
}

func TestFinalizeSuccess(t *testing.T) {
	t.Parallel()
	start := time.Now().Add(-2 * time.Second)
	rc := &plexus.RequestContext{
		ID:         "req-1",
		Start:      start,
		ClientIP:   "10.0.0.1",
		KeyName:    "team-a",
		ClientAPI:  plexus.APIChat,
		ProviderID: "openai-main",
		Model:      "gpt-4o-2024-08-06",
		Alias:      "gpt-4o",
		TargetAPI:  plexus.APIChat,
		Streaming:  true,
	}
	rc.MarkProviderFirstToken(start.Add(500 * time.Millisecond))
	rc.MarkClientFirstToken(start.Add(600 * time.Millisecond))

	u := plexus.Usage{InputTokens: 100, OutputTokens: 200, TotalTokens: 300}
	entry := Finalize(rc, u, nil, false, nil)

	if !entry.Success {
		t.Fatal("Success = false")
	}
	if entry.RequestID != "req-1" || entry.Alias != "gpt-4o" || entry.ProviderID != "openai-main" {
		t.Fatalf("identity fields = %+v", entry)
	}
	if entry.CostSource != CostSourceDefault {
		t.Fatalf("cost source = %q, want default", entry.CostSource)
	}
	if entry.CostUSD == 0 {
		t.Fatal("cost = 0 for priced model")
	}
	if entry.ProviderTTFTMs < 450 || entry.ProviderTTFTMs > 550 {
		t.Fatalf("provider ttft = %dms", entry.ProviderTTFTMs)
	}
	if entry.ClientTTFTMs < entry.ProviderTTFTMs {
		t.Fatalf("client ttft %dms before provider ttft %dms", entry.ClientTTFTMs, entry.ProviderTTFTMs)
	}
	if entry.DurationMs < 1900 {
		t.Fatalf("duration = %dms, want about 2000", entry.DurationMs)
	}
	// Streaming throughput clocks from the provider's first token.
	if entry.TokensPerSecond < 100 || entry.TokensPerSecond > 150 {
		t.Fatalf("tokens/sec = %v, want about 133", entry.TokensPerSecond)
	}
}

func TestFinalizeFailure(t *testing.T) {
	t.Parallel()
	rc := &plexus.RequestContext{
		ID:         "req-2",
		Start:      time.Now(),
		ProviderID: "p",
		Model:      "gpt-4o",
	}
	err := &plexus.APIError{Provider: "p", StatusCode: 429, Body: "slow down"}
	entry := Finalize(rc, plexus.Usage{}, nil, false, err)

	if entry.Success {
		t.Fatal("Success = true for failed request")
	}
	if entry.ErrorType != "rate_limit" {
		t.Fatalf("error type = %q, want rate_limit", entry.ErrorType)
	}
	if entry.HTTPStatus != 429 {
		t.Fatalf("http status = %d, want 429", entry.HTTPStatus)
	}
	if entry.CostSource != CostSourceUnknown {
		t.Fatalf("cost source = %q, want unknown", entry.CostSource)
	}
	if entry.CostUSD != 0 {
		t.Fatalf("cost = %v on failure, want 0", entry.CostUSD)
	}
}

func TestFinalizeTruncatedFlag(t *testing.T) {
	t.Parallel()
	rc := &plexus.RequestContext{Start: time.Now()}
	entry := Finalize(rc, plexus.Usage{}, nil, true, nil)
	if !entry.Truncated {
		t.Fatal("Truncated = false")
	}
}
