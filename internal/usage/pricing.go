// Package usage turns finished requests into trace entries: cost attribution,
// latency derivation, and throughput.
package usage

import (
	"strings"

	plexus "github.com/plexushq/plexus/internal"
)

// Cost source labels recorded on each trace entry.
const (
	CostSourceAlias   = "alias"
	CostSourceDefault = "default"
	CostSourceUnknown = "unknown"
)

// defaultPricing is the fallback price table, keyed by canonical model
// prefix. Prices are USD per million tokens. Alias-level pricing in config
// always wins over this table.
var defaultPricing = []struct {
	prefix string
	price  plexus.Pricing
}{
	{"gpt-4o-mini", plexus.Pricing{InputPer1M: 0.15, OutputPer1M: 0.60, CachedPer1M: 0.075}},
	{"gpt-4o", plexus.Pricing{InputPer1M: 2.50, OutputPer1M: 10.00, CachedPer1M: 1.25}},
	{"gpt-4.1-mini", plexus.Pricing{InputPer1M: 0.40, OutputPer1M: 1.60, CachedPer1M: 0.10}},
	{"gpt-4.1", plexus.Pricing{InputPer1M: 2.00, OutputPer1M: 8.00, CachedPer1M: 0.50}},
	{"o3-mini", plexus.Pricing{InputPer1M: 1.10, OutputPer1M: 4.40, CachedPer1M: 0.55}},
	{"claude-opus", plexus.Pricing{InputPer1M: 15.00, OutputPer1M: 75.00, CachedPer1M: 1.50}},
	{"claude-sonnet", plexus.Pricing{InputPer1M: 3.00, OutputPer1M: 15.00, CachedPer1M: 0.30}},
	{"claude-haiku", plexus.Pricing{InputPer1M: 0.80, OutputPer1M: 4.00, CachedPer1M: 0.08}},
	{"gemini-2.5-pro", plexus.Pricing{InputPer1M: 1.25, OutputPer1M: 10.00}},
	{"gemini-2.5-flash", plexus.Pricing{InputPer1M: 0.30, OutputPer1M: 2.50}},
	{"deepseek", plexus.Pricing{InputPer1M: 0.27, OutputPer1M: 1.10}},
}

// ResolvePricing picks the price set for a request: the alias override when
// configured, the default table when the canonical model matches a known
// prefix, otherwise nothing.
func ResolvePricing(aliasPricing *plexus.Pricing, model string) (*plexus.Pricing, string) {
	if aliasPricing != nil {
		return aliasPricing, CostSourceAlias
	}
	for _, dp := range defaultPricing {
		if strings.HasPrefix(model, dp.prefix) {
			return &dp.price, CostSourceDefault
		}
	}
	return nil, CostSourceUnknown
}

// Cost computes the USD cost of a request. Cached tokens are a subset of
// input tokens; when a cached rate is configured they are billed at that
// rate instead of the input rate. Reasoning tokens bill at the output rate
// unless a separate reasoning rate is configured.
func Cost(p *plexus.Pricing, u plexus.Usage) float64 {
	if p == nil {
		return 0
	}
	freshInput := u.InputTokens
	var cost float64
	if p.CachedPer1M > 0 && u.CachedTokens > 0 {
		freshInput -= u.CachedTokens
		if freshInput < 0 {
			freshInput = 0
		}
		cost += float64(u.CachedTokens) * p.CachedPer1M / 1e6
	}
	cost += float64(freshInput) * p.InputPer1M / 1e6
	cost += float64(u.OutputTokens) * p.OutputPer1M / 1e6
	if p.ReasoningPer1M > 0 {
		cost += float64(u.ReasoningTokens) * p.ReasoningPer1M / 1e6
	} else {
		cost += float64(u.ReasoningTokens) * p.OutputPer1M / 1e6
	}
	return cost
}
