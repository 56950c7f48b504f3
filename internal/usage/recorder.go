package usage

import (
	"errors"
	"time"

	plexus "github.com/plexushq/plexus/internal"
	"github.com/plexushq/plexus/internal/cooldown"
)

// Finalize derives the trace entry for one finished request. usage may be
// zero-valued on failures. err is nil on success; on failure the entry
// carries the cooldown classification and HTTP status instead of cost.
func Finalize(rc *plexus.RequestContext, u plexus.Usage, aliasPricing *plexus.Pricing, truncated bool, err error) plexus.TraceEntry {
	now := time.Now()
	entry := plexus.TraceEntry{
		RequestID:  rc.ID,
		ClientIP:   rc.ClientIP,
		KeyName:    rc.KeyName,
		ClientAPI:  rc.ClientAPI,
		Alias:      rc.Alias,
		ProviderID: rc.ProviderID,
		Model:      rc.Model,
		TargetAPI:  rc.TargetAPI,
		Streaming:  rc.Streaming,
		Success:    err == nil,
		Usage:      u,
		Truncated:  truncated,
		DurationMs: now.Sub(rc.Start).Milliseconds(),
		CreatedAt:  now,
	}

	if !rc.ProviderFirstToken.IsZero() {
		entry.ProviderTTFTMs = rc.ProviderFirstToken.Sub(rc.Start).Milliseconds()
	}
	if !rc.ClientFirstToken.IsZero() {
		entry.ClientTTFTMs = rc.ClientFirstToken.Sub(rc.Start).Milliseconds()
	}
	entry.TokensPerSecond = tokensPerSecond(rc, u, now)

	if err != nil {
		entry.ErrorType = string(cooldown.Classify(err))
		entry.ErrorMessage = err.Error()
		entry.HTTPStatus = cooldown.StatusOf(err)
		var ae *plexus.APIError
		if errors.As(err, &ae) {
			entry.HTTPStatus = ae.StatusCode
		}
		entry.CostSource = CostSourceUnknown
		return entry
	}

	pricing, source := ResolvePricing(aliasPricing, rc.Model)
	entry.CostUSD = Cost(pricing, u)
	entry.CostSource = source
	return entry
}

// tokensPerSecond measures generation throughput. For streams the clock
// starts at the provider's first token so queue and prompt-processing time
// do not dilute the rate; unary requests fall back to total duration.
func tokensPerSecond(rc *plexus.RequestContext, u plexus.Usage, now time.Time) float64 {
	if u.OutputTokens == 0 {
		return 0
	}
	start := rc.Start
	if rc.Streaming && !rc.ProviderFirstToken.IsZero() {
		start = rc.ProviderFirstToken
	}
	secs := now.Sub(start).Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(u.OutputTokens) / secs
}
