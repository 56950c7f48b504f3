// Package router resolves model aliases to a single (provider, model) target
// by filtering the alias's candidates through cooldown and quota state and
// handing the survivors to a selector.
package router

import (
	"context"
	"fmt"
	"math"
	"time"

	plexus "github.com/plexushq/plexus/internal"
	"github.com/plexushq/plexus/internal/config"
	"github.com/plexushq/plexus/internal/cooldown"
	"github.com/plexushq/plexus/internal/quota"
)

// Router resolves aliases against the live config snapshot.
type Router struct {
	store     *config.Store
	cooldowns *cooldown.Manager
	quotas    *quota.Tracker
	selectors map[string]Selector
}

// New creates a Router. seed seeds the random selector; production callers
// pass time.Now().UnixNano().
func New(store *config.Store, cd *cooldown.Manager, qt *quota.Tracker, seed int64) *Router {
	return &Router{
		store:     store,
		cooldowns: cd,
		quotas:    qt,
		selectors: newSelectorRegistry(seed),
	}
}

// Resolve maps an alias to one RouteDecision.
//
// Order: alias lookup, cooldown filter, quota admission, selection. A missing
// alias is plexus.ErrModelNotFound; an exhausted candidate list surfaces as
// ErrProvidersCooling or ErrQuotaExhausted, both retriable by the caller
// after the nearest cooldown expires.
func (r *Router) Resolve(_ context.Context, alias string) (plexus.RouteDecision, error) {
	snap := r.store.Current()

	ma, ok := snap.Models[alias]
	if !ok {
		return plexus.RouteDecision{}, fmt.Errorf("model %q: %w", alias, plexus.ErrModelNotFound)
	}

	filtered := r.cooldowns.Filter(ma.Targets)
	if len(filtered) == 0 {
		return plexus.RouteDecision{}, fmt.Errorf("model %q: %w", alias, plexus.ErrProvidersCooling)
	}

	admitted := filtered[:0:0]
	for _, t := range filtered {
		p := snap.Providers[t.Provider]
		if p != nil && p.QuotaChecker != "" && !r.quotas.Admit(p.QuotaChecker) {
			continue
		}
		admitted = append(admitted, t)
	}
	if len(admitted) == 0 {
		return plexus.RouteDecision{}, fmt.Errorf("model %q: %w", alias, plexus.ErrQuotaExhausted)
	}

	sel, ok := r.selectors[ma.Selector]
	if !ok {
		return plexus.RouteDecision{}, fmt.Errorf("model %q: selector %q: %w", alias, ma.Selector, plexus.ErrUnimplementedSelector)
	}
	target, err := sel.Select(admitted)
	if err != nil {
		return plexus.RouteDecision{}, fmt.Errorf("model %q: %w", alias, err)
	}

	return plexus.RouteDecision{
		Alias:      alias,
		ProviderID: target.Provider,
		Model:      target.Model,
		Provider:   snap.Providers[target.Provider],
	}, nil
}

// Targets returns the declared target list for an alias, preserving order.
// Used by callers to bound fallback retries and compute Retry-After.
func (r *Router) Targets(alias string) ([]plexus.Target, bool) {
	ma, ok := r.store.Current().Models[alias]
	if !ok {
		return nil, false
	}
	return ma.Targets, true
}

// RetryAfter returns the nearest cooldown expiry across the alias's targets,
// rounded up to whole seconds, for 503 Retry-After headers.
func (r *Router) RetryAfter(alias string) time.Duration {
	targets, ok := r.Targets(alias)
	if !ok {
		return 0
	}
	d := r.cooldowns.MinRemaining(targets)
	if d <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(d.Seconds())) * time.Second
}

// RecordOutcome feeds a provider call result back into cooldown state.
func (r *Router) RecordOutcome(providerID string, err error, retryAfter time.Duration) {
	if err == nil {
		r.cooldowns.RecordSuccess(providerID)
		return
	}
	reason := cooldown.Classify(err)
	r.cooldowns.RecordFailure(providerID, reason, cooldown.StatusOf(err), retryAfter, err.Error())
}
