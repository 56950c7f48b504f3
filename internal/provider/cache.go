package provider

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/maypok86/otter/v2"

	plexus "github.com/plexushq/plexus/internal"
	"github.com/plexushq/plexus/internal/cloudauth"
)

// Cache builds and reuses provider clients. The key is the connection
// identity (type, base URL, credentials, static headers), so a config reload
// that leaves a provider unchanged keeps its warm client while a credential
// rotation transparently builds a fresh one. Stale identities age out.
type Cache struct {
	clients *otter.Cache[string, Client]
	base    http.RoundTripper
}

// NewCache creates a client cache over the shared pooled transport.
func NewCache(base http.RoundTripper) (*Cache, error) {
	c, err := otter.New[string, Client](&otter.Options[string, Client]{
		MaximumSize:      256,
		ExpiryCalculator: otter.ExpiryWriting[string, Client](time.Hour),
	})
	if err != nil {
		return nil, fmt.Errorf("create client cache: %w", err)
	}
	if base == nil {
		base = http.DefaultTransport
	}
	return &Cache{clients: c, base: base}, nil
}

// Get returns the client for a provider record, building it on first use.
func (pc *Cache) Get(ctx context.Context, rec *plexus.ProviderRecord) (Client, error) {
	key := cacheKey(rec)
	if c, ok := pc.clients.GetIfPresent(key); ok {
		return c, nil
	}

	httpc, err := pc.buildHTTPClient(ctx, rec)
	if err != nil {
		return nil, err
	}
	client, err := newClient(rec, httpc)
	if err != nil {
		return nil, err
	}
	// A racing builder may have stored first; both are equivalent, last
	// write wins and the loser is collected.
	pc.clients.Set(key, client)
	return client, nil
}

// buildHTTPClient assembles the transport chain for one provider record:
// shared pool, then credentials, then static headers.
func (pc *Cache) buildHTTPClient(ctx context.Context, rec *plexus.ProviderRecord) (*http.Client, error) {
	rt := pc.base

	switch {
	case rec.APIKey != "":
		header, prefix := "Authorization", "Bearer "
		if rec.Type == plexus.ProviderAnthropic {
			header, prefix = "x-api-key", ""
		}
		rt = &cloudauth.APIKeyTransport{Key: rec.APIKey, HeaderName: header, Prefix: prefix, Base: rt}
	case rec.Type == plexus.ProviderAntigravity:
		// Antigravity authenticates with Application Default Credentials
		// instead of an API key; cloudauth defaults the scope.
		oauthRT, err := cloudauth.NewGCPOAuthTransport(ctx, rt)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", rec.ID, err)
		}
		rt = oauthRT
	}

	if len(rec.Headers) > 0 {
		rt = &headerTransport{base: rt, headers: rec.Headers}
	}

	// No Timeout on the client: per-request deadlines come from the
	// request context, and streaming responses outlive any fixed timeout.
	return &http.Client{Transport: rt}, nil
}

// cacheKey derives the connection identity for a record. Header keys are
// sorted so the identity is stable across map iteration order.
func cacheKey(rec *plexus.ProviderRecord) string {
	key := string(rec.Type) + "|" + rec.BaseURL + "|" + rec.APIKey
	for _, k := range slices.Sorted(maps.Keys(rec.Headers)) {
		key += "|" + k + "=" + rec.Headers[k]
	}
	return key
}
