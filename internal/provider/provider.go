// Package provider implements the upstream adapter layer: one Client per
// provider dialect, a factory keyed by provider type, and a cache that reuses
// clients across config reloads as long as their connection identity
// (type, base URL, credentials) is unchanged.
package provider

import (
	"context"
	"fmt"
	"net/http"

	plexus "github.com/plexushq/plexus/internal"
	"github.com/plexushq/plexus/internal/provider/anthropic"
	"github.com/plexushq/plexus/internal/provider/antigravity"
	"github.com/plexushq/plexus/internal/provider/openai"
)

// Client is a provider adapter for one configured upstream. Implementations
// translate the unified request to the upstream's wire dialect, never retry
// internally, and surface upstream failures as *plexus.APIError.
type Client interface {
	// ProviderID returns the config identifier of the upstream instance.
	ProviderID() string

	// Type returns the wire dialect the client speaks.
	Type() plexus.ProviderType

	// Generate performs a non-streaming completion. model is the canonical
	// slug from the route decision, not the client-visible alias.
	Generate(ctx context.Context, req *plexus.UnifiedRequest, model string) (*plexus.UnifiedResponse, error)

	// Stream performs a streaming completion. The returned channel carries
	// OpenAI-format chunk payloads regardless of the upstream dialect and is
	// closed after a Done or Err chunk. An error return means no upstream
	// bytes were produced, so fallback to another target is still safe.
	Stream(ctx context.Context, req *plexus.UnifiedRequest, model string) (<-chan plexus.StreamChunk, error)
}

// newClient builds a Client for one provider record. httpc already carries
// the record's auth in its transport chain. An unknown type is a config
// validation escape and treated as a hard error.
func newClient(rec *plexus.ProviderRecord, httpc *http.Client) (Client, error) {
	switch rec.Type {
	case plexus.ProviderOpenAI, plexus.ProviderOpenRouter, plexus.ProviderCompat:
		return openai.New(rec.ID, rec.Type, rec.BaseURL, httpc), nil
	case plexus.ProviderAnthropic:
		return anthropic.New(rec.ID, rec.BaseURL, httpc), nil
	case plexus.ProviderAntigravity:
		return antigravity.New(rec.ID, rec.BaseURL, httpc), nil
	default:
		return nil, fmt.Errorf("provider %q: unknown type %q", rec.ID, rec.Type)
	}
}
