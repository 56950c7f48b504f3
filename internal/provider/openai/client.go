// Package openai implements the provider adapter for the OpenAI
// chat-completions wire dialect. The same client serves OpenRouter and
// generic OpenAI-compatible upstreams, which differ only in base URL and
// credentials.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	plexus "github.com/plexushq/plexus/internal"
	"github.com/plexushq/plexus/internal/provider/sseutil"
)

const (
	defaultBaseURL    = "https://api.openai.com/v1"
	openrouterBaseURL = "https://openrouter.ai/api/v1"
)

// Client is an adapter for OpenAI-dialect upstreams.
type Client struct {
	id      string
	ptype   plexus.ProviderType
	baseURL string
	http    *http.Client
}

// New creates a Client for one configured upstream. If baseURL is empty the
// dialect's public endpoint is used. The provided http client carries auth
// in its transport chain.
func New(id string, ptype plexus.ProviderType, baseURL string, httpc *http.Client) *Client {
	if baseURL == "" {
		if ptype == plexus.ProviderOpenRouter {
			baseURL = openrouterBaseURL
		} else {
			baseURL = defaultBaseURL
		}
	}
	if httpc == nil {
		httpc = &http.Client{}
	}
	return &Client{
		id:      id,
		ptype:   ptype,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpc,
	}
}

// ProviderID returns the config identifier of the upstream instance.
func (c *Client) ProviderID() string { return c.id }

// Type returns the wire dialect identifier.
func (c *Client) Type() plexus.ProviderType { return c.ptype }

// Generate sends a non-streaming chat completion request.
func (c *Client) Generate(ctx context.Context, req *plexus.UnifiedRequest, model string) (*plexus.UnifiedResponse, error) {
	body, err := marshalRequest(req, model, false)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, plexus.ParseAPIError(c.id, resp)
	}
	return parseResponse(resp.Body)
}

// Stream sends a streaming chat completion request. The raw SSE data
// payloads are forwarded as-is in StreamChunk.Data (no JSON parsing on the
// hot path). The channel is closed after a Done sentinel or an error chunk.
func (c *Client) Stream(ctx context.Context, req *plexus.UnifiedRequest, model string) (<-chan plexus.StreamChunk, error) {
	body, err := marshalRequest(req, model, true)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: do request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, plexus.ParseAPIError(c.id, resp)
	}

	ch := make(chan plexus.StreamChunk, 8)
	go sseutil.ReadSSEStream(ctx, c.id, resp, ch)
	return ch, nil
}

// ListModels returns the model IDs the upstream advertises.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, plexus.ParseAPIError(c.id, resp)
	}
	return parseModelList(resp.Body)
}

// setHeaders applies content-type to an outbound request.
// Auth is handled by the transport chain.
func (c *Client) setHeaders(r *http.Request) {
	r.Header.Set("Content-Type", "application/json")
}
