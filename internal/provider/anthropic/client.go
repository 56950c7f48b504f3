// Package anthropic implements the provider adapter for the Anthropic
// Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	plexus "github.com/plexushq/plexus/internal"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"
)

// Client is an adapter for Anthropic upstreams.
type Client struct {
	id      string
	baseURL string
	http    *http.Client
}

// New creates a Client for one configured upstream. If baseURL is empty, it
// defaults to "https://api.anthropic.com/v1". The provided http client
// carries auth in its transport chain.
func New(id, baseURL string, httpc *http.Client) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if httpc == nil {
		httpc = &http.Client{}
	}
	return &Client{
		id:      id,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpc,
	}
}

// ProviderID returns the config identifier of the upstream instance.
func (c *Client) ProviderID() string { return c.id }

// Type returns the wire dialect identifier.
func (c *Client) Type() plexus.ProviderType { return plexus.ProviderAnthropic }

// Generate sends a non-streaming messages request.
func (c *Client) Generate(ctx context.Context, req *plexus.UnifiedRequest, model string) (*plexus.UnifiedResponse, error) {
	aReq := translateRequest(req, model)
	aReq.Stream = false

	body, err := json.Marshal(aReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, plexus.ParseAPIError(c.id, resp)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1MB limit
	if err != nil {
		return nil, fmt.Errorf("anthropic: read response: %w", err)
	}
	return translateResponse(respBody)
}

// Stream sends a streaming messages request. Anthropic's event stream is
// converted to OpenAI-format chunks on the fly.
func (c *Client) Stream(ctx context.Context, req *plexus.UnifiedRequest, model string) (<-chan plexus.StreamChunk, error) {
	aReq := translateRequest(req, model)
	aReq.Stream = true

	body, err := json.Marshal(aReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: do request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, plexus.ParseAPIError(c.id, resp)
	}

	ch := make(chan plexus.StreamChunk, 8)
	go readStream(ctx, resp.Body, ch)
	return ch, nil
}

// setHeaders applies Anthropic-specific headers to an outbound request.
// Auth is handled by the transport chain.
func (c *Client) setHeaders(r *http.Request) {
	r.Header.Set("content-type", "application/json")
	r.Header.Set("anthropic-version", anthropicVersion)
}
