// Package antigravity implements the provider adapter for Antigravity
// upstreams, which speak the Gemini generateContent dialect wrapped in a
// session envelope. Responses arrive as `{"response": <geminiChunk>}` and
// are unwrapped transparently.
package antigravity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	plexus "github.com/plexushq/plexus/internal"
)

// Client is an adapter for Antigravity upstreams.
type Client struct {
	id      string
	baseURL string
	http    *http.Client
}

// New creates a Client for one configured upstream. Antigravity has no
// public default endpoint; config validation requires a base URL. The
// provided http client carries OAuth credentials in its transport chain.
func New(id, baseURL string, httpc *http.Client) *Client {
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
func (c *Client) Type() plexus.ProviderType { return plexus.ProviderAntigravity }

// envelope is the Antigravity request wrapper. The session id is derived
// deterministically from the conversation so identical inputs land on the
// same upstream session.
type envelope struct {
	Model     string          `json:"model"`
	Request   json.RawMessage `json:"request"`
	SessionID string          `json:"session_id"`
}

func (c *Client) marshalEnvelope(req *plexus.UnifiedRequest, model string) ([]byte, error) {
	inner, err := json.Marshal(translateRequest(req))
	if err != nil {
		return nil, fmt.Errorf("antigravity: marshal request: %w", err)
	}
	return json.Marshal(&envelope{
		Model:     model,
		Request:   inner,
		SessionID: plexus.SessionID(req.Messages),
	})
}

// Generate sends a non-streaming generateContent request.
func (c *Client) Generate(ctx context.Context, req *plexus.UnifiedRequest, model string) (*plexus.UnifiedResponse, error) {
	body, err := c.marshalEnvelope(req, model)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1internal:generateContent", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("antigravity: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("antigravity: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, plexus.ParseAPIError(c.id, resp)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1MB limit
	if err != nil {
		return nil, fmt.Errorf("antigravity: read response: %w", err)
	}
	return translateResponse(unwrap(respBody), model)
}

// Stream sends a streaming generateContent request. Each SSE data payload is
// unwrapped from its response envelope before translation.
func (c *Client) Stream(ctx context.Context, req *plexus.UnifiedRequest, model string) (<-chan plexus.StreamChunk, error) {
	body, err := c.marshalEnvelope(req, model)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1internal:streamGenerateContent?alt=sse", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("antigravity: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("antigravity: do request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, plexus.ParseAPIError(c.id, resp)
	}

	ch := make(chan plexus.StreamChunk, 8)
	go readStream(ctx, resp.Body, ch, model)
	return ch, nil
}

// unwrap strips the `{"response": ...}` envelope from a payload. Payloads
// without the envelope pass through unchanged.
func unwrap(data []byte) []byte {
	if r := gjson.GetBytes(data, "response"); r.Exists() {
		return []byte(r.Raw)
	}
	return data
}
