// Package plexus defines domain types and interfaces for the Plexus LLM
// routing gateway. This package has no project imports -- it is the
// dependency root.
package plexus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// --- Unified request model ---

// ClientAPI identifies the wire format the client spoke.
type ClientAPI string

const (
	// APIChat is the OpenAI chat-completions format (/v1/chat/completions).
	APIChat ClientAPI = "chat"
	// APIMessages is the Anthropic messages format (/v1/messages).
	APIMessages ClientAPI = "messages"
)

// UnifiedRequest is the provider-independent form every incoming request is
// normalized into. Content-shaped fields stay as raw JSON so conversion is
// total on well-typed input; fields a target cannot represent become
// Warnings, never errors.
type UnifiedRequest struct {
	Model            string          `json:"model"`
	Messages         []Message       `json:"messages"`
	Tools            json.RawMessage `json:"tools,omitempty"`
	ToolChoice       json.RawMessage `json:"tool_choice,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	TopK             *int            `json:"top_k,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	Seed             *int            `json:"seed,omitempty"`
	MaxOutputTokens  *int            `json:"max_output_tokens,omitempty"`
	Stop             json.RawMessage `json:"stop,omitempty"`
	Stream           bool            `json:"stream,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`

	// Warnings records lossy conversion notes (dropped or coerced fields).
	Warnings []string `json:"-"`
}

// Message is a single conversation turn.
type Message struct {
	Role       string          `json:"role"` // system, user, assistant, tool
	Content    json.RawMessage `json:"content"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  json.RawMessage `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// ContentText extracts the plain-text view of a message's content. String
// content decodes directly; structured parts concatenate their "text" fields.
// Unknown shapes yield "".
func (m Message) ContentText() string {
	if len(m.Content) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(m.Content, &s) == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if json.Unmarshal(m.Content, &parts) != nil {
		return ""
	}
	var out string
	for _, p := range parts {
		out += p.Text
	}
	return out
}

// --- Unified response model ---

// Usage aggregates token counts for one request.
type Usage struct {
	InputTokens     int `json:"input_tokens"`
	OutputTokens    int `json:"output_tokens"`
	CachedTokens    int `json:"cached_tokens,omitempty"`
	ReasoningTokens int `json:"reasoning_tokens,omitempty"`
	TotalTokens     int `json:"total_tokens"`
}

// UnifiedResponse is a completed (non-streaming) model response in the
// internal lingua franca, which follows the OpenAI chat-completion shape.
type UnifiedResponse struct {
	ID           string          `json:"id"`
	Object       string          `json:"object"`
	Created      int64           `json:"created"`
	Model        string          `json:"model"`
	Content      string          `json:"-"`
	ToolCalls    json.RawMessage `json:"-"`
	FinishReason string          `json:"-"`
	Usage        *Usage          `json:"usage,omitempty"`
}

// StreamChunk is a single unit of a streaming response. Data holds the raw
// SSE payload forwarded toward the client; Usage is non-nil only on the final
// content-bearing chunk.
type StreamChunk struct {
	Data  []byte
	Usage *Usage
	Done  bool
	Err   error
}

// --- Per-request context ---

// RequestContext travels with one in-flight request from entry to
// finalization. It is owned by exactly one request goroutine; no component
// mutates it after the provider call returns.
type RequestContext struct {
	ID        string
	Start     time.Time
	ClientIP  string
	KeyName   string
	ClientAPI ClientAPI

	// Resolved route, set after Router.Resolve.
	ProviderID string
	Model      string // canonical slug sent on the wire
	Alias      string // client-visible model name
	TargetAPI  ClientAPI

	Streaming bool

	// First-token marks, write-once. Zero means unset.
	ProviderFirstToken time.Time
	ClientFirstToken   time.Time
}

// MarkProviderFirstToken records the provider-side TTFT mark once.
func (rc *RequestContext) MarkProviderFirstToken(t time.Time) {
	if rc.ProviderFirstToken.IsZero() {
		rc.ProviderFirstToken = t
	}
}

// MarkClientFirstToken records the client-side TTFT mark once.
func (rc *RequestContext) MarkClientFirstToken(t time.Time) {
	if rc.ClientFirstToken.IsZero() {
		rc.ClientFirstToken = t
	}
}

// --- Session hashing ---

// SessionID derives a deterministic session identifier from the request's
// message contents. Identical inputs yield identical IDs, which upstream
// wrappers that require a session key rely on.
func SessionID(messages []Message) string {
	h := sha256.New()
	for _, m := range messages {
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(m.ContentText()))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
type requestMeta struct {
	RequestID string
	KeyName   string
}

func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// RequestIDFromContext extracts the request ID from ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}

// KeyNameFromContext extracts the client API key label from ctx, or "".
func KeyNameFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.KeyName
	}
	return ""
}

// ContextWithKeyName stores the key label in the existing requestMeta when
// present, avoiding a second context.WithValue allocation.
func ContextWithKeyName(ctx context.Context, name string) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.KeyName = name
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{KeyName: name})
}
