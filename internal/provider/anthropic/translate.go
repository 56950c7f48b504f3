package anthropic

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	plexus "github.com/plexushq/plexus/internal"
)

// wireRequest is the Anthropic Messages API request body.
type wireRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Messages    []wireMsg       `json:"messages"`
	System      json.RawMessage `json:"system,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	TopK        *int            `json:"top_k,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Tools       json.RawMessage `json:"tools,omitempty"`
	StopSeqs    json.RawMessage `json:"stop_sequences,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

type wireMsg struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// defaultMaxTokens applies when the client did not set a limit; the Messages
// API rejects requests without max_tokens.
const defaultMaxTokens = 4096

// translateRequest converts a unified request to an Anthropic Messages API
// request for the routed canonical model.
func translateRequest(req *plexus.UnifiedRequest, model string) *wireRequest {
	out := &wireRequest{
		Model:       model,
		MaxTokens:   defaultMaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		TopK:        req.TopK,
		Tools:       req.Tools,
		StopSeqs:    req.Stop,
	}
	if req.MaxOutputTokens != nil {
		out.MaxTokens = *req.MaxOutputTokens
	}
	if uid := req.Metadata["user"]; uid != "" {
		md, _ := json.Marshal(map[string]string{"user_id": uid})
		out.Metadata = md
	}

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			out.System = m.Content
		case "user":
			out.Messages = append(out.Messages, wireMsg{Role: "user", Content: m.Content})
		case "assistant":
			out.Messages = append(out.Messages, wireMsg{
				Role:    "assistant",
				Content: assistantContent(m),
			})
		case "tool":
			// Tool results map to user role in Anthropic's format.
			block, _ := json.Marshal([]map[string]any{{
				"type":        "tool_result",
				"tool_use_id": m.ToolCallID,
				"content":     json.RawMessage(m.Content),
			}})
			out.Messages = append(out.Messages, wireMsg{Role: "user", Content: block})
		}
	}

	return out
}

// assistantContent builds the content block list for an assistant turn,
// converting OpenAI tool_calls into tool_use blocks.
func assistantContent(m plexus.Message) json.RawMessage {
	if len(m.ToolCalls) == 0 {
		return m.Content
	}

	var blocks []map[string]any
	if text := m.ContentText(); text != "" {
		blocks = append(blocks, map[string]any{"type": "text", "text": text})
	}
	gjson.ParseBytes(m.ToolCalls).ForEach(func(_, tc gjson.Result) bool {
		blocks = append(blocks, map[string]any{
			"type":  "tool_use",
			"id":    tc.Get("id").String(),
			"name":  tc.Get("function.name").String(),
			"input": json.RawMessage(tc.Get("function.arguments").Raw),
		})
		return true
	})
	out, _ := json.Marshal(blocks)
	return out
}

// translateResponse converts an Anthropic Messages API JSON response to the
// unified (OpenAI-shaped) form.
func translateResponse(data []byte) (*plexus.UnifiedResponse, error) {
	r := gjson.ParseBytes(data)

	stopReason := mapStopReason(r.Get("stop_reason").String())

	var contentText strings.Builder
	var toolCalls []json.RawMessage
	r.Get("content").ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "text":
			contentText.WriteString(block.Get("text").String())
		case "tool_use":
			tc, _ := json.Marshal(map[string]any{
				"id":   block.Get("id").String(),
				"type": "function",
				"function": map[string]any{
					"name":      block.Get("name").String(),
					"arguments": block.Get("input").Raw,
				},
			})
			toolCalls = append(toolCalls, tc)
		}
		return true
	})

	out := &plexus.UnifiedResponse{
		ID:           r.Get("id").String(),
		Object:       "chat.completion",
		Model:        r.Get("model").String(),
		Content:      contentText.String(),
		FinishReason: stopReason,
	}
	if len(toolCalls) > 0 {
		tc, _ := json.Marshal(toolCalls)
		out.ToolCalls = tc
		if out.FinishReason == "" {
			out.FinishReason = "tool_calls"
		}
	}

	if u := r.Get("usage"); u.Exists() {
		in := int(u.Get("input_tokens").Int())
		cached := int(u.Get("cache_read_input_tokens").Int())
		outTok := int(u.Get("output_tokens").Int())
		out.Usage = &plexus.Usage{
			InputTokens:  in,
			OutputTokens: outTok,
			CachedTokens: cached,
			TotalTokens:  in + outTok,
		}
	}
	return out, nil
}

// mapStopReason converts Anthropic stop reasons to OpenAI finish reasons.
func mapStopReason(reason string) string {
	switch reason {
	case "end_turn":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	case "stop_sequence":
		return "stop"
	default:
		return reason
	}
}
