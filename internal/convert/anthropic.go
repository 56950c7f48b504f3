package convert

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	plexus "github.com/plexushq/plexus/internal"
)

// anthropicRequest is the Anthropic messages request wire shape.
type anthropicRequest struct {
	Model         string          `json:"model"`
	MaxTokens     *int            `json:"max_tokens,omitempty"`
	Messages      []anthropicMsg  `json:"messages"`
	System        json.RawMessage `json:"system,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	StopSequences json.RawMessage `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Tools         json.RawMessage `json:"tools,omitempty"`
	ToolChoice    json.RawMessage `json:"tool_choice,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

type anthropicMsg struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// FromAnthropic parses an Anthropic messages request body into a
// UnifiedRequest. The top-level system prompt becomes a leading system role
// message; tool_use and tool_result content blocks convert to the OpenAI
// tool-call forms the unified model uses.
func FromAnthropic(body []byte) (*plexus.UnifiedRequest, error) {
	var in anthropicRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", plexus.ErrInvalidRequest, err)
	}

	out := &plexus.UnifiedRequest{
		Model:           in.Model,
		Tools:           in.Tools,
		ToolChoice:      in.ToolChoice,
		Temperature:     in.Temperature,
		TopP:            in.TopP,
		TopK:            in.TopK,
		MaxOutputTokens: in.MaxTokens,
		Stop:            in.StopSequences,
		Stream:          in.Stream,
	}

	if len(in.System) > 0 {
		out.Messages = append(out.Messages, plexus.Message{
			Role:    "system",
			Content: systemContent(in.System),
		})
	}
	for _, m := range in.Messages {
		out.Messages = append(out.Messages, convertAnthropicMessage(out, m)...)
	}

	if uid := gjson.GetBytes(in.Metadata, "user_id").String(); uid != "" {
		out.Metadata = map[string]string{"user": uid}
	}

	if err := validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

// systemContent normalizes the system field. Anthropic accepts either a
// string or a block list; block lists collapse to their text.
func systemContent(raw json.RawMessage) json.RawMessage {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return raw
	}
	var text string
	gjson.ParseBytes(raw).ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			text += block.Get("text").String()
		}
		return true
	})
	b, _ := json.Marshal(text)
	return b
}

// convertAnthropicMessage maps one Anthropic message to one or more unified
// messages. tool_result blocks split into separate tool role messages;
// tool_use blocks on assistant turns become tool_calls.
func convertAnthropicMessage(req *plexus.UnifiedRequest, m anthropicMsg) []plexus.Message {
	// Plain string content needs no block handling.
	var s string
	if json.Unmarshal(m.Content, &s) == nil {
		return []plexus.Message{{Role: m.Role, Content: m.Content}}
	}

	var out []plexus.Message
	var textParts string
	var toolCalls []json.RawMessage

	gjson.ParseBytes(m.Content).ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "text":
			textParts += block.Get("text").String()
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
		case "tool_result":
			content, _ := json.Marshal(block.Get("content").String())
			out = append(out, plexus.Message{
				Role:       "tool",
				Content:    content,
				ToolCallID: block.Get("tool_use_id").String(),
			})
		default:
			warnf(req, "unsupported content block type %q dropped", block.Get("type").String())
		}
		return true
	})

	if textParts != "" || len(toolCalls) > 0 || len(out) == 0 {
		msg := plexus.Message{Role: m.Role}
		if textParts != "" || len(toolCalls) == 0 {
			content, _ := json.Marshal(textParts)
			msg.Content = content
		}
		if len(toolCalls) > 0 {
			tc, _ := json.Marshal(toolCalls)
			msg.ToolCalls = tc
		}
		out = append(out, msg)
	}
	return out
}
