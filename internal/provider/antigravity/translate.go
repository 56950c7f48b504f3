package antigravity

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	plexus "github.com/plexushq/plexus/internal"
)

// geminiRequest is the Gemini generateContent request body carried inside
// the Antigravity envelope.
type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Tools             []geminiTool            `json:"tools,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string          `json:"text,omitempty"`
	FunctionCall     json.RawMessage `json:"functionCall,omitempty"`
	FunctionResponse json.RawMessage `json:"functionResponse,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations json.RawMessage `json:"functionDeclarations,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"topP,omitempty"`
	TopK            *int            `json:"topK,omitempty"`
	MaxOutputTokens *int            `json:"maxOutputTokens,omitempty"`
	StopSequences   json.RawMessage `json:"stopSequences,omitempty"`
}

// translateRequest converts a unified request to a Gemini generateContent
// request. The model is carried on the envelope, not in the body.
func translateRequest(req *plexus.UnifiedRequest) *geminiRequest {
	out := &geminiRequest{}

	if req.Temperature != nil || req.TopP != nil || req.TopK != nil || req.MaxOutputTokens != nil || len(req.Stop) > 0 {
		out.GenerationConfig = &geminiGenerationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			TopK:            req.TopK,
			MaxOutputTokens: req.MaxOutputTokens,
			StopSequences:   req.Stop,
		}
	}

	// Tools: extract function declarations from OpenAI tools format.
	if len(req.Tools) > 0 {
		var openaiTools []struct {
			Function json.RawMessage `json:"function"`
		}
		if json.Unmarshal(req.Tools, &openaiTools) == nil && len(openaiTools) > 0 {
			var decls []json.RawMessage
			for _, t := range openaiTools {
				if t.Function != nil {
					decls = append(decls, t.Function)
				}
			}
			if len(decls) > 0 {
				raw, _ := json.Marshal(decls)
				out.Tools = []geminiTool{{FunctionDeclarations: raw}}
			}
		}
	}

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			out.SystemInstruction = &geminiContent{
				Parts: []geminiPart{{Text: m.ContentText()}},
			}
		case "user":
			out.Contents = append(out.Contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: m.ContentText()}},
			})
		case "assistant":
			out.Contents = append(out.Contents, geminiContent{
				Role:  "model",
				Parts: assistantParts(m),
			})
		case "tool":
			// Tool results map to functionResponse parts.
			fr, _ := json.Marshal(map[string]any{
				"name":     m.ToolCallID,
				"response": json.RawMessage(m.Content),
			})
			out.Contents = append(out.Contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{FunctionResponse: fr}},
			})
		}
	}

	return out
}

// assistantParts builds the part list for an assistant turn, mapping OpenAI
// tool_calls to functionCall parts.
func assistantParts(m plexus.Message) []geminiPart {
	var parts []geminiPart
	if text := m.ContentText(); text != "" {
		parts = append(parts, geminiPart{Text: text})
	}
	gjson.ParseBytes(m.ToolCalls).ForEach(func(_, tc gjson.Result) bool {
		fc, _ := json.Marshal(map[string]any{
			"name": tc.Get("function.name").String(),
			"args": json.RawMessage(tc.Get("function.arguments").Raw),
		})
		parts = append(parts, geminiPart{FunctionCall: fc})
		return true
	})
	if len(parts) == 0 {
		parts = []geminiPart{{Text: ""}}
	}
	return parts
}

// translateResponse converts an unwrapped Gemini generateContent JSON
// response to the unified (OpenAI-shaped) form.
func translateResponse(data []byte, requestModel string) (*plexus.UnifiedResponse, error) {
	r := gjson.ParseBytes(data)

	stopReason := mapStopReason(r.Get("candidates.0.finishReason").String())

	var contentText strings.Builder
	var toolCalls []json.RawMessage
	r.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		if text := part.Get("text"); text.Exists() {
			contentText.WriteString(text.String())
		}
		if fc := part.Get("functionCall"); fc.Exists() {
			tc, _ := json.Marshal(map[string]any{
				"id":   fc.Get("name").String(), // Gemini has no separate call IDs
				"type": "function",
				"function": map[string]any{
					"name":      fc.Get("name").String(),
					"arguments": fc.Get("args").Raw,
				},
			})
			toolCalls = append(toolCalls, tc)
		}
		return true
	})

	out := &plexus.UnifiedResponse{
		ID:           "antigravity-" + requestModel,
		Object:       "chat.completion",
		Model:        requestModel,
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
	if u := r.Get("usageMetadata"); u.Exists() {
		usage := parseUsageMetadata(u)
		out.Usage = &usage
	}
	return out, nil
}

// parseUsageMetadata maps Gemini usageMetadata to the internal usage shape.
// thoughtsTokenCount counts reasoning tokens, which Gemini reports separately
// from candidate tokens.
func parseUsageMetadata(u gjson.Result) plexus.Usage {
	usage := plexus.Usage{
		InputTokens:     int(u.Get("promptTokenCount").Int()),
		OutputTokens:    int(u.Get("candidatesTokenCount").Int()),
		ReasoningTokens: int(u.Get("thoughtsTokenCount").Int()),
		CachedTokens:    int(u.Get("cachedContentTokenCount").Int()),
		TotalTokens:     int(u.Get("totalTokenCount").Int()),
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens + usage.ReasoningTokens
	}
	return usage
}

// mapStopReason converts Gemini finish reasons to OpenAI finish reasons.
func mapStopReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION":
		return "content_filter"
	default:
		return reason
	}
}
