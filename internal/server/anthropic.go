package server

import (
	"encoding/json"
	"net/http"

	"github.com/tidwall/gjson"

	plexus "github.com/plexushq/plexus/internal"
	"github.com/plexushq/plexus/internal/stream"
)

// anthropicMessage renders a unified response as an Anthropic messages
// response. Tool calls become tool_use content blocks.
func anthropicMessage(resp *plexus.UnifiedResponse, alias string) map[string]any {
	content := make([]any, 0, 2)
	if resp.Content != "" {
		content = append(content, map[string]any{"type": "text", "text": resp.Content})
	}
	gjson.ParseBytes(resp.ToolCalls).ForEach(func(_, tc gjson.Result) bool {
		var input any = map[string]any{}
		if args := tc.Get("function.arguments").String(); args != "" {
			var v any
			if json.Unmarshal([]byte(args), &v) == nil {
				input = v
			}
		}
		content = append(content, map[string]any{
			"type":  "tool_use",
			"id":    tc.Get("id").String(),
			"name":  tc.Get("function.name").String(),
			"input": input,
		})
		return true
	})

	body := map[string]any{
		"id":            resp.ID,
		"type":          "message",
		"role":          "assistant",
		"model":         alias,
		"content":       content,
		"stop_reason":   anthropicStopReason(resp.FinishReason),
		"stop_sequence": nil,
	}
	if resp.Usage != nil {
		u := map[string]any{
			"input_tokens":  resp.Usage.InputTokens,
			"output_tokens": resp.Usage.OutputTokens,
		}
		if resp.Usage.CachedTokens > 0 {
			u["cache_read_input_tokens"] = resp.Usage.CachedTokens
		}
		body["usage"] = u
	}
	return body
}

// anthropicStopReason maps the unified finish reason to Anthropic's naming.
func anthropicStopReason(finishReason string) string {
	switch finishReason {
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	default:
		return "end_turn"
	}
}

// anthropicStreamEncoder re-frames OpenAI-format chunks as the Anthropic SSE
// event sequence: message_start, content_block_start, content_block_delta*,
// content_block_stop, message_delta, message_stop. One encoder serves one
// stream and is not safe for concurrent use.
type anthropicStreamEncoder struct {
	model      string
	started    bool
	blockOpen  bool
	stopReason string
}

func newAnthropicStreamEncoder(model string) *anthropicStreamEncoder {
	return &anthropicStreamEncoder{model: model}
}

// WriteChunk translates one OpenAI-format chunk into Anthropic events.
// Chunks without representable content (usage-only frames) emit nothing.
func (e *anthropicStreamEncoder) WriteChunk(w http.ResponseWriter, t *stream.Tap, data []byte) {
	chunk := gjson.ParseBytes(data)
	if !e.started {
		e.start(w, t, chunk.Get("id").String())
	}
	if text := chunk.Get("choices.0.delta.content"); text.String() != "" {
		if !e.blockOpen {
			e.blockOpen = true
			e.writeEvent(w, t, "content_block_start", map[string]any{
				"type":          "content_block_start",
				"index":         0,
				"content_block": map[string]any{"type": "text", "text": ""},
			})
		}
		e.writeEvent(w, t, "content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": 0,
			"delta": map[string]any{"type": "text_delta", "text": text.String()},
		})
	}
	if fr := chunk.Get("choices.0.finish_reason"); fr.String() != "" {
		e.stopReason = anthropicStopReason(fr.String())
	}
}

// Finish closes any open block and terminates the event sequence. A stream
// that produced no chunks still emits a valid sequence.
func (e *anthropicStreamEncoder) Finish(w http.ResponseWriter, t *stream.Tap, u plexus.Usage) {
	if !e.started {
		e.start(w, t, "")
	}
	if e.blockOpen {
		e.writeEvent(w, t, "content_block_stop", map[string]any{
			"type":  "content_block_stop",
			"index": 0,
		})
	}
	stop := e.stopReason
	if stop == "" {
		stop = "end_turn"
	}
	e.writeEvent(w, t, "message_delta", map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": stop, "stop_sequence": nil},
		"usage": map[string]any{"output_tokens": u.OutputTokens},
	})
	e.writeEvent(w, t, "message_stop", map[string]any{"type": "message_stop"})
}

// WriteError terminates a failed stream with an Anthropic error event.
func (e *anthropicStreamEncoder) WriteError(w http.ResponseWriter, t *stream.Tap) {
	e.writeEvent(w, t, "error", map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    "api_error",
			"message": "upstream stream failed",
		},
	})
}

func (e *anthropicStreamEncoder) start(w http.ResponseWriter, t *stream.Tap, id string) {
	e.started = true
	e.writeEvent(w, t, "message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":      id,
			"type":    "message",
			"role":    "assistant",
			"model":   e.model,
			"content": []any{},
			"usage":   map[string]any{"input_tokens": 0, "output_tokens": 0},
		},
	})
}

func (e *anthropicStreamEncoder) writeEvent(w http.ResponseWriter, t *stream.Tap, event string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	writeTappedEvent(w, t, event, b)
}
