package antigravity

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/tidwall/gjson"

	plexus "github.com/plexushq/plexus/internal"
	"github.com/plexushq/plexus/internal/provider/sseutil"
)

// readStream reads Antigravity SSE events and emits OpenAI-format
// StreamChunks. The stream has no "event:" field and no "[DONE]" sentinel;
// it is EOF-terminated. Each "data:" line is a response envelope wrapping a
// full Gemini chunk. Text parts become content deltas and functionCall
// parts become tool_calls deltas. Usage is cumulative; the last seen
// values are emitted at the end.
func readStream(ctx context.Context, body io.ReadCloser, ch chan<- plexus.StreamChunk, model string) {
	defer close(ch)
	defer body.Close()

	scanner := sseutil.NewScanner(body)
	id := "antigravity-" + model
	created := time.Now().Unix()

	var lastUsage *plexus.Usage
	var toolCallIndex int
	for scanner.Scan() {
		line := scanner.Text()
		_, data, ok := sseutil.ParseSSELine(line)
		if !ok {
			continue
		}

		r := gjson.ParseBytes(unwrap([]byte(data)))

		finishReason := mapStopReason(r.Get("candidates.0.finishReason").String())

		if u := r.Get("usageMetadata"); u.Exists() {
			usage := parseUsageMetadata(u)
			lastUsage = &usage
		}

		var chunks [][]byte
		r.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
			if text := part.Get("text").String(); text != "" {
				chunks = append(chunks, sseutil.BuildDeltaChunk(id, model, created, map[string]any{"content": text}, ""))
			}
			if fc := part.Get("functionCall"); fc.Exists() {
				name := fc.Get("name").String()
				// Gemini has no separate call IDs; reuse the function name.
				delta := map[string]any{"tool_calls": []map[string]any{{
					"index": toolCallIndex,
					"id":    name,
					"type":  "function",
					"function": map[string]any{
						"name":      name,
						"arguments": fc.Get("args").Raw,
					},
				}}}
				chunks = append(chunks, sseutil.BuildDeltaChunk(id, model, created, delta, ""))
				toolCallIndex++
			}
			return true
		})

		if finishReason != "" {
			if toolCallIndex > 0 && finishReason == "stop" {
				finishReason = "tool_calls"
			}
			chunks = append(chunks, sseutil.BuildDeltaChunk(id, model, created, map[string]any{}, finishReason))
		}

		for _, chunk := range chunks {
			select {
			case ch <- plexus.StreamChunk{Data: chunk}:
			case <-ctx.Done():
				ch <- plexus.StreamChunk{Err: ctx.Err()}
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		ch <- plexus.StreamChunk{Err: fmt.Errorf("antigravity: read stream: %w", err)}
		return
	}

	if lastUsage != nil {
		usageData := sseutil.BuildUsageChunk(id, model, created, lastUsage)
		ch <- plexus.StreamChunk{Data: usageData, Usage: lastUsage}
	}
	ch <- plexus.StreamChunk{Done: true}
}
