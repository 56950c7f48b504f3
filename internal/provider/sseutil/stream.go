package sseutil

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	plexus "github.com/plexushq/plexus/internal"
)

// ReadSSEStream reads SSE lines from resp and sends them as StreamChunks on
// ch. It handles the standard "[DONE]" sentinel and extracts usage from the
// final chunk. Data payloads are forwarded verbatim, including "null" bodies
// some upstreams emit on abnormal termination; downstream sanitizing decides
// what to do with those. The channel is closed when done.
func ReadSSEStream(ctx context.Context, providerName string, resp *http.Response, ch chan<- plexus.StreamChunk) {
	defer close(ch)
	defer resp.Body.Close()

	scanner := NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		_, data, ok := ParseSSELine(line)
		if !ok {
			continue
		}
		if data == "[DONE]" {
			ch <- plexus.StreamChunk{Done: true}
			return
		}

		chunk := plexus.StreamChunk{Data: []byte(data)}
		if u := gjson.GetBytes(chunk.Data, "usage"); u.Exists() && u.Type == gjson.JSON {
			if usage := ParseOpenAIUsage(u); usage.TotalTokens > 0 {
				chunk.Usage = &usage
			}
		}

		select {
		case ch <- chunk:
		case <-ctx.Done():
			ch <- plexus.StreamChunk{Err: ctx.Err()}
			return
		}
	}
	if err := scanner.Err(); err != nil {
		ch <- plexus.StreamChunk{Err: fmt.Errorf("%s: read stream: %w", providerName, err)}
	}
}

// ParseOpenAIUsage maps an OpenAI usage object, including the nested token
// detail blocks, to the internal usage shape.
func ParseOpenAIUsage(u gjson.Result) plexus.Usage {
	usage := plexus.Usage{
		InputTokens:     int(u.Get("prompt_tokens").Int()),
		OutputTokens:    int(u.Get("completion_tokens").Int()),
		CachedTokens:    int(u.Get("prompt_tokens_details.cached_tokens").Int()),
		ReasoningTokens: int(u.Get("completion_tokens_details.reasoning_tokens").Int()),
		TotalTokens:     int(u.Get("total_tokens").Int()),
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}
	return usage
}
