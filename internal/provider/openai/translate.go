package openai

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/tidwall/gjson"

	plexus "github.com/plexushq/plexus/internal"
	"github.com/plexushq/plexus/internal/provider/sseutil"
)

// wireRequest is the OpenAI chat-completions request body.
type wireRequest struct {
	Model            string            `json:"model"`
	Messages         []plexus.Message  `json:"messages"`
	Temperature      *float64          `json:"temperature,omitempty"`
	TopP             *float64          `json:"top_p,omitempty"`
	PresencePenalty  *float64          `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64          `json:"frequency_penalty,omitempty"`
	Seed             *int              `json:"seed,omitempty"`
	MaxTokens        *int              `json:"max_completion_tokens,omitempty"`
	Stop             json.RawMessage   `json:"stop,omitempty"`
	Stream           bool              `json:"stream,omitempty"`
	StreamOptions    *streamOptions    `json:"stream_options,omitempty"`
	Tools            json.RawMessage   `json:"tools,omitempty"`
	ToolChoice       json.RawMessage   `json:"tool_choice,omitempty"`
	User             string            `json:"user,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// marshalRequest builds the wire body for the routed canonical model. When
// streaming, usage is always requested in the final chunk so accounting does
// not depend on client stream options.
func marshalRequest(req *plexus.UnifiedRequest, model string, stream bool) ([]byte, error) {
	out := wireRequest{
		Model:            model,
		Messages:         req.Messages,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		PresencePenalty:  req.PresencePenalty,
		FrequencyPenalty: req.FrequencyPenalty,
		Seed:             req.Seed,
		MaxTokens:        req.MaxOutputTokens,
		Stop:             req.Stop,
		Stream:           stream,
		Tools:            req.Tools,
		ToolChoice:       req.ToolChoice,
		User:             req.Metadata["user"],
	}
	if stream {
		out.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return json.Marshal(&out)
}

// parseResponse reads an OpenAI chat-completion response body into the
// unified form.
func parseResponse(body io.Reader) (*plexus.UnifiedResponse, error) {
	data, err := io.ReadAll(io.LimitReader(body, 1<<20)) // 1MB limit
	if err != nil {
		return nil, fmt.Errorf("openai: read response: %w", err)
	}
	r := gjson.ParseBytes(data)

	out := &plexus.UnifiedResponse{
		ID:           r.Get("id").String(),
		Object:       r.Get("object").String(),
		Created:      r.Get("created").Int(),
		Model:        r.Get("model").String(),
		Content:      r.Get("choices.0.message.content").String(),
		FinishReason: r.Get("choices.0.finish_reason").String(),
	}
	if tc := r.Get("choices.0.message.tool_calls"); tc.Exists() {
		out.ToolCalls = json.RawMessage(tc.Raw)
	}
	if u := r.Get("usage"); u.Exists() {
		usage := sseutil.ParseOpenAIUsage(u)
		out.Usage = &usage
	}
	return out, nil
}

// parseModelList reads a GET /models envelope into a slice of model IDs.
func parseModelList(body io.Reader) ([]string, error) {
	var out struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		return nil, fmt.Errorf("openai: decode models response: %w", err)
	}
	ids := make([]string, len(out.Data))
	for i, m := range out.Data {
		ids[i] = m.ID
	}
	return ids, nil
}
