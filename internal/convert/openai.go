package convert

import (
	"encoding/json"
	"fmt"

	plexus "github.com/plexushq/plexus/internal"
)

// openaiRequest is the OpenAI chat-completion request wire shape. Content
// fields stay raw so arbitrary part structures survive untouched.
type openaiRequest struct {
	Model               string           `json:"model"`
	Messages            []plexus.Message `json:"messages"`
	Temperature         *float64         `json:"temperature,omitempty"`
	TopP                *float64         `json:"top_p,omitempty"`
	N                   int              `json:"n,omitempty"`
	Stream              bool             `json:"stream,omitempty"`
	Stop                json.RawMessage  `json:"stop,omitempty"`
	MaxTokens           *int             `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int             `json:"max_completion_tokens,omitempty"`
	PresencePenalty     *float64         `json:"presence_penalty,omitempty"`
	FrequencyPenalty    *float64         `json:"frequency_penalty,omitempty"`
	Seed                *int             `json:"seed,omitempty"`
	User                string           `json:"user,omitempty"`
	Tools               json.RawMessage  `json:"tools,omitempty"`
	ToolChoice          json.RawMessage  `json:"tool_choice,omitempty"`
	ResponseFormat      json.RawMessage  `json:"response_format,omitempty"`
	LogitBias           json.RawMessage  `json:"logit_bias,omitempty"`
	Logprobs            *bool            `json:"logprobs,omitempty"`
	TopK                *int             `json:"top_k,omitempty"`
}

// FromOpenAI parses an OpenAI chat-completion request body into a
// UnifiedRequest.
func FromOpenAI(body []byte) (*plexus.UnifiedRequest, error) {
	var in openaiRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", plexus.ErrInvalidRequest, err)
	}

	out := &plexus.UnifiedRequest{
		Model:            in.Model,
		Messages:         in.Messages,
		Tools:            in.Tools,
		ToolChoice:       in.ToolChoice,
		Temperature:      in.Temperature,
		TopP:             in.TopP,
		PresencePenalty:  in.PresencePenalty,
		FrequencyPenalty: in.FrequencyPenalty,
		Seed:             in.Seed,
		Stop:             in.Stop,
		Stream:           in.Stream,
	}
	switch {
	case in.MaxCompletionTokens != nil:
		out.MaxOutputTokens = in.MaxCompletionTokens
	case in.MaxTokens != nil:
		out.MaxOutputTokens = in.MaxTokens
	}
	if in.User != "" {
		out.Metadata = map[string]string{"user": in.User}
	}

	if in.N > 1 {
		warnf(out, "n=%d not supported, generating a single choice", in.N)
	}
	if len(in.ResponseFormat) > 0 {
		warnf(out, "response_format is passed through only to OpenAI-compatible targets")
	}
	if len(in.LogitBias) > 0 {
		warnf(out, "logit_bias dropped: not representable across providers")
	}
	if in.Logprobs != nil && *in.Logprobs {
		warnf(out, "logprobs dropped: not representable across providers")
	}
	if in.TopK != nil {
		warnf(out, "top_k is not part of the chat completions dialect, dropped")
	}

	if err := validate(out); err != nil {
		return nil, err
	}
	return out, nil
}
