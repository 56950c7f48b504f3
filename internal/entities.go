package plexus

import "time"

// --- Provider and model configuration entities ---

// ProviderType selects the wire dialect an upstream speaks.
type ProviderType string

const (
	ProviderOpenAI      ProviderType = "openai"
	ProviderAnthropic   ProviderType = "anthropic"
	ProviderOpenRouter  ProviderType = "openrouter"
	ProviderCompat      ProviderType = "openai-compatible"
	ProviderAntigravity ProviderType = "antigravity"
)

// Known reports whether t names a supported provider dialect.
func (t ProviderType) Known() bool {
	switch t {
	case ProviderOpenAI, ProviderAnthropic, ProviderOpenRouter, ProviderCompat, ProviderAntigravity:
		return true
	}
	return false
}

// ProviderRecord is one configured upstream provider.
type ProviderRecord struct {
	ID           string            `json:"id" yaml:"-"`
	Type         ProviderType      `json:"type" yaml:"type"`
	BaseURL      string            `json:"base_url,omitempty" yaml:"base_url"`
	APIKey       string            `json:"-" yaml:"api_key"`
	Headers      map[string]string `json:"headers,omitempty" yaml:"headers"`
	QuotaChecker string            `json:"quota_checker,omitempty" yaml:"quota_checker"`
}

// Target is a (provider, canonical model) pair inside a model alias.
type Target struct {
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model" yaml:"model"`
}

// Pricing holds per-million-token prices in USD.
type Pricing struct {
	InputPer1M     float64 `json:"input_per_1m" yaml:"input_per_1m"`
	OutputPer1M    float64 `json:"output_per_1m" yaml:"output_per_1m"`
	CachedPer1M    float64 `json:"cached_per_1m,omitempty" yaml:"cached_per_1m"`
	ReasoningPer1M float64 `json:"reasoning_per_1m,omitempty" yaml:"reasoning_per_1m"`
}

// ModelAlias maps a client-visible model name to an ordered target list.
type ModelAlias struct {
	ID            string   `json:"id" yaml:"-"`
	Targets       []Target `json:"targets" yaml:"targets"`
	Selector      string   `json:"selector,omitempty" yaml:"selector"` // random (default), cost, latency, usage
	Pricing       *Pricing `json:"pricing,omitempty" yaml:"pricing"`
	ContextLength int      `json:"context_length,omitempty" yaml:"context_length"`
}

// RouteDecision is the outcome of resolving an alias: exactly one target plus
// the provider record needed to call it.
type RouteDecision struct {
	Alias      string
	ProviderID string
	Model      string // canonical slug
	Provider   *ProviderRecord
}

// --- Trace entries ---

// TraceEntry is the finalized record of one request, written to the usage
// store on success or the error store on failure.
type TraceEntry struct {
	ID        string    `json:"id"`
	RequestID string    `json:"request_id"`
	ClientIP  string    `json:"client_ip,omitempty"`
	KeyName   string    `json:"key_name,omitempty"`
	ClientAPI ClientAPI `json:"client_api"`

	Alias      string    `json:"alias"`
	ProviderID string    `json:"provider_id"`
	Model      string    `json:"model"`
	TargetAPI  ClientAPI `json:"target_api"`
	Streaming  bool      `json:"streaming"`

	Success         bool    `json:"success"`
	Usage           Usage   `json:"usage"`
	CostUSD         float64 `json:"cost_usd"`
	CostSource      string  `json:"cost_source"` // "alias", "default", "unknown"
	ProviderTTFTMs  int64   `json:"provider_ttft_ms,omitempty"`
	ClientTTFTMs    int64   `json:"client_ttft_ms,omitempty"`
	DurationMs      int64   `json:"duration_ms"`
	TokensPerSecond float64 `json:"tokens_per_second,omitempty"`
	Truncated       bool    `json:"trace_truncated,omitempty"`

	// Failure details, set only when Success is false.
	ErrorType    string `json:"error_type,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	HTTPStatus   int    `json:"http_status,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TraceFilter narrows trace store queries.
type TraceFilter struct {
	Provider string
	Model    string
	Since    string // RFC3339
	Until    string
	Limit    int
	Offset   int
}
