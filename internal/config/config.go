// Package config handles YAML configuration loading, validation, and the
// live snapshot store with atomic swap and change events.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	plexus "github.com/plexushq/plexus/internal"
)

// File is the on-disk YAML schema.
type File struct {
	Server    ServerConfig                 `yaml:"server"`
	LogLevel  string                       `yaml:"log_level"`
	Database  DatabaseConfig               `yaml:"database"`
	Debug     DebugConfig                  `yaml:"debug"`
	Telemetry TelemetryConfig              `yaml:"telemetry"`
	Providers map[string]ProviderEntry     `yaml:"providers"`
	Models    map[string]ModelEntry        `yaml:"models"`
	Keys      map[string]KeyEntry          `yaml:"keys"`
	Admin     AdminConfig                  `yaml:"admin"`
	Quotas    map[string]QuotaCheckerEntry `yaml:"quotas"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"` // per-request ceiling
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// DebugConfig controls per-request trace capture on disk.
type DebugConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// ProviderEntry is a provider definition in the config file.
type ProviderEntry struct {
	Type         string            `yaml:"type"`
	BaseURL      string            `yaml:"base_url"`
	APIKey       string            `yaml:"api_key"`
	Headers      map[string]string `yaml:"headers"`
	QuotaChecker string            `yaml:"quota_checker"`
}

// ModelEntry is a model alias definition in the config file.
type ModelEntry struct {
	Targets       []plexus.Target `yaml:"targets"`
	Selector      string          `yaml:"selector"`
	Pricing       *plexus.Pricing `yaml:"pricing"`
	ContextLength int             `yaml:"context_length"`
}

// KeyEntry is a client API key declaration. Scopes and labels are opaque to
// the routing core; the key name is attached to trace entries for attribution.
type KeyEntry struct {
	Key   string `yaml:"key"`
	Label string `yaml:"label"`
}

// AdminConfig gates the admin API surface.
type AdminConfig struct {
	APIKey string `yaml:"api_key"`
}

// QuotaCheckerEntry declares a per-provider quota checker.
type QuotaCheckerEntry struct {
	Type    string            `yaml:"type"`
	Options map[string]string `yaml:"options"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Parse parses raw YAML into a File with defaults and environment expansion
// applied. PLEXUS_PORT and PLEXUS_LOG_LEVEL override the parsed values.
func Parse(data []byte) (*File, error) {
	data = expandEnv(data)

	f := &File{
		Server: ServerConfig{
			Port:            8711,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0, // streams must outlive any fixed write window
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  600 * time.Second,
		},
		LogLevel: "info",
		Database: DatabaseConfig{DSN: "plexus.db"},
		Debug:    DebugConfig{Dir: "debug", RetentionDays: 7},
	}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if v := os.Getenv("PLEXUS_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			f.Server.Port = port
		}
	}
	if v := os.Getenv("PLEXUS_LOG_LEVEL"); v != "" {
		f.LogLevel = v
	}
	return f, nil
}

// Validate checks cross-references and checker-specific options.
func (f *File) Validate() error {
	for alias, m := range f.Models {
		if len(m.Targets) == 0 {
			return fmt.Errorf("model %q has no targets", alias)
		}
		for _, t := range m.Targets {
			if _, ok := f.Providers[t.Provider]; !ok {
				return fmt.Errorf("model %q references unknown provider %q", alias, t.Provider)
			}
		}
		switch m.Selector {
		case "", "random", "cost", "latency", "usage":
		default:
			return fmt.Errorf("model %q has unknown selector %q", alias, m.Selector)
		}
	}
	for id, p := range f.Providers {
		if !plexus.ProviderType(p.Type).Known() {
			return fmt.Errorf("provider %q has unknown type %q", id, p.Type)
		}
		if p.QuotaChecker != "" {
			if _, ok := f.Quotas[p.QuotaChecker]; !ok {
				return fmt.Errorf("provider %q references unknown quota checker %q", id, p.QuotaChecker)
			}
		}
	}
	for name, q := range f.Quotas {
		if err := validateChecker(name, q); err != nil {
			return err
		}
	}
	return nil
}

// validateChecker applies checker-type-specific option rules.
func validateChecker(name string, q QuotaCheckerEntry) error {
	switch q.Type {
	case "minimax":
		groupID := strings.TrimSpace(q.Options["groupid"])
		session := strings.TrimSpace(q.Options["hertzSession"])
		if groupID == "" && session == "" {
			return fmt.Errorf("quota checker %q: MiniMax groupid is required and hertzSession must not be blank", name)
		}
		if groupID == "" {
			return fmt.Errorf("quota checker %q: MiniMax groupid is required", name)
		}
		if session == "" {
			return fmt.Errorf("quota checker %q: MiniMax hertzSession must not be blank", name)
		}
	case "", "window":
		// Generic windowed checkers need no extra options.
	default:
		return fmt.Errorf("quota checker %q has unknown type %q", name, q.Type)
	}
	return nil
}

// Load reads, parses, and validates a config file.
func Load(path string) (*File, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, nil, err
	}
	return f, data, nil
}
