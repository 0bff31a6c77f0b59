// Package config loads arbstr's immutable, in-memory configuration model
// from a TOML file plus environment expansion.
package config

import (
	"time"

	"github.com/arbstr/arbstr/internal/secret"
)

// Config is the fully-resolved, immutable application configuration. It is
// built once at startup by Loader.Load and never mutated afterward; there
// is no hot-reload path (explicit non-goal).
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Providers []ProviderConfig
	Policies  PoliciesConfig
	Log       LogConfig
	Telemetry TelemetryConfig
}

// ServerConfig is the [server] table.
type ServerConfig struct {
	Listen          string        `toml:"listen"`
	MetricsListen   string        `toml:"metrics_listen"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

// DatabaseConfig is the [database] table.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// ProviderConfig is one [[providers]] entry. Names must be unique within a
// config; that invariant is enforced by Validate, not by this type.
type ProviderConfig struct {
	Name       string        `toml:"name"`
	URL        string        `toml:"url"`
	APIKey     secret.Secret `toml:"api_key"`
	Models     []string      `toml:"models"`
	InputRate  int64         `toml:"input_rate"`
	OutputRate int64         `toml:"output_rate"`
	BaseFee    int64         `toml:"base_fee"`
}

// AcceptsModel reports whether this provider can serve model. An empty
// Models set means "accepts any model".
func (p ProviderConfig) AcceptsModel(model string) bool {
	if len(p.Models) == 0 {
		return true
	}
	for _, m := range p.Models {
		if m == model {
			return true
		}
	}
	return false
}

// Strategy enumerates the routing strategies a PolicyRule may request.
// Only StrategyCheapest is implemented; the other two are rejected at
// config load rather than silently aliased to cheapest (see DESIGN.md).
type Strategy string

const (
	StrategyCheapest      Strategy = "cheapest"
	StrategyLowestLatency Strategy = "lowest_latency"
	StrategyRoundRobin    Strategy = "round_robin"
)

// PolicyRule is one [[policies.rules]] entry.
type PolicyRule struct {
	Name               string   `toml:"name"`
	AllowedModels      []string `toml:"allowed_models"`
	Strategy           Strategy `toml:"strategy"`
	MaxSatsPer1kOutput *int64   `toml:"max_sats_per_1k_output"`
	Keywords           []string `toml:"keywords"` // pre-lowercased at load time
}

// PoliciesConfig is the [policies] table plus its repeated rules.
type PoliciesConfig struct {
	DefaultStrategy Strategy     `toml:"default_strategy"`
	Rules           []PolicyRule `toml:"rules"`
}

// LogConfig is the [logging] table.
type LogConfig struct {
	Level            string `toml:"level"`
	Format           string `toml:"format"` // "json" or "console"
	LogRequests      bool   `toml:"log_requests"`
	EnableCaller     bool   `toml:"-"`
	EnableStacktrace bool   `toml:"-"`
}

// TelemetryConfig configures the OTel SDK (internal/telemetry).
type TelemetryConfig struct {
	Enabled      bool    `toml:"enabled"`
	OTLPEndpoint string  `toml:"otlp_endpoint"`
	ServiceName  string  `toml:"service_name"`
	SampleRate   float64 `toml:"sample_rate"`
}
