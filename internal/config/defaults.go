package config

import "time"

// DefaultServerConfig mirrors the teacher's Default*Config-per-section
// convention (config/defaults.go), scoped to arbstr's own server fields.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Listen:          ":8080",
		MetricsListen:   ":9090",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    0, // streaming responses are unbounded in duration
		ShutdownTimeout: 10 * time.Second,
	}
}

func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{Path: "./arbstr.db"}
}

func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		LogRequests:  true,
		EnableCaller: true,
	}
}

func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:     false,
		ServiceName: "arbstr",
		SampleRate:  0.1,
	}
}

func DefaultPoliciesConfig() PoliciesConfig {
	return PoliciesConfig{DefaultStrategy: StrategyCheapest}
}

// DefaultConfig returns a Config with every section at its zero-provider
// default. It is never used directly to serve traffic (Providers is
// empty, which Validate rejects) — it exists so Loader can start from a
// known baseline before overlaying the TOML file.
func DefaultConfig() Config {
	return Config{
		Server:    DefaultServerConfig(),
		Database:  DefaultDatabaseConfig(),
		Providers: nil,
		Policies:  DefaultPoliciesConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}
