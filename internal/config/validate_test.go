package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.Providers = []ProviderConfig{
		{Name: "alpha", URL: "https://alpha.example.com", OutputRate: 10, InputRate: 5, BaseFee: 1},
	}
	return cfg
}

func TestValidate_AcceptsMinimalValidConfig(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, Validate(&cfg))
}

func TestValidate_RejectsNoProviders(t *testing.T) {
	cfg := DefaultConfig()
	require.Error(t, Validate(&cfg))
}

func TestValidate_RejectsNegativeRate(t *testing.T) {
	cfg := validConfig()
	cfg.Providers[0].OutputRate = -1
	require.Error(t, Validate(&cfg))
}

func TestValidate_RejectsUnnamedProvider(t *testing.T) {
	cfg := validConfig()
	cfg.Providers[0].Name = ""
	require.Error(t, Validate(&cfg))
}

func TestValidate_StrategyTable(t *testing.T) {
	tests := []struct {
		name      string
		strategy  Strategy
		wantError bool
	}{
		{"cheapest ok", StrategyCheapest, false},
		{"empty defaults fine", "", false},
		{"lowest_latency rejected", StrategyLowestLatency, true},
		{"round_robin rejected", StrategyRoundRobin, true},
		{"unknown rejected", Strategy("bogus"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Policies.DefaultStrategy = tt.strategy
			err := Validate(&cfg)
			if tt.wantError {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidate_RejectsNegativeMaxSats(t *testing.T) {
	cfg := validConfig()
	negative := int64(-5)
	cfg.Policies.Rules = []PolicyRule{{Name: "r1", MaxSatsPer1kOutput: &negative}}
	require.Error(t, Validate(&cfg))
}

func TestValidate_RejectsDuplicateRuleNames(t *testing.T) {
	cfg := validConfig()
	cfg.Policies.Rules = []PolicyRule{{Name: "r1"}, {Name: "r1"}}
	require.Error(t, Validate(&cfg))
}

func TestLooksPlaintext(t *testing.T) {
	assert.False(t, looksPlaintext("short"))
	assert.False(t, looksPlaintext("has spaces in it 1234567"))
	assert.True(t, looksPlaintext("sk-live-abcdefghijklmnop"))
}
