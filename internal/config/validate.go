package config

import (
	"fmt"
	"os"
)

// Validate enforces the invariants that must hold before a Config is
// handed to the rest of the process. It is intentionally strict: a
// misconfigured provider or policy should fail fast at startup, never at
// request time.
func Validate(cfg *Config) error {
	if cfg.Server.Listen == "" {
		return fmt.Errorf("config: server.listen must not be empty")
	}
	if len(cfg.Providers) == 0 {
		return fmt.Errorf("config: at least one [[providers]] entry is required")
	}

	seen := make(map[string]struct{}, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if p.Name == "" {
			return fmt.Errorf("config: provider entry missing name")
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("config: duplicate provider name %q", p.Name)
		}
		seen[p.Name] = struct{}{}

		if p.URL == "" {
			return fmt.Errorf("config: provider %q missing url", p.Name)
		}
		if p.OutputRate < 0 || p.InputRate < 0 || p.BaseFee < 0 {
			return fmt.Errorf("config: provider %q has a negative rate or fee", p.Name)
		}
		if p.APIKey.IsEmpty() {
			fmt.Fprintf(os.Stderr, "config: warning: provider %q has no api_key configured\n", p.Name)
		} else if looksPlaintext(p.APIKey.Expose()) {
			fmt.Fprintf(os.Stderr, "config: warning: provider %q's api_key appears to be a literal value in the config file rather than an ${ENV_VAR} reference\n", p.Name)
		}
	}

	if err := validateStrategy(cfg.Policies.DefaultStrategy, "policies.default_strategy"); err != nil {
		return err
	}

	ruleNames := make(map[string]struct{}, len(cfg.Policies.Rules))
	for _, r := range cfg.Policies.Rules {
		if r.Name == "" {
			return fmt.Errorf("config: policy rule missing name")
		}
		if _, dup := ruleNames[r.Name]; dup {
			return fmt.Errorf("config: duplicate policy rule name %q", r.Name)
		}
		ruleNames[r.Name] = struct{}{}

		strategy := r.Strategy
		if strategy == "" {
			strategy = cfg.Policies.DefaultStrategy
		}
		if err := validateStrategy(strategy, fmt.Sprintf("policy %q", r.Name)); err != nil {
			return err
		}
		if r.MaxSatsPer1kOutput != nil && *r.MaxSatsPer1kOutput < 0 {
			return fmt.Errorf("config: policy %q has a negative max_sats_per_1k_output", r.Name)
		}
	}

	return nil
}

// validateStrategy rejects any strategy other than "cheapest" outright,
// per the Open Question decision recorded in DESIGN.md: lowest_latency and
// round_robin are named in the data model but have no implementation, so a
// config that requests either fails to load rather than silently routing
// as if "cheapest" had been requested.
func validateStrategy(s Strategy, where string) error {
	switch s {
	case "", StrategyCheapest:
		return nil
	case StrategyLowestLatency, StrategyRoundRobin:
		return fmt.Errorf("config: %s requests strategy %q, which is not implemented (only %q is supported)", where, s, StrategyCheapest)
	default:
		return fmt.Errorf("config: %s has unknown strategy %q", where, s)
	}
}

// looksPlaintext is a heuristic: most provider API keys are 20+ char
// opaque tokens with no spaces, so a short value or one containing
// whitespace is more likely to be a placeholder or comment left in by
// mistake than an actual secret, and is exempted from the warning.
func looksPlaintext(v string) bool {
	if len(v) < 12 {
		return false
	}
	for _, r := range v {
		if r == ' ' || r == '\t' {
			return false
		}
	}
	return true
}
