// Package router resolves which policy governs a request and ranks the
// providers eligible to serve it, cheapest first. It never makes a network
// call: everything here operates on the in-memory Config.
package router

import (
	"sort"
	"strings"

	"github.com/arbstr/arbstr/internal/apierr"
	"github.com/arbstr/arbstr/internal/arbcost"
	"github.com/arbstr/arbstr/internal/config"
	"github.com/arbstr/arbstr/internal/secret"
)

// Candidate is one provider eligible to serve a given model, already
// carrying everything the orchestrator needs to issue the egress request
// and account for its cost.
type Candidate struct {
	Provider      string
	URL           string
	APIKey        secret.Secret
	InputRate     int64
	OutputRate    int64
	BaseFee       int64
	RoutingCost   int64 // arbcost.RoutingCost(OutputRate, BaseFee); cached for the sort
}

// Router ranks candidates for a model against a fixed Config. It holds no
// mutable state of its own — Config is loaded once at startup and never
// replaced (no hot reload), so Router needs no lock.
type Router struct {
	cfg *config.Config
}

// New builds a Router over cfg. cfg must already have passed
// config.Validate.
func New(cfg *config.Config) *Router {
	return &Router{cfg: cfg}
}

// ResolvePolicy finds the PolicyRule governing a request: first an exact
// rule-name match against policyName (set from the X-Arbstr-Policy
// header), then the first rule whose Keywords contains a
// case-insensitive substring of prompt, else nil — the request falls
// through to the configured default strategy with no rule constraining
// it.
func (r *Router) ResolvePolicy(policyName, prompt string) *config.PolicyRule {
	if policyName != "" {
		for i := range r.cfg.Policies.Rules {
			if r.cfg.Policies.Rules[i].Name == policyName {
				return &r.cfg.Policies.Rules[i]
			}
		}
	}

	lowerPrompt := strings.ToLower(prompt)
	for i := range r.cfg.Policies.Rules {
		rule := &r.cfg.Policies.Rules[i]
		for _, kw := range rule.Keywords {
			if kw != "" && strings.Contains(lowerPrompt, kw) {
				return rule
			}
		}
	}

	return nil
}

// SelectCandidates returns every eligible provider for model, cheapest
// first, after resolving the effective policy (by policyName, then by
// prompt keyword match) and applying its allow-list and
// max-sats-per-1k-output ceiling (if any). An empty, non-nil slice is
// never returned with a nil error: the caller gets either candidates or a
// typed *apierr.Error explaining why there are none.
func (r *Router) SelectCandidates(model, policyName, prompt string) ([]Candidate, *apierr.Error) {
	policy := r.ResolvePolicy(policyName, prompt)

	if policy != nil && len(policy.AllowedModels) > 0 && !containsString(policy.AllowedModels, model) {
		return nil, apierr.NoPolicyMatch(model)
	}

	seen := make(map[string]struct{}, len(r.cfg.Providers))
	var out []Candidate
	for _, p := range r.cfg.Providers {
		if !p.AcceptsModel(model) {
			continue
		}
		if _, dup := seen[p.Name]; dup {
			continue
		}

		if policy != nil && policy.MaxSatsPer1kOutput != nil && p.OutputRate > *policy.MaxSatsPer1kOutput {
			continue
		}

		routingCost := arbcost.RoutingCost(p.OutputRate, p.BaseFee)
		seen[p.Name] = struct{}{}
		out = append(out, Candidate{
			Provider:    p.Name,
			URL:         p.URL,
			APIKey:      p.APIKey,
			InputRate:   p.InputRate,
			OutputRate:  p.OutputRate,
			BaseFee:     p.BaseFee,
			RoutingCost: routingCost,
		})
	}

	if len(out) == 0 {
		return nil, apierr.NoProviders(model)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RoutingCost != out[j].RoutingCost {
			return out[i].RoutingCost < out[j].RoutingCost
		}
		return out[i].Provider < out[j].Provider // deterministic tiebreak
	})

	return out, nil
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
