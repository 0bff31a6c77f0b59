package router

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbstr/arbstr/internal/apierr"
	"github.com/arbstr/arbstr/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Providers: []config.ProviderConfig{
			{Name: "pricey", Models: []string{"gpt-4"}, OutputRate: 100, BaseFee: 10},
			{Name: "cheap", Models: []string{"gpt-4"}, OutputRate: 10, BaseFee: 0},
			{Name: "mid", Models: []string{"gpt-4"}, OutputRate: 50, BaseFee: 5},
			{Name: "other-model-only", Models: []string{"claude-3"}, OutputRate: 1, BaseFee: 0},
		},
		Policies: config.PoliciesConfig{DefaultStrategy: config.StrategyCheapest},
	}
}

func TestSelectCandidates_CheapestFirst(t *testing.T) {
	r := New(testConfig())
	candidates, apiErr := r.SelectCandidates("gpt-4", "", "")
	require.Nil(t, apiErr)
	require.Len(t, candidates, 3)

	assert.Equal(t, "cheap", candidates[0].Provider)
	assert.Equal(t, "mid", candidates[1].Provider)
	assert.Equal(t, "pricey", candidates[2].Provider)
}

func TestSelectCandidates_ExcludesNonMatchingModels(t *testing.T) {
	r := New(testConfig())
	candidates, apiErr := r.SelectCandidates("gpt-4", "", "")
	require.Nil(t, apiErr)
	for _, c := range candidates {
		assert.NotEqual(t, "other-model-only", c.Provider)
	}
}

func TestSelectCandidates_NoProviders(t *testing.T) {
	r := New(testConfig())
	_, apiErr := r.SelectCandidates("nonexistent-model", "", "")
	require.NotNil(t, apiErr)
	assert.Equal(t, apierr.KindNoProviders, apiErr.Kind)
}

func TestSelectCandidates_EmptyModelsAcceptsAnyModel(t *testing.T) {
	cfg := &config.Config{Providers: []config.ProviderConfig{
		{Name: "wildcard", OutputRate: 1},
	}}
	r := New(cfg)
	candidates, apiErr := r.SelectCandidates("anything-at-all", "", "")
	require.Nil(t, apiErr)
	require.Len(t, candidates, 1)
}

func TestSelectCandidates_PolicyAllowList(t *testing.T) {
	cfg := testConfig()
	cfg.Policies.Rules = []config.PolicyRule{
		{Name: "strict", AllowedModels: []string{"claude-3"}},
	}
	r := New(cfg)
	_, apiErr := r.SelectCandidates("gpt-4", "strict", "")
	require.NotNil(t, apiErr)
	assert.Equal(t, apierr.KindNoPolicyMatch, apiErr.Kind)
}

func TestSelectCandidates_PolicyCeilingExcludesExpensiveProviders(t *testing.T) {
	cfg := testConfig()
	ceiling := int64(60)
	cfg.Policies.Rules = []config.PolicyRule{
		{Name: "budget", MaxSatsPer1kOutput: &ceiling},
	}
	r := New(cfg)
	candidates, apiErr := r.SelectCandidates("gpt-4", "budget", "")
	require.Nil(t, apiErr)
	for _, c := range candidates {
		assert.NotEqual(t, "pricey", c.Provider) // output rate 100 > ceiling 60
	}
}

func TestSelectCandidates_PolicyCeilingComparesOutputRateNotRoutingCost(t *testing.T) {
	cfg := &config.Config{Providers: []config.ProviderConfig{
		{Name: "base-fee-heavy", Models: []string{"gpt-4"}, OutputRate: 10, BaseFee: 5},
	}}
	ceiling := int64(12)
	cfg.Policies.Rules = []config.PolicyRule{
		{Name: "budget", MaxSatsPer1kOutput: &ceiling},
	}
	r := New(cfg)
	candidates, apiErr := r.SelectCandidates("gpt-4", "budget", "")
	require.Nil(t, apiErr)
	// routing cost (output_rate + base_fee = 15) exceeds the ceiling, but
	// output_rate alone (10) does not: the ceiling filters on output_rate.
	require.Len(t, candidates, 1)
	assert.Equal(t, "base-fee-heavy", candidates[0].Provider)
}

func TestResolvePolicy_ExactNameWinsOverKeyword(t *testing.T) {
	cfg := testConfig()
	cfg.Policies.Rules = []config.PolicyRule{
		{Name: "keyword-rule", Keywords: []string{"urgent"}},
		{Name: "named-policy"},
	}
	r := New(cfg)
	matched := r.ResolvePolicy("named-policy", "this is an urgent prompt")
	require.NotNil(t, matched)
	assert.Equal(t, "named-policy", matched.Name)
}

func TestResolvePolicy_FallsBackToKeywordMatch(t *testing.T) {
	cfg := testConfig()
	cfg.Policies.Rules = []config.PolicyRule{
		{Name: "keyword-rule", Keywords: []string{"urgent"}},
	}
	r := New(cfg)
	matched := r.ResolvePolicy("", "this is an URGENT prompt")
	require.NotNil(t, matched)
	assert.Equal(t, "keyword-rule", matched.Name)
}

func TestResolvePolicy_UnknownNameFallsThroughToKeyword(t *testing.T) {
	cfg := testConfig()
	cfg.Policies.Rules = []config.PolicyRule{
		{Name: "keyword-rule", Keywords: []string{"urgent"}},
	}
	r := New(cfg)
	matched := r.ResolvePolicy("does-not-exist", "an urgent prompt")
	require.NotNil(t, matched)
	assert.Equal(t, "keyword-rule", matched.Name)
}

func TestResolvePolicy_NoMatch(t *testing.T) {
	r := New(testConfig())
	assert.Nil(t, r.ResolvePolicy("", ""))
}

// Ranking property from spec §8: for any set of providers accepting a
// model, SelectCandidates always returns them sorted by non-decreasing
// routing cost, with no duplicate provider names.
func TestSelectCandidates_RankingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("sorted by non-decreasing routing cost, no duplicates", prop.ForAll(
		func(rates []int64) bool {
			cfg := &config.Config{}
			for i, rate := range rates {
				cfg.Providers = append(cfg.Providers, config.ProviderConfig{
					Name:       providerName(i),
					OutputRate: rate,
				})
			}
			r := New(cfg)
			candidates, apiErr := r.SelectCandidates("any-model", "", "")
			if len(rates) == 0 {
				return apiErr != nil
			}
			if apiErr != nil {
				return false
			}
			if len(candidates) != len(rates) {
				return false
			}
			seen := make(map[string]struct{})
			for i, c := range candidates {
				if _, dup := seen[c.Provider]; dup {
					return false
				}
				seen[c.Provider] = struct{}{}
				if i > 0 && candidates[i-1].RoutingCost > c.RoutingCost {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(6, gen.Int64Range(0, 1000)),
	))

	properties.TestingRun(t)
}

func providerName(i int) string {
	return string(rune('a' + i))
}
