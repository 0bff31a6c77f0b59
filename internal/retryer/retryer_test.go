package retryer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arbstr/arbstr/internal/apierr"
	"github.com/arbstr/arbstr/internal/breaker"
	"github.com/arbstr/arbstr/internal/router"
)

func candidates(names ...string) []Candidate {
	out := make([]Candidate, len(names))
	for i, n := range names {
		out[i] = Candidate{Candidate: router.Candidate{Provider: n}}
	}
	return out
}

func TestExecute_SucceedsOnFirstAttempt(t *testing.T) {
	reg := breaker.New(zap.NewNop())
	e := New(reg, zap.NewNop())

	var calls int32
	fn := func(ctx context.Context, c router.Candidate, key string) (any, int, error) {
		atomic.AddInt32(&calls, 1)
		return "ok", 200, nil
	}

	result, winner, records, apiErr := e.Execute(context.Background(), candidates("alpha"), "req-1", fn)
	require.Nil(t, apiErr)
	assert.Equal(t, "ok", result)
	assert.Equal(t, "alpha", winner)
	assert.Empty(t, records)
	assert.EqualValues(t, 1, calls)
}

func TestExecute_RetriesPrimaryThenSucceeds(t *testing.T) {
	reg := breaker.New(zap.NewNop())
	e := New(reg, zap.NewNop())

	var calls int32
	fn := func(ctx context.Context, c router.Candidate, key string) (any, int, error) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return nil, 500, nil
		}
		return "ok", 200, nil
	}

	start := time.Now()
	result, winner, records, apiErr := e.Execute(context.Background(), candidates("alpha"), "req-1", fn)
	elapsed := time.Since(start)

	require.Nil(t, apiErr)
	assert.Equal(t, "ok", result)
	assert.Equal(t, "alpha", winner)
	// Two failed attempts precede the successful third; the success itself
	// is never recorded.
	assert.Len(t, records, 2)
	assert.GreaterOrEqual(t, elapsed, 1*time.Second+2*time.Second-100*time.Millisecond)
}

func TestExecute_FallsBackAfterPrimaryExhausted(t *testing.T) {
	reg := breaker.New(zap.NewNop())
	e := New(reg, zap.NewNop())

	fn := func(ctx context.Context, c router.Candidate, key string) (any, int, error) {
		if c.Provider == "alpha" {
			return nil, 500, nil
		}
		return "fallback-ok", 200, nil
	}

	result, winner, records, apiErr := e.Execute(context.Background(), candidates("alpha", "beta"), "req-1", fn)
	require.Nil(t, apiErr)
	assert.Equal(t, "fallback-ok", result)
	assert.Equal(t, "beta", winner)
	// alpha's exhausted attempts are all recorded as failures; beta's
	// winning attempt is not.
	assert.Len(t, records, maxPrimaryAttempts)
	for _, rec := range records {
		assert.Equal(t, "alpha", rec.Provider)
	}
}

func TestExecute_FallbackAttemptedExactlyOnce(t *testing.T) {
	reg := breaker.New(zap.NewNop())
	e := New(reg, zap.NewNop())

	var betaCalls int32
	fn := func(ctx context.Context, c router.Candidate, key string) (any, int, error) {
		if c.Provider == "beta" {
			atomic.AddInt32(&betaCalls, 1)
		}
		return nil, 500, nil
	}

	_, _, records, apiErr := e.Execute(context.Background(), candidates("alpha", "beta"), "req-1", fn)
	require.NotNil(t, apiErr)
	assert.EqualValues(t, 1, betaCalls)
	assert.Len(t, records, maxPrimaryAttempts+1)
}

func TestExecute_NoFallbackWhenOnlyOneCandidate(t *testing.T) {
	reg := breaker.New(zap.NewNop())
	e := New(reg, zap.NewNop())

	fn := func(ctx context.Context, c router.Candidate, key string) (any, int, error) {
		return nil, 500, nil
	}

	_, _, records, apiErr := e.Execute(context.Background(), candidates("alpha"), "req-1", fn)
	require.NotNil(t, apiErr)
	assert.Equal(t, apierr.KindProviderError, apiErr.Kind)
	assert.Len(t, records, maxPrimaryAttempts)
}

func TestExecute_4xxDoesNotRetry(t *testing.T) {
	reg := breaker.New(zap.NewNop())
	e := New(reg, zap.NewNop())

	var calls int32
	fn := func(ctx context.Context, c router.Candidate, key string) (any, int, error) {
		atomic.AddInt32(&calls, 1)
		return nil, 400, nil
	}

	_, _, records, apiErr := e.Execute(context.Background(), candidates("alpha", "beta"), "req-1", fn)
	require.NotNil(t, apiErr)
	assert.EqualValues(t, 1, calls)
	assert.Len(t, records, 1)
}

func TestExecute_TransportErrorIsUpstreamAndRetries(t *testing.T) {
	reg := breaker.New(zap.NewNop())
	e := New(reg, zap.NewNop())

	fn := func(ctx context.Context, c router.Candidate, key string) (any, int, error) {
		return nil, 0, errors.New("dial tcp: connection refused")
	}

	_, _, records, apiErr := e.Execute(context.Background(), candidates("alpha"), "req-1", fn)
	require.NotNil(t, apiErr)
	assert.Equal(t, apierr.KindUpstream, apiErr.Kind)
	assert.Len(t, records, maxPrimaryAttempts)
}

func TestExecute_DeadlineExceeded(t *testing.T) {
	reg := breaker.New(zap.NewNop())
	e := New(reg, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	fn := func(ctx context.Context, c router.Candidate, key string) (any, int, error) {
		return nil, 500, nil
	}

	_, _, _, apiErr := e.Execute(ctx, candidates("alpha", "beta"), "req-1", fn)
	require.NotNil(t, apiErr)
	assert.Equal(t, apierr.KindTimeout, apiErr.Kind)
}

func TestRetriesHeader_GroupsAdjacentSameProvider(t *testing.T) {
	records := []AttemptRecord{
		{Provider: "alpha"}, {Provider: "alpha"}, {Provider: "alpha"},
		{Provider: "beta"},
	}
	assert.Equal(t, "3/alpha, 1/beta", RetriesHeader(records))
}

func TestRetriesHeader_Empty(t *testing.T) {
	assert.Equal(t, "", RetriesHeader(nil))
}

func TestRetriesHeader_SingleAttempt(t *testing.T) {
	assert.Equal(t, "1/alpha", RetriesHeader([]AttemptRecord{{Provider: "alpha"}}))
}

func rankedCandidates(names ...string) []router.Candidate {
	out := make([]router.Candidate, len(names))
	for i, n := range names {
		out[i] = router.Candidate{Provider: n}
	}
	return out
}

func TestFilterCandidates_AllClosedPassThroughInOrder(t *testing.T) {
	reg := breaker.New(zap.NewNop())
	out, apiErr := FilterCandidates(reg, "gpt-4o", rankedCandidates("alpha", "beta"))
	require.Nil(t, apiErr)
	require.Len(t, out, 2)
	assert.Equal(t, "alpha", out[0].Provider)
	assert.Nil(t, out[0].Guard)
	assert.Equal(t, "beta", out[1].Provider)
}

func TestFilterCandidates_DropsOpenBreakers(t *testing.T) {
	reg := breaker.New(zap.NewNop())
	for i := 0; i < 5; i++ {
		reg.RecordFailure("alpha")
	}
	require.Equal(t, breaker.StateOpen, reg.State("alpha"))

	out, apiErr := FilterCandidates(reg, "gpt-4o", rankedCandidates("alpha", "beta"))
	require.Nil(t, apiErr)
	require.Len(t, out, 1)
	assert.Equal(t, "beta", out[0].Provider)
}

func TestFilterCandidates_EmptyResultIsCircuitOpen(t *testing.T) {
	reg := breaker.New(zap.NewNop())
	for i := 0; i < 5; i++ {
		reg.RecordFailure("alpha")
	}

	out, apiErr := FilterCandidates(reg, "gpt-4o", rankedCandidates("alpha"))
	assert.Nil(t, out)
	require.NotNil(t, apiErr)
	assert.Equal(t, apierr.KindCircuitOpen, apiErr.Kind)
}

func TestFilterCandidates_ProbeMovesToHead(t *testing.T) {
	reg := breaker.New(zap.NewNop())
	for i := 0; i < 5; i++ {
		reg.RecordFailure("alpha")
	}
	e := reg.State("alpha")
	require.Equal(t, breaker.StateOpen, e)
	// Force the open duration to have elapsed so the next acquire probes.
	forceHalfOpenEligible(reg, "alpha")

	out, apiErr := FilterCandidates(reg, "gpt-4o", rankedCandidates("beta", "alpha"))
	require.Nil(t, apiErr)
	require.Len(t, out, 2)
	assert.Equal(t, "alpha", out[0].Provider)
	require.NotNil(t, out[0].Guard)
	assert.Equal(t, "beta", out[1].Provider)
	assert.Nil(t, out[1].Guard)
}

func TestExecute_ProbeCandidateGetsExactlyOneAttempt(t *testing.T) {
	reg := breaker.New(zap.NewNop())
	for i := 0; i < 5; i++ {
		reg.RecordFailure("alpha")
	}
	forceHalfOpenEligible(reg, "alpha")

	out, apiErr := FilterCandidates(reg, "gpt-4o", rankedCandidates("alpha"))
	require.Nil(t, apiErr)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].Guard)

	e := New(reg, zap.NewNop())
	var calls int32
	fn := func(ctx context.Context, c router.Candidate, key string) (any, int, error) {
		atomic.AddInt32(&calls, 1)
		return nil, 500, nil
	}

	_, _, records, apiErr2 := e.Execute(context.Background(), out, "req-1", fn)
	require.NotNil(t, apiErr2)
	assert.EqualValues(t, 1, calls)
	assert.Len(t, records, 1)
	// A single failed probe reopens the circuit.
	assert.Equal(t, breaker.StateOpen, reg.State("alpha"))
}

func TestExecute_ProbeCandidateSuccessRecordsThroughGuard(t *testing.T) {
	reg := breaker.New(zap.NewNop())
	for i := 0; i < 5; i++ {
		reg.RecordFailure("alpha")
	}
	forceHalfOpenEligible(reg, "alpha")

	out, apiErr := FilterCandidates(reg, "gpt-4o", rankedCandidates("alpha"))
	require.Nil(t, apiErr)

	e := New(reg, zap.NewNop())
	fn := func(ctx context.Context, c router.Candidate, key string) (any, int, error) {
		return "ok", 200, nil
	}

	result, winner, _, apiErr2 := e.Execute(context.Background(), out, "req-1", fn)
	require.Nil(t, apiErr2)
	assert.Equal(t, "ok", result)
	assert.Equal(t, "alpha", winner)
	// One probe success is not enough to close (target is two).
	assert.Equal(t, breaker.StateHalfOpen, reg.State("alpha"))
}

func TestExecute_UnattemptedProbeGuardResolvesToFailureOnDrop(t *testing.T) {
	reg := breaker.New(zap.NewNop())
	for i := 0; i < 5; i++ {
		reg.RecordFailure("alpha")
		reg.RecordFailure("beta")
	}
	forceHalfOpenEligible(reg, "alpha")
	forceHalfOpenEligible(reg, "beta")

	// Both breakers are eligible to probe: alpha's probe goes to the head
	// of the list and beta's probe rides along behind it. Since alpha
	// succeeds immediately, beta's guard is never exercised by an attempt
	// and must still resolve (to failure) once Execute returns.
	out, apiErr := FilterCandidates(reg, "gpt-4o", rankedCandidates("alpha", "beta"))
	require.Nil(t, apiErr)
	require.Len(t, out, 2)

	e := New(reg, zap.NewNop())
	fn := func(ctx context.Context, c router.Candidate, key string) (any, int, error) {
		return "ok", 200, nil
	}

	_, _, _, apiErr2 := e.Execute(context.Background(), out, "req-1", fn)
	require.Nil(t, apiErr2)
	assert.Equal(t, breaker.StateOpen, reg.State("beta"))
}

// forceHalfOpenEligible backdates provider's open timestamp so its next
// acquire transitions it to HalfOpen without a real 30s sleep.
func forceHalfOpenEligible(reg *breaker.Registry, provider string) {
	reg.ForceOpenedAt(provider, time.Now().Add(-31*time.Second))
}
