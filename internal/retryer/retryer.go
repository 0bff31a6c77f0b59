// Package retryer executes a ranked list of candidates with a fixed
// backoff schedule and exactly one fallback attempt, restructured from
// the teacher's generic exponential-backoff Retryer (llm/retry/backoff.go)
// into arbstr's fixed two-candidate, fixed-delay shape.
package retryer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arbstr/arbstr/internal/apierr"
	"github.com/arbstr/arbstr/internal/breaker"
	"github.com/arbstr/arbstr/internal/router"
)

// backoffSchedule gives the delay before the 2nd and 3rd primary attempts.
// There is no delay before the single fallback attempt: by the time the
// primary has exhausted its retries, the deadline budget is already tight.
var backoffSchedule = []time.Duration{1 * time.Second, 2 * time.Second}

const (
	maxPrimaryAttempts = 1 + len(backoffSchedule) // 3 total
	overallDeadline    = 30 * time.Second
)

// Candidate pairs a ranked router.Candidate with the breaker permit that
// authorized it. Guard is nil for an ordinary Closed-breaker pass; it is
// non-nil exactly when this candidate is the single HalfOpen trial call
// the request was granted, in which case its outcome must be resolved
// through the guard instead of Registry.RecordSuccess/RecordFailure.
type Candidate struct {
	router.Candidate
	Guard *breaker.ProbeGuard
}

// FilterCandidates applies acquire_permit to every ranked candidate, in
// order: a Closed breaker passes its candidate through untouched; an
// Open breaker past its timeout transitions to HalfOpen and grants the
// single outstanding probe, whose candidate is moved to the head of the
// returned list since it is the only provider this request may actually
// try until the probe resolves; every other Open or already-probing
// HalfOpen breaker drops its candidate. If no candidate survives,
// returns a CircuitOpen error for model.
func FilterCandidates(reg *breaker.Registry, model string, ranked []router.Candidate) ([]Candidate, *apierr.Error) {
	// Each provider's breaker has its own lock, so the permit reads below
	// are independent: fan them out with errgroup the way the teacher's
	// own fan-out-then-join call sites do, then join in ranked order below
	// (errgroup.Group never reorders the slice it's writing into).
	permits := make([]breaker.Permit, len(ranked))
	guards := make([]*breaker.ProbeGuard, len(ranked))

	var g errgroup.Group
	for i, c := range ranked {
		i, c := i, c
		g.Go(func() error {
			permits[i], guards[i] = reg.AcquireWithGuard(c.Provider)
			return nil
		})
	}
	_ = g.Wait() // AcquireWithGuard never errors; Wait only joins the fan-out

	var normal []Candidate
	var probe *Candidate

	for i, c := range ranked {
		switch permits[i] {
		case breaker.PermitNormal:
			normal = append(normal, Candidate{Candidate: c})
		case breaker.PermitProbe:
			if probe == nil {
				probe = &Candidate{Candidate: c, Guard: guards[i]}
			} else {
				// A second provider's breaker also opened into HalfOpen in
				// the same race. Its probe still has to be resolved, so
				// it rides along as a regular attempt further down the
				// list rather than being dropped and leaking a stuck
				// probesInFlight slot.
				normal = append(normal, Candidate{Candidate: c, Guard: guards[i]})
			}
		case breaker.PermitDenied:
			// dropped
		}
	}

	out := normal
	if probe != nil {
		out = append([]Candidate{*probe}, out...)
	}

	if len(out) == 0 {
		return nil, apierr.CircuitOpen(model)
	}

	return out, nil
}

// AttemptFunc performs one egress call against candidate. It returns the
// call's result (opaque to the executor), an HTTP status code (0 if the
// error never reached the server), and an error. idempotencyKey is the
// value to send as the Idempotency-Key header.
type AttemptFunc func(ctx context.Context, candidate router.Candidate, idempotencyKey string) (result any, statusCode int, transportErr error)

// AttemptRecord describes one failed call made during Execute, in order.
type AttemptRecord struct {
	Provider   string
	StatusCode int
	Err        error
	Duration   time.Duration
}

// Executor runs AttemptFunc against candidates already authorized by
// FilterCandidates, recording their outcomes against the breaker
// Registry (or the candidate's probe guard) until one succeeds or the
// candidate list and deadline are both exhausted.
type Executor struct {
	breaker *breaker.Registry
	logger  *zap.Logger
}

// New builds an Executor over reg.
func New(reg *breaker.Registry, logger *zap.Logger) *Executor {
	return &Executor{breaker: reg, logger: logger}
}

// attemptLog is a mutex-protected accumulator so attempts recorded from a
// goroutine still in flight when the overall deadline fires are not lost
// or raced with the caller reading the final header value.
type attemptLog struct {
	mu      sync.Mutex
	records []AttemptRecord
}

func (l *attemptLog) add(r AttemptRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, r)
}

func (l *attemptLog) snapshot() []AttemptRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AttemptRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Execute tries candidates[0] up to maxPrimaryAttempts times on the fixed
// backoff schedule (or exactly once if it's carrying a probe guard),
// then, if it never succeeds, candidates[1] (if present) exactly once;
// a 4xx from the primary ends the sequence without a fallback attempt.
// The whole sequence is bounded by overallDeadline, measured from the
// call to Execute.
func (e *Executor) Execute(ctx context.Context, candidates []Candidate, idempotencyKey string, fn AttemptFunc) (result any, winner string, records []AttemptRecord, apiErr *apierr.Error) {
	if len(candidates) == 0 {
		return nil, "", nil, apierr.Internal("retryer called with no candidates", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, overallDeadline)
	defer cancel()

	// Every probe guard in the candidate list is resolved by the time
	// Execute returns, win or lose: Success/Failure is idempotent, so a
	// guard already resolved inside runCandidate is untouched here, and
	// one whose candidate was never reached (e.g. a probe riding along at
	// the tail of the list when the primary already succeeded) falls back
	// to Failure, the "drop" behavior spec'd for an unresolved probe.
	defer func() {
		for _, c := range candidates {
			if c.Guard != nil {
				c.Guard.Failure()
			}
		}
	}()

	log := &attemptLog{}

	primaryAttempts := maxPrimaryAttempts
	if candidates[0].Guard != nil {
		primaryAttempts = 1 // a HalfOpen breaker grants exactly one trial
	}

	primaryResult, ok, lastErr := e.runCandidate(ctx, candidates[0], idempotencyKey, primaryAttempts, fn, log)
	if ok {
		return primaryResult, candidates[0].Provider, log.snapshot(), nil
	}

	// A 4xx from the primary is terminal for the request: the fault lies in
	// the request itself, so another provider is not tried either.
	clientErr := lastErr != nil && lastErr.Kind == apierr.KindProviderError && lastErr.HTTPStatus < 500
	if len(candidates) > 1 && !clientErr {
		// The fallback only ever gets one attempt regardless of breaker
		// state: it exists to try a different provider, not to retry.
		fallbackResult, ok, fallbackErr := e.runCandidate(ctx, candidates[1], idempotencyKey, 1, fn, log)
		if ok {
			return fallbackResult, candidates[1].Provider, log.snapshot(), nil
		}
		if fallbackErr != nil {
			lastErr = fallbackErr
		}
	}

	if ctx.Err() != nil {
		return nil, "", log.snapshot(), apierr.Timeout()
	}
	if lastErr == nil {
		return nil, "", log.snapshot(), apierr.CircuitOpen(candidates[0].Provider)
	}
	return nil, "", log.snapshot(), lastErr
}

// runCandidate runs up to maxAttempts attempts against a single
// candidate, waiting on the fixed backoff schedule between attempts, and
// returns as soon as one succeeds or ctx is done. Every attempt here is
// already authorized (FilterCandidates already called acquire_permit for
// this candidate); runCandidate only records outcomes, it never acquires.
func (e *Executor) runCandidate(ctx context.Context, candidate Candidate, idempotencyKey string, maxAttempts int, fn AttemptFunc, log *attemptLog) (any, bool, *apierr.Error) {
	var lastErr *apierr.Error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffSchedule[attempt-1]
			select {
			case <-ctx.Done():
				return nil, false, apierr.Timeout()
			case <-time.After(delay):
			}
		}

		start := time.Now()
		result, statusCode, transportErr := fn(ctx, candidate.Candidate, idempotencyKey)
		duration := time.Since(start)

		isFailure := breaker.ClassifyFailure(statusCode, transportErr != nil, false)
		e.recordOutcome(candidate, isFailure)

		if transportErr == nil && statusCode < 400 {
			return result, true, nil
		}

		// Only failed attempts are recorded: AttemptRecord exists to build
		// x-arbstr-retries, which counts retries, not the winning call.
		log.add(AttemptRecord{Provider: candidate.Provider, StatusCode: statusCode, Err: transportErr, Duration: duration})

		lastErr = classifyErr(candidate.Provider, statusCode, transportErr)
		if !isFailure {
			// A 4xx is not a breaker failure, but it is still not a
			// success: it is the caller's problem, not a reason to keep
			// retrying this candidate.
			return nil, false, lastErr
		}
	}

	return nil, false, lastErr
}

// recordOutcome resolves a probe guard if the candidate is carrying one,
// or records the outcome directly against the breaker registry otherwise.
func (e *Executor) recordOutcome(candidate Candidate, isFailure bool) {
	if candidate.Guard != nil {
		if isFailure {
			candidate.Guard.Failure()
		} else {
			candidate.Guard.Success()
		}
		return
	}
	if isFailure {
		e.breaker.RecordFailure(candidate.Provider)
	} else {
		e.breaker.RecordSuccess(candidate.Provider)
	}
}

func classifyErr(provider string, statusCode int, transportErr error) *apierr.Error {
	if transportErr != nil {
		return apierr.Upstream(provider, transportErr)
	}
	return apierr.ProviderError(statusCode, fmt.Sprintf("provider %s returned status %d", provider, statusCode), provider)
}

// RetriesHeader builds the x-arbstr-retries header value: adjacent
// same-provider attempts are grouped into "<count>/<provider>" tokens,
// joined by ", ", e.g. "3/alpha, 1/beta" for three attempts against
// alpha followed by one fallback attempt against beta.
func RetriesHeader(records []AttemptRecord) string {
	if len(records) == 0 {
		return ""
	}

	var tokens []string
	count := 1
	for i := 1; i <= len(records); i++ {
		if i < len(records) && records[i].Provider == records[i-1].Provider {
			count++
			continue
		}
		tokens = append(tokens, fmt.Sprintf("%d/%s", count, records[i-1].Provider))
		count = 1
	}
	return strings.Join(tokens, ", ")
}
