// Package breaker implements a per-provider three-state circuit breaker
// registry (Closed/Open/HalfOpen), restructured from a single-call
// CircuitBreaker.Call wrapper into an acquire/record pair so it can guard
// streaming calls whose success or failure is only known long after the
// call started.
package breaker

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is a breaker's position in the Closed → Open → HalfOpen →
// {Closed, Open} state machine.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

const (
	failureThreshold      = 5
	openDuration          = 30 * time.Second
	halfOpenSuccessTarget = 2
	halfOpenProbeCapacity = 1
)

// Permit is the outcome of AcquireWithGuard: whether a candidate may be
// attempted, and if so, whether it's an ordinary call or the single
// trial call a HalfOpen breaker allows through.
type Permit int

const (
	// PermitDenied means the breaker is Open; the candidate must be
	// dropped from the filtered list.
	PermitDenied Permit = iota
	// PermitNormal means the breaker is Closed; record the outcome with
	// RecordSuccess/RecordFailure.
	PermitNormal
	// PermitProbe means this is the single HalfOpen trial call; its
	// outcome must be resolved through the returned *ProbeGuard rather
	// than RecordSuccess/RecordFailure directly.
	PermitProbe
)

func (p Permit) String() string {
	switch p {
	case PermitNormal:
		return "normal"
	case PermitProbe:
		return "probe"
	default:
		return "denied"
	}
}

// ProbeGuard resolves the single in-flight HalfOpen trial call. Exactly
// one of Success/Failure takes effect; later calls are no-ops, so a
// caller can safely `defer guard.Failure()` immediately after acquiring
// it and then call `guard.Success()` on the happy path — whichever runs
// first wins. A guard that is never explicitly resolved (a goroutine
// leak, a panic before the deferred call registers) leaves the breaker
// stuck in HalfOpen: every later acquire is denied while the probe slot
// stays taken, and nothing reclaims it. Orchestrator code must resolve every guard
// it receives, deferred or not; there is no finalizer-driven fallback.
type ProbeGuard struct {
	once     sync.Once
	registry *Registry
	provider string
}

// Success resolves the probe as successful.
func (g *ProbeGuard) Success() {
	g.once.Do(func() {
		g.registry.recordProbeOutcome(g.provider, true)
	})
}

// Failure resolves the probe as failed.
func (g *ProbeGuard) Failure() {
	g.once.Do(func() {
		g.registry.recordProbeOutcome(g.provider, false)
	})
}

// entry is one provider's breaker state. Each entry has its own lock, so
// contention on one provider never blocks reads or writes for another —
// the sharded-locking shape the teacher's registry-of-breakers idiom
// would use if it had more than one CircuitBreaker per process.
type entry struct {
	mu sync.Mutex

	state             State
	failureCount      int
	openedAt          time.Time
	halfOpenSuccesses int
	probesInFlight    int
}

// Registry owns one entry per provider name, created lazily on first use.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	logger   *zap.Logger
}

// New builds an empty Registry. Providers are registered lazily by name on
// first AcquirePermit/RecordSuccess/RecordFailure call, so no upfront
// provider list is required.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

func (r *Registry) entryFor(provider string) *entry {
	r.mu.RLock()
	e, ok := r.entries[provider]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.entries[provider]; ok {
		return e
	}
	e = &entry{state: StateClosed}
	r.entries[provider] = e
	return e
}

// AcquirePermit decides whether a call to provider may proceed. Closed
// always grants. Open denies until openDuration has elapsed since the
// breaker tripped, at which point the FIRST caller to observe that
// elapsed duration transitions the breaker to HalfOpen and becomes its
// probe; every other caller in the same race is denied rather than all
// piling into the half-open slot at once (probe concurrency is fixed at
// halfOpenProbeCapacity). HalfOpen grants only while probe capacity
// remains.
func (r *Registry) AcquirePermit(provider string) bool {
	permit, _ := r.AcquireWithGuard(provider)
	return permit != PermitDenied
}

// AcquireWithGuard is AcquirePermit's full form: it distinguishes an
// ordinary Closed-state call (PermitNormal, nil guard) from the single
// HalfOpen trial call (PermitProbe, non-nil guard the caller must
// resolve) from an Open-state refusal (PermitDenied, nil guard).
func (r *Registry) AcquireWithGuard(provider string) (Permit, *ProbeGuard) {
	e := r.entryFor(provider)
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateClosed:
		return PermitNormal, nil

	case StateOpen:
		if time.Since(e.openedAt) < openDuration {
			return PermitDenied, nil
		}
		e.state = StateHalfOpen
		e.halfOpenSuccesses = 0
		e.probesInFlight = 1
		r.logf("circuit half-open", provider, e.state)
		return PermitProbe, &ProbeGuard{registry: r, provider: provider}

	case StateHalfOpen:
		if e.probesInFlight >= halfOpenProbeCapacity {
			return PermitDenied, nil
		}
		e.probesInFlight++
		return PermitProbe, &ProbeGuard{registry: r, provider: provider}

	default:
		return PermitDenied, nil
	}
}

// recordProbeOutcome applies a resolved ProbeGuard's result. It mirrors
// RecordSuccess/RecordFailure's HalfOpen branches exactly, since a probe
// is always acquired and resolved in HalfOpen.
func (r *Registry) recordProbeOutcome(provider string, success bool) {
	if success {
		r.RecordSuccess(provider)
		return
	}
	r.RecordFailure(provider)
}

// RecordSuccess reports a non-failing outcome for provider. See
// ClassifyFailure for what counts as failing.
func (r *Registry) RecordSuccess(provider string) {
	e := r.entryFor(provider)
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateClosed:
		e.failureCount = 0

	case StateHalfOpen:
		e.probesInFlight--
		if e.probesInFlight < 0 {
			e.probesInFlight = 0
		}
		e.halfOpenSuccesses++
		if e.halfOpenSuccesses >= halfOpenSuccessTarget {
			e.state = StateClosed
			e.failureCount = 0
			e.halfOpenSuccesses = 0
			r.logf("circuit closed", provider, e.state)
		}

	case StateOpen:
		// A success arriving after the breaker reopened (e.g. a slow
		// probe response straggling in after a second failure already
		// reopened it) is simply discarded.
	}
}

// RecordFailure reports a failing outcome for provider.
func (r *Registry) RecordFailure(provider string) {
	e := r.entryFor(provider)
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateClosed:
		e.failureCount++
		if e.failureCount >= failureThreshold {
			e.state = StateOpen
			e.openedAt = time.Now()
			r.logf("circuit open", provider, e.state)
		}

	case StateHalfOpen:
		e.probesInFlight--
		if e.probesInFlight < 0 {
			e.probesInFlight = 0
		}
		e.state = StateOpen
		e.openedAt = time.Now()
		e.halfOpenSuccesses = 0
		r.logf("circuit reopened", provider, e.state)

	case StateOpen:
		e.openedAt = time.Now()
	}
}

// ForceOpenedAt rewrites provider's open-since timestamp. It exists so
// tests outside this package (internal/retryer's FilterCandidates tests)
// can make an Open breaker immediately eligible for its next probe
// without a real openDuration sleep; production code never calls it.
func (r *Registry) ForceOpenedAt(provider string, at time.Time) {
	e := r.entryFor(provider)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.openedAt = at
}

// State reports provider's current state without side effects.
func (r *Registry) State(provider string) State {
	e := r.entryFor(provider)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// FailureCount reports provider's consecutive-failure count (meaningful
// only in the Closed state; it is reset to 0 whenever a breaker leaves
// HalfOpen for Closed).
func (r *Registry) FailureCount(provider string) int {
	e := r.entryFor(provider)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failureCount
}

// EntrySnapshot is a single provider's breaker state and consecutive
// failure count, read together under one lock acquisition so the two
// values can never come from different instants.
type EntrySnapshot struct {
	State        State
	FailureCount int
}

// AllStates returns a point-in-time snapshot of every provider the
// registry has seen, keyed by name, locking each entry exactly once.
// Intended for the /health endpoint.
func (r *Registry) AllStates() map[string]EntrySnapshot {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	entries := make([]*entry, 0, len(r.entries))
	for name, e := range r.entries {
		names = append(names, name)
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make(map[string]EntrySnapshot, len(names))
	for i, name := range names {
		e := entries[i]
		e.mu.Lock()
		out[name] = EntrySnapshot{State: e.state, FailureCount: e.failureCount}
		e.mu.Unlock()
	}
	return out
}

func (r *Registry) logf(msg, provider string, state State) {
	if r.logger == nil {
		return
	}
	r.logger.Info(msg, zap.String("provider", provider), zap.String("state", state.String()))
}

// ClassifyFailure decides whether an attempt's outcome should count
// against a breaker. Per the taxonomy: 5xx responses and transport-level
// errors (dial/DNS/TLS/reset/timeout) count as failures; 4xx responses
// (including 429, which is a client-visible rate limit, not a provider
// health signal) do not; neither does a client disconnecting after a 2xx
// response already started streaming, since the provider itself did
// nothing wrong.
func ClassifyFailure(statusCode int, transportErr bool, clientDisconnectedAfter2xx bool) bool {
	if clientDisconnectedAfter2xx {
		return false
	}
	if transportErr {
		return true
	}
	return statusCode >= 500
}
