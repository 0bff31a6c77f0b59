// Package orchestrator implements the single request-handling pipeline
// behind POST /v1/chat/completions: candidate selection, breaker
// filtering, retry-with-fallback (or, for streaming, a single dispatch),
// cost accounting, response headers, and the request-log write. It is
// the one place that calls every other internal package in the same
// request's lifetime.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arbstr/arbstr/internal/apierr"
	"github.com/arbstr/arbstr/internal/arbcost"
	"github.com/arbstr/arbstr/internal/breaker"
	"github.com/arbstr/arbstr/internal/config"
	"github.com/arbstr/arbstr/internal/ctxkeys"
	"github.com/arbstr/arbstr/internal/metrics"
	"github.com/arbstr/arbstr/internal/router"
	"github.com/arbstr/arbstr/internal/retryer"
	"github.com/arbstr/arbstr/internal/sse"
	"github.com/arbstr/arbstr/internal/store"
	"github.com/arbstr/arbstr/internal/streampipe"
)

// maxBodyBytes bounds a client's request body, the same defensive limit
// the teacher's DecodeJSONBody applies before handing bytes to the JSON
// decoder.
const maxBodyBytes = 1 << 20

// Orchestrator wires together every package a single chat-completion
// request touches. One Orchestrator is built at startup and shared
// across all requests; it holds no per-request state.
type Orchestrator struct {
	router   *router.Router
	breakers *breaker.Registry
	retryer  *retryer.Executor
	store    *store.Store
	metrics  *metrics.Collector
	client   *http.Client
	logger   *zap.Logger
}

// New builds an Orchestrator. st may be nil in tests that don't exercise
// the log-store write path; production callers always pass a real Store.
func New(cfg *config.Config, breakers *breaker.Registry, st *store.Store, coll *metrics.Collector, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		router:   router.New(cfg),
		breakers: breakers,
		retryer:  retryer.New(breakers, logger),
		store:    st,
		metrics:  coll,
		client:   &http.Client{}, // no client-wide timeout: a streaming pump must be able to run past 30s
		logger:   logger,
	}
}

// ChatCompletions implements spec step 4.8 end to end: it is the entire
// body of the POST /v1/chat/completions handler, with api/handlers only
// responsible for routing the request here.
func (o *Orchestrator) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.NewString()

	rawBody, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	_ = r.Body.Close()
	if err != nil {
		writeJSONError(w, apierr.BadRequest("failed to read request body"))
		return
	}

	var body map[string]any
	if err := json.Unmarshal(rawBody, &body); err != nil {
		// Step 2: malformed JSON never enters the rest of the pipeline, so
		// no arbstr headers and no log row.
		writeJSONError(w, apierr.BadRequest("malformed JSON body"))
		return
	}

	model, _ := body["model"].(string)
	if model == "" {
		writeJSONError(w, apierr.BadRequest(`"model" is required`))
		return
	}
	streaming, _ := body["stream"].(bool)
	policyName := r.Header.Get("X-Arbstr-Policy")
	prompt := extractPrompt(body)

	ctx := ctxkeys.WithCorrelationID(r.Context(), requestID)
	ctx = ctxkeys.WithModel(ctx, model)
	log := o.logger.With(zap.String("correlation_id", requestID), zap.String("model", model))

	ranked, apiErr := o.router.SelectCandidates(model, policyName, prompt)
	if apiErr != nil {
		o.failBeforeDispatch(w, requestID, start, model, policyName, streaming, apiErr)
		return
	}

	resolvedPolicy := o.router.ResolvePolicy(policyName, prompt)
	resolvedPolicyName := ""
	if resolvedPolicy != nil {
		resolvedPolicyName = resolvedPolicy.Name
		ctx = ctxkeys.WithPolicyName(ctx, resolvedPolicyName)
	}

	filtered, apiErr := retryer.FilterCandidates(o.breakers, model, ranked)
	if apiErr != nil {
		o.failBeforeDispatch(w, requestID, start, model, resolvedPolicyName, streaming, apiErr)
		return
	}

	if streaming {
		o.handleStreaming(ctx, w, r, log, requestID, start, model, resolvedPolicyName, filtered, body)
		return
	}
	o.handleNonStreaming(ctx, w, log, requestID, start, model, resolvedPolicyName, filtered, rawBody)
}

// failBeforeDispatch writes apiErr with the correlation headers and logs a
// failed row, with no provider in either. Step 4/6 errors never reached a
// provider; the streaming branch also sends its request-build, transport
// and non-2xx upstream failures here, so those responses and rows carry
// no provider either, although a candidate had already been chosen.
func (o *Orchestrator) failBeforeDispatch(w http.ResponseWriter, requestID string, start time.Time, model, policyName string, streaming bool, apiErr *apierr.Error) {
	elapsed := time.Since(start)
	setCorrelationHeaders(w, requestID, elapsed)
	writeJSONError(w, apiErr)
	o.logRow(requestID, model, policyName, "", streaming, elapsed, apiErr)
}

// handleNonStreaming implements step 7.
func (o *Orchestrator) handleNonStreaming(ctx context.Context, w http.ResponseWriter, log *zap.Logger, requestID string, start time.Time, model, policyName string, candidates []retryer.Candidate, rawBody []byte) {
	rates := ratesByProvider(candidates)
	result, winner, records, apiErr := o.retryer.Execute(ctx, candidates, requestID, o.nonStreamingAttempt(model, rawBody))
	elapsed := time.Since(start)

	setCorrelationHeaders(w, requestID, elapsed)
	setProviderHeader(w, winner)
	setRetriesHeader(w, records)

	if apiErr != nil {
		log.Warn("chat completion failed", zap.Error(apiErr), zap.String("provider", winner))
		writeJSONError(w, apiErr)
		o.logRow(requestID, model, policyName, winner, false, elapsed, apiErr)
		return
	}

	decoded, _ := result.(map[string]any)
	promptTok, completionTok := extractUsage(decoded)
	rate := rates[winner]
	costSats := arbcost.ActualSats(promptTok, completionTok, rate.InputRate, rate.OutputRate, rate.BaseFee)
	setCostHeader(w, costSats)

	respBody, err := json.Marshal(decoded)
	if err != nil {
		log.Error("failed to re-encode provider response", zap.Error(err))
		respBody = rawBody
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(respBody)

	o.recordSuccessRow(requestID, model, policyName, winner, elapsed, promptTok, completionTok, costSats)
}

// handleStreaming implements step 8/9's streaming branch: a single
// candidate is dispatched, success is recorded the moment headers come
// back 2xx, and the response body is handed to streampipe.Pipeline while
// the log row is updated once the upstream body is fully drained.
func (o *Orchestrator) handleStreaming(ctx context.Context, w http.ResponseWriter, r *http.Request, log *zap.Logger, requestID string, start time.Time, model, policyName string, candidates []retryer.Candidate, body map[string]any) {
	primary := candidates[0]
	streampipe.EnsureIncludeUsage(body)
	payload, err := json.Marshal(body)
	if err != nil {
		o.resolveUnused(candidates)
		o.failBeforeDispatch(w, requestID, start, model, policyName, true, apierr.Internal("failed to re-encode streaming request body", err))
		return
	}

	// Any candidate beyond the one actually dispatched (a probe riding
	// along behind a healthy primary, or a normal candidate that would
	// otherwise have been the fallback) never gets attempted in the
	// streaming branch, so its guard must still be resolved.
	defer o.resolveUnused(candidates[1:])

	req, err := o.buildEgressRequest(ctx, primary.Candidate, payload, requestID)
	if err != nil {
		o.recordOutcome(primary, false)
		o.failBeforeDispatch(w, requestID, start, model, policyName, true, apierr.Internal("failed to build upstream request", err))
		return
	}

	resp, err := o.client.Do(req)
	if err != nil {
		o.recordOutcome(primary, true)
		o.failBeforeDispatch(w, requestID, start, model, policyName, true, apierr.Upstream(primary.Provider, err))
		return
	}

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		_ = resp.Body.Close()
		isFailure := breaker.ClassifyFailure(resp.StatusCode, false, false)
		o.recordOutcome(primary, isFailure)
		apiErr := apierr.ProviderError(resp.StatusCode, providerErrorMessage(primary.Provider, resp.StatusCode, data), primary.Provider)
		o.failBeforeDispatch(w, requestID, start, model, policyName, true, apiErr)
		return
	}

	// 2xx: the provider accepted the request, so this candidate's outcome
	// is a success regardless of how the stream itself finishes later —
	// a client disconnect or a truncated stream is not the provider's
	// fault once it has started responding successfully.
	o.recordOutcome(primary, false)

	ttfb := time.Since(start)
	setCorrelationHeaders(w, requestID, ttfb)
	setProviderHeader(w, primary.Provider)
	w.Header().Set(headerStreaming, "true")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	if o.store != nil {
		o.store.Insert(context.WithoutCancel(ctx), &store.RequestLog{
			CorrelationID: requestID,
			Timestamp:     start,
			Model:         model,
			Provider:      nullableStr(primary.Provider),
			Policy:        nullableStr(policyName),
			Streaming:     true,
			LatencyMs:     ttfb.Milliseconds(),
			Success:       true,
		})
	}

	flusher, _ := w.(http.Flusher)
	pipe := streampipe.New()
	observer := sse.New(log)

	var disconnected atomic.Bool
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-r.Context().Done():
			disconnected.Store(true)
			pipe.SignalClientGone()
		case <-watchDone:
		}
	}()

	go pipe.Pump(resp.Body, observer, o.onStreamDrained(ctx, requestID, model, primary, start, &disconnected))

	for chunk := range pipe.Chunks() {
		if _, err := w.Write(chunk); err != nil {
			pipe.SignalClientGone()
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	close(watchDone)
}

// onStreamDrained builds the OnDrained callback streampipe.Pump runs once
// the upstream body is exhausted: it persists the final row (step 9's
// deferred update) and renders the trailing metadata frame clients that
// keep reading past [DONE] can recover cost/latency from.
func (o *Orchestrator) onStreamDrained(ctx context.Context, requestID, model string, candidate retryer.Candidate, start time.Time, disconnected *atomic.Bool) streampipe.OnDrained {
	return func(result sse.Result, readErr error) []byte {
		duration := time.Since(start)
		status := streampipe.DetermineCompletionStatus(result, disconnected.Load(), readErr)
		// A request is successful exactly when the upstream's [DONE]
		// sentinel was observed, even if the client had already gone: a
		// fully-served stream the client stopped reading is not a failure.
		success := result.DoneReceived

		var costPtr *float64
		var promptTok, completionTok int64
		if result.Usage != nil {
			promptTok = result.Usage.PromptTokens
			completionTok = result.Usage.CompletionTokens
			cost := arbcost.ActualSats(promptTok, completionTok, candidate.InputRate, candidate.OutputRate, candidate.BaseFee)
			costPtr = &cost
			o.recordProviderMetric(candidate.Provider, model, "200", duration, promptTok, completionTok, cost)
		}

		var errMsg *string
		if status != streampipe.StatusCompleted {
			msg := string(status)
			errMsg = &msg
		}

		if o.store != nil {
			o.store.UpdateStreamCompletion(context.WithoutCancel(ctx), requestID, promptTok, completionTok, costPtr, duration.Milliseconds(), success, errMsg)
		}

		meta := map[string]any{"latency_ms": duration.Milliseconds()}
		if costPtr != nil {
			meta["cost_sats"] = *costPtr
		} else {
			meta["cost_sats"] = nil
		}
		return streampipe.MetadataFrame(meta)
	}
}

// nonStreamingAttempt builds the retryer.AttemptFunc for the
// non-streaming branch: one egress call, decoded into a generic JSON
// object so the response can be forwarded close to verbatim.
func (o *Orchestrator) nonStreamingAttempt(model string, rawBody []byte) retryer.AttemptFunc {
	return func(ctx context.Context, candidate router.Candidate, idempotencyKey string) (any, int, error) {
		req, err := o.buildEgressRequest(ctx, candidate, rawBody, idempotencyKey)
		if err != nil {
			return nil, 0, err
		}

		attemptStart := time.Now()
		resp, err := o.client.Do(req)
		if err != nil {
			return nil, 0, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 16*maxBodyBytes))
		duration := time.Since(attemptStart)
		if err != nil {
			return nil, resp.StatusCode, err
		}

		if resp.StatusCode >= 400 {
			o.recordProviderMetric(candidate.Provider, model, fmt.Sprintf("%d", resp.StatusCode), duration, 0, 0, 0)
			return nil, resp.StatusCode, nil
		}

		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			// A 2xx with an unparseable body is treated as a transport-level
			// failure: the provider claimed success but didn't deliver one.
			return nil, resp.StatusCode, fmt.Errorf("decode provider response: %w", err)
		}

		promptTok, completionTok := extractUsage(decoded)
		cost := arbcost.ActualSats(promptTok, completionTok, candidate.InputRate, candidate.OutputRate, candidate.BaseFee)
		o.recordProviderMetric(candidate.Provider, model, "200", duration, promptTok, completionTok, cost)
		return decoded, resp.StatusCode, nil
	}
}

// buildEgressRequest builds the upstream POST per spec §6's egress
// contract: JSON body, a Bearer Authorization header only when the
// provider carries an API key, and the request id forwarded as the
// Idempotency-Key so a retried attempt against the same provider is
// safely deduplicated on their side too.
func (o *Orchestrator) buildEgressRequest(ctx context.Context, candidate router.Candidate, body []byte, idempotencyKey string) (*http.Request, error) {
	url := strings.TrimRight(candidate.URL, "/") + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if !candidate.APIKey.IsEmpty() {
		req.Header.Set("Authorization", "Bearer "+candidate.APIKey.Expose())
	}
	return req, nil
}

// recordOutcome resolves candidate's probe guard if it has one, else
// records directly against the registry — the same dispatch the retryer
// package uses internally, needed here because the streaming branch
// bypasses Execute entirely.
func (o *Orchestrator) recordOutcome(candidate retryer.Candidate, isFailure bool) {
	if candidate.Guard != nil {
		if isFailure {
			candidate.Guard.Failure()
		} else {
			candidate.Guard.Success()
		}
		return
	}
	if isFailure {
		o.breakers.RecordFailure(candidate.Provider)
	} else {
		o.breakers.RecordSuccess(candidate.Provider)
	}
}

// resolveUnused resolves every guard among unused to failure — a
// granted probe that the streaming branch never attempted must not
// leave its breaker stuck in HalfOpen forever.
func (o *Orchestrator) resolveUnused(unused []retryer.Candidate) {
	for _, c := range unused {
		if c.Guard != nil {
			c.Guard.Failure()
		}
	}
}

func (o *Orchestrator) logRow(requestID, model, policyName, provider string, streaming bool, elapsed time.Duration, apiErr *apierr.Error) {
	if o.store == nil {
		return
	}
	status := apiErr.HTTPStatus
	msg := apiErr.Message
	row := &store.RequestLog{
		CorrelationID: requestID,
		Timestamp:     time.Now(),
		Model:         model,
		Provider:      nullableStr(provider),
		Policy:        nullableStr(policyName),
		Streaming:     streaming,
		LatencyMs:     elapsed.Milliseconds(),
		Success:       false,
		ErrorStatus:   &status,
		ErrorMessage:  &msg,
	}
	go o.store.Insert(context.WithoutCancel(context.Background()), row)
}

func (o *Orchestrator) recordSuccessRow(requestID, model, policyName, provider string, elapsed time.Duration, promptTok, completionTok int64, costSats float64) {
	if o.store == nil {
		return
	}
	row := &store.RequestLog{
		CorrelationID: requestID,
		Timestamp:     time.Now(),
		Model:         model,
		Provider:      nullableStr(provider),
		Policy:        nullableStr(policyName),
		Streaming:     false,
		InputTokens:   promptTok,
		OutputTokens:  completionTok,
		CostSats:      costSats,
		LatencyMs:     elapsed.Milliseconds(),
		Success:       true,
	}
	go o.store.Insert(context.WithoutCancel(context.Background()), row)
}

// recordProviderMetric is a nil-safe wrapper so tests can build an
// Orchestrator without a metrics.Collector.
func (o *Orchestrator) recordProviderMetric(provider, model, status string, duration time.Duration, promptTokens, completionTokens int64, costSats float64) {
	if o.metrics == nil {
		return
	}
	o.metrics.RecordProviderRequest(provider, model, status, duration, promptTokens, completionTokens, costSats)
}

func ratesByProvider(candidates []retryer.Candidate) map[string]router.Candidate {
	out := make(map[string]router.Candidate, len(candidates))
	for _, c := range candidates {
		out[c.Provider] = c.Candidate
	}
	return out
}

func extractUsage(decoded map[string]any) (promptTokens, completionTokens int64) {
	usage, ok := decoded["usage"].(map[string]any)
	if !ok {
		return 0, 0
	}
	return int64(asFloat(usage["prompt_tokens"])), int64(asFloat(usage["completion_tokens"]))
}

func asFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}

func providerErrorMessage(provider string, status int, body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return fmt.Sprintf("provider %s returned status %d", provider, status)
	}
	return trimmed
}

func nullableStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
