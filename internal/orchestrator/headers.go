package orchestrator

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/arbstr/arbstr/internal/apierr"
	"github.com/arbstr/arbstr/internal/retryer"
)

// Response header names, per spec §6. Only set once the orchestrator has
// actually been entered (a pre-handler JSON parse failure gets neither).
const (
	headerRequestID = "X-Arbstr-Request-Id"
	headerLatencyMs = "X-Arbstr-Latency-Ms"
	headerProvider  = "X-Arbstr-Provider"
	headerCostSats  = "X-Arbstr-Cost-Sats"
	headerRetries   = "X-Arbstr-Retries"
	headerStreaming = "X-Arbstr-Streaming"
)

func setCorrelationHeaders(w http.ResponseWriter, requestID string, elapsed time.Duration) {
	w.Header().Set(headerRequestID, requestID)
	w.Header().Set(headerLatencyMs, fmt.Sprintf("%d", elapsed.Milliseconds()))
}

func setProviderHeader(w http.ResponseWriter, provider string) {
	if provider == "" {
		return
	}
	w.Header().Set(headerProvider, provider)
}

// setCostHeader renders cost to two decimal places, per spec §6.
func setCostHeader(w http.ResponseWriter, costSats float64) {
	w.Header().Set(headerCostSats, fmt.Sprintf("%.2f", costSats))
}

// setRetriesHeader attaches x-arbstr-retries only when more than the
// single expected attempt happened — a clean first-try success carries
// no retries header at all.
func setRetriesHeader(w http.ResponseWriter, records []retryer.AttemptRecord) {
	if len(records) <= 1 {
		return
	}
	w.Header().Set(headerRetries, retryer.RetriesHeader(records))
}

// writeJSONError renders apiErr as the OpenAI-compatible error envelope
// apierr.Error.MarshalJSON already knows how to produce.
func writeJSONError(w http.ResponseWriter, apiErr *apierr.Error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(apiErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(apiErr)
}
