package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/arbstr/arbstr/internal/breaker"
)

type providerHealth struct {
	State        string `json:"state"`
	FailureCount int    `json:"failure_count"`
}

type healthResponse struct {
	Status    string                    `json:"status"`
	Providers map[string]providerHealth `json:"providers"`
}

// HealthHandler serves GET /health by summarizing the breaker registry's
// per-provider state into a single aggregate verdict: "ok" if nothing is
// tripped, "degraded" if any provider is open or half-open but not every
// provider is open, "unhealthy" only once every known provider is open.
type HealthHandler struct {
	breakers *breaker.Registry
	logger   *zap.Logger
}

func NewHealthHandler(breakers *breaker.Registry, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{breakers: breakers, logger: logger}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	states := h.breakers.AllStates()

	resp := healthResponse{Providers: make(map[string]providerHealth, len(states))}
	openCount := 0
	degradedCount := 0
	for name, snap := range states {
		resp.Providers[name] = providerHealth{
			State:        snap.State.String(),
			FailureCount: snap.FailureCount,
		}
		switch snap.State {
		case breaker.StateOpen:
			openCount++
		case breaker.StateHalfOpen:
			degradedCount++
		}
	}

	status := http.StatusOK
	switch {
	case len(states) == 0:
		resp.Status = "ok"
	case openCount == len(states):
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	case openCount > 0 || degradedCount > 0:
		resp.Status = "degraded"
	default:
		resp.Status = "ok"
	}

	writeJSON(w, h.logger, status, resp)
}
