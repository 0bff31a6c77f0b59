package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/arbstr/arbstr/internal/store"
)

type statsResponse struct {
	Summary    *store.StatsSummary   `json:"summary"`
	ByProvider []store.ProviderStats `json:"by_provider"`
}

// StatsHandler serves GET /v1/stats, optionally scoped by ?since=&until=
// RFC3339 timestamps.
type StatsHandler struct {
	store  *store.Store
	logger *zap.Logger
}

func NewStatsHandler(st *store.Store, logger *zap.Logger) *StatsHandler {
	return &StatsHandler{store: st, logger: logger}
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	since, until, err := parseTimeRange(r)
	if err != nil {
		writeJSON(w, h.logger, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	summary, byProvider, err := h.store.Stats(r.Context(), since, until)
	if err != nil {
		h.logger.Error("compute stats", zap.Error(err))
		writeJSON(w, h.logger, http.StatusInternalServerError, map[string]string{"error": "failed to compute stats"})
		return
	}

	writeJSON(w, h.logger, http.StatusOK, statsResponse{Summary: summary, ByProvider: byProvider})
}

func parseTimeRange(r *http.Request) (since, until *time.Time, err error) {
	if v := r.URL.Query().Get("since"); v != "" {
		t, parseErr := time.Parse(time.RFC3339, v)
		if parseErr != nil {
			return nil, nil, parseErr
		}
		since = &t
	}
	if v := r.URL.Query().Get("until"); v != "" {
		t, parseErr := time.Parse(time.RFC3339, v)
		if parseErr != nil {
			return nil, nil, parseErr
		}
		until = &t
	}
	return since, until, nil
}
