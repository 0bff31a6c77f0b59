package handlers

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/arbstr/arbstr/internal/store"
)

type requestsResponse struct {
	Requests []store.RequestLog `json:"requests"`
	Total    int64              `json:"total"`
	Limit    int                `json:"limit"`
	Offset   int                `json:"offset"`
}

// RequestsHandler serves GET /v1/requests: a paginated, filterable view
// over the request log, for browsing what arbstr has routed without
// opening the sqlite file directly.
type RequestsHandler struct {
	store  *store.Store
	logger *zap.Logger
}

func NewRequestsHandler(st *store.Store, logger *zap.Logger) *RequestsHandler {
	return &RequestsHandler{store: st, logger: logger}
}

func (h *RequestsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := store.ListRequestsParams{
		Provider: q.Get("provider"),
		Model:    q.Get("model"),
		SortBy:   q.Get("sort_by"),
		SortDesc: q.Get("order") == "desc",
		Limit:    atoiOr(q.Get("limit"), 50),
		Offset:   atoiOr(q.Get("offset"), 0),
	}
	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.Since = &t
		}
	}
	if v := q.Get("until"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.Until = &t
		}
	}

	rows, total, err := h.store.ListRequests(r.Context(), params)
	if err != nil {
		h.logger.Error("list requests", zap.Error(err))
		writeJSON(w, h.logger, http.StatusInternalServerError, map[string]string{"error": "failed to list requests"})
		return
	}

	writeJSON(w, h.logger, http.StatusOK, requestsResponse{
		Requests: rows,
		Total:    total,
		Limit:    params.Limit,
		Offset:   params.Offset,
	})
}

func atoiOr(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
