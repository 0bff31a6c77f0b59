// Package handlers wires the HTTP surface described in the API overview
// (chat completions, model listing, health, provider introspection, and
// the store's read-only query endpoints) to the internal packages that
// actually do the work.
package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// writeJSON encodes data as the response body. Failures past this point
// can no longer change the status line, so they're only logged.
func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil && logger != nil {
		logger.Error("failed to encode response body", zap.Error(err))
	}
}
