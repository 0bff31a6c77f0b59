package handlers

import (
	"net/http"
	"sort"

	"go.uber.org/zap"

	"github.com/arbstr/arbstr/internal/config"
)

// modelEntry is one element of GET /v1/models' "data" array, shaped after
// OpenAI's /v1/models response so existing client SDKs can list against
// arbstr without modification.
type modelEntry struct {
	ID     string `json:"id"`
	Object string `json:"object"`
}

type modelsResponse struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

// ModelsHandler serves GET /v1/models by aggregating every distinct model
// name across configured providers. A provider with an empty Models list
// accepts any model and contributes nothing to this listing — there's no
// fixed model name to report for "accepts anything".
type ModelsHandler struct {
	providers []config.ProviderConfig
	logger    *zap.Logger
}

func NewModelsHandler(providers []config.ProviderConfig, logger *zap.Logger) *ModelsHandler {
	return &ModelsHandler{providers: providers, logger: logger}
}

func (h *ModelsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	seen := make(map[string]bool)
	for _, p := range h.providers {
		for _, m := range p.Models {
			seen[m] = true
		}
	}

	names := make([]string, 0, len(seen))
	for m := range seen {
		names = append(names, m)
	}
	sort.Strings(names)

	data := make([]modelEntry, len(names))
	for i, name := range names {
		data[i] = modelEntry{ID: name, Object: "model"}
	}

	writeJSON(w, h.logger, http.StatusOK, modelsResponse{Object: "list", Data: data})
}
