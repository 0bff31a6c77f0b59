package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/arbstr/arbstr/internal/config"
	"github.com/arbstr/arbstr/internal/secret"
)

// providerEntry renders one configured provider with its key redacted:
// either null (no key configured) or the literal "[REDACTED]", never the
// raw secret or even a prefix of it.
type providerEntry struct {
	Name       string   `json:"name"`
	URL        string   `json:"url"`
	Models     []string `json:"models"`
	InputRate  int64    `json:"input_rate"`
	OutputRate int64    `json:"output_rate"`
	BaseFee    int64    `json:"base_fee"`
	APIKey     *string  `json:"api_key"`
}

type providersResponse struct {
	Providers []providerEntry `json:"providers"`
}

// ProvidersHandler serves GET /providers.
type ProvidersHandler struct {
	providers []config.ProviderConfig
	logger    *zap.Logger
}

func NewProvidersHandler(providers []config.ProviderConfig, logger *zap.Logger) *ProvidersHandler {
	return &ProvidersHandler{providers: providers, logger: logger}
}

func (h *ProvidersHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	entries := make([]providerEntry, len(h.providers))
	for i, p := range h.providers {
		entries[i] = providerEntry{
			Name:       p.Name,
			URL:        p.URL,
			Models:     p.Models,
			InputRate:  p.InputRate,
			OutputRate: p.OutputRate,
			BaseFee:    p.BaseFee,
			APIKey:     maskedKey(p.APIKey),
		}
	}
	writeJSON(w, h.logger, http.StatusOK, providersResponse{Providers: entries})
}

func maskedKey(s secret.Secret) *string {
	if s.IsEmpty() {
		return nil
	}
	masked := "[REDACTED]"
	return &masked
}
