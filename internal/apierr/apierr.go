// Package apierr is arbstr's error taxonomy: typed errors that carry
// enough information to render an OpenAI-compatible JSON error envelope
// with the correct HTTP status on every path.
package apierr

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Kind classifies an error for response rendering and breaker accounting.
type Kind string

const (
	KindBadRequest    Kind = "bad_request"
	KindNoProviders   Kind = "no_providers"
	KindNoPolicyMatch Kind = "no_policy_match"
	KindCircuitOpen   Kind = "circuit_open"
	KindProviderError Kind = "provider_error"
	KindUpstream      Kind = "upstream"
	KindTimeout       Kind = "timeout"
	KindInternal      Kind = "internal_error"
	KindDatabase      Kind = "database"
)

// Error is the single error type behind every kind in the taxonomy.
type Error struct {
	Kind       Kind
	HTTPStatus int
	Message    string
	Provider   string // set when a provider identity is known
	Cause      error
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// BadRequest builds a 400 for malformed or invalid client input.
func BadRequest(message string) *Error {
	return &Error{Kind: KindBadRequest, HTTPStatus: http.StatusBadRequest, Message: message}
}

// NoProviders builds a 400 for "no provider supports this model".
func NoProviders(model string) *Error {
	return &Error{
		Kind: KindNoProviders, HTTPStatus: http.StatusBadRequest,
		Message: fmt.Sprintf("no configured provider supports model %q", model),
	}
}

// NoPolicyMatch builds a 400 for a policy allow-list rejection.
func NoPolicyMatch(model string) *Error {
	return &Error{
		Kind: KindNoPolicyMatch, HTTPStatus: http.StatusBadRequest,
		Message: fmt.Sprintf("model %q is not permitted by the matched policy", model),
	}
}

// CircuitOpen builds a 503 for "every candidate's breaker is open".
func CircuitOpen(model string) *Error {
	return &Error{
		Kind: KindCircuitOpen, HTTPStatus: http.StatusServiceUnavailable,
		Message: fmt.Sprintf("all providers for model %q have an open circuit", model),
	}
}

// ProviderError wraps a status/message received verbatim from upstream.
func ProviderError(status int, message, provider string) *Error {
	return &Error{Kind: KindProviderError, HTTPStatus: status, Message: message, Provider: provider}
}

// Upstream builds a 502 for a transport-layer failure (dial/DNS/TLS/reset).
func Upstream(provider string, cause error) *Error {
	msg := "upstream request failed"
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: KindUpstream, HTTPStatus: http.StatusBadGateway, Message: msg, Provider: provider, Cause: cause}
}

// Timeout builds a 504 for exceeding the overall per-request deadline.
func Timeout() *Error {
	return &Error{Kind: KindTimeout, HTTPStatus: http.StatusGatewayTimeout, Message: "request exceeded the overall deadline"}
}

// Internal builds a 500 for unexpected internal failures.
func Internal(message string, cause error) *Error {
	return &Error{Kind: KindInternal, HTTPStatus: http.StatusInternalServerError, Message: message, Cause: cause}
}

// Database builds a 500 for read-path store failures (query endpoints
// only; write-path store failures are logged warnings, never client
// errors, per spec).
func Database(message string, cause error) *Error {
	return &Error{Kind: KindDatabase, HTTPStatus: http.StatusInternalServerError, Message: message, Cause: cause}
}

// envelope is the OpenAI-compatible error body.
type envelope struct {
	Error envelopeBody `json:"error"`
}

type envelopeBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// MarshalJSON renders the OpenAI-compatible envelope directly, so callers
// can json.Marshal(err) without a separate translation step.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelope{Error: envelopeBody{
		Message: e.Message,
		Type:    "arbstr_error",
		Code:    e.HTTPStatus,
	}})
}
