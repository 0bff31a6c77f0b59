// Package ctxkeys defines the small set of typed context keys arbstr
// threads through a request's lifetime, from HTTP handler down through
// the orchestrator, retryer, and store.
package ctxkeys

import "context"

// contextKey namespaces arbstr's context values so they never collide
// with keys set by other packages.
type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	modelKey         contextKey = "model"
	policyNameKey    contextKey = "policy_name"
)

// WithCorrelationID attaches the request's correlation id, minted once
// per inbound request and echoed back via the X-Arbstr-Request-Id header.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID returns the request's correlation id, if one was set.
func CorrelationID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(correlationIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithModel attaches the requested model name.
func WithModel(ctx context.Context, model string) context.Context {
	return context.WithValue(ctx, modelKey, model)
}

// Model returns the requested model name, if one was set.
func Model(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(modelKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithPolicyName attaches the resolved routing policy's name.
func WithPolicyName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, policyNameKey, name)
}

// PolicyName returns the resolved routing policy's name, if one was set.
func PolicyName(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(policyNameKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
