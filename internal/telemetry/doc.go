// Package telemetry centralizes OpenTelemetry SDK setup for arbstr's
// TracerProvider and MeterProvider. When telemetry is disabled, both
// fall back to noop implementations and no external endpoint is dialed.
package telemetry
