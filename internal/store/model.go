package store

import "time"

// RequestLog is one row of arbstr's per-request audit trail, one row per
// inbound request. Streaming rows are inserted at dispatch time and
// updated once more when the stream finishes draining.
//
// Column names and nullability follow the store's persisted-state
// contract: provider/policy are nullable because a pre-route rejection
// (no candidate, no policy match, circuit open) never reaches a
// provider; stream_duration_ms is nullable because it only applies to
// streaming requests; error_status/error_message are nullable because a
// successful request has neither.
type RequestLog struct {
	ID                uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	CorrelationID     string    `gorm:"column:correlation_id;size:36;not null;index" json:"correlation_id"`
	Timestamp         time.Time `gorm:"column:timestamp;not null;index" json:"timestamp"`
	Model             string    `gorm:"column:model;not null;index" json:"model"`
	Provider          *string   `gorm:"column:provider;index" json:"provider,omitempty"`
	Policy            *string   `gorm:"column:policy" json:"policy,omitempty"`
	Streaming         bool      `gorm:"column:streaming;not null" json:"streaming"`
	InputTokens       int64     `gorm:"column:input_tokens;not null" json:"input_tokens"`
	OutputTokens      int64     `gorm:"column:output_tokens;not null" json:"output_tokens"`
	CostSats          float64   `gorm:"column:cost_sats;not null" json:"cost_sats"`
	ProviderCostSats  *float64  `gorm:"column:provider_cost_sats" json:"provider_cost_sats,omitempty"`
	LatencyMs         int64     `gorm:"column:latency_ms;not null" json:"latency_ms"`
	StreamDurationMs  *int64    `gorm:"column:stream_duration_ms" json:"stream_duration_ms,omitempty"`
	Success           bool      `gorm:"column:success;not null" json:"success"`
	ErrorStatus       *int      `gorm:"column:error_status" json:"error_status,omitempty"`
	ErrorMessage      *string   `gorm:"column:error_message" json:"error_message,omitempty"`
}

func (RequestLog) TableName() string {
	return "request_logs"
}

// StatsSummary is the aggregate result rendered by GET /v1/stats.
type StatsSummary struct {
	TotalRequests   int64   `json:"total_requests"`
	SuccessfulCount int64   `json:"successful_count"`
	FailedCount     int64   `json:"failed_count"`
	TotalCostSats   float64 `json:"total_cost_sats"`
	TotalInputTok   int64   `json:"total_input_tokens"`
	TotalOutputTok  int64   `json:"total_output_tokens"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
}

// ProviderStats is one row of the per-provider breakdown in GET /v1/stats.
type ProviderStats struct {
	Provider      string  `json:"provider"`
	RequestCount  int64   `json:"request_count"`
	TotalCostSats float64 `json:"total_cost_sats"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
}
