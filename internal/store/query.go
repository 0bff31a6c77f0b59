package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// allowedSortColumns whitelists the columns GET /v1/requests may sort
// by, so a caller-supplied sort field can never become a SQL injection
// vector or an index-scan surprise on an unindexed column.
var allowedSortColumns = map[string]bool{
	"timestamp":     true,
	"cost_sats":     true,
	"latency_ms":    true,
	"input_tokens":  true,
	"output_tokens": true,
}

const defaultSortColumn = "timestamp"

// ListRequestsParams filters and paginates GET /v1/requests.
type ListRequestsParams struct {
	Provider string
	Model    string
	Since    *time.Time
	Until    *time.Time
	SortBy   string
	SortDesc bool
	Limit    int
	Offset   int
}

// ListRequests returns a page of request log rows matching params,
// plus the total row count matching the filters (ignoring pagination),
// for client-side page-count computation.
func (s *Store) ListRequests(ctx context.Context, params ListRequestsParams) ([]RequestLog, int64, error) {
	db := s.read.DB().WithContext(ctx).Model(&RequestLog{})
	db = applyFilters(db, params)

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count request logs: %w", err)
	}

	sortCol := params.SortBy
	if !allowedSortColumns[sortCol] {
		sortCol = defaultSortColumn
	}
	direction := "ASC"
	if params.SortDesc {
		direction = "DESC"
	}

	limit := params.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}

	var rows []RequestLog
	err := db.Order(fmt.Sprintf("%s %s", sortCol, direction)).
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list request logs: %w", err)
	}

	return rows, total, nil
}

func applyFilters(db *gorm.DB, params ListRequestsParams) *gorm.DB {
	if params.Provider != "" {
		db = db.Where("provider = ?", params.Provider)
	}
	if params.Model != "" {
		db = db.Where("model = ?", params.Model)
	}
	if params.Since != nil {
		db = db.Where("timestamp >= ?", *params.Since)
	}
	if params.Until != nil {
		db = db.Where("timestamp <= ?", *params.Until)
	}
	return db
}

// Stats computes the aggregate summary and per-provider breakdown for
// GET /v1/stats, optionally scoped to [since, until).
func (s *Store) Stats(ctx context.Context, since, until *time.Time) (*StatsSummary, []ProviderStats, error) {
	db := s.read.DB().WithContext(ctx).Model(&RequestLog{})
	if since != nil {
		db = db.Where("timestamp >= ?", *since)
	}
	if until != nil {
		db = db.Where("timestamp <= ?", *until)
	}

	var summary StatsSummary
	err := db.Session(&gorm.Session{}).Select(
		"COUNT(*) AS total_requests",
		"SUM(CASE WHEN success THEN 1 ELSE 0 END) AS successful_count",
		"SUM(CASE WHEN success THEN 0 ELSE 1 END) AS failed_count",
		"COALESCE(SUM(cost_sats), 0) AS total_cost_sats",
		"COALESCE(SUM(input_tokens), 0) AS total_input_tok",
		"COALESCE(SUM(output_tokens), 0) AS total_output_tok",
		"COALESCE(AVG(latency_ms), 0) AS avg_latency_ms",
	).Scan(&summary).Error
	if err != nil {
		return nil, nil, fmt.Errorf("compute stats summary: %w", err)
	}

	var byProvider []ProviderStats
	err = db.Session(&gorm.Session{}).
		Where("provider IS NOT NULL").
		Select(
			"provider",
			"COUNT(*) AS request_count",
			"COALESCE(SUM(cost_sats), 0) AS total_cost_sats",
			"COALESCE(AVG(latency_ms), 0) AS avg_latency_ms",
		).
		Group("provider").
		Order("request_count DESC").
		Scan(&byProvider).Error
	if err != nil {
		return nil, nil, fmt.Errorf("compute per-provider stats: %w", err)
	}

	return &summary, byProvider, nil
}
