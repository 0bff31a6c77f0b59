// Package store is arbstr's embedded relational persistence layer: a
// GORM model over a single sqlite file, fronted by two independently
// sized connection pools (internal/database.PoolManager) so the write
// path that logs every request never contends with the read path that
// serves GET /v1/requests and GET /v1/stats.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/arbstr/arbstr/internal/database"
)

const (
	writePoolSize = 5
	readPoolSize  = 3
)

// Store wires a small write pool for the per-request insert/update path
// and a separate read pool for the query endpoints.
type Store struct {
	write  *database.PoolManager
	read   *database.PoolManager
	logger *zap.Logger
}

// Open opens (or creates) the sqlite file at path and wires up both
// pools. Schema migrations are applied separately, by
// internal/migration, before Open is called.
func Open(path string, log *zap.Logger) (*Store, error) {
	writePool, err := openPool(path, writePoolSize, log)
	if err != nil {
		return nil, fmt.Errorf("init write pool: %w", err)
	}

	readPool, err := openPool(path, readPoolSize, log)
	if err != nil {
		writePool.Close()
		return nil, fmt.Errorf("init read pool: %w", err)
	}

	return &Store{write: writePool, read: readPool, logger: log}, nil
}

func openPool(path string, size int, log *zap.Logger) (*database.PoolManager, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite connection: %w", err)
	}

	return database.NewPoolManager(db, database.PoolConfig{
		MaxOpenConns:        size,
		MaxIdleConns:        size,
		ConnMaxLifetime:     time.Hour,
		ConnMaxIdleTime:     10 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}, log)
}

// Close closes both pools, returning the first error encountered from
// either.
func (s *Store) Close() error {
	writeErr := s.write.Close()
	readErr := s.read.Close()
	if writeErr != nil {
		return writeErr
	}
	return readErr
}

// Insert writes the initial row at response-dispatch time. Write-path
// failures are logged and swallowed: a store outage must never turn
// into a client-facing failure for an otherwise successful proxy call.
func (s *Store) Insert(ctx context.Context, row *RequestLog) {
	if err := s.write.DB().WithContext(ctx).Create(row).Error; err != nil {
		s.warn("failed to insert request log", err)
	}
}

// UpdateStreamCompletion patches a streaming row once the SSE pump has
// fully drained the upstream body. costSats is nil when the observer
// never received [DONE], so the row's cost stays at the pre-stream
// placeholder rather than reporting a number that can't be trusted.
// success and errorMessage record the stream's completion status (see
// streampipe.DetermineCompletionStatus): a disconnect or an upstream
// error that surfaces only after headers were already sent is still
// worth distinguishing from a clean finish in the stored row.
func (s *Store) UpdateStreamCompletion(ctx context.Context, correlationID string, inputTokens, outputTokens int64, costSats *float64, streamDurationMs int64, success bool, errorMessage *string) {
	updates := map[string]any{
		"input_tokens":       inputTokens,
		"output_tokens":      outputTokens,
		"stream_duration_ms": streamDurationMs,
		"success":            success,
		"error_message":      errorMessage,
	}
	if costSats != nil {
		updates["cost_sats"] = *costSats
	}

	err := s.write.DB().WithContext(ctx).
		Model(&RequestLog{}).
		Where("correlation_id = ?", correlationID).
		Updates(updates).Error
	if err != nil {
		s.warn("failed to update stream completion", err)
	}
}

func (s *Store) warn(msg string, err error) {
	if s.logger == nil {
		return
	}
	s.logger.Warn(msg, zap.Error(err))
}
