package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbstr/arbstr/internal/migration"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "arbstr_test.db")

	migrator, err := migration.NewMigrator(&migration.Config{
		DatabaseURL: migration.BuildDatabaseURL(dbPath),
		TableName:   "schema_migrations",
	})
	require.NoError(t, err)
	require.NoError(t, migrator.Up(context.Background()))
	require.NoError(t, migrator.Close())

	s, err := Open(dbPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

func TestStore_InsertAndListRequests(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Insert(ctx, &RequestLog{
		CorrelationID: "req-1",
		Timestamp:     time.Now(),
		Model:         "gpt-4o",
		Provider:      strPtr("alpha"),
		Streaming:     false,
		CostSats:      5.5,
		LatencyMs:     120,
		Success:       true,
	})
	s.Insert(ctx, &RequestLog{
		CorrelationID: "req-2",
		Timestamp:     time.Now(),
		Model:         "gpt-4o",
		Provider:      strPtr("beta"),
		Streaming:     true,
		CostSats:      2.0,
		LatencyMs:     80,
		Success:       true,
	})

	rows, total, err := s.ListRequests(ctx, ListRequestsParams{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, rows, 2)
}

func TestStore_ListRequests_FiltersByProvider(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Insert(ctx, &RequestLog{CorrelationID: "req-1", Timestamp: time.Now(), Model: "m", Provider: strPtr("alpha")})
	s.Insert(ctx, &RequestLog{CorrelationID: "req-2", Timestamp: time.Now(), Model: "m", Provider: strPtr("beta")})

	rows, total, err := s.ListRequests(ctx, ListRequestsParams{Provider: "alpha", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, rows, 1)
	assert.Equal(t, "req-1", rows[0].CorrelationID)
}

func TestStore_ListRequests_RejectsUnknownSortColumn(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Insert(ctx, &RequestLog{CorrelationID: "req-1", Timestamp: time.Now(), Model: "m"})

	// A sort column not on the whitelist silently falls back to the
	// default rather than being passed through to SQL.
	rows, _, err := s.ListRequests(ctx, ListRequestsParams{SortBy: "error_message); DROP TABLE request_logs;--", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestStore_ListRequests_Pagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.Insert(ctx, &RequestLog{CorrelationID: string(rune('a' + i)), Timestamp: time.Now(), Model: "m"})
	}

	page1, total, err := s.ListRequests(ctx, ListRequestsParams{Limit: 2, Offset: 0})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, page1, 2)

	page2, _, err := s.ListRequests(ctx, ListRequestsParams{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, page2, 2)
}

func TestStore_UpdateStreamCompletion_NilCostLeavesPlaceholder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Insert(ctx, &RequestLog{CorrelationID: "req-1", Timestamp: time.Now(), Model: "m", Streaming: true, CostSats: 0})
	s.UpdateStreamCompletion(ctx, "req-1", 50, 0, nil, 1500, false, strPtr("upstream error"))

	rows, _, err := s.ListRequests(ctx, ListRequestsParams{Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(50), rows[0].InputTokens)
	assert.Equal(t, 0.0, rows[0].CostSats)
	require.NotNil(t, rows[0].StreamDurationMs)
	assert.Equal(t, int64(1500), *rows[0].StreamDurationMs)
	assert.False(t, rows[0].Success)
	require.NotNil(t, rows[0].ErrorMessage)
	assert.Equal(t, "upstream error", *rows[0].ErrorMessage)
}

func TestStore_UpdateStreamCompletion_SetsCostWhenKnown(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cost := 12.5

	s.Insert(ctx, &RequestLog{CorrelationID: "req-1", Timestamp: time.Now(), Model: "m", Streaming: true})
	s.UpdateStreamCompletion(ctx, "req-1", 50, 300, &cost, 2000, true, nil)

	rows, _, err := s.ListRequests(ctx, ListRequestsParams{Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 12.5, rows[0].CostSats)
	assert.True(t, rows[0].Success)
}

func TestStore_Stats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Insert(ctx, &RequestLog{CorrelationID: "req-1", Timestamp: time.Now(), Model: "m", Provider: strPtr("alpha"), CostSats: 5, LatencyMs: 100, Success: true, InputTokens: 10, OutputTokens: 20})
	s.Insert(ctx, &RequestLog{CorrelationID: "req-2", Timestamp: time.Now(), Model: "m", Provider: strPtr("alpha"), CostSats: 3, LatencyMs: 200, Success: false, InputTokens: 5, OutputTokens: 10})
	s.Insert(ctx, &RequestLog{CorrelationID: "req-3", Timestamp: time.Now(), Model: "m", Provider: strPtr("beta"), CostSats: 2, LatencyMs: 50, Success: true, InputTokens: 1, OutputTokens: 2})

	summary, byProvider, err := s.Stats(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.TotalRequests)
	assert.Equal(t, int64(2), summary.SuccessfulCount)
	assert.Equal(t, int64(1), summary.FailedCount)
	assert.InDelta(t, 10.0, summary.TotalCostSats, 1e-9)

	require.Len(t, byProvider, 2)
	assert.Equal(t, "alpha", byProvider[0].Provider)
	assert.Equal(t, int64(2), byProvider[0].RequestCount)
}

func TestStore_Stats_TimeWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()

	s.Insert(ctx, &RequestLog{CorrelationID: "req-old", Timestamp: old, Model: "m", CostSats: 100})
	s.Insert(ctx, &RequestLog{CorrelationID: "req-new", Timestamp: recent, Model: "m", CostSats: 1})

	since := time.Now().Add(-1 * time.Hour)
	summary, _, err := s.Stats(ctx, &since, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.TotalRequests)
	assert.InDelta(t, 1.0, summary.TotalCostSats, 1e-9)
}
