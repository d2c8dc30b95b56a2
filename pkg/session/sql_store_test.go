package session

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store, err := NewSQLStore(db, "sqlite")
	require.NoError(t, err)
	return store
}

func TestNewSQLStoreRejectsNilDB(t *testing.T) {
	_, err := NewSQLStore(nil, "sqlite")
	assert.Error(t, err)
}

func TestNewSQLStoreRejectsUnknownDialect(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	_, err = NewSQLStore(db, "oracle")
	assert.Error(t, err)
}

func TestUpsertInsertsThenUpdates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	rec := Record{SessionID: "s1", ThreadID: "t1", WorkflowType: "daily_clarify", UserID: "u1", Phase: "STARTUP"}
	require.NoError(t, store.Upsert(ctx, rec))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "STARTUP", got.Phase)
	assert.False(t, got.Completed)

	rec.Phase = "CLARIFY"
	rec.Completed = true
	require.NoError(t, store.Upsert(ctx, rec))

	got, err = store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "CLARIFY", got.Phase)
	assert.True(t, got.Completed)
}

func TestGetMissingReturnsNilNoError(t *testing.T) {
	store := newTestStore(t)
	got, err := store.Get(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListRecentOrdersByUpdatedAtDesc(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Upsert(ctx, Record{SessionID: "a", ThreadID: "a", WorkflowType: "daily_clarify", UserID: "u1"}))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, store.Upsert(ctx, Record{SessionID: "b", ThreadID: "b", WorkflowType: "daily_clarify", UserID: "u1"}))

	recent, err := store.ListRecent(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].SessionID)
	assert.Equal(t, "a", recent[1].SessionID)
}

func TestGetResumableExcludesCompletedAndStale(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Upsert(ctx, Record{SessionID: "c1", ThreadID: "c1", WorkflowType: "weekly_review", UserID: "u2", Completed: true}))
	rec, err := store.GetResumable(ctx, "u2", time.Hour)
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, store.Upsert(ctx, Record{SessionID: "c2", ThreadID: "c2", WorkflowType: "weekly_review", UserID: "u2", Completed: false}))
	rec, err = store.GetResumable(ctx, "u2", time.Hour)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "c2", rec.SessionID)
}

func TestMarkCompleteAndIncrementErrors(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Upsert(ctx, Record{SessionID: "s2", ThreadID: "t2", WorkflowType: "daily_clarify", UserID: "u3"}))

	require.NoError(t, store.MarkComplete(ctx, "s2"))
	got, err := store.Get(ctx, "s2")
	require.NoError(t, err)
	assert.True(t, got.Completed)

	require.NoError(t, store.IncrementErrors(ctx, "s2"))
	require.NoError(t, store.IncrementErrors(ctx, "s2"))
	got, err = store.Get(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, 2, got.ErrorCount)
}

func TestCleanupOlderThanDeletesStaleRows(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Upsert(ctx, Record{SessionID: "old", ThreadID: "old", WorkflowType: "daily_clarify", UserID: "u4"}))

	_, err := store.db.ExecContext(ctx, `UPDATE session_metadata SET updated_at = ? WHERE session_id = ?`,
		time.Now().AddDate(0, 0, -30), "old")
	require.NoError(t, err)

	n, err := store.CleanupOlderThan(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.Get(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetStatisticsAggregates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Upsert(ctx, Record{SessionID: "s3", ThreadID: "s3", WorkflowType: "daily_clarify", UserID: "u5", Completed: true, ErrorCount: 1}))
	require.NoError(t, store.Upsert(ctx, Record{SessionID: "s4", ThreadID: "s4", WorkflowType: "weekly_review", UserID: "u5", Completed: false, ErrorCount: 2}))

	stats, err := store.GetStatistics(ctx, "u5")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalSessions)
	assert.Equal(t, 1, stats.CompletedSessions)
	assert.Equal(t, 3, stats.TotalErrors)
	assert.Equal(t, 1, stats.ByWorkflowType["daily_clarify"])
	assert.Equal(t, 1, stats.ByWorkflowType["weekly_review"])
}
