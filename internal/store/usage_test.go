// ABOUTME: Tests for usage and request log persistence
// ABOUTME: Covers SaveUsage, ListUsage filters, request logs, and PruneLogs

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveUsage(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second).Add(-time.Hour)
	entries := []*UsageEntry{
		{BackendSlug: "weather", AccountID: "acct-1", Status: UsageSuccess},
		{BackendSlug: "github", AccountID: "acct-1", Status: UsageError, ErrorMessage: "boom"},
		{BackendSlug: "weather", AccountID: "acct-2", Status: UsageSuccess},
	}
	for i, e := range entries {
		e.ID = uuid.New().String()
		e.ToolName = "tool"
		e.RequestData = `{"x":1}`
		e.DurationMS = int64(10 * (i + 1))
		e.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.SaveUsage(ctx, e))
	}

	all, err := store.ListUsage(ctx, UsageFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Newest first
	assert.Equal(t, "acct-2", all[0].AccountID)
	assert.Equal(t, int64(30), all[0].DurationMS)

	byAccount, err := store.ListUsage(ctx, UsageFilter{AccountID: "acct-1"})
	require.NoError(t, err)
	assert.Len(t, byAccount, 2)

	byBackend, err := store.ListUsage(ctx, UsageFilter{BackendSlug: "github"})
	require.NoError(t, err)
	require.Len(t, byBackend, 1)
	assert.Equal(t, UsageError, byBackend[0].Status)
	assert.Equal(t, "boom", byBackend[0].ErrorMessage)

	since := base.Add(90 * time.Second)
	recent, err := store.ListUsage(ctx, UsageFilter{Since: &since})
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	limited, err := store.ListUsage(ctx, UsageFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestStore_SaveUsage_RejectsUnknownStatus(t *testing.T) {
	store := setupTestStore(t)

	err := store.SaveUsage(context.Background(), &UsageEntry{
		ID:          uuid.New().String(),
		BackendSlug: "weather",
		ToolName:    "forecast",
		Status:      "maybe",
		CreatedAt:   time.Now(),
	})
	assert.Error(t, err)
}

func TestStore_RequestLogs(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i, method := range []string{"initialize", "tools/list", "tools/call"} {
		require.NoError(t, store.SaveRequestLog(ctx, &RequestLog{
			ID:           uuid.New().String(),
			Method:       method,
			RequestBody:  `{"jsonrpc":"2.0"}`,
			ResponseBody: `{"result":{}}`,
			HTTPCode:     200,
			SessionID:    "sess",
			CreatedAt:    base.Add(time.Duration(i) * time.Second),
		}))
	}

	logs, err := store.ListRequestLogs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "tools/call", logs[0].Method)
	assert.Equal(t, 200, logs[0].HTTPCode)

	limited, err := store.ListRequestLogs(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStore_PruneLogs(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	old := now.Add(-48 * time.Hour)

	for _, at := range []time.Time{old, now} {
		require.NoError(t, store.SaveUsage(ctx, &UsageEntry{
			ID: uuid.New().String(), BackendSlug: "b", ToolName: "t", Status: UsageSuccess, CreatedAt: at,
		}))
		require.NoError(t, store.SaveRequestLog(ctx, &RequestLog{
			ID: uuid.New().String(), Method: "ping", CreatedAt: at,
		}))
	}

	n, err := store.PruneLogs(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	usage, err := store.ListUsage(ctx, UsageFilter{})
	require.NoError(t, err)
	assert.Len(t, usage, 1)

	logs, err := store.ListRequestLogs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestMockStore_MatchesSQLiteOrdering(t *testing.T) {
	mock := NewMockStore()
	ctx := context.Background()

	a := newTestBackend("a")
	a.SortOrder = 2
	b := newTestBackend("b")
	b.SortOrder = 1
	c := newTestBackend("c")
	c.Featured = true
	c.SortOrder = 9
	for _, backend := range []*Backend{a, b, c} {
		require.NoError(t, mock.CreateBackend(ctx, backend))
	}

	list, err := mock.ListBackends(ctx, BackendFilter{})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{list[0].Slug, list[1].Slug, list[2].Slug})
}

func TestMockStore_SaveUsageErr(t *testing.T) {
	mock := NewMockStore()
	mock.SaveUsageErr = errors.New("disk full")

	err := mock.SaveUsage(context.Background(), &UsageEntry{ID: "x"})
	assert.EqualError(t, err, "disk full")
}
