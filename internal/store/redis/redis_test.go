package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nulzo/uniapi/internal/config"
	"github.com/nulzo/uniapi/internal/core/domain"
	"github.com/nulzo/uniapi/internal/store"
	"github.com/nulzo/uniapi/internal/store/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) (*Repository, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := NewClient(context.Background(), config.RedisConfig{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)

	repo := New(client, "test")
	t.Cleanup(func() { _ = repo.Close() })
	return repo, mr
}

func TestNewClient_Unreachable(t *testing.T) {
	_, err := NewClient(context.Background(), config.RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}

func TestProviders_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo, mr := newTestRepo(t)

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	entry := &domain.ProviderEntry{
		ID:              "p1",
		APIKey:          "sk-secret",
		BaseURL:         "https://api.example.com",
		SupportedModels: []string{"gpt-4-0613"},
		ModelMapping:    map[string]string{"gpt-4": "gpt-4-0613"},
		CreatedAt:       created,
	}
	require.NoError(t, repo.Providers().Upsert(ctx, entry))

	// one hash field per entry
	assert.True(t, mr.Exists("test:providers"))
	fields, err := mr.HKeys("test:providers")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, fields)

	got, err := repo.Providers().Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", got.APIKey)
	assert.Equal(t, "gpt-4-0613", got.ModelMapping["gpt-4"])
	assert.True(t, created.Equal(got.CreatedAt))

	list, err := repo.Providers().List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, repo.Providers().Delete(ctx, "p1"))
	_, err = repo.Providers().Get(ctx, "p1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, repo.Providers().Delete(ctx, "p1"), store.ErrNotFound)
}

func TestRequests_CappedList(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	for i := 0; i < store.MaxRecentLogs+5; i++ {
		require.NoError(t, repo.Requests().Log(ctx, &model.RequestLog{ID: fmt.Sprint(i), CreatedAt: time.Now()}))
	}

	recent, err := repo.Requests().GetRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, fmt.Sprint(store.MaxRecentLogs+4), recent[0].ID)

	all, err := repo.Requests().GetRecent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, store.MaxRecentLogs)
}

func TestRequests_DailyStats(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepo(t)
	now := time.Now().UTC()

	require.NoError(t, repo.Requests().Log(ctx, &model.RequestLog{ID: "1", LatencyMS: 10, StatusCode: 200, CreatedAt: now}))
	require.NoError(t, repo.Requests().Log(ctx, &model.RequestLog{ID: "2", LatencyMS: 30, StatusCode: 504, ErrorType: "timeout_error", CreatedAt: now}))

	stats, err := repo.Requests().GetDailyStats(ctx, 1)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 2, stats[0].TotalRequests)
	assert.Equal(t, 1, stats[0].FailedRequests)
	assert.InDelta(t, 20.0, stats[0].AverageLatency, 0.001)
}
