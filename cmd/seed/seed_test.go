package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nulzo/uniapi/internal/core/domain"
	"github.com/nulzo/uniapi/internal/store/memory"
	"github.com/nulzo/uniapi/internal/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var seeds = []domain.SeedEntry{
	{APIKey: "sk-one", BaseURL: "https://api.openai.com", SupportedModels: []string{"gpt-4"}},
	{ID: "local", APIKey: "sk-two", BaseURL: "http://localhost:8000", ModelMapping: map[string]string{"gpt-4": "llama3"}},
}

func TestPrepare_AssignsStableIDs(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	first, err := prepare(seeds, now)
	require.NoError(t, err)
	second, err := prepare(seeds, now.Add(time.Hour))
	require.NoError(t, err)

	require.Len(t, first, 2)
	assert.NotEmpty(t, first[0].ID)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, "local", first[1].ID)
	assert.Equal(t, []string{"llama3"}, first[1].SupportedModels)
	assert.Equal(t, "localhost", first[1].Vendor)
}

func TestPrepare_RejectsInvalid(t *testing.T) {
	_, err := prepare([]domain.SeedEntry{{APIKey: "k", BaseURL: "ftp://nope"}}, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider 0")
}

func TestWrite_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()

	entries, err := prepare(seeds, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, write(ctx, repo, entries))

	again, err := prepare(seeds, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, write(ctx, repo, again))

	list, err := repo.Providers().List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)

	local, err := repo.Providers().Get(ctx, "local")
	require.NoError(t, err)
	assert.Equal(t, 2025, local.CreatedAt.Year())
	assert.Equal(t, time.January, local.CreatedAt.Month())
	assert.Equal(t, time.February, local.UpdatedAt.Month())
}

func TestWrite_SQLiteTransaction(t *testing.T) {
	ctx := context.Background()
	repo, err := sqlite.NewSQLiteStorage(filepath.Join(t.TempDir(), "seed.db"), zap.NewNop())
	require.NoError(t, err)
	defer repo.Close()

	entries, err := prepare(seeds, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, write(ctx, repo, entries))

	list, err := repo.Providers().List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
