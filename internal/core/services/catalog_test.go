package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/nulzo/uniapi/internal/core/domain"
	"github.com/nulzo/uniapi/internal/store"
	"github.com/nulzo/uniapi/internal/store/memory"
	"github.com/nulzo/uniapi/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newCatalog() *ProviderCatalog {
	return NewProviderCatalog(memory.New().Providers(), zap.NewNop())
}

func validEntry() domain.ProviderEntry {
	return domain.ProviderEntry{
		APIKey:          "sk-test-1234",
		BaseURL:         "https://api.example.com",
		SupportedModels: []string{"gpt-4-0613"},
		ModelMapping:    map[string]string{"gpt-4": "gpt-4-0613"},
	}
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var apiErr *api.APIError
	require.True(t, errors.As(err, &apiErr), "expected *api.APIError, got %T", err)
	return apiErr.Status
}

func TestCatalog_CreatePublishesSnapshot(t *testing.T) {
	ctx := context.Background()
	c := newCatalog()

	snap, err := c.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap)

	created, err := c.Create(ctx, validEntry())
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "api.example.com", created.Vendor)
	assert.False(t, created.CreatedAt.IsZero())

	snap, err = c.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, created.ID, snap[0].ID)

	// the new entry is routable immediately
	sel, err := SelectProvider(snap, "gpt-4", nil)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4-0613", sel.UpstreamModel)
}

func TestCatalog_CreateRejectsInvalid(t *testing.T) {
	c := newCatalog()

	bad := validEntry()
	bad.ModelMapping = map[string]string{"alias": "not-supported"}

	_, err := c.Create(context.Background(), bad)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))

	snap, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestCatalog_UpdateKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	c := newCatalog()
	created, err := c.Create(ctx, validEntry())
	require.NoError(t, err)

	c.now = func() time.Time { return created.CreatedAt.Add(time.Hour) }

	changed := validEntry()
	changed.APIKey = "sk-rotated-9999"
	updated, err := c.Update(ctx, created.ID, changed)
	require.NoError(t, err)

	assert.Equal(t, created.ID, updated.ID)
	assert.True(t, created.CreatedAt.Equal(updated.CreatedAt))
	assert.True(t, updated.UpdatedAt.After(created.CreatedAt))

	snap, err := c.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sk-rotated-9999", snap[0].APIKey)

	_, err = c.Update(ctx, "missing", validEntry())
	assert.Equal(t, http.StatusNotFound, statusOf(t, err))
}

func TestCatalog_Delete(t *testing.T) {
	ctx := context.Background()
	c := newCatalog()
	created, err := c.Create(ctx, validEntry())
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, created.ID))

	snap, err := c.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap)

	err = c.Delete(ctx, created.ID)
	assert.Equal(t, http.StatusNotFound, statusOf(t, err))
}

func TestCatalog_SnapshotIsStableForReaders(t *testing.T) {
	ctx := context.Background()
	c := newCatalog()
	_, err := c.Create(ctx, validEntry())
	require.NoError(t, err)

	before, err := c.Snapshot(ctx)
	require.NoError(t, err)

	_, err = c.Create(ctx, validEntry())
	require.NoError(t, err)

	assert.Len(t, before, 1)
	after, err := c.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, after, 2)
}

func TestCatalog_ConcurrentMutations(t *testing.T) {
	ctx := context.Background()
	c := newCatalog()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := validEntry()
			e.ID = fmt.Sprintf("p-%d", i%5)
			_, err := c.Create(ctx, e)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	snap, err := c.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap, 5)
}

func TestCatalog_Seed(t *testing.T) {
	ctx := context.Background()
	c := newCatalog()

	seeds := []domain.SeedEntry{
		{APIKey: "k1", BaseURL: "https://a.example.com", SupportedModels: []string{"m"}},
		{ID: "fixed", APIKey: "k2", BaseURL: "https://b.example.com", ModelMapping: map[string]string{"alias": "m2"}},
	}
	n, err := c.Seed(ctx, seeds)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := c.Get(ctx, "fixed")
	require.NoError(t, err)
	assert.Equal(t, []string{"m2"}, got.SupportedModels)

	// already populated, nothing happens
	n, err = c.Seed(ctx, seeds)
	require.NoError(t, err)
	assert.Zero(t, n)
}

type mockProviderRepo struct {
	mock.Mock
}

func (m *mockProviderRepo) List(ctx context.Context) ([]domain.ProviderEntry, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ProviderEntry), args.Error(1)
}

func (m *mockProviderRepo) Get(ctx context.Context, id string) (*domain.ProviderEntry, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ProviderEntry), args.Error(1)
}

func (m *mockProviderRepo) Upsert(ctx context.Context, entry *domain.ProviderEntry) error {
	return m.Called(ctx, entry).Error(0)
}

func (m *mockProviderRepo) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func TestCatalog_RepositoryFailures(t *testing.T) {
	ctx := context.Background()
	repo := new(mockProviderRepo)
	repo.On("List", mock.Anything).Return(nil, errors.New("connection refused"))
	repo.On("Get", mock.Anything, "x").Return(nil, store.ErrNotFound)
	repo.On("Upsert", mock.Anything, mock.Anything).Return(errors.New("read only"))

	c := NewProviderCatalog(repo, zap.NewNop())

	_, err := c.Snapshot(ctx)
	assert.ErrorContains(t, err, "connection refused")

	_, err = c.Get(ctx, "x")
	assert.Equal(t, http.StatusNotFound, statusOf(t, err))

	_, err = c.Create(ctx, validEntry())
	assert.Equal(t, http.StatusInternalServerError, statusOf(t, err))
}
