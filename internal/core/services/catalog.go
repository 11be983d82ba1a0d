package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nulzo/uniapi/internal/core/domain"
	"github.com/nulzo/uniapi/internal/store"
	"github.com/nulzo/uniapi/pkg/api"
	"go.uber.org/zap"
)

// ProviderCatalog owns the provider configuration. Mutations are serialized
// per entry and written through to the repository; readers get an immutable
// snapshot that is republished after every mutation and on Refresh.
type ProviderCatalog struct {
	repo   store.ProviderRepository
	logger *zap.Logger
	now    func() time.Time
	newID  func() string

	snapshot  atomic.Pointer[[]domain.ProviderEntry]
	refreshMu sync.Mutex
	locks     keyedMutex
}

func NewProviderCatalog(repo store.ProviderRepository, logger *zap.Logger) *ProviderCatalog {
	return &ProviderCatalog{
		repo:   repo,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Snapshot returns the current entries, loading them on first use.
func (c *ProviderCatalog) Snapshot(ctx context.Context) ([]domain.ProviderEntry, error) {
	if snap := c.snapshot.Load(); snap != nil {
		return *snap, nil
	}
	if err := c.Refresh(ctx); err != nil {
		return nil, err
	}
	return *c.snapshot.Load(), nil
}

// Refresh reloads the snapshot from the repository.
func (c *ProviderCatalog) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	entries, err := c.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("load providers: %w", err)
	}
	c.snapshot.Store(&entries)
	return nil
}

// Run refreshes the snapshot every interval until ctx is done, picking up
// changes written by other instances sharing the store.
func (c *ProviderCatalog) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.Warn("Provider refresh failed", zap.Error(err))
			}
		}
	}
}

// List reads straight from the repository.
func (c *ProviderCatalog) List(ctx context.Context) ([]domain.ProviderEntry, error) {
	entries, err := c.repo.List(ctx)
	if err != nil {
		return nil, api.InternalError("Failed to list providers", err)
	}
	return entries, nil
}

func (c *ProviderCatalog) Get(ctx context.Context, id string) (*domain.ProviderEntry, error) {
	entry, err := c.repo.Get(ctx, id)
	if err != nil {
		return nil, c.repoError(id, err)
	}
	return entry, nil
}

// Create validates and stores a new entry. A caller supplied ID is kept.
func (c *ProviderCatalog) Create(ctx context.Context, entry domain.ProviderEntry) (*domain.ProviderEntry, error) {
	entry.Normalize()
	if err := entry.Validate(); err != nil {
		return nil, validationProblem(err)
	}

	if entry.ID == "" {
		entry.ID = c.newID()
	}
	now := c.now().UTC()
	entry.CreatedAt = now
	entry.UpdatedAt = now

	unlock := c.locks.Lock(entry.ID)
	err := c.repo.Upsert(ctx, &entry)
	unlock()
	if err != nil {
		return nil, api.InternalError("Failed to save provider", err)
	}

	c.logger.Info("Provider created",
		zap.String("provider_id", entry.ID),
		zap.String("vendor", entry.Vendor),
		zap.Strings("models", entry.SupportedModels),
	)
	c.refreshAfterWrite(ctx)
	return &entry, nil
}

// Update replaces an existing entry, keeping its ID and creation time.
func (c *ProviderCatalog) Update(ctx context.Context, id string, entry domain.ProviderEntry) (*domain.ProviderEntry, error) {
	entry.Normalize()
	if err := entry.Validate(); err != nil {
		return nil, validationProblem(err)
	}

	unlock := c.locks.Lock(id)
	existing, err := c.repo.Get(ctx, id)
	if err != nil {
		unlock()
		return nil, c.repoError(id, err)
	}

	entry.ID = existing.ID
	entry.CreatedAt = existing.CreatedAt
	entry.UpdatedAt = c.now().UTC()
	err = c.repo.Upsert(ctx, &entry)
	unlock()
	if err != nil {
		return nil, api.InternalError("Failed to save provider", err)
	}

	c.logger.Info("Provider updated", zap.String("provider_id", id))
	c.refreshAfterWrite(ctx)
	return &entry, nil
}

func (c *ProviderCatalog) Delete(ctx context.Context, id string) error {
	unlock := c.locks.Lock(id)
	err := c.repo.Delete(ctx, id)
	unlock()
	if err != nil {
		return c.repoError(id, err)
	}

	c.logger.Info("Provider deleted", zap.String("provider_id", id))
	c.refreshAfterWrite(ctx)
	return nil
}

// Seed inserts the given entries when the repository holds none. It
// returns how many were created.
func (c *ProviderCatalog) Seed(ctx context.Context, seeds []domain.SeedEntry) (int, error) {
	if len(seeds) == 0 {
		return 0, nil
	}

	existing, err := c.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("load providers: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}

	created := 0
	for i, s := range seeds {
		if _, err := c.Create(ctx, s.Entry()); err != nil {
			return created, fmt.Errorf("seed provider %d: %w", i, err)
		}
		created++
	}
	return created, nil
}

// refreshAfterWrite republishes the snapshot. A failure leaves the previous
// snapshot in place until the next successful refresh.
func (c *ProviderCatalog) refreshAfterWrite(ctx context.Context) {
	if err := c.Refresh(context.WithoutCancel(ctx)); err != nil {
		c.logger.Error("Failed to refresh provider snapshot", zap.Error(err))
	}
}

func (c *ProviderCatalog) repoError(id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return api.NotFoundError(fmt.Sprintf("Provider %q not found", id))
	}
	return api.InternalError("Provider store failure", err)
}

func validationProblem(err error) error {
	var verrs domain.ValidationErrors
	if errors.As(err, &verrs) {
		return api.ValidationError(verrs)
	}
	return api.BadRequestError(err.Error())
}

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
