package memory

import (
	"context"
	"sync"
	"time"

	"github.com/nulzo/uniapi/internal/core/domain"
	"github.com/nulzo/uniapi/internal/store"
	"github.com/nulzo/uniapi/internal/store/model"
)

// Repository keeps everything in process memory. Contents are lost on
// restart.
type Repository struct {
	providers *providerRepo
	requests  *requestRepo
}

func New() *Repository {
	return &Repository{
		providers: &providerRepo{items: make(map[string]domain.ProviderEntry)},
		requests:  &requestRepo{now: time.Now},
	}
}

func (r *Repository) Providers() store.ProviderRepository { return r.providers }

func (r *Repository) Requests() store.RequestRepository { return r.requests }

func (r *Repository) Ping(context.Context) error { return nil }

func (r *Repository) Close() error { return nil }

type providerRepo struct {
	mu    sync.RWMutex
	items map[string]domain.ProviderEntry
}

func (p *providerRepo) List(ctx context.Context) ([]domain.ProviderEntry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]domain.ProviderEntry, 0, len(p.items))
	for _, e := range p.items {
		out = append(out, e.Clone())
	}
	store.SortEntries(out)
	return out, nil
}

func (p *providerRepo) Get(ctx context.Context, id string) (*domain.ProviderEntry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	e, ok := p.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := e.Clone()
	return &c, nil
}

func (p *providerRepo) Upsert(ctx context.Context, entry *domain.ProviderEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.items[entry.ID] = entry.Clone()
	return nil
}

func (p *providerRepo) Delete(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.items[id]; !ok {
		return store.ErrNotFound
	}
	delete(p.items, id)
	return nil
}

// requestRepo is a ring of the most recent logs, newest last.
type requestRepo struct {
	mu   sync.Mutex
	logs []model.RequestLog
	now  func() time.Time
}

func (r *requestRepo) Log(ctx context.Context, log *model.RequestLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logs = append(r.logs, *log)
	if over := len(r.logs) - store.MaxRecentLogs; over > 0 {
		r.logs = append(r.logs[:0:0], r.logs[over:]...)
	}
	return nil
}

func (r *requestRepo) GetRecent(ctx context.Context, limit int) ([]model.RequestLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 || limit > len(r.logs) {
		limit = len(r.logs)
	}
	out := make([]model.RequestLog, 0, limit)
	for i := len(r.logs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.logs[i])
	}
	return out, nil
}

func (r *requestRepo) GetDailyStats(ctx context.Context, days int) ([]model.DailyStats, error) {
	r.mu.Lock()
	logs := append([]model.RequestLog(nil), r.logs...)
	r.mu.Unlock()

	return store.AggregateDaily(logs, days, r.now()), nil
}
