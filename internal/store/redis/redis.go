package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nulzo/uniapi/internal/core/domain"
	"github.com/nulzo/uniapi/internal/store"
	"github.com/nulzo/uniapi/internal/store/model"
	goredis "github.com/redis/go-redis/v9"
)

// Repository stores provider entries as fields of a single hash, one JSON
// document per entry, so every write touches exactly one field. Request
// logs go to a capped list.
type Repository struct {
	client *goredis.Client
	prefix string
	now    func() time.Time
}

func New(client *goredis.Client, prefix string) *Repository {
	if prefix == "" {
		prefix = "uniapi"
	}
	return &Repository{client: client, prefix: prefix, now: time.Now}
}

func (r *Repository) Providers() store.ProviderRepository {
	return &providerRepo{client: r.client, key: r.prefix + ":providers"}
}

func (r *Repository) Requests() store.RequestRepository {
	return &requestRepo{client: r.client, key: r.prefix + ":requests", now: r.now}
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Repository) Close() error {
	return r.client.Close()
}

type providerRepo struct {
	client *goredis.Client
	key    string
}

func (p *providerRepo) List(ctx context.Context) ([]domain.ProviderEntry, error) {
	raw, err := p.client.HGetAll(ctx, p.key).Result()
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}

	out := make([]domain.ProviderEntry, 0, len(raw))
	for id, doc := range raw {
		var e domain.ProviderEntry
		if err := json.Unmarshal([]byte(doc), &e); err != nil {
			return nil, fmt.Errorf("decode provider %s: %w", id, err)
		}
		out = append(out, e)
	}
	store.SortEntries(out)
	return out, nil
}

func (p *providerRepo) Get(ctx context.Context, id string) (*domain.ProviderEntry, error) {
	doc, err := p.client.HGet(ctx, p.key, id).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get provider %s: %w", id, err)
	}

	var e domain.ProviderEntry
	if err := json.Unmarshal([]byte(doc), &e); err != nil {
		return nil, fmt.Errorf("decode provider %s: %w", id, err)
	}
	return &e, nil
}

func (p *providerRepo) Upsert(ctx context.Context, entry *domain.ProviderEntry) error {
	doc, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := p.client.HSet(ctx, p.key, entry.ID, doc).Err(); err != nil {
		return fmt.Errorf("save provider %s: %w", entry.ID, err)
	}
	return nil
}

func (p *providerRepo) Delete(ctx context.Context, id string) error {
	n, err := p.client.HDel(ctx, p.key, id).Result()
	if err != nil {
		return fmt.Errorf("delete provider %s: %w", id, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

type requestRepo struct {
	client *goredis.Client
	key    string
	now    func() time.Time
}

func (r *requestRepo) Log(ctx context.Context, log *model.RequestLog) error {
	doc, err := json.Marshal(log)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.LPush(ctx, r.key, doc)
		pipe.LTrim(ctx, r.key, 0, store.MaxRecentLogs-1)
		return nil
	})
	return err
}

func (r *requestRepo) GetRecent(ctx context.Context, limit int) ([]model.RequestLog, error) {
	if limit <= 0 || limit > store.MaxRecentLogs {
		limit = store.MaxRecentLogs
	}
	return r.rangeLogs(ctx, int64(limit-1))
}

func (r *requestRepo) GetDailyStats(ctx context.Context, days int) ([]model.DailyStats, error) {
	logs, err := r.rangeLogs(ctx, -1)
	if err != nil {
		return nil, err
	}
	return store.AggregateDaily(logs, days, r.now()), nil
}

func (r *requestRepo) rangeLogs(ctx context.Context, stop int64) ([]model.RequestLog, error) {
	docs, err := r.client.LRange(ctx, r.key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("read request logs: %w", err)
	}

	logs := make([]model.RequestLog, 0, len(docs))
	for _, doc := range docs {
		var l model.RequestLog
		if err := json.Unmarshal([]byte(doc), &l); err != nil {
			continue
		}
		logs = append(logs, l)
	}
	return logs, nil
}
