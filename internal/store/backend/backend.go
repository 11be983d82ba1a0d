package backend

import (
	"context"
	"fmt"

	"github.com/nulzo/uniapi/internal/config"
	"github.com/nulzo/uniapi/internal/store"
	"github.com/nulzo/uniapi/internal/store/cache"
	"github.com/nulzo/uniapi/internal/store/memory"
	"github.com/nulzo/uniapi/internal/store/redis"
	"github.com/nulzo/uniapi/internal/store/sqlite"
	"go.uber.org/zap"
)

// Backend is the repository and cache selected by configuration.
type Backend struct {
	Driver string
	Repo   store.Repository
	Cache  cache.CacheService
}

// Open connects the configured store driver. The SQLite and memory drivers
// keep provider history in process memory; redis keeps it in redis too.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Backend, error) {
	driver := cfg.StoreDriver()

	switch driver {
	case "memory":
		logger.Warn("Using in-memory store, providers are lost on restart")
		return &Backend{Driver: driver, Repo: memory.New(), Cache: cache.NewMemoryCache()}, nil

	case "redis":
		client, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		logger.Info("Connected to Redis", zap.String("prefix", cfg.Redis.Prefix))
		return &Backend{
			Driver: driver,
			Repo:   redis.New(client, cfg.Redis.Prefix),
			Cache:  cache.NewRedisCache(client, cfg.Redis.Prefix),
		}, nil

	case "sqlite":
		repo, err := sqlite.NewSQLiteStorage(cfg.Store.DSN, logger)
		if err != nil {
			return nil, err
		}
		return &Backend{Driver: driver, Repo: repo, Cache: cache.NewMemoryCache()}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

func (b *Backend) Close() error {
	return b.Repo.Close()
}
