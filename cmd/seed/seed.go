package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/nulzo/uniapi/internal/cli"
	"github.com/nulzo/uniapi/internal/config"
	"github.com/nulzo/uniapi/internal/core/domain"
	"github.com/nulzo/uniapi/internal/platform/logger"
	"github.com/nulzo/uniapi/internal/store"
	"github.com/nulzo/uniapi/internal/store/backend"
	"github.com/nulzo/uniapi/internal/store/sqlite"
	"go.uber.org/zap"
)

// seedNamespace derives stable IDs for entries that do not name one, so
// running the seeder twice updates instead of duplicating.
var seedNamespace = uuid.MustParse("6f1c2a57-3d0e-4b8e-9a51-0c7a4e2d9b13")

func main() {
	dryRun := flag.Bool("dry-run", false, "Validate the configured providers without writing them")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", cli.CrossMark(), err)
		os.Exit(1)
	}

	logger.Initialize(logger.FromSettings(cfg.Log.Level, cfg.Log.Format))
	defer logger.Sync()
	log := logger.Get()

	if len(cfg.Providers) == 0 {
		fmt.Printf("%s No providers in configuration, nothing to seed\n", cli.WarningSign())
		return
	}

	entries, err := prepare(cfg.Providers, time.Now().UTC())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", cli.CrossMark(), err)
		os.Exit(1)
	}

	if *dryRun {
		report(entries, "valid")
		return
	}

	ctx := context.Background()
	b, err := backend.Open(ctx, cfg, log)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer b.Close()

	if err := write(ctx, b.Repo, entries); err != nil {
		logger.Fatal("Failed to seed providers", zap.Error(err))
	}

	report(entries, "seeded into "+b.Driver)
}

// prepare normalizes and validates every seed, failing on the first bad one.
func prepare(seeds []domain.SeedEntry, now time.Time) ([]domain.ProviderEntry, error) {
	entries := make([]domain.ProviderEntry, 0, len(seeds))
	for i, s := range seeds {
		e := s.Entry()
		e.Normalize()
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("provider %d: %w", i, err)
		}
		if e.ID == "" {
			e.ID = uuid.NewSHA1(seedNamespace, []byte(e.BaseURL+"\x00"+e.APIKey)).String()
		}
		e.CreatedAt = now
		e.UpdatedAt = now
		entries = append(entries, e)
	}
	return entries, nil
}

// write upserts entries, in one transaction when the store supports it.
func write(ctx context.Context, repo store.Repository, entries []domain.ProviderEntry) error {
	if tx, ok := repo.(*sqlite.SqliteRepository); ok {
		return tx.WithTx(ctx, func(r store.Repository) error {
			return upsertAll(ctx, r.Providers(), entries)
		})
	}
	return upsertAll(ctx, repo.Providers(), entries)
}

func upsertAll(ctx context.Context, providers store.ProviderRepository, entries []domain.ProviderEntry) error {
	for i := range entries {
		e := &entries[i]

		existing, err := providers.Get(ctx, e.ID)
		switch {
		case err == nil:
			e.CreatedAt = existing.CreatedAt
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		if err := providers.Upsert(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func report(entries []domain.ProviderEntry, verb string) {
	for _, e := range entries {
		fmt.Printf("%s %s %s %s %v\n", cli.CheckMark(), e.ID, cli.Arrow(), e.BaseURL, e.SupportedModels)
	}
	fmt.Printf("\n%d provider(s) %s\n", len(entries), verb)
}
