package ports

import (
	"context"

	"github.com/nulzo/uniapi/internal/core/domain"
)

// Rand is the random source used to pick among eligible providers.
// math/rand/v2's *Rand satisfies it.
type Rand interface {
	IntN(n int) int
}

// ProviderSource exposes a read-only view of the configured providers.
// The returned slice must not be modified.
type ProviderSource interface {
	Snapshot(ctx context.Context) ([]domain.ProviderEntry, error)
}
