package services

import (
	"math/rand/v2"
	"sort"

	"github.com/nulzo/uniapi/internal/core/domain"
	"github.com/nulzo/uniapi/internal/core/ports"
	"github.com/nulzo/uniapi/pkg/api"
)

// Selection is the outcome of routing one request.
type Selection struct {
	Entry          domain.ProviderEntry
	RequestedModel string
	UpstreamModel  string
}

// Remapped reports whether the upstream sees a different model name.
func (s Selection) Remapped() bool {
	return s.RequestedModel != s.UpstreamModel
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// DefaultRand draws from math/rand/v2's goroutine-safe global source.
var DefaultRand ports.Rand = globalRand{}

// EligibleProviders resolves model through each entry's mapping and keeps
// the entries whose supported set contains the resolved name.
func EligibleProviders(entries []domain.ProviderEntry, model string) []Selection {
	var out []Selection
	for _, e := range entries {
		upstream := e.ResolveModel(model)
		if !e.Supports(upstream) {
			continue
		}
		out = append(out, Selection{
			Entry:          e,
			RequestedModel: model,
			UpstreamModel:  upstream,
		})
	}
	return out
}

// Pick chooses one candidate uniformly at random.
func Pick(candidates []Selection, model string, rng ports.Rand) (Selection, error) {
	if len(candidates) == 0 {
		return Selection{}, api.NoProviderForModel(model)
	}
	if rng == nil {
		rng = DefaultRand
	}
	return candidates[rng.IntN(len(candidates))], nil
}

// SelectProvider is EligibleProviders followed by Pick.
func SelectProvider(entries []domain.ProviderEntry, model string, rng ports.Rand) (Selection, error) {
	return Pick(EligibleProviders(entries, model), model, rng)
}

// RoutableModels lists every name a request can use: supported models plus
// mapping aliases whose target is supported.
func RoutableModels(entries []domain.ProviderEntry) []string {
	seen := make(map[string]struct{})
	for _, e := range entries {
		for _, m := range e.SupportedModels {
			seen[m] = struct{}{}
		}
		for alias, target := range e.ModelMapping {
			if e.Supports(target) {
				seen[alias] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
