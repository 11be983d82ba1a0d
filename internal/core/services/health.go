package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nulzo/uniapi/internal/store/cache"
	"go.uber.org/zap"
)

const (
	historyLimit = 50
	historyTTL   = 72 * time.Hour

	// failureThreshold is the number of consecutive failures after which an
	// entry starts cooling down for a model.
	failureThreshold = 3
	defaultCooldown  = 24 * time.Hour
)

var cooldowns = map[int]time.Duration{
	3: 5 * time.Minute,
	4: 10 * time.Minute,
	5: 30 * time.Minute,
	6: 2 * time.Hour,
	7: 6 * time.Hour,
	8: 24 * time.Hour,
	9: 48 * time.Hour,
}

// RequestRecord is one outcome in an entry's per-model history.
type RequestRecord struct {
	At          time.Time `json:"at"`
	Success     bool      `json:"success"`
	FirstByteMS int64     `json:"first_byte_ms,omitempty"`
	Stream      bool      `json:"stream"`
}

// HealthTracker keeps a bounded outcome history per (entry, upstream model)
// in the cache and answers whether an entry is cooling down.
type HealthTracker struct {
	cache  cache.CacheService
	logger *zap.Logger
	now    func() time.Time
	mu     sync.Mutex
}

func NewHealthTracker(c cache.CacheService, logger *zap.Logger) *HealthTracker {
	return &HealthTracker{
		cache:  c,
		logger: logger,
		now:    time.Now,
	}
}

func historyKey(entryID, model string) string {
	return "history:" + entryID + ":" + model
}

// History returns the recorded outcomes, newest first, dropping anything
// older than the retention window.
func (t *HealthTracker) History(ctx context.Context, entryID, model string) ([]RequestRecord, error) {
	var records []RequestRecord
	err := t.cache.Get(ctx, historyKey(entryID, model), &records)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t.prune(records), nil
}

// Record prepends rec to the history.
func (t *HealthTracker) Record(ctx context.Context, entryID, model string, rec RequestRecord) error {
	if rec.At.IsZero() {
		rec.At = t.now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	records, err := t.History(ctx, entryID, model)
	if err != nil {
		return err
	}
	records = append([]RequestRecord{rec}, records...)
	if len(records) > historyLimit {
		records = records[:historyLimit]
	}
	return t.cache.Set(ctx, historyKey(entryID, model), records, historyTTL)
}

// Cooldown returns how long the entry stays excluded for model; zero means
// it is available.
func (t *HealthTracker) Cooldown(ctx context.Context, entryID, model string) (time.Duration, error) {
	records, err := t.History(ctx, entryID, model)
	if err != nil {
		return 0, err
	}

	failures := ConsecutiveFailures(records)
	if failures < failureThreshold {
		return 0, nil
	}

	wait, ok := cooldowns[failures]
	if !ok {
		wait = defaultCooldown
	}

	remaining := wait - t.now().Sub(records[0].At)
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

// Filter drops candidates that are cooling down. When every candidate is
// cooling down, all of them are returned.
func (t *HealthTracker) Filter(ctx context.Context, candidates []Selection) []Selection {
	available := make([]Selection, 0, len(candidates))
	for _, c := range candidates {
		wait, err := t.Cooldown(ctx, c.Entry.ID, c.UpstreamModel)
		if err != nil {
			t.logger.Warn("Failed to read provider history",
				zap.String("provider_id", c.Entry.ID),
				zap.String("model", c.UpstreamModel),
				zap.Error(err),
			)
			available = append(available, c)
			continue
		}
		if wait > 0 {
			t.logger.Debug("Skipping provider in cooldown",
				zap.String("provider_id", c.Entry.ID),
				zap.String("model", c.UpstreamModel),
				zap.Duration("remaining", wait),
			)
			continue
		}
		available = append(available, c)
	}

	if len(available) == 0 {
		return candidates
	}
	return available
}

// ConsecutiveFailures counts failures from the newest record back to the
// most recent success.
func ConsecutiveFailures(records []RequestRecord) int {
	n := 0
	for _, r := range records {
		if r.Success {
			break
		}
		n++
	}
	return n
}

func (t *HealthTracker) prune(records []RequestRecord) []RequestRecord {
	cutoff := t.now().Add(-historyTTL)
	out := records[:0]
	for _, r := range records {
		if r.At.After(cutoff) {
			out = append(out, r)
		}
	}
	return out
}
