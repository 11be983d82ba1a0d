package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/nulzo/uniapi/internal/core/domain"
	"github.com/nulzo/uniapi/internal/store/model"
)

// ErrNotFound is returned when an entry does not exist.
var ErrNotFound = errors.New("not found")

// MaxRecentLogs bounds the request history kept by the memory and redis
// backends.
const MaxRecentLogs = 1000

// Repository is the main contract for the data layer.
type Repository interface {
	Providers() ProviderRepository
	Requests() RequestRepository

	Ping(ctx context.Context) error
	Close() error
}

// ProviderRepository persists provider entries. Upsert and Delete are
// atomic per entry.
type ProviderRepository interface {
	List(ctx context.Context) ([]domain.ProviderEntry, error)
	Get(ctx context.Context, id string) (*domain.ProviderEntry, error)
	Upsert(ctx context.Context, entry *domain.ProviderEntry) error
	Delete(ctx context.Context, id string) error
}

type RequestRepository interface {
	// Log stores a completed request.
	Log(ctx context.Context, log *model.RequestLog) error
	// GetRecent returns the last N logs, newest first.
	GetRecent(ctx context.Context, limit int) ([]model.RequestLog, error)
	// GetDailyStats returns aggregated stats grouped by day.
	GetDailyStats(ctx context.Context, days int) ([]model.DailyStats, error)
}

// SortEntries orders entries by creation time, then id.
func SortEntries(entries []domain.ProviderEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}

// AggregateDaily groups logs newer than days ago by UTC date, newest day
// first. Backends without a query engine use it for GetDailyStats.
func AggregateDaily(logs []model.RequestLog, days int, now time.Time) []model.DailyStats {
	cutoff := now.UTC().Truncate(24*time.Hour).AddDate(0, 0, -days)

	byDate := make(map[string]*model.DailyStats)
	latency := make(map[string]int64)
	for _, l := range logs {
		if l.CreatedAt.Before(cutoff) {
			continue
		}
		date := l.CreatedAt.UTC().Format("2006-01-02")
		s, ok := byDate[date]
		if !ok {
			s = &model.DailyStats{Date: date}
			byDate[date] = s
		}
		s.TotalRequests++
		if l.Failed() {
			s.FailedRequests++
		}
		if l.IsStreamed {
			s.StreamRequests++
		}
		latency[date] += l.LatencyMS
	}

	stats := make([]model.DailyStats, 0, len(byDate))
	for date, s := range byDate {
		s.AverageLatency = float64(latency[date]) / float64(s.TotalRequests)
		stats = append(stats, *s)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Date > stats[j].Date })
	return stats
}
