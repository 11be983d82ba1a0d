package analytics

import (
	"context"

	"github.com/nulzo/uniapi/internal/store"
	"github.com/nulzo/uniapi/internal/store/model"
)

const (
	defaultDays = 7
	maxDays     = 90
)

type Service interface {
	GetUsageOverview(ctx context.Context, days int) ([]model.DailyStats, error)
	GetRecent(ctx context.Context, limit int) ([]model.RequestLog, error)
}

type service struct {
	repo store.RequestRepository
}

func NewService(repo store.RequestRepository) Service {
	return &service{
		repo: repo,
	}
}

func (s *service) GetUsageOverview(ctx context.Context, days int) ([]model.DailyStats, error) {
	if days <= 0 {
		days = defaultDays
	}
	if days > maxDays {
		days = maxDays
	}

	stats, err := s.repo.GetDailyStats(ctx, days)
	if err != nil {
		return nil, err
	}
	if stats == nil {
		stats = []model.DailyStats{}
	}
	return stats, nil
}

func (s *service) GetRecent(ctx context.Context, limit int) ([]model.RequestLog, error) {
	if limit <= 0 || limit > store.MaxRecentLogs {
		limit = 50
	}

	logs, err := s.repo.GetRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []model.RequestLog{}
	}
	return logs, nil
}
