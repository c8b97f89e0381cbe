package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"revision-planner/internal/repository"
)

// MaintenanceService runs the low-priority jobs that share the reminder trigger.
type MaintenanceService struct {
	taskRepo  *repository.TaskRepository
	tokenRepo *repository.TokenRepository
	log       *zap.SugaredLogger
}

func NewMaintenanceService(taskRepo *repository.TaskRepository, tokenRepo *repository.TokenRepository, log *zap.SugaredLogger) *MaintenanceService {
	return &MaintenanceService{taskRepo: taskRepo, tokenRepo: tokenRepo, log: log}
}

// WeeklyCompletions counts revisions each user completed in the seven days before now.
func (s *MaintenanceService) WeeklyCompletions(ctx context.Context, now time.Time) ([]repository.CompletionCount, error) {
	from := now.AddDate(0, 0, -7)
	counts, err := s.taskRepo.CountCompletedBetween(ctx, from, now)
	if err != nil {
		return nil, err
	}
	var total int64
	for _, c := range counts {
		total += c.Count
		s.log.Infow("weekly completions", "user", c.UserID, "completed", c.Count)
	}
	s.log.Infow("weekly report finished", "users", len(counts), "completed", total,
		"from", from.UTC().Format(time.RFC3339), "to", now.UTC().Format(time.RFC3339))
	return counts, nil
}

// PurgeExpiredTokens removes verification and reset tokens past their expiry.
func (s *MaintenanceService) PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.tokenRepo.PurgeExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	s.log.Infow("expired tokens purged", "count", n)
	return n, nil
}
