package service

import (
	"context"
	"time"

	"revision-planner/internal/model"
	"revision-planner/internal/schedule"
)

// ActiveTaskLister returns a user's non-archived tasks with their revisions.
type ActiveTaskLister interface {
	ListActiveByOwner(ctx context.Context, userID string) ([]model.Task, error)
}

// DueService resolves which pending revisions fall in a window. Every caller,
// the reminder run and the calendar views alike, goes through Resolve.
type DueService struct {
	tasks ActiveTaskLister
	zones *ZoneResolver
}

func NewDueService(tasks ActiveTaskLister, zones *ZoneResolver) *DueService {
	return &DueService{tasks: tasks, zones: zones}
}

// Resolve returns the user's pending revisions inside w. It never writes.
func (s *DueService) Resolve(ctx context.Context, userID string, w schedule.Window) ([]schedule.DueRevision, error) {
	tasks, err := s.tasks.ListActiveByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	return schedule.Collect(tasks, w), nil
}

// DueToday returns revisions scheduled on the local day of asOf in timezone.
func (s *DueService) DueToday(ctx context.Context, userID, timezone string, asOf time.Time) ([]schedule.DueRevision, error) {
	return s.Resolve(ctx, userID, schedule.DayWindow(asOf, s.zones.Location(timezone)))
}

// DueOn returns revisions scheduled on a YYYY-MM-DD local date.
func (s *DueService) DueOn(ctx context.Context, userID, timezone, date string) ([]schedule.DueRevision, error) {
	loc := s.zones.Location(timezone)
	ref, err := schedule.LocalDate(date, loc)
	if err != nil {
		return nil, err
	}
	return s.Resolve(ctx, userID, schedule.DayWindow(ref, loc))
}

// Upcoming returns revisions scheduled in [now, now+horizonDays].
func (s *DueService) Upcoming(ctx context.Context, userID string, now time.Time, horizonDays int) ([]schedule.DueRevision, error) {
	if horizonDays < 0 {
		return nil, schedule.Invalidf("days", "must not be negative")
	}
	return s.Resolve(ctx, userID, schedule.UpcomingWindow(now, horizonDays))
}

// Overdue returns pending revisions scheduled before now.
func (s *DueService) Overdue(ctx context.Context, userID string, now time.Time) ([]schedule.DueRevision, error) {
	return s.Resolve(ctx, userID, schedule.OverdueWindow(now))
}
