package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"revision-planner/internal/model"
	"revision-planner/internal/notify"
	"revision-planner/internal/schedule"
)

// ErrDispatch marks a failed notification send.
var ErrDispatch = errors.New("dispatch failed")

// UserDirectory lists users eligible for reminders.
type UserDirectory interface {
	ListNotifiable(ctx context.Context) ([]model.User, error)
}

// ReminderBookkeeper records that revisions were included in a sent digest.
type ReminderBookkeeper interface {
	MarkReminded(ctx context.Context, revisionIDs []string, at time.Time) error
}

type OutcomeStatus string

const (
	OutcomeSent    OutcomeStatus = "sent"
	OutcomeSkipped OutcomeStatus = "skipped"
	OutcomeErrored OutcomeStatus = "errored"
)

const (
	ReasonNotReminderHour = "not_reminder_hour"
	ReasonNothingDue      = "nothing_due"
	ReasonAlreadyReminded = "already_reminded"
	ReasonCancelled       = "cancelled"
)

// Outcome is what happened to one user in one run.
type Outcome struct {
	UserID string
	Status OutcomeStatus
	Reason string
	Due    int
	Err    error
}

// RunSummary aggregates the outcomes of one reminder run.
type RunSummary struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Sent       int
	Skipped    int
	Errored    int
	Cancelled  bool
	Outcomes   []Outcome
}

func (r *RunSummary) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	switch o.Status {
	case OutcomeSent:
		r.Sent++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeErrored:
		r.Errored++
	}
}

// ReminderConfig tunes the reminder run.
type ReminderConfig struct {
	Hour            int
	DispatchTimeout time.Duration
	Concurrency     int
}

// ReminderService sends each eligible user one digest of today's revisions
// when it is their reminder hour locally.
type ReminderService struct {
	users    UserDirectory
	due      *DueService
	marker   ReminderBookkeeper
	notifier notify.Notifier
	zones    *ZoneResolver
	cfg      ReminderConfig
	log      *zap.SugaredLogger
}

func NewReminderService(users UserDirectory, due *DueService, marker ReminderBookkeeper, notifier notify.Notifier, zones *ZoneResolver, cfg ReminderConfig, log *zap.SugaredLogger) *ReminderService {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 10 * time.Second
	}
	return &ReminderService{
		users:    users,
		due:      due,
		marker:   marker,
		notifier: notifier,
		zones:    zones,
		cfg:      cfg,
		log:      log,
	}
}

// Run processes every eligible user once for the tick at now. A failing user
// is recorded and never stops the others. Cancelling ctx stops new users from
// being started; sends already in flight finish under their own timeout.
func (s *ReminderService) Run(ctx context.Context, now time.Time) (RunSummary, error) {
	summary := RunSummary{StartedAt: now}
	users, err := s.users.ListNotifiable(ctx)
	if err != nil {
		return summary, fmt.Errorf("list users: %w", err)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.cfg.Concurrency)
	for _, user := range users {
		if ctx.Err() != nil {
			summary.Cancelled = true
			break
		}
		user := user
		g.Go(func() error {
			outcome := s.processUser(ctx, user, now)
			s.logOutcome(outcome)
			mu.Lock()
			summary.add(outcome)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	summary.FinishedAt = time.Now()
	s.log.Infow("reminder run finished",
		"users", len(users),
		"sent", summary.Sent,
		"skipped", summary.Skipped,
		"errored", summary.Errored,
		"cancelled", summary.Cancelled,
	)
	if summary.Cancelled {
		return summary, ctx.Err()
	}
	return summary, nil
}

func (s *ReminderService) processUser(ctx context.Context, user model.User, now time.Time) Outcome {
	out := Outcome{UserID: user.ID}
	if ctx.Err() != nil {
		out.Status, out.Reason = OutcomeSkipped, ReasonCancelled
		return out
	}
	loc := s.zones.Location(user.Timezone)
	if !schedule.IsLocalHourIn(s.cfg.Hour, loc, now) {
		out.Status, out.Reason = OutcomeSkipped, ReasonNotReminderHour
		return out
	}

	today := schedule.DayWindow(now, loc)
	due, err := s.due.Resolve(ctx, user.ID, today)
	if err != nil {
		if ctx.Err() != nil {
			out.Status, out.Reason = OutcomeSkipped, ReasonCancelled
			return out
		}
		out.Status, out.Err = OutcomeErrored, fmt.Errorf("resolve due revisions: %w", err)
		return out
	}
	out.Due = len(due)
	if len(due) == 0 {
		out.Status, out.Reason = OutcomeSkipped, ReasonNothingDue
		return out
	}
	if remindedWithin(due, today) {
		out.Status, out.Reason = OutcomeSkipped, ReasonAlreadyReminded
		return out
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.DispatchTimeout)
	defer cancel()
	to := notify.Recipient{
		UserID:         user.ID,
		Email:          user.Email,
		DisplayName:    user.Name(),
		TelegramChatID: user.TelegramChatID,
		Location:       loc,
	}
	if err := s.notifier.Send(sendCtx, to, due); err != nil {
		out.Status, out.Err = OutcomeErrored, fmt.Errorf("%w: %w", ErrDispatch, err)
		return out
	}

	ids := make([]string, 0, len(due))
	for _, d := range due {
		ids = append(ids, d.RevisionID)
	}
	if err := s.marker.MarkReminded(sendCtx, ids, now); err != nil {
		s.log.Warnw("reminder bookkeeping failed", "user", user.ID, "error", err)
	}
	out.Status = OutcomeSent
	return out
}

// remindedWithin reports whether every revision in due already went out in
// a digest during w.
func remindedWithin(due []schedule.DueRevision, w schedule.Window) bool {
	for _, d := range due {
		if d.LastReminderSent == nil || !w.Contains(*d.LastReminderSent) {
			return false
		}
	}
	return true
}

func (s *ReminderService) logOutcome(o Outcome) {
	switch o.Status {
	case OutcomeErrored:
		s.log.Errorw("reminder failed", "user", o.UserID, "due", o.Due, "error", o.Err)
	case OutcomeSent:
		s.log.Infow("reminder sent", "user", o.UserID, "due", o.Due)
	default:
		s.log.Debugw("reminder skipped", "user", o.UserID, "reason", o.Reason)
	}
}
