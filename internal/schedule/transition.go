package schedule

import (
	"fmt"
	"strings"
	"time"

	"revision-planner/internal/model"
)

// Action is a user-requested change of revision status.
type Action string

const (
	ActionDone     Action = "done"
	ActionSkip     Action = "skipped"
	ActionPostpone Action = "postponed"
)

// ParseAction accepts the status names the API exposes.
func ParseAction(raw string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(raw))) {
	case ActionDone:
		return ActionDone, nil
	case ActionSkip, "skip":
		return ActionSkip, nil
	case ActionPostpone, "postpone":
		return ActionPostpone, nil
	}
	return "", Invalidf("status", "must be one of done, skipped, postponed; got %q", raw)
}

// Apply runs action against the revision revisionID of task in place.
// It returns the revision after the change.
func Apply(task *model.Task, revisionID string, action Action, now time.Time) (model.Revision, error) {
	switch action {
	case ActionDone:
		return Complete(task, revisionID, now)
	case ActionSkip:
		return Skip(task, revisionID)
	case ActionPostpone:
		_, err := Postpone(task, revisionID)
		if err != nil {
			return model.Revision{}, err
		}
		return task.Revisions[task.RevisionIndex(revisionID)], nil
	}
	return model.Revision{}, Invalidf("status", "unknown action %q", action)
}

func lookup(task *model.Task, revisionID string) (*model.Revision, error) {
	idx := task.RevisionIndex(revisionID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrRevisionNotFound, revisionID)
	}
	return &task.Revisions[idx], nil
}

// Complete marks a pending revision done. Completing a done revision again
// refreshes completedAt.
func Complete(task *model.Task, revisionID string, now time.Time) (model.Revision, error) {
	rev, err := lookup(task, revisionID)
	if err != nil {
		return model.Revision{}, err
	}
	if rev.Status != model.StatusPending && rev.Status != model.StatusDone {
		return model.Revision{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rev.Status, model.StatusDone)
	}
	at := now.UTC()
	rev.Status = model.StatusDone
	rev.CompletedAt = &at
	return *rev, nil
}

// Skip marks a pending revision skipped.
func Skip(task *model.Task, revisionID string) (model.Revision, error) {
	rev, err := lookup(task, revisionID)
	if err != nil {
		return model.Revision{}, err
	}
	if rev.Status != model.StatusPending && rev.Status != model.StatusSkipped {
		return model.Revision{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rev.Status, model.StatusSkipped)
	}
	rev.Status = model.StatusSkipped
	rev.CompletedAt = nil
	return *rev, nil
}

// PostponedDate is the UTC midnight following the UTC date of scheduled.
func PostponedDate(scheduled time.Time) time.Time {
	return StartOfDayUTC(scheduled).AddDate(0, 0, 1)
}

// Postpone moves the revision one day past its own scheduled date and makes
// it pending again. The wall clock plays no part.
func Postpone(task *model.Task, revisionID string) (time.Time, error) {
	rev, err := lookup(task, revisionID)
	if err != nil {
		return time.Time{}, err
	}
	rev.ScheduledDate = PostponedDate(rev.ScheduledDate)
	rev.Status = model.StatusPending
	rev.CompletedAt = nil
	return rev.ScheduledDate, nil
}

// Reschedule sets an explicit date and reactivates the revision regardless of
// its previous status.
func Reschedule(task *model.Task, revisionID string, newDate time.Time) (model.Revision, error) {
	rev, err := lookup(task, revisionID)
	if err != nil {
		return model.Revision{}, err
	}
	if newDate.IsZero() {
		return model.Revision{}, Invalidf("scheduledDate", "is required")
	}
	if newDate.Before(task.CompletedDate) {
		return model.Revision{}, Invalidf("scheduledDate", "%s precedes completion date %s",
			newDate.UTC().Format(time.RFC3339), task.CompletedDate.UTC().Format(time.RFC3339))
	}
	rev.ScheduledDate = newDate.UTC()
	rev.Status = model.StatusPending
	rev.CompletedAt = nil
	return *rev, nil
}
