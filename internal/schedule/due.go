package schedule

import (
	"time"

	"revision-planner/internal/model"
)

// DueRevision is one pending revision selected for a window, with enough of
// its task to render a reminder.
type DueRevision struct {
	TaskID           string
	Title            string
	Notes            string
	TaskCreatedAt    time.Time
	RevisionID       string
	Ordinal          int
	ScheduledDate    time.Time
	IsFirstRevision  bool
	// LastReminderSent is when this revision last went out in a digest.
	LastReminderSent *time.Time
}

// Window is an absolute time range. A zero From or To leaves that side open.
// From is inclusive; To is inclusive unless ExclusiveTo is set.
type Window struct {
	From        time.Time
	To          time.Time
	ExclusiveTo bool
}

// DayWindow covers the local calendar day of instant in loc.
func DayWindow(instant time.Time, loc *time.Location) Window {
	start, end := DayBoundsIn(instant, loc)
	return Window{From: start, To: end}
}

// UpcomingWindow covers [now, now+horizonDays].
func UpcomingWindow(now time.Time, horizonDays int) Window {
	return Window{From: now, To: now.AddDate(0, 0, horizonDays)}
}

// OverdueWindow covers everything strictly before now.
func OverdueWindow(now time.Time) Window {
	return Window{To: now, ExclusiveTo: true}
}

// Contains reports whether t falls inside w.
func (w Window) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if w.To.IsZero() {
		return true
	}
	if w.ExclusiveTo {
		return t.Before(w.To)
	}
	return !t.After(w.To)
}

// Ordinal buckets the whole days between completion and schedule into 1..5.
// It labels a revision and never decides whether it is due.
func Ordinal(completedDate, scheduledDate time.Time) int {
	days := int(scheduledDate.Sub(completedDate) / (24 * time.Hour))
	switch {
	case days <= 3:
		return 1
	case days <= 7:
		return 2
	case days <= 14:
		return 3
	case days <= 30:
		return 4
	default:
		return 5
	}
}

// Collect flattens tasks into the pending revisions that fall inside w.
// Archived tasks are ignored and each revision appears at most once.
// Order follows the input: tasks, then revisions within a task.
func Collect(tasks []model.Task, w Window) []DueRevision {
	seen := make(map[string]struct{})
	var out []DueRevision
	for ti := range tasks {
		task := &tasks[ti]
		if task.IsArchived {
			continue
		}
		for ri := range task.Revisions {
			rev := &task.Revisions[ri]
			if rev.Status != model.StatusPending || !w.Contains(rev.ScheduledDate) {
				continue
			}
			if _, dup := seen[rev.ID]; dup {
				continue
			}
			seen[rev.ID] = struct{}{}
			ordinal := Ordinal(task.CompletedDate, rev.ScheduledDate)
			out = append(out, DueRevision{
				TaskID:           task.ID,
				Title:            task.Title,
				Notes:            task.Notes,
				TaskCreatedAt:    task.CreatedAt,
				RevisionID:       rev.ID,
				Ordinal:          ordinal,
				ScheduledDate:    rev.ScheduledDate,
				IsFirstRevision:  ordinal == 1,
				LastReminderSent: rev.LastReminderSent,
			})
		}
	}
	return out
}
