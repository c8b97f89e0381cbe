package schedule

import (
	"time"

	"github.com/google/uuid"

	"revision-planner/internal/model"
)

// DefaultOffsetDays is the schedule every new task gets when none is supplied.
var DefaultOffsetDays = []int{3, 7}

// Item is one entry of an explicit schedule: either an absolute date or a day
// offset from the completion date. Status is ignored; generated revisions are
// always pending.
type Item struct {
	Date       *time.Time
	OffsetDays *int
}

// DateItem wraps a raw date.
func DateItem(t time.Time) Item { return Item{Date: &t} }

// OffsetItem wraps a day offset.
func OffsetItem(days int) Item { return Item{OffsetDays: &days} }

// GenerateDefault returns pending revisions at completedDate+3d and +7d.
func GenerateDefault(completedDate time.Time) []model.Revision {
	items := make([]Item, 0, len(DefaultOffsetDays))
	for _, d := range DefaultOffsetDays {
		items = append(items, OffsetItem(d))
	}
	// Positive offsets cannot precede the anchor.
	revisions, _ := GenerateFromItems(completedDate, items)
	return revisions
}

// GenerateFromItems normalizes items into pending revisions and enforces
// scheduledDate >= completedDate for each of them.
func GenerateFromItems(completedDate time.Time, items []Item) ([]model.Revision, error) {
	if completedDate.IsZero() {
		return nil, Invalidf("completedDate", "is required")
	}
	anchor := completedDate.UTC()
	out := make([]model.Revision, 0, len(items))
	for i, item := range items {
		var at time.Time
		switch {
		case item.Date != nil && item.OffsetDays != nil:
			return nil, Invalidf("revisions", "item %d sets both date and offset", i)
		case item.Date != nil:
			if item.Date.IsZero() {
				return nil, Invalidf("revisions", "item %d has an empty date", i)
			}
			at = item.Date.UTC()
		case item.OffsetDays != nil:
			at = anchor.AddDate(0, 0, *item.OffsetDays)
		default:
			return nil, Invalidf("revisions", "item %d has neither date nor offset", i)
		}
		if at.Before(anchor) {
			return nil, Invalidf("revisions", "item %d scheduled at %s precedes completion date %s",
				i, at.Format(time.RFC3339), anchor.Format(time.RFC3339))
		}
		out = append(out, model.Revision{
			ID:            uuid.NewString(),
			Position:      i,
			ScheduledDate: at,
			Status:        model.StatusPending,
		})
	}
	return out, nil
}

// CheckInvariant verifies every revision of task is scheduled at or after its completion date.
func CheckInvariant(task *model.Task) error {
	for i := range task.Revisions {
		if task.Revisions[i].ScheduledDate.Before(task.CompletedDate) {
			return Invalidf("revisions", "revision %s scheduled at %s precedes completion date %s",
				task.Revisions[i].ID,
				task.Revisions[i].ScheduledDate.UTC().Format(time.RFC3339),
				task.CompletedDate.UTC().Format(time.RFC3339))
		}
	}
	return nil
}
