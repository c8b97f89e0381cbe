package schedule

import (
	"testing"
	"time"

	"revision-planner/internal/model"
)

func TestOrdinal(t *testing.T) {
	completed := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		days int
		want int
	}{
		{0, 1}, {3, 1}, {4, 2}, {7, 2}, {8, 3}, {14, 3}, {15, 4}, {30, 4}, {31, 5}, {90, 5},
	}
	for _, tt := range tests {
		if got := Ordinal(completed, completed.AddDate(0, 0, tt.days)); got != tt.want {
			t.Errorf("Ordinal(+%dd) = %d, want %d", tt.days, got, tt.want)
		}
	}
	// Partial days round down.
	if got := Ordinal(completed, completed.Add(3*24*time.Hour+23*time.Hour)); got != 1 {
		t.Errorf("3d23h should bucket to 1, got %d", got)
	}
}

func TestCollectDayWindow(t *testing.T) {
	loc, err := LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	today := time.Date(2024, 6, 15, 6, 0, 0, 0, loc)
	noon := time.Date(2024, 6, 15, 12, 0, 0, 0, loc)
	lateYesterday := time.Date(2024, 6, 14, 23, 59, 0, 0, loc)

	tasks := []model.Task{
		{
			ID:            "a",
			Title:         "Graphs",
			CompletedDate: noon.AddDate(0, 0, -3),
			Revisions:     []model.Revision{{ID: "a1", ScheduledDate: noon.UTC(), Status: model.StatusPending}},
		},
		{
			ID:            "b",
			Title:         "Heaps",
			CompletedDate: lateYesterday.AddDate(0, 0, -7),
			Revisions:     []model.Revision{{ID: "b1", ScheduledDate: lateYesterday.UTC(), Status: model.StatusPending}},
		},
	}

	due := Collect(tasks, DayWindow(today, loc))
	if len(due) != 1 {
		t.Fatalf("expected 1 due revision, got %d", len(due))
	}
	got := due[0]
	if got.TaskID != "a" || got.RevisionID != "a1" || got.Ordinal != 1 || !got.IsFirstRevision {
		t.Fatalf("unexpected due revision: %+v", got)
	}
}

func TestCollectFilters(t *testing.T) {
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	completed := day.AddDate(0, 0, -4)
	at := day.Add(9 * time.Hour)
	tasks := []model.Task{
		{
			ID:            "active",
			CompletedDate: completed,
			Revisions: []model.Revision{
				{ID: "pending", ScheduledDate: at, Status: model.StatusPending},
				{ID: "done", ScheduledDate: at, Status: model.StatusDone},
				{ID: "skipped", ScheduledDate: at, Status: model.StatusSkipped},
				{ID: "pending", ScheduledDate: at, Status: model.StatusPending},
			},
		},
		{
			ID:            "archived",
			IsArchived:    true,
			CompletedDate: completed,
			Revisions:     []model.Revision{{ID: "arch", ScheduledDate: at, Status: model.StatusPending}},
		},
	}
	due := Collect(tasks, DayWindow(at, time.UTC))
	if len(due) != 1 || due[0].RevisionID != "pending" {
		t.Fatalf("expected only the pending revision once, got %+v", due)
	}
	if due[0].Ordinal != 2 || due[0].IsFirstRevision {
		t.Fatalf("4 days after completion should be ordinal 2, got %d", due[0].Ordinal)
	}
}

func TestWindows(t *testing.T) {
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

	overdue := OverdueWindow(now)
	if !overdue.Contains(now.Add(-time.Second)) || overdue.Contains(now) {
		t.Fatalf("overdue window must be open ended and exclude now")
	}
	if !overdue.Contains(time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("overdue window has no lower bound")
	}

	upcoming := UpcomingWindow(now, 7)
	if !upcoming.Contains(now) || !upcoming.Contains(now.AddDate(0, 0, 7)) {
		t.Fatalf("upcoming window must include both ends")
	}
	if upcoming.Contains(now.Add(-time.Second)) || upcoming.Contains(now.AddDate(0, 0, 7).Add(time.Second)) {
		t.Fatalf("upcoming window leaked outside its bounds")
	}
}
