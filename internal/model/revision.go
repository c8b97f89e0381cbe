package model

import "time"

// RevisionStatus is the resting state of a revision.
type RevisionStatus string

const (
	StatusPending RevisionStatus = "pending"
	StatusDone    RevisionStatus = "done"
	StatusSkipped RevisionStatus = "skipped"
)

// Revision is a single spaced-repetition reminder owned by a Task.
type Revision struct {
	ID               string `gorm:"primaryKey;size:36"`
	TaskID           string `gorm:"index;size:36"`
	Position         int
	ScheduledDate    time.Time      `gorm:"index"`
	Status           RevisionStatus `gorm:"size:16;index;default:pending"`
	CompletedAt      *time.Time
	RemindersSent    int `gorm:"default:0"`
	LastReminderSent *time.Time
}
