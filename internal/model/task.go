package model

import "time"

// Task is a completed piece of learning material that anchors a revision schedule.
type Task struct {
	ID            string `gorm:"primaryKey;size:36"`
	UserID        string `gorm:"index:idx_task_owner_archived;size:36"`
	Title         string `gorm:"size:200"`
	Notes         string `gorm:"size:1000"`
	CompletedDate time.Time
	IsArchived    bool       `gorm:"index:idx_task_owner_archived;default:false"`
	Version       int        `gorm:"default:1"`
	Revisions     []Revision `gorm:"foreignKey:TaskID;constraint:OnDelete:CASCADE"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RevisionIndex returns the index of the revision with the given id, or -1.
func (t *Task) RevisionIndex(revisionID string) int {
	for i := range t.Revisions {
		if t.Revisions[i].ID == revisionID {
			return i
		}
	}
	return -1
}

// Clone returns a copy whose revision slice can be mutated independently.
func (t Task) Clone() Task {
	out := t
	if t.Revisions != nil {
		out.Revisions = make([]Revision, len(t.Revisions))
		copy(out.Revisions, t.Revisions)
	}
	return out
}
