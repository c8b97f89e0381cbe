package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"revision-planner/internal/model"
)

// TaskRepository stores tasks together with their embedded revisions.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func orderedRevisions(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	if task.Version == 0 {
		task.Version = 1
	}
	for i := range task.Revisions {
		task.Revisions[i].TaskID = task.ID
		task.Revisions[i].Position = i
	}
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// FindByID returns the task only when it belongs to userID.
func (r *TaskRepository) FindByID(ctx context.Context, userID, taskID string) (*model.Task, error) {
	var task model.Task
	err := r.db.WithContext(ctx).
		Preload("Revisions", orderedRevisions).
		Where("user_id = ? AND id = ?", userID, taskID).
		First(&task).Error
	if err != nil {
		return nil, notFound(err, "task")
	}
	return &task, nil
}

// ListByOwner lists a user's tasks filtered by archive flag, newest first.
func (r *TaskRepository) ListByOwner(ctx context.Context, userID string, archived bool) ([]model.Task, error) {
	var tasks []model.Task
	if err := r.db.WithContext(ctx).
		Preload("Revisions", orderedRevisions).
		Where("user_id = ? AND is_archived = ?", userID, archived).
		Order("completed_date DESC, created_at DESC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// ListActiveByOwner lists the non-archived tasks of a user.
func (r *TaskRepository) ListActiveByOwner(ctx context.Context, userID string) ([]model.Task, error) {
	return r.ListByOwner(ctx, userID, false)
}

// Replace rewrites the whole task document. It fails with ErrConflict when
// the stored version no longer matches task.Version.
func (r *TaskRepository) Replace(ctx context.Context, task *model.Task) error {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Task{}).
			Where("id = ? AND user_id = ? AND version = ?", task.ID, task.UserID, task.Version).
			Updates(map[string]interface{}{
				"title":          task.Title,
				"notes":          task.Notes,
				"completed_date": task.CompletedDate,
				"is_archived":    task.IsArchived,
				"version":        task.Version + 1,
				"updated_at":     now,
			})
		if res.Error != nil {
			return fmt.Errorf("update task: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&model.Task{}).Where("id = ? AND user_id = ?", task.ID, task.UserID).Count(&count).Error; err != nil {
				return fmt.Errorf("check task: %w", err)
			}
			if count == 0 {
				return fmt.Errorf("task: %w", ErrNotFound)
			}
			return fmt.Errorf("task %s: %w", task.ID, ErrConflict)
		}
		if err := carryReminders(tx, task); err != nil {
			return err
		}
		if err := tx.Where("task_id = ?", task.ID).Delete(&model.Revision{}).Error; err != nil {
			return fmt.Errorf("clear revisions: %w", err)
		}
		for i := range task.Revisions {
			task.Revisions[i].TaskID = task.ID
			task.Revisions[i].Position = i
		}
		if len(task.Revisions) > 0 {
			if err := tx.Create(&task.Revisions).Error; err != nil {
				return fmt.Errorf("insert revisions: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	task.Version++
	task.UpdatedAt = now
	return nil
}

// carryReminders merges the stored reminder bookkeeping into task so a
// MarkReminded that landed after task was loaded survives the rewrite.
func carryReminders(tx *gorm.DB, task *model.Task) error {
	var stored []model.Revision
	if err := tx.Select("id", "reminders_sent", "last_reminder_sent").
		Where("task_id = ?", task.ID).Find(&stored).Error; err != nil {
		return fmt.Errorf("load reminder bookkeeping: %w", err)
	}
	byID := make(map[string]model.Revision, len(stored))
	for _, rev := range stored {
		byID[rev.ID] = rev
	}
	for i := range task.Revisions {
		rev := &task.Revisions[i]
		prev, ok := byID[rev.ID]
		if !ok {
			continue
		}
		if prev.RemindersSent > rev.RemindersSent {
			rev.RemindersSent = prev.RemindersSent
		}
		if prev.LastReminderSent != nil && (rev.LastReminderSent == nil || prev.LastReminderSent.After(*rev.LastReminderSent)) {
			at := prev.LastReminderSent.UTC()
			rev.LastReminderSent = &at
		}
	}
	return nil
}

// Delete removes a task and its revisions.
func (r *TaskRepository) Delete(ctx context.Context, userID, taskID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ? AND id = ?", userID, taskID).Delete(&model.Task{})
		if res.Error != nil {
			return fmt.Errorf("delete task: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("task: %w", ErrNotFound)
		}
		if err := tx.Where("task_id = ?", taskID).Delete(&model.Revision{}).Error; err != nil {
			return fmt.Errorf("delete revisions: %w", err)
		}
		return nil
	})
}

// MarkReminded bumps reminder bookkeeping for the given revisions in place.
func (r *TaskRepository) MarkReminded(ctx context.Context, revisionIDs []string, at time.Time) error {
	if len(revisionIDs) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Model(&model.Revision{}).
		Where("id IN ?", revisionIDs).
		UpdateColumns(map[string]interface{}{
			"reminders_sent":     gorm.Expr("reminders_sent + ?", 1),
			"last_reminder_sent": at.UTC(),
		}).Error; err != nil {
		return fmt.Errorf("mark reminded: %w", err)
	}
	return nil
}

// CompletionCount is the number of revisions a user completed in a window.
type CompletionCount struct {
	UserID string
	Count  int64
}

// CountCompletedBetween counts done revisions with completedAt in [from, to) per owner.
func (r *TaskRepository) CountCompletedBetween(ctx context.Context, from, to time.Time) ([]CompletionCount, error) {
	var counts []CompletionCount
	if err := r.db.WithContext(ctx).
		Table("revisions").
		Select("tasks.user_id AS user_id, COUNT(*) AS count").
		Joins("JOIN tasks ON tasks.id = revisions.task_id").
		Where("revisions.status = ? AND revisions.completed_at >= ? AND revisions.completed_at < ?",
			model.StatusDone, from.UTC(), to.UTC()).
		Group("tasks.user_id").
		Order("tasks.user_id").
		Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("count completed revisions: %w", err)
	}
	return counts, nil
}
