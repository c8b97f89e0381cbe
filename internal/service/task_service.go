package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"revision-planner/internal/lock"
	"revision-planner/internal/model"
	"revision-planner/internal/repository"
	"revision-planner/internal/schedule"
)

const (
	maxTitleLen     = 200
	maxNotesLen     = 1000
	conflictRetries = 3
)

// TaskInput represents data required to create a task. Nil or empty
// Revisions gets the default schedule.
type TaskInput struct {
	Title         string
	Notes         string
	CompletedDate time.Time
	Revisions     []schedule.Item
}

// TaskUpdate lists the fields to change. Nil fields are left alone; a non-nil
// Revisions replaces the whole schedule.
type TaskUpdate struct {
	Title         *string
	Notes         *string
	CompletedDate *time.Time
	Revisions     []schedule.Item
}

// RevisionChange is the outcome of a status transition.
type RevisionChange struct {
	Task     *model.Task
	Revision model.Revision
	// PostponedTo is set for postpone transitions.
	PostponedTo *time.Time
}

// TaskService wraps task-related business logic.
type TaskService struct {
	taskRepo *repository.TaskRepository
	locker   lock.Locker
	now      func() time.Time
}

func NewTaskService(taskRepo *repository.TaskRepository, locker lock.Locker) *TaskService {
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	return &TaskService{taskRepo: taskRepo, locker: locker, now: time.Now}
}

// WithClock replaces the time source.
func (s *TaskService) WithClock(now func() time.Time) *TaskService {
	s.now = now
	return s
}

func validateText(title, notes string) (string, string, error) {
	title = strings.TrimSpace(title)
	notes = strings.TrimSpace(notes)
	if title == "" {
		return "", "", schedule.Invalidf("title", "is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		return "", "", schedule.Invalidf("title", "must be at most %d characters", maxTitleLen)
	}
	if utf8.RuneCountInString(notes) > maxNotesLen {
		return "", "", schedule.Invalidf("notes", "must be at most %d characters", maxNotesLen)
	}
	return title, notes, nil
}

// CreateTask validates input and always attaches a schedule: the explicit one
// when given, the default one otherwise.
func (s *TaskService) CreateTask(ctx context.Context, userID string, input TaskInput) (*model.Task, error) {
	title, notes, err := validateText(input.Title, input.Notes)
	if err != nil {
		return nil, err
	}
	if input.CompletedDate.IsZero() {
		return nil, schedule.Invalidf("completedDate", "is required")
	}
	completed := input.CompletedDate.UTC()

	var revisions []model.Revision
	if len(input.Revisions) == 0 {
		revisions = schedule.GenerateDefault(completed)
	} else {
		revisions, err = schedule.GenerateFromItems(completed, input.Revisions)
		if err != nil {
			return nil, err
		}
	}

	task := model.Task{
		ID:            uuid.NewString(),
		UserID:        userID,
		Title:         title,
		Notes:         notes,
		CompletedDate: completed,
		Revisions:     revisions,
	}
	if err := s.taskRepo.Create(ctx, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *TaskService) ListTasks(ctx context.Context, userID string, archived bool) ([]model.Task, error) {
	return s.taskRepo.ListByOwner(ctx, userID, archived)
}

func (s *TaskService) GetTask(ctx context.Context, userID, taskID string) (*model.Task, error) {
	return s.taskRepo.FindByID(ctx, userID, taskID)
}

// UpdateTask edits a task and re-checks every revision against the
// (possibly new) completion date.
func (s *TaskService) UpdateTask(ctx context.Context, userID, taskID string, update TaskUpdate) (*model.Task, error) {
	return s.mutate(ctx, userID, taskID, func(task *model.Task) error {
		title, notes := task.Title, task.Notes
		if update.Title != nil {
			title = *update.Title
		}
		if update.Notes != nil {
			notes = *update.Notes
		}
		title, notes, err := validateText(title, notes)
		if err != nil {
			return err
		}
		task.Title, task.Notes = title, notes

		if update.CompletedDate != nil {
			if update.CompletedDate.IsZero() {
				return schedule.Invalidf("completedDate", "is required")
			}
			task.CompletedDate = update.CompletedDate.UTC()
		}
		if update.Revisions != nil {
			if len(update.Revisions) == 0 {
				return schedule.Invalidf("revisions", "must not be empty")
			}
			revisions, err := schedule.GenerateFromItems(task.CompletedDate, update.Revisions)
			if err != nil {
				return err
			}
			task.Revisions = revisions
		}
		return nil
	})
}

// SetArchived archives or restores a task.
func (s *TaskService) SetArchived(ctx context.Context, userID, taskID string, archived bool) (*model.Task, error) {
	return s.mutate(ctx, userID, taskID, func(task *model.Task) error {
		task.IsArchived = archived
		return nil
	})
}

// DeleteTask removes a task with all of its revisions.
func (s *TaskService) DeleteTask(ctx context.Context, userID, taskID string) error {
	release, err := s.locker.Lock(ctx, taskID)
	if err != nil {
		return fmt.Errorf("lock task: %w", err)
	}
	defer release()
	return s.taskRepo.Delete(ctx, userID, taskID)
}

// UpdateRevisionStatus applies done, skipped or postponed to one revision.
func (s *TaskService) UpdateRevisionStatus(ctx context.Context, userID, taskID, revisionID string, action schedule.Action) (*RevisionChange, error) {
	change := &RevisionChange{}
	task, err := s.mutate(ctx, userID, taskID, func(task *model.Task) error {
		rev, err := schedule.Apply(task, revisionID, action, s.now())
		if err != nil {
			return err
		}
		change.Revision = rev
		change.PostponedTo = nil
		if action == schedule.ActionPostpone {
			at := rev.ScheduledDate
			change.PostponedTo = &at
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	change.Task = task
	return change, nil
}

// RescheduleRevision moves a revision to an explicit date and makes it pending.
func (s *TaskService) RescheduleRevision(ctx context.Context, userID, taskID, revisionID string, newDate time.Time) (*RevisionChange, error) {
	change := &RevisionChange{}
	task, err := s.mutate(ctx, userID, taskID, func(task *model.Task) error {
		rev, err := schedule.Reschedule(task, revisionID, newDate)
		if err != nil {
			return err
		}
		change.Revision = rev
		return nil
	})
	if err != nil {
		return nil, err
	}
	change.Task = task
	return change, nil
}

// mutate loads the task under its lock, applies fn to a copy, re-checks the
// revision invariant and replaces the stored document. A version conflict
// from a writer outside this lock is retried against fresh state.
func (s *TaskService) mutate(ctx context.Context, userID, taskID string, fn func(*model.Task) error) (*model.Task, error) {
	release, err := s.locker.Lock(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("lock task: %w", err)
	}
	defer release()

	for attempt := 0; ; attempt++ {
		stored, err := s.taskRepo.FindByID(ctx, userID, taskID)
		if err != nil {
			return nil, err
		}
		task := stored.Clone()
		if err := fn(&task); err != nil {
			return nil, err
		}
		if err := schedule.CheckInvariant(&task); err != nil {
			return nil, err
		}
		err = s.taskRepo.Replace(ctx, &task)
		if err == nil {
			return &task, nil
		}
		if !errors.Is(err, repository.ErrConflict) || attempt+1 >= conflictRetries {
			return nil, err
		}
	}
}
