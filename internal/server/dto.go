package server

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"revision-planner/internal/model"
	"revision-planner/internal/schedule"
	"revision-planner/internal/service"
)

// Request payloads

// RevisionItem sets either an absolute date or a day offset from the completion date.
// On the wire it is an object or a bare RFC3339 date string.
type RevisionItem struct {
	Date       *time.Time `json:"date,omitempty"`
	OffsetDays *int       `json:"offset_days,omitempty"`
}

func (r *RevisionItem) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		date, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("revision date %q: %w", raw, err)
		}
		*r = RevisionItem{Date: &date}
		return nil
	}
	type plain RevisionItem
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = RevisionItem(p)
	return nil
}

// Schema lets request validation accept both wire forms.
func (RevisionItem) Schema(huma.Registry) *huma.Schema {
	date := &huma.Schema{Type: huma.TypeString, Format: "date-time"}
	object := &huma.Schema{
		Type: huma.TypeObject,
		Properties: map[string]*huma.Schema{
			"date":        {Type: huma.TypeString, Format: "date-time"},
			"offset_days": {Type: huma.TypeInteger},
		},
		AdditionalProperties: false,
	}
	for _, s := range []*huma.Schema{date, object, object.Properties["date"], object.Properties["offset_days"]} {
		s.PrecomputeMessages()
	}
	return &huma.Schema{
		Description: "RFC3339 date, or an object with date or offset_days",
		OneOf:       []*huma.Schema{date, object},
	}
}

type CreateTaskRequest struct {
	Title         string         `json:"title"`
	Notes         string         `json:"notes,omitempty"`
	CompletedDate time.Time      `json:"completed_date"`
	Revisions     []RevisionItem `json:"revisions,omitempty"`
}

type UpdateTaskRequest struct {
	Title         *string        `json:"title,omitempty"`
	Notes         *string        `json:"notes,omitempty"`
	CompletedDate *time.Time     `json:"completed_date,omitempty"`
	Revisions     []RevisionItem `json:"revisions,omitempty"`
}

type UpdateRevisionStatusRequest struct {
	Status string `json:"status" doc:"done, skipped or postponed"`
}

type RescheduleRevisionRequest struct {
	ScheduledDate time.Time `json:"scheduled_date"`
}

// Response payloads

type RevisionResponse struct {
	ID               string     `json:"id"`
	Position         int        `json:"position"`
	ScheduledDate    time.Time  `json:"scheduled_date"`
	Status           string     `json:"status"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	RemindersSent    int        `json:"reminders_sent"`
	LastReminderSent *time.Time `json:"last_reminder_sent,omitempty"`
}

type TaskResponse struct {
	ID            string             `json:"id"`
	Title         string             `json:"title"`
	Notes         string             `json:"notes,omitempty"`
	CompletedDate time.Time          `json:"completed_date"`
	IsArchived    bool               `json:"is_archived"`
	Version       int                `json:"version"`
	Revisions     []RevisionResponse `json:"revisions"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

type RevisionChangeResponse struct {
	Task        TaskResponse     `json:"task"`
	Revision    RevisionResponse `json:"revision"`
	PostponedTo *time.Time       `json:"postponed_to,omitempty"`
}

type DueRevisionResponse struct {
	TaskID          string    `json:"task_id"`
	Title           string    `json:"title"`
	Notes           string    `json:"notes,omitempty"`
	TaskCreatedAt   time.Time `json:"task_created_at"`
	RevisionID      string    `json:"revision_id"`
	Ordinal         int       `json:"ordinal"`
	ScheduledDate   time.Time `json:"scheduled_date"`
	IsFirstRevision bool      `json:"is_first_revision"`
}

type DueResponse struct {
	Items []DueRevisionResponse `json:"items"`
}

type UserResponse struct {
	ID                 string `json:"id"`
	Email              string `json:"email"`
	DisplayName        string `json:"display_name"`
	Timezone           string `json:"timezone"`
	Verified           bool   `json:"verified"`
	EmailNotifications bool   `json:"email_notifications"`
	TelegramLinked     bool   `json:"telegram_linked"`
}

func toItems(in []RevisionItem) []schedule.Item {
	out := make([]schedule.Item, 0, len(in))
	for _, it := range in {
		out = append(out, schedule.Item{Date: it.Date, OffsetDays: it.OffsetDays})
	}
	return out
}

func toRevisionResponse(r model.Revision) RevisionResponse {
	return RevisionResponse{
		ID:               r.ID,
		Position:         r.Position,
		ScheduledDate:    r.ScheduledDate.UTC(),
		Status:           string(r.Status),
		CompletedAt:      r.CompletedAt,
		RemindersSent:    r.RemindersSent,
		LastReminderSent: r.LastReminderSent,
	}
}

func toTaskResponse(t *model.Task) TaskResponse {
	revs := make([]RevisionResponse, 0, len(t.Revisions))
	for _, r := range t.Revisions {
		revs = append(revs, toRevisionResponse(r))
	}
	return TaskResponse{
		ID:            t.ID,
		Title:         t.Title,
		Notes:         t.Notes,
		CompletedDate: t.CompletedDate.UTC(),
		IsArchived:    t.IsArchived,
		Version:       t.Version,
		Revisions:     revs,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

func toRevisionChangeResponse(c *service.RevisionChange) RevisionChangeResponse {
	return RevisionChangeResponse{
		Task:        toTaskResponse(c.Task),
		Revision:    toRevisionResponse(c.Revision),
		PostponedTo: c.PostponedTo,
	}
}

func toDueResponse(due []schedule.DueRevision) DueResponse {
	items := make([]DueRevisionResponse, 0, len(due))
	for _, d := range due {
		items = append(items, DueRevisionResponse{
			TaskID:          d.TaskID,
			Title:           d.Title,
			Notes:           d.Notes,
			TaskCreatedAt:   d.TaskCreatedAt,
			RevisionID:      d.RevisionID,
			Ordinal:         d.Ordinal,
			ScheduledDate:   d.ScheduledDate.UTC(),
			IsFirstRevision: d.IsFirstRevision,
		})
	}
	return DueResponse{Items: items}
}

func toUserResponse(u *model.User) UserResponse {
	return UserResponse{
		ID:                 u.ID,
		Email:              u.Email,
		DisplayName:        u.Name(),
		Timezone:           u.Timezone,
		Verified:           u.Verified,
		EmailNotifications: u.EmailNotifications,
		TelegramLinked:     u.TelegramChatID != nil,
	}
}
