package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"revision-planner/internal/model"
	"revision-planner/internal/repository"
	"revision-planner/internal/schedule"
	"revision-planner/internal/service"
)

// UserLookup resolves the caller's profile.
type UserLookup interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// Config for the HTTP API handler.
type Config struct {
	Tasks    *service.TaskService
	Due      *service.DueService
	Users    UserLookup
	Auth     AuthConfig
	Log      *zap.SugaredLogger
	BasePath string
	Now      func() time.Time
}

func (c Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"task not found"`
	Details map[string]any `json:"details,omitempty"`
}

// apiError is the {"error": {...}} envelope every failure is returned in.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the revision planner API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Tasks == nil || cfg.Due == nil || cfg.Users == nil {
		return nil, errors.New("server: tasks, due and users are required")
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop().Sugar()
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(requestLogger(cfg.Log))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Revision Planner API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerTasks(group, cfg)
	registerRevisions(group, cfg)
	registerDue(group, cfg)
	registerMe(group, cfg)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve *schedule.ValidationError
	switch {
	case errors.As(err, &ve):
		return newAPIError(http.StatusBadRequest, "validation_failed", ve.Error(), map[string]any{"field": ve.Field})
	case errors.Is(err, repository.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, schedule.ErrRevisionNotFound):
		return newAPIError(http.StatusNotFound, "revision_not_found", err.Error(), nil)
	case errors.Is(err, schedule.ErrInvalidTransition):
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), nil)
	case errors.Is(err, repository.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type taskPath struct {
	TaskID string `path:"task_id"`
}

type taskOutput struct {
	Body TaskResponse `json:"body"`
}

func registerTasks(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		Description:   "Creates a task with the default +3d/+7d schedule unless revisions are supplied.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*taskOutput, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		task, err := cfg.Tasks.CreateTask(ctx, userID, service.TaskInput{
			Title:         input.Body.Title,
			Notes:         input.Body.Notes,
			CompletedDate: input.Body.CompletedDate,
			Revisions:     toItems(input.Body.Revisions),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: toTaskResponse(task)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Archived bool `query:"archived" doc:"List archived tasks instead of active ones"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tasks, err := cfg.Tasks.ListTasks(ctx, userID, input.Archived)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]TaskResponse, 0, len(tasks))
		for i := range tasks {
			out = append(out, toTaskResponse(&tasks[i]))
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *taskPath) (*taskOutput, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		task, err := cfg.Tasks.GetTask(ctx, userID, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: toTaskResponse(task)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Update task",
		Description: "Supplying revisions replaces the whole schedule.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   UpdateTaskRequest `json:"body"`
	}) (*taskOutput, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		update := service.TaskUpdate{
			Title:         input.Body.Title,
			Notes:         input.Body.Notes,
			CompletedDate: input.Body.CompletedDate,
		}
		if input.Body.Revisions != nil {
			update.Revisions = toItems(input.Body.Revisions)
		}
		task, err := cfg.Tasks.UpdateTask(ctx, userID, input.TaskID, update)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: toTaskResponse(task)}, nil
	})

	for _, archived := range []bool{true, false} {
		archived := archived
		name := "archive"
		if !archived {
			name = "unarchive"
		}
		huma.Register(api, huma.Operation{
			OperationID: name + "-task",
			Method:      http.MethodPost,
			Path:        "/tasks/{task_id}/" + name,
			Summary:     strings.ToUpper(name[:1]) + name[1:] + " task",
			Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict, http.StatusInternalServerError},
		}, func(ctx context.Context, input *taskPath) (*taskOutput, error) {
			userID, authErr := userIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			task, err := cfg.Tasks.SetArchived(ctx, userID, input.TaskID, archived)
			if err != nil {
				return nil, handleError(err)
			}
			return &taskOutput{Body: toTaskResponse(task)}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{task_id}",
		Summary:       "Delete task",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *taskPath) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := cfg.Tasks.DeleteTask(ctx, userID, input.TaskID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

type revisionChangeOutput struct {
	Body RevisionChangeResponse `json:"body"`
}

func registerRevisions(api huma.API, cfg Config) {
	errs := []int{
		http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusNotFound,
		http.StatusConflict,
		http.StatusInternalServerError,
	}

	huma.Register(api, huma.Operation{
		OperationID: "update-revision-status",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}/revisions/{revision_id}",
		Summary:     "Mark a revision done, skipped or postponed",
		Errors:      errs,
	}, func(ctx context.Context, input *struct {
		TaskID     string                      `path:"task_id"`
		RevisionID string                      `path:"revision_id"`
		Body       UpdateRevisionStatusRequest `json:"body"`
	}) (*revisionChangeOutput, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		action, err := schedule.ParseAction(input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		change, err := cfg.Tasks.UpdateRevisionStatus(ctx, userID, input.TaskID, input.RevisionID, action)
		if err != nil {
			return nil, handleError(err)
		}
		return &revisionChangeOutput{Body: toRevisionChangeResponse(change)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reschedule-revision",
		Method:      http.MethodPut,
		Path:        "/tasks/{task_id}/revisions/{revision_id}/schedule",
		Summary:     "Move a revision to an explicit date",
		Errors:      errs,
	}, func(ctx context.Context, input *struct {
		TaskID     string                    `path:"task_id"`
		RevisionID string                    `path:"revision_id"`
		Body       RescheduleRevisionRequest `json:"body"`
	}) (*revisionChangeOutput, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		change, err := cfg.Tasks.RescheduleRevision(ctx, userID, input.TaskID, input.RevisionID, input.Body.ScheduledDate)
		if err != nil {
			return nil, handleError(err)
		}
		return &revisionChangeOutput{Body: toRevisionChangeResponse(change)}, nil
	})
}

type dueOutput struct {
	Body DueResponse `json:"body"`
}

func registerDue(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "due",
		Method:      http.MethodGet,
		Path:        "/due",
		Summary:     "Revisions due on a local day",
		Description: "Defaults to today in the caller's timezone.",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Date string `query:"date" doc:"Local date as YYYY-MM-DD"`
	}) (*dueOutput, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tz := timezoneOf(ctx, cfg.Users, userID)
		var (
			due []schedule.DueRevision
			err error
		)
		if strings.TrimSpace(input.Date) == "" {
			due, err = cfg.Due.DueToday(ctx, userID, tz, cfg.now())
		} else {
			due, err = cfg.Due.DueOn(ctx, userID, tz, input.Date)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &dueOutput{Body: toDueResponse(due)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upcoming",
		Method:      http.MethodGet,
		Path:        "/upcoming",
		Summary:     "Pending revisions in the next days",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Days int `query:"days" default:"7" doc:"Horizon in days"`
	}) (*dueOutput, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		due, err := cfg.Due.Upcoming(ctx, userID, cfg.now(), input.Days)
		if err != nil {
			return nil, handleError(err)
		}
		return &dueOutput{Body: toDueResponse(due)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "overdue",
		Method:      http.MethodGet,
		Path:        "/overdue",
		Summary:     "Pending revisions scheduled in the past",
		Errors:      []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*dueOutput, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		due, err := cfg.Due.Overdue(ctx, userID, cfg.now())
		if err != nil {
			return nil, handleError(err)
		}
		return &dueOutput{Body: toDueResponse(due)}, nil
	})
}

// timezoneOf returns the caller's stored timezone, or "" (the default zone)
// when the caller has no profile.
func timezoneOf(ctx context.Context, users UserLookup, userID string) string {
	user, err := users.FindByID(ctx, userID)
	if err != nil {
		return ""
	}
	return user.Timezone
}

func registerMe(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		user, err := cfg.Users.FindByID(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: toUserResponse(user)}, nil
	})
}
