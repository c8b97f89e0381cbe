package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"revision-planner/internal/lock"
	"revision-planner/internal/model"
	"revision-planner/internal/repository"
	"revision-planner/internal/service"
)

const testSecret = "test-secret"

var testNow = time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := zap.NewNop().Sugar()
	db, err := repository.NewDB("sqlite", filepath.Join(t.TempDir(), "api.db"), log)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	zones, err := service.NewZoneResolver("UTC", log)
	if err != nil {
		t.Fatalf("zones: %v", err)
	}
	tasks := repository.NewTaskRepository(db)
	users := repository.NewUserRepository(db)
	if err := users.Create(context.Background(), &model.User{
		ID: "alice", Email: "alice@example.com", DisplayName: "Alice", Timezone: "Europe/Berlin", Verified: true,
	}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	handler, err := New(Config{
		Tasks: service.NewTaskService(tasks, lock.NewKeyedMutex()).WithClock(func() time.Time { return testNow }),
		Due:   service.NewDueService(tasks, zones),
		Users: users,
		Auth:  AuthConfig{JWTSecret: testSecret},
		Log:   log,
		Now:   func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	tok, err := IssueToken(testSecret, userID, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func doJSON(t *testing.T, srv *httptest.Server, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func TestHealthAndAuth(t *testing.T) {
	srv := newTestServer(t)
	if status, _ := doJSON(t, srv, http.MethodGet, "/v1/health", "", nil); status != http.StatusOK {
		t.Fatalf("health: %d", status)
	}
	status, body := doJSON(t, srv, http.MethodGet, "/v1/tasks", "", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}
	if env := decode[errorEnvelope](t, body); env.Error.Code != "unauthorized" {
		t.Fatalf("unexpected envelope %s", body)
	}
	if status, _ := doJSON(t, srv, http.MethodGet, "/v1/tasks", "not-a-jwt", nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token, got %d", status)
	}
	wrong, _ := IssueToken("other-secret", "alice", time.Hour, time.Now())
	if status, _ := doJSON(t, srv, http.MethodGet, "/v1/tasks", wrong, nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a foreign signature, got %d", status)
	}
}

func TestTaskLifecycle(t *testing.T) {
	srv := newTestServer(t)
	alice := tokenFor(t, "alice")
	completed := time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)

	status, body := doJSON(t, srv, http.MethodPost, "/v1/tasks", alice, CreateTaskRequest{
		Title:         "Binary search",
		CompletedDate: completed,
	})
	if status != http.StatusCreated {
		t.Fatalf("create: %d %s", status, body)
	}
	task := decode[TaskResponse](t, body)
	if len(task.Revisions) != 2 || !task.Revisions[0].ScheduledDate.Equal(completed.AddDate(0, 0, 3)) {
		t.Fatalf("unexpected default schedule %+v", task.Revisions)
	}

	if status, _ := doJSON(t, srv, http.MethodGet, "/v1/tasks/"+task.ID, tokenFor(t, "bob"), nil); status != http.StatusNotFound {
		t.Fatalf("foreign owner must see 404, got %d", status)
	}

	status, body = doJSON(t, srv, http.MethodGet, "/v1/due?date=2024-01-10", alice, nil)
	if status != http.StatusOK {
		t.Fatalf("due: %d %s", status, body)
	}
	due := decode[DueResponse](t, body)
	if len(due.Items) != 1 || due.Items[0].RevisionID != task.Revisions[0].ID || !due.Items[0].IsFirstRevision {
		t.Fatalf("unexpected due set %+v", due)
	}

	revPath := "/v1/tasks/" + task.ID + "/revisions/" + task.Revisions[0].ID
	status, body = doJSON(t, srv, http.MethodPatch, revPath, alice, UpdateRevisionStatusRequest{Status: "postponed"})
	if status != http.StatusOK {
		t.Fatalf("postpone: %d %s", status, body)
	}
	change := decode[RevisionChangeResponse](t, body)
	if change.PostponedTo == nil || !change.PostponedTo.Equal(time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected postpone result %+v", change)
	}

	status, body = doJSON(t, srv, http.MethodPatch, revPath, alice, UpdateRevisionStatusRequest{Status: "done"})
	if status != http.StatusOK {
		t.Fatalf("done: %d %s", status, body)
	}
	change = decode[RevisionChangeResponse](t, body)
	if change.Revision.Status != "done" || change.Revision.CompletedAt == nil || !change.Revision.CompletedAt.Equal(testNow) {
		t.Fatalf("unexpected done result %+v", change.Revision)
	}

	status, body = doJSON(t, srv, http.MethodPut, revPath+"/schedule", alice, RescheduleRevisionRequest{ScheduledDate: completed.AddDate(0, 0, 20)})
	if status != http.StatusOK {
		t.Fatalf("reschedule: %d %s", status, body)
	}
	if change = decode[RevisionChangeResponse](t, body); change.Revision.Status != "pending" {
		t.Fatalf("reschedule must reset status, got %s", change.Revision.Status)
	}

	status, body = doJSON(t, srv, http.MethodPost, "/v1/tasks/"+task.ID+"/archive", alice, nil)
	if status != http.StatusOK || !decode[TaskResponse](t, body).IsArchived {
		t.Fatalf("archive: %d %s", status, body)
	}
	_, body = doJSON(t, srv, http.MethodGet, "/v1/tasks", alice, nil)
	if active := decode[[]TaskResponse](t, body); len(active) != 0 {
		t.Fatalf("archived task listed as active: %+v", active)
	}
	_, body = doJSON(t, srv, http.MethodGet, "/v1/tasks?archived=true", alice, nil)
	if archived := decode[[]TaskResponse](t, body); len(archived) != 1 {
		t.Fatalf("expected one archived task, got %d", len(archived))
	}

	if status, _ := doJSON(t, srv, http.MethodDelete, "/v1/tasks/"+task.ID, alice, nil); status != http.StatusNoContent {
		t.Fatalf("delete: %d", status)
	}
	if status, _ := doJSON(t, srv, http.MethodGet, "/v1/tasks/"+task.ID, alice, nil); status != http.StatusNotFound {
		t.Fatalf("deleted task still readable: %d", status)
	}
}

func TestExplicitScheduleForms(t *testing.T) {
	srv := newTestServer(t)
	alice := tokenFor(t, "alice")

	status, body := doJSON(t, srv, http.MethodPost, "/v1/tasks", alice, map[string]any{
		"title":          "Tries",
		"completed_date": "2024-01-07T00:00:00Z",
		"revisions":      []any{"2024-01-20T00:00:00Z", map[string]any{"offset_days": 5}},
	})
	if status != http.StatusCreated {
		t.Fatalf("create: %d %s", status, body)
	}
	task := decode[TaskResponse](t, body)
	if len(task.Revisions) != 2 ||
		!task.Revisions[0].ScheduledDate.Equal(time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)) ||
		!task.Revisions[1].ScheduledDate.Equal(time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected schedule %+v", task.Revisions)
	}

	path := "/v1/tasks/" + task.ID
	status, body = doJSON(t, srv, http.MethodPatch, path, alice, map[string]any{"revisions": []any{}})
	if status != http.StatusBadRequest {
		t.Fatalf("empty schedule: expected 400, got %d %s", status, body)
	}
	if env := decode[errorEnvelope](t, body); env.Error.Details["field"] != "revisions" {
		t.Fatalf("unexpected envelope %s", body)
	}
	_, body = doJSON(t, srv, http.MethodGet, path, alice, nil)
	if kept := decode[TaskResponse](t, body); len(kept.Revisions) != 2 {
		t.Fatalf("rejected update changed the schedule: %+v", kept.Revisions)
	}

	status, body = doJSON(t, srv, http.MethodPatch, path, alice, map[string]any{"revisions": []any{"2024-01-25T00:00:00Z"}})
	if status != http.StatusOK {
		t.Fatalf("replace schedule: %d %s", status, body)
	}
	if updated := decode[TaskResponse](t, body); len(updated.Revisions) != 1 ||
		!updated.Revisions[0].ScheduledDate.Equal(time.Date(2024, 1, 25, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected schedule %+v", updated.Revisions)
	}
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t)
	alice := tokenFor(t, "alice")
	completed := time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)
	early := completed.Add(-time.Hour)

	status, body := doJSON(t, srv, http.MethodPost, "/v1/tasks", alice, CreateTaskRequest{
		Title:         "Heaps",
		CompletedDate: completed,
		Revisions:     []RevisionItem{{Date: &early}},
	})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", status, body)
	}
	if env := decode[errorEnvelope](t, body); env.Error.Code != "validation_failed" || env.Error.Details["field"] != "revisions" {
		t.Fatalf("unexpected envelope %s", body)
	}

	_, body = doJSON(t, srv, http.MethodPost, "/v1/tasks", alice, CreateTaskRequest{Title: "Heaps", CompletedDate: completed})
	task := decode[TaskResponse](t, body)
	base := "/v1/tasks/" + task.ID + "/revisions/"

	if status, _ := doJSON(t, srv, http.MethodPatch, base+"missing", alice, UpdateRevisionStatusRequest{Status: "done"}); status != http.StatusNotFound {
		t.Fatalf("unknown revision: expected 404, got %d", status)
	}
	if status, _ := doJSON(t, srv, http.MethodPatch, base+task.Revisions[0].ID, alice, UpdateRevisionStatusRequest{Status: "archived"}); status != http.StatusBadRequest {
		t.Fatalf("unknown status: expected 400, got %d", status)
	}
	if status, _ := doJSON(t, srv, http.MethodPatch, base+task.Revisions[0].ID, alice, UpdateRevisionStatusRequest{Status: "skipped"}); status != http.StatusOK {
		t.Fatalf("skip: got %d", status)
	}
	if status, _ := doJSON(t, srv, http.MethodPatch, base+task.Revisions[0].ID, alice, UpdateRevisionStatusRequest{Status: "done"}); status != http.StatusConflict {
		t.Fatalf("skipped to done: expected 409, got %d", status)
	}
	if status, _ := doJSON(t, srv, http.MethodGet, "/v1/upcoming?days=-1", alice, nil); status != http.StatusBadRequest {
		t.Fatalf("negative horizon: expected 400, got %d", status)
	}
}

func TestUpcomingOverdueAndMe(t *testing.T) {
	srv := newTestServer(t)
	alice := tokenFor(t, "alice")
	past := testNow.AddDate(0, 0, -1)
	soon := testNow.AddDate(0, 0, 2)
	doJSON(t, srv, http.MethodPost, "/v1/tasks", alice, CreateTaskRequest{
		Title:         "Stacks",
		CompletedDate: testNow.AddDate(0, 0, -5),
		Revisions:     []RevisionItem{{Date: &past}, {Date: &soon}},
	})

	_, body := doJSON(t, srv, http.MethodGet, "/v1/overdue", alice, nil)
	if got := decode[DueResponse](t, body); len(got.Items) != 1 || !got.Items[0].ScheduledDate.Equal(past) {
		t.Fatalf("unexpected overdue %s", body)
	}
	_, body = doJSON(t, srv, http.MethodGet, "/v1/upcoming", alice, nil)
	if got := decode[DueResponse](t, body); len(got.Items) != 1 || !got.Items[0].ScheduledDate.Equal(soon) {
		t.Fatalf("unexpected upcoming %s", body)
	}

	status, body := doJSON(t, srv, http.MethodGet, "/v1/me", alice, nil)
	if status != http.StatusOK {
		t.Fatalf("me: %d", status)
	}
	if me := decode[UserResponse](t, body); me.Timezone != "Europe/Berlin" || me.DisplayName != "Alice" {
		t.Fatalf("unexpected profile %+v", me)
	}
	if status, _ := doJSON(t, srv, http.MethodGet, "/v1/me", tokenFor(t, "ghost"), nil); status != http.StatusNotFound {
		t.Fatalf("unknown user: expected 404, got %d", status)
	}
}
