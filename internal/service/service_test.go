package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"revision-planner/internal/lock"
	"revision-planner/internal/model"
	"revision-planner/internal/repository"
)

type testEnv struct {
	Ctx    context.Context
	DB     *gorm.DB
	Tasks  *repository.TaskRepository
	Users  *repository.UserRepository
	Tokens *repository.TokenRepository
	Zones  *ZoneResolver
	Task   *TaskService
	Due    *DueService
	Log    *zap.SugaredLogger
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	log := zap.NewNop().Sugar()
	db, err := repository.NewDB("sqlite", filepath.Join(t.TempDir(), "test.db"), log)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	zones, err := NewZoneResolver("UTC", log)
	if err != nil {
		t.Fatalf("zones: %v", err)
	}
	tasks := repository.NewTaskRepository(db)
	return testEnv{
		Ctx:    context.Background(),
		DB:     db,
		Tasks:  tasks,
		Users:  repository.NewUserRepository(db),
		Tokens: repository.NewTokenRepository(db),
		Zones:  zones,
		Task:   NewTaskService(tasks, lock.NewKeyedMutex()),
		Due:    NewDueService(tasks, zones),
		Log:    log,
	}
}

func (e testEnv) addUser(t *testing.T, id, timezone string) model.User {
	t.Helper()
	user := model.User{
		ID:                 id,
		Email:              id + "@example.com",
		DisplayName:        id,
		Timezone:           timezone,
		Verified:           true,
		EmailNotifications: true,
	}
	if err := e.Users.Create(e.Ctx, &user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
