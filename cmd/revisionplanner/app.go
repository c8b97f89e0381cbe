package main

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"revision-planner/internal/config"
	"revision-planner/internal/lock"
	"revision-planner/internal/logger"
	"revision-planner/internal/notify"
	"revision-planner/internal/repository"
	"revision-planner/internal/service"
)

// app holds everything a command needs, wired from one Config.
type app struct {
	cfg config.Config
	log *zap.SugaredLogger
	db  *gorm.DB

	taskRepo  *repository.TaskRepository
	userRepo  *repository.UserRepository
	tokenRepo *repository.TokenRepository

	zones       *service.ZoneResolver
	tasks       *service.TaskService
	due         *service.DueService
	maintenance *service.MaintenanceService

	closers []io.Closer
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(envDir)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log, err := logger.New(logger.Config{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	db, err := repository.NewDB(cfg.DatabaseDriver, cfg.DatabaseURL, log)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	a := &app{cfg: cfg, log: log, db: db}
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB)
	}

	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.RedisAddr != "" {
		rl, err := lock.NewRedisLocker(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.closers = append(a.closers, rl)
		locker = rl
		log.Infow("task locks shared through redis", "addr", cfg.RedisAddr)
	}

	zones, err := service.NewZoneResolver(cfg.DefaultTimezone, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.taskRepo = repository.NewTaskRepository(db)
	a.userRepo = repository.NewUserRepository(db)
	a.tokenRepo = repository.NewTokenRepository(db)
	a.zones = zones
	a.tasks = service.NewTaskService(a.taskRepo, locker)
	a.due = service.NewDueService(a.taskRepo, zones)
	a.maintenance = service.NewMaintenanceService(a.taskRepo, a.tokenRepo, log)
	return a, nil
}

// notifier builds the fan-out over whichever transports are configured.
func (a *app) notifier() (notify.Notifier, error) {
	var email, telegram notify.Notifier
	if a.cfg.EmailEnabled() {
		sender, err := notify.NewEmailSender(notify.EmailConfig{
			Host:     a.cfg.SMTPHost,
			Port:     a.cfg.SMTPPort,
			Username: a.cfg.SMTPUsername,
			Password: a.cfg.SMTPPassword,
			From:     a.cfg.SMTPFrom,
		})
		if err != nil {
			return nil, err
		}
		email = sender
	}
	if a.cfg.TelegramToken != "" {
		sender, err := notify.NewTelegramSender(a.cfg.TelegramToken, a.cfg.DispatchTimeout)
		if err != nil {
			return nil, err
		}
		telegram = sender
	}
	if email == nil && telegram == nil {
		a.log.Warnw("no SMTP or Telegram configured, digests will only be logged")
		return notify.NewLogNotifier(a.log), nil
	}
	return notify.NewFanout(email, telegram), nil
}

func (a *app) reminders() (*service.ReminderService, error) {
	n, err := a.notifier()
	if err != nil {
		return nil, err
	}
	return service.NewReminderService(a.userRepo, a.due, a.taskRepo, n, a.zones, service.ReminderConfig{
		Hour:            a.cfg.ReminderHour,
		DispatchTimeout: a.cfg.DispatchTimeout,
		Concurrency:     a.cfg.DispatchConcurrency,
	}, a.log), nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.log.Warnw("close", "error", err)
		}
	}
	_ = a.log.Sync()
}

// withApp runs fn with a wired app and closes it afterwards.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
