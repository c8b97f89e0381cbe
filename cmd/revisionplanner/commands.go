package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"revision-planner/internal/bot"
	"revision-planner/internal/model"
	"revision-planner/internal/repository"
	"revision-planner/internal/schedule"
	"revision-planner/internal/server"
	"revision-planner/internal/service"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the reminder scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				if a.cfg.JWTSecret == "" {
					return errors.New("JWT_SECRET is required for bearer auth")
				}
				reminders, err := a.reminders()
				if err != nil {
					return err
				}

				scheduler := service.NewSchedulerService(a.zones.Default(), a.log)
				if err := scheduleJobs(ctx, a, scheduler, reminders); err != nil {
					return err
				}
				scheduler.Start()
				defer scheduler.Stop()

				if a.cfg.TelegramToken != "" {
					tg, err := bot.New(a.cfg.TelegramToken, bot.Deps{
						Users:  a.userRepo,
						Tokens: a.tokenRepo,
						Tasks:  a.tasks,
						Due:    a.due,
						Zones:  a.zones,
						Log:    a.log,
					})
					if err != nil {
						return err
					}
					go func() {
						if err := tg.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
							a.log.Errorw("telegram bot stopped", "error", err)
						}
					}()
				}

				handler, err := server.New(server.Config{
					Tasks: a.tasks,
					Due:   a.due,
					Users: a.userRepo,
					Auth:  server.AuthConfig{JWTSecret: a.cfg.JWTSecret},
					Log:   a.log,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: a.cfg.HTTPAddr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()

				a.log.Infow("serving revision planner API", "addr", a.cfg.HTTPAddr, "environment", a.cfg.Environment)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				a.log.Infow("shutdown complete")
				return nil
			})
		},
	}
	return cmd
}

func scheduleJobs(ctx context.Context, a *app, scheduler *service.SchedulerService, reminders *service.ReminderService) error {
	remind := func() {
		if _, err := reminders.Run(ctx, time.Now()); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Errorw("reminder run", "error", err)
		}
	}
	var err error
	if a.cfg.ReminderInterval > 0 {
		_, err = scheduler.ScheduleInterval(a.cfg.ReminderInterval, remind)
	} else {
		_, err = scheduler.Schedule(a.cfg.ReminderSchedule, remind)
	}
	if err != nil {
		return fmt.Errorf("schedule reminders: %w", err)
	}

	if _, err := scheduler.Schedule(a.cfg.WeeklyReportSchedule, func() {
		if _, err := a.maintenance.WeeklyCompletions(ctx, time.Now()); err != nil {
			a.log.Errorw("weekly report", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule weekly report: %w", err)
	}

	if _, err := scheduler.ScheduleDaily(a.cfg.TokenPurgeTime, func() {
		if _, err := a.maintenance.PurgeExpiredTokens(ctx, time.Now()); err != nil {
			a.log.Errorw("token purge", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule token purge: %w", err)
	}
	return nil
}

func remindCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "remind",
		Short: "Run one reminder tick now",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				now = parsed
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				reminders, err := a.reminders()
				if err != nil {
					return err
				}
				summary, runErr := reminders.Run(ctx, now)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"User", "Status", "Reason", "Due", "Error"})
				for _, o := range summary.Outcomes {
					errText := ""
					if o.Err != nil {
						errText = o.Err.Error()
					}
					tw.AppendRow(table.Row{o.UserID, o.Status, o.Reason, o.Due, errText})
				}
				tw.AppendFooter(table.Row{"", fmt.Sprintf("sent %d", summary.Sent), fmt.Sprintf("skipped %d", summary.Skipped), "", fmt.Sprintf("errored %d", summary.Errored)})
				tw.Render()
				return runErr
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "evaluate the tick at this RFC3339 instant instead of now")
	return cmd
}

func dueCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "due <user-id>",
		Short: "Print the revisions due for a user on a local day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				userID := args[0]
				user, err := a.userRepo.FindByID(ctx, userID)
				if err != nil {
					return err
				}
				loc := a.zones.Location(user.Timezone)
				var due []schedule.DueRevision
				if date == "" {
					due, err = a.due.DueToday(ctx, userID, user.Timezone, time.Now())
				} else {
					due, err = a.due.DueOn(ctx, userID, user.Timezone, date)
				}
				if err != nil {
					return err
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Task", "Title", "Revision", "Label", "Scheduled"})
				for _, d := range due {
					label := "First revision"
					if !d.IsFirstRevision {
						label = fmt.Sprintf("Revision %d", d.Ordinal)
					}
					tw.AppendRow(table.Row{d.TaskID, d.Title, d.RevisionID, label, d.ScheduledDate.In(loc).Format("2006-01-02 15:04 MST")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "local date as YYYY-MM-DD (default today)")
	return cmd
}

func userCmd() *cobra.Command {
	usr := &cobra.Command{Use: "user", Short: "Manage the user directory"}
	usr.AddCommand(userAddCmd())
	usr.AddCommand(userListCmd())
	usr.AddCommand(userLinkTelegramCmd())
	return usr
}

func userAddCmd() *cobra.Command {
	var (
		id, email, name, tz string
		chatID              int64
		unverified, mute    bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			email = strings.TrimSpace(email)
			if email == "" {
				return fmt.Errorf("--email required")
			}
			if _, err := schedule.LoadLocation(tz); err != nil {
				return err
			}
			if id == "" {
				id = uuid.NewString()
			}
			user := model.User{
				ID:                 id,
				Email:              email,
				DisplayName:        name,
				Timezone:           tz,
				Verified:           !unverified,
				EmailNotifications: !mute,
			}
			if chatID != 0 {
				user.TelegramChatID = &chatID
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				if _, err := a.userRepo.FindByEmail(ctx, email); err == nil {
					return fmt.Errorf("a user with email %s already exists", email)
				} else if !errors.Is(err, repository.ErrNotFound) {
					return err
				}
				if err := a.userRepo.Create(ctx, &user); err != nil {
					return err
				}
				fmt.Println(user.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "user id (default: generated)")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&tz, "timezone", "UTC", "IANA timezone")
	cmd.Flags().Int64Var(&chatID, "telegram-chat-id", 0, "telegram chat for digests")
	cmd.Flags().BoolVar(&unverified, "unverified", false, "create the user unverified")
	cmd.Flags().BoolVar(&mute, "no-email", false, "turn email notifications off")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				users, err := a.userRepo.ListAll(ctx)
				if err != nil {
					return err
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Email", "Name", "Timezone", "Verified", "Email on", "Telegram"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Email, u.DisplayName, u.Timezone, u.Verified, u.EmailNotifications, u.TelegramChatID != nil})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func userLinkTelegramCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "link-telegram <user-id>",
		Short: "Issue a one-time code that links a Telegram chat to a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				if _, err := a.userRepo.FindByID(ctx, args[0]); err != nil {
					return err
				}
				tok := model.Token{
					ID:        uuid.NewString(),
					UserID:    args[0],
					Kind:      model.TokenTelegramLink,
					ExpiresAt: time.Now().UTC().Add(ttl),
				}
				if err := a.tokenRepo.Create(ctx, &tok); err != nil {
					return err
				}
				fmt.Printf("send this to the bot: /start %s\n", tok.ID)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "code lifetime")
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue an API bearer token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				if _, err := a.userRepo.FindByID(ctx, args[0]); err != nil {
					return err
				}
				tok, err := server.IssueToken(a.cfg.JWTSecret, args[0], ttl, time.Now())
				if err != nil {
					return err
				}
				fmt.Println(tok)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func purgeTokensCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge-tokens",
		Short: "Delete expired verification and reset tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				n, err := a.maintenance.PurgeExpiredTokens(ctx, time.Now())
				if err != nil {
					return err
				}
				fmt.Printf("purged %d tokens\n", n)
				return nil
			})
		},
	}
}

func weeklyReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "weekly-report",
		Short: "Count revisions completed per user in the last seven days",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				counts, err := a.maintenance.WeeklyCompletions(ctx, time.Now())
				if err != nil {
					return err
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"User", "Completed"})
				for _, c := range counts {
					tw.AppendRow(table.Row{c.UserID, c.Count})
				}
				tw.Render()
				return nil
			})
		},
	}
}
