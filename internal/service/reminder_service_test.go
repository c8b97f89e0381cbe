package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"revision-planner/internal/notify"
	"revision-planner/internal/schedule"
)

type recordingNotifier struct {
	mu      sync.Mutex
	failFor map[string]bool
	sent    map[string][]schedule.DueRevision
	sends   map[string]int
}

func (n *recordingNotifier) Send(_ context.Context, to notify.Recipient, due []schedule.DueRevision) error {
	if n.failFor[to.UserID] {
		return errors.New("smtp unavailable")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sent == nil {
		n.sent = make(map[string][]schedule.DueRevision)
		n.sends = make(map[string]int)
	}
	n.sent[to.UserID] = due
	n.sends[to.UserID]++
	return nil
}

func outcomeFor(t *testing.T, summary RunSummary, userID string) Outcome {
	t.Helper()
	for _, o := range summary.Outcomes {
		if o.UserID == userID {
			return o
		}
	}
	t.Fatalf("no outcome for %s", userID)
	return Outcome{}
}

func TestReminderRun(t *testing.T) {
	env := newTestEnv(t)
	ist, _ := time.LoadLocation("Asia/Kolkata")
	// 06:00 in Kolkata.
	now := time.Date(2024, 6, 15, 0, 30, 0, 0, time.UTC)
	dueAt := time.Date(2024, 6, 15, 12, 0, 0, 0, ist)

	for _, id := range []string{"anya", "bela", "dara"} {
		env.addUser(t, id, "Asia/Kolkata")
	}
	env.addUser(t, "cole", "UTC")

	var bela string
	for _, id := range []string{"anya", "bela", "cole"} {
		task, err := env.Task.CreateTask(env.Ctx, id, TaskInput{
			Title:         "Tries",
			CompletedDate: dueAt.AddDate(0, 0, -3),
			Revisions:     []schedule.Item{schedule.DateItem(dueAt), schedule.DateItem(dueAt.AddDate(0, 0, 4))},
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if id == "bela" {
			bela = task.ID
		}
	}

	notifier := &recordingNotifier{failFor: map[string]bool{"anya": true}}
	svc := NewReminderService(env.Users, env.Due, env.Tasks, notifier, env.Zones,
		ReminderConfig{Hour: 6, DispatchTimeout: time.Second, Concurrency: 2}, env.Log)

	summary, err := svc.Run(env.Ctx, now)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Sent != 1 || summary.Errored != 1 || summary.Skipped != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	if o := outcomeFor(t, summary, "anya"); o.Status != OutcomeErrored || !errors.Is(o.Err, ErrDispatch) {
		t.Fatalf("anya: %+v", o)
	}
	if o := outcomeFor(t, summary, "bela"); o.Status != OutcomeSent || o.Due != 1 {
		t.Fatalf("bela: %+v", o)
	}
	if o := outcomeFor(t, summary, "cole"); o.Status != OutcomeSkipped || o.Reason != ReasonNotReminderHour {
		t.Fatalf("cole: %+v", o)
	}
	if o := outcomeFor(t, summary, "dara"); o.Status != OutcomeSkipped || o.Reason != ReasonNothingDue {
		t.Fatalf("dara: %+v", o)
	}

	if got := notifier.sent["bela"]; len(got) != 1 || !got[0].IsFirstRevision {
		t.Fatalf("unexpected digest for bela: %+v", got)
	}
	stored, err := env.Tasks.FindByID(env.Ctx, "bela", bela)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	first := stored.Revisions[0]
	if first.RemindersSent != 1 || first.LastReminderSent == nil || !first.LastReminderSent.Equal(now) {
		t.Fatalf("bookkeeping not recorded: %+v", first)
	}
	if first.Status != "pending" {
		t.Fatalf("a reminder must not change status, got %s", first.Status)
	}
	if stored.Revisions[1].RemindersSent != 0 {
		t.Fatalf("future revision must not be marked")
	}
}

func TestReminderRunCancelled(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "anya", "UTC")
	notifier := &recordingNotifier{}
	svc := NewReminderService(env.Users, env.Due, env.Tasks, notifier, env.Zones,
		ReminderConfig{Hour: 6}, env.Log)

	ctx, cancel := context.WithCancel(env.Ctx)
	cancel()
	if _, err := svc.Run(ctx, time.Date(2024, 6, 15, 6, 0, 0, 0, time.UTC)); err == nil {
		t.Fatal("expected an error from a cancelled run")
	}
	if len(notifier.sent) != 0 {
		t.Fatalf("nothing should be sent after cancellation, got %v", notifier.sent)
	}
}

func TestReminderRunOncePerLocalDay(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "bela", "UTC")
	dueAt := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	if _, err := env.Task.CreateTask(env.Ctx, "bela", TaskInput{
		Title:         "Graphs",
		CompletedDate: dueAt.AddDate(0, 0, -3),
		Revisions:     []schedule.Item{schedule.DateItem(dueAt)},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	notifier := &recordingNotifier{}
	svc := NewReminderService(env.Users, env.Due, env.Tasks, notifier, env.Zones,
		ReminderConfig{Hour: 6, DispatchTimeout: time.Second}, env.Log)

	start := time.Date(2024, 6, 15, 6, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		summary, err := svc.Run(env.Ctx, start.Add(time.Duration(i)*15*time.Minute))
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		o := outcomeFor(t, summary, "bela")
		if i == 0 && o.Status != OutcomeSent {
			t.Fatalf("first run: %+v", o)
		}
		if i > 0 && (o.Status != OutcomeSkipped || o.Reason != ReasonAlreadyReminded) {
			t.Fatalf("run %d: %+v", i, o)
		}
	}
	if got := notifier.sends["bela"]; got != 1 {
		t.Fatalf("expected one digest in the reminder hour, got %d", got)
	}
}

func TestReminderResendsWhenNewRevisionFallsDue(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "bela", "UTC")
	dueAt := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	first, err := env.Task.CreateTask(env.Ctx, "bela", TaskInput{
		Title:         "Graphs",
		CompletedDate: dueAt.AddDate(0, 0, -3),
		Revisions:     []schedule.Item{schedule.DateItem(dueAt)},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	notifier := &recordingNotifier{}
	svc := NewReminderService(env.Users, env.Due, env.Tasks, notifier, env.Zones,
		ReminderConfig{Hour: 6, DispatchTimeout: time.Second}, env.Log)
	now := time.Date(2024, 6, 15, 6, 0, 0, 0, time.UTC)
	if _, err := svc.Run(env.Ctx, now); err != nil {
		t.Fatalf("run: %v", err)
	}

	if _, err := env.Task.CreateTask(env.Ctx, "bela", TaskInput{
		Title:         "Heaps",
		CompletedDate: dueAt.AddDate(0, 0, -3),
		Revisions:     []schedule.Item{schedule.DateItem(dueAt)},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	summary, err := svc.Run(env.Ctx, now.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if o := outcomeFor(t, summary, "bela"); o.Status != OutcomeSent || o.Due != 2 {
		t.Fatalf("second run: %+v", o)
	}
	if notifier.sends["bela"] != 2 {
		t.Fatalf("expected two digests, got %d", notifier.sends["bela"])
	}

	stored, err := env.Tasks.FindByID(env.Ctx, "bela", first.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.Revisions[0].RemindersSent != 2 {
		t.Fatalf("expected two reminders recorded, got %d", stored.Revisions[0].RemindersSent)
	}

	// The next local day starts a fresh digest.
	summary, err = svc.Run(env.Ctx, now.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if o := outcomeFor(t, summary, "bela"); o.Status != OutcomeSkipped || o.Reason != ReasonNothingDue {
		t.Fatalf("next day: %+v", o)
	}
}

func TestProcessUserAfterCancellation(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser(t, "anya", "UTC")
	dueAt := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	if _, err := env.Task.CreateTask(env.Ctx, "anya", TaskInput{
		Title:         "Tries",
		CompletedDate: dueAt.AddDate(0, 0, -3),
		Revisions:     []schedule.Item{schedule.DateItem(dueAt)},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	notifier := &recordingNotifier{}
	svc := NewReminderService(env.Users, env.Due, env.Tasks, notifier, env.Zones,
		ReminderConfig{Hour: 6}, env.Log)

	ctx, cancel := context.WithCancel(env.Ctx)
	cancel()
	o := svc.processUser(ctx, user, time.Date(2024, 6, 15, 6, 0, 0, 0, time.UTC))
	if o.Status != OutcomeSkipped || o.Reason != ReasonCancelled || o.Err != nil {
		t.Fatalf("expected a cancelled skip, got %+v", o)
	}
	if len(notifier.sent) != 0 {
		t.Fatalf("nothing should be sent after cancellation, got %v", notifier.sent)
	}
}
