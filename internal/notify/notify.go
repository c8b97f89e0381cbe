// Package notify delivers due-revision digests to users.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"revision-planner/internal/schedule"
)

// ErrNoChannel is returned when a recipient cannot be reached by any configured channel.
var ErrNoChannel = errors.New("no delivery channel for recipient")

// Recipient is who a digest goes to and how to render times for them.
type Recipient struct {
	UserID         string
	Email          string
	DisplayName    string
	TelegramChatID *int64
	Location       *time.Location
}

func (r Recipient) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

// Notifier sends one digest containing every due revision of a user.
type Notifier interface {
	Send(ctx context.Context, to Recipient, due []schedule.DueRevision) error
}

// Fanout delivers through every channel the recipient supports and succeeds
// when at least one of them does.
type Fanout struct {
	channels []channel
}

type channel struct {
	name     string
	notifier Notifier
	accepts  func(Recipient) bool
}

// NewFanout combines the email and telegram senders; either may be nil.
func NewFanout(email, telegram Notifier) *Fanout {
	f := &Fanout{}
	if email != nil {
		f.channels = append(f.channels, channel{
			name:     "email",
			notifier: email,
			accepts:  func(r Recipient) bool { return r.Email != "" },
		})
	}
	if telegram != nil {
		f.channels = append(f.channels, channel{
			name:     "telegram",
			notifier: telegram,
			accepts:  func(r Recipient) bool { return r.TelegramChatID != nil },
		})
	}
	return f
}

func (f *Fanout) Send(ctx context.Context, to Recipient, due []schedule.DueRevision) error {
	var (
		errs      []error
		delivered bool
	)
	for _, ch := range f.channels {
		if !ch.accepts(to) {
			continue
		}
		if err := ch.notifier.Send(ctx, to, due); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch.name, err))
			continue
		}
		delivered = true
	}
	if delivered {
		return nil
	}
	if len(errs) == 0 {
		return ErrNoChannel
	}
	return errors.Join(errs...)
}

// LogNotifier writes digests to the log. Used when no transport is configured.
type LogNotifier struct {
	log *zap.SugaredLogger
}

func NewLogNotifier(log *zap.SugaredLogger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Send(_ context.Context, to Recipient, due []schedule.DueRevision) error {
	subject, body := Digest(to, due)
	n.log.Infow("digest", "user", to.UserID, "email", to.Email, "subject", subject, "body", body)
	return nil
}
