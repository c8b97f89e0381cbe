package notify

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"

	"revision-planner/internal/schedule"
)

// EmailConfig holds SMTP settings.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailSender delivers digests over SMTP. One instance is shared for the
// process lifetime; each Send dials its own connection.
type EmailSender struct {
	client *mail.Client
	from   string
}

func NewEmailSender(cfg EmailConfig) (*EmailSender, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &EmailSender{client: client, from: cfg.From}, nil
}

func (s *EmailSender) Send(ctx context.Context, to Recipient, due []schedule.DueRevision) error {
	msg, err := s.message(to, due)
	if err != nil {
		return err
	}
	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", to.Email, err)
	}
	return nil
}

func (s *EmailSender) message(to Recipient, due []schedule.DueRevision) (*mail.Msg, error) {
	subject, body := Digest(to, due)
	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if err := msg.AddToFormat(to.DisplayName, to.Email); err != nil {
		return nil, fmt.Errorf("to address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}
