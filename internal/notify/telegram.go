package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"revision-planner/internal/schedule"
)

type chattableSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender posts digests to a user's Telegram chat.
type TelegramSender struct {
	api chattableSender
}

// NewTelegramSender authorizes the bot token. timeout bounds every API call
// because the client library does not take a context.
func NewTelegramSender(token string, timeout time.Duration) (*TelegramSender, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return &TelegramSender{api: api}, nil
}

func (s *TelegramSender) Send(ctx context.Context, to Recipient, due []schedule.DueRevision) error {
	if to.TelegramChatID == nil {
		return ErrNoChannel
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(*to.TelegramChatID, DigestHTML(to, due))
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("send telegram to %d: %w", *to.TelegramChatID, err)
	}
	return nil
}
