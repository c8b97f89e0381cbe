package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"revision-planner/internal/model"
	"revision-planner/internal/repository"
	"revision-planner/internal/schedule"
	"revision-planner/internal/service"
)

const (
	cbDonePrefix     = "done:"
	cbSkipPrefix     = "skip:"
	cbPostponePrefix = "postpone:"
)

const (
	iconDone     = "✅"
	iconSkip     = "⏭️"
	iconPostpone = "⏩"
	iconFirst    = "🆕"
	iconRepeat   = "🔁"

	defaultUpcomingDays = 7
	maxListed           = 20
)

// botAPI is the part of tgbotapi.BotAPI the bot uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// ChatDirectory maps Telegram chats to users.
type ChatDirectory interface {
	FindByTelegramChat(ctx context.Context, chatID int64) (*model.User, error)
	SetTelegramChat(ctx context.Context, userID string, chatID int64) error
}

// LinkTokens consumes single-use chat link tokens.
type LinkTokens interface {
	Consume(ctx context.Context, id string, kind model.TokenKind, now time.Time) (*model.Token, error)
}

// Deps are the services the bot drives.
type Deps struct {
	Users  ChatDirectory
	Tokens LinkTokens
	Tasks  *service.TaskService
	Due    *service.DueService
	Zones  *service.ZoneResolver
	Log    *zap.SugaredLogger
	Now    func() time.Time
}

// Bot lets a linked user review and act on due revisions from Telegram.
type Bot struct {
	api  botAPI
	deps Deps
	// listed holds the last due list shown in each chat; buttons refer to it by index.
	listed map[int64][]schedule.DueRevision
	mu     sync.Mutex
}

// New authorizes token and builds a polling bot.
func New(token string, deps Deps) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	deps.Log.Infow("bot authorized", "account", api.Self.UserName)
	return newBot(api, deps), nil
}

func newBot(api botAPI, deps Deps) *Bot {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop().Sugar()
	}
	return &Bot{
		api:    api,
		deps:   deps,
		listed: make(map[int64][]schedule.DueRevision),
	}
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	b.deps.Log.Infow("start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		switch {
		case update.CallbackQuery != nil:
			if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
				b.deps.Log.Errorw("handle callback", "error", err)
			}
		case update.Message != nil:
			if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
				continue
			}
			if err := b.handleMessage(ctx, update.Message); err != nil {
				b.deps.Log.Errorw("handle message", "error", err)
			}
		}
	}
	return ctx.Err()
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if !msg.IsCommand() {
		return b.sendText(msg.Chat.ID, "I only understand commands. Try /help.")
	}
	b.deps.Log.Debugw("command", "chat", msg.Chat.ID, "command", msg.Command(), "args", msg.CommandArguments())

	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "help":
		return b.handleHelp(msg)
	case "due":
		return b.handleDue(ctx, msg)
	case "upcoming":
		return b.handleUpcoming(ctx, msg)
	default:
		return b.sendText(msg.Chat.ID, "Unknown command. See /help.")
	}
}

// handleStart links the chat when a link code is supplied, e.g. /start <code>.
func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	code := strings.TrimSpace(msg.CommandArguments())
	if code == "" {
		if user, err := b.deps.Users.FindByTelegramChat(ctx, msg.Chat.ID); err == nil {
			return b.sendText(msg.Chat.ID, fmt.Sprintf("👋 Hi %s! Your chat is linked. Try /due.", escape(user.Name())))
		}
		return b.sendText(msg.Chat.ID, "👋 Hi! Send /start &lt;code&gt; with the link code from your planner to receive revision digests here.")
	}

	token, err := b.deps.Tokens.Consume(ctx, code, model.TokenTelegramLink, b.deps.Now())
	if errors.Is(err, repository.ErrNotFound) {
		return b.sendText(msg.Chat.ID, "That link code is unknown or expired.")
	}
	if err != nil {
		return err
	}
	if err := b.deps.Users.SetTelegramChat(ctx, token.UserID, msg.Chat.ID); err != nil {
		return err
	}
	b.deps.Log.Infow("telegram chat linked", "user", token.UserID, "chat", msg.Chat.ID)
	return b.sendText(msg.Chat.ID, "✅ Linked. Daily digests will arrive here too. Try /due.")
}

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	text := "ℹ️ <b>Commands</b>\n" +
		"• /start &lt;code&gt; — link this chat to your planner\n" +
		"• /due — revisions due today, with buttons to mark them\n" +
		"• /upcoming [days] — pending revisions in the next days (default 7)"
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleDue(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.linkedUser(ctx, msg.Chat.ID)
	if err != nil || user == nil {
		return err
	}
	due, err := b.deps.Due.DueToday(ctx, user.ID, user.Timezone, b.deps.Now())
	if err != nil {
		return err
	}
	if len(due) == 0 {
		b.setListed(msg.Chat.ID, nil)
		return b.sendText(msg.Chat.ID, "Nothing to revise today 🎉")
	}
	if len(due) > maxListed {
		due = due[:maxListed]
	}
	b.setListed(msg.Chat.ID, due)

	loc := b.deps.Zones.Location(user.Timezone)
	var builder strings.Builder
	builder.WriteString("📚 <b>Due today</b>\n\n")
	var buttons [][]tgbotapi.InlineKeyboardButton
	for i, d := range due {
		builder.WriteString(formatDue(i+1, d, loc))
		n := strconv.Itoa(i)
		buttons = append(buttons, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%s %d", iconDone, i+1), cbDonePrefix+n),
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%s %d", iconSkip, i+1), cbSkipPrefix+n),
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%s %d", iconPostpone, i+1), cbPostponePrefix+n),
		))
	}

	out := tgbotapi.NewMessage(msg.Chat.ID, strings.TrimSpace(builder.String()))
	out.ParseMode = tgbotapi.ModeHTML
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	_, err = b.api.Send(out)
	return err
}

func (b *Bot) handleUpcoming(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.linkedUser(ctx, msg.Chat.ID)
	if err != nil || user == nil {
		return err
	}
	days := defaultUpcomingDays
	if arg := strings.TrimSpace(msg.CommandArguments()); arg != "" {
		days, err = strconv.Atoi(arg)
		if err != nil || days < 0 {
			return b.sendText(msg.Chat.ID, "Usage: /upcoming [days], e.g. /upcoming 14")
		}
	}
	due, err := b.deps.Due.Upcoming(ctx, user.ID, b.deps.Now(), days)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("No revisions in the next %d days.", days))
	}
	if len(due) > maxListed {
		due = due[:maxListed]
	}
	loc := b.deps.Zones.Location(user.Timezone)
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("🗓 <b>Next %d days</b>\n\n", days))
	for i, d := range due {
		builder.WriteString(formatDue(i+1, d, loc))
	}
	return b.sendText(msg.Chat.ID, strings.TrimSpace(builder.String()))
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.Message == nil || cb.Message.Chat == nil {
		return nil
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.deps.Log.Warnw("callback ack", "error", err)
	}

	var (
		action schedule.Action
		raw    string
	)
	switch data := cb.Data; {
	case strings.HasPrefix(data, cbDonePrefix):
		action, raw = schedule.ActionDone, strings.TrimPrefix(data, cbDonePrefix)
	case strings.HasPrefix(data, cbSkipPrefix):
		action, raw = schedule.ActionSkip, strings.TrimPrefix(data, cbSkipPrefix)
	case strings.HasPrefix(data, cbPostponePrefix):
		action, raw = schedule.ActionPostpone, strings.TrimPrefix(data, cbPostponePrefix)
	default:
		return nil
	}

	chatID := cb.Message.Chat.ID
	idx, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	item, ok := b.listedAt(chatID, idx)
	if !ok {
		return b.sendText(chatID, "That list is out of date. Send /due again.")
	}
	user, err := b.linkedUser(ctx, chatID)
	if err != nil || user == nil {
		return err
	}

	change, err := b.deps.Tasks.UpdateRevisionStatus(ctx, user.ID, item.TaskID, item.RevisionID, action)
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, schedule.ErrRevisionNotFound):
		return b.sendText(chatID, "That revision no longer exists.")
	case errors.Is(err, schedule.ErrInvalidTransition):
		return b.sendText(chatID, fmt.Sprintf("Cannot mark <b>%s</b> as %s.", escape(item.Title), action))
	case err != nil:
		return err
	}
	b.deps.Log.Infow("revision updated from telegram", "user", user.ID, "task", item.TaskID, "revision", item.RevisionID, "action", action)

	switch action {
	case schedule.ActionDone:
		return b.sendText(chatID, fmt.Sprintf("%s <b>%s</b> revised. Nice work!", iconDone, escape(item.Title)))
	case schedule.ActionSkip:
		return b.sendText(chatID, fmt.Sprintf("%s <b>%s</b> skipped.", iconSkip, escape(item.Title)))
	default:
		loc := b.deps.Zones.Location(user.Timezone)
		return b.sendText(chatID, fmt.Sprintf("%s <b>%s</b> moved to %s.", iconPostpone, escape(item.Title),
			change.PostponedTo.In(loc).Format("Mon 2 Jan")))
	}
}

// linkedUser returns the chat's user, or nil after telling the chat to link first.
func (b *Bot) linkedUser(ctx context.Context, chatID int64) (*model.User, error) {
	user, err := b.deps.Users.FindByTelegramChat(ctx, chatID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, b.sendText(chatID, "This chat is not linked yet. Send /start &lt;code&gt; first.")
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) setListed(chatID int64, due []schedule.DueRevision) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(due) == 0 {
		delete(b.listed, chatID)
		return
	}
	b.listed[chatID] = due
}

func (b *Bot) listedAt(chatID int64, idx int) (schedule.DueRevision, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	due := b.listed[chatID]
	if idx < 0 || idx >= len(due) {
		return schedule.DueRevision{}, false
	}
	return due[idx], true
}

func formatDue(n int, d schedule.DueRevision, loc *time.Location) string {
	icon, label := iconRepeat, fmt.Sprintf("revision %d", d.Ordinal)
	if d.IsFirstRevision {
		icon, label = iconFirst, "first revision"
	}
	line := fmt.Sprintf("%d. %s <b>%s</b> · %s · %s\n", n, icon, escape(shortTitle(d.Title, 60)), label,
		d.ScheduledDate.In(loc).Format("Mon 2 Jan 15:04"))
	if d.Notes != "" {
		line += "    <i>" + escape(shortTitle(d.Notes, 80)) + "</i>\n"
	}
	return line
}

func shortTitle(title string, maxLen int) string {
	runes := []rune(strings.TrimSpace(title))
	if len(runes) <= maxLen {
		return string(runes)
	}
	if maxLen <= 1 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-1]) + "…"
}

func escape(s string) string {
	return html.EscapeString(s)
}
