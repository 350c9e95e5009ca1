package telegram

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"membership-payments/internal/config"
	"membership-payments/internal/domain/ports/adapter"
)

// sender is the part of *tgbotapi.BotAPI the notifier uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

var _ adapter.Notifier = (*OperatorNotifier)(nil)

// OperatorNotifier posts payment alerts to the operators' Telegram chats.
// Info-level messages addressed to a single user are only logged: the
// payment service has no chat id for end users.
type OperatorNotifier struct {
	bot     sender
	chatIDs []int64
	log     *zerolog.Logger
}

func NewOperatorNotifier(cfg config.TelegramConfig, logger *zerolog.Logger) (*OperatorNotifier, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is empty")
	}
	if len(cfg.OperatorChatIDs) == 0 {
		return nil, errors.New("no operator chat ids configured")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return newOperatorNotifier(bot, cfg.OperatorChatIDs, logger), nil
}

func newOperatorNotifier(bot sender, chatIDs []int64, logger *zerolog.Logger) *OperatorNotifier {
	l := logger.With().Str("component", "OperatorNotifier").Logger()
	return &OperatorNotifier{bot: bot, chatIDs: chatIDs, log: &l}
}

func (n *OperatorNotifier) Notify(ctx context.Context, note adapter.Notification) error {
	if note.UserID != "" && note.Severity == adapter.SeverityInfo {
		n.log.Debug().Str("user_id", note.UserID).Str("title", note.Title).Msg("user notification")
		return nil
	}
	text := render(note)
	var errs []error
	for _, id := range n.chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := n.bot.Send(tgbotapi.NewMessage(id, text)); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func render(note adapter.Notification) string {
	var b strings.Builder
	switch note.Severity {
	case adapter.SeverityCritical:
		b.WriteString("[CRITICAL] ")
	case adapter.SeverityWarning:
		b.WriteString("[WARN] ")
	}
	b.WriteString(note.Title)
	if note.Body != "" {
		b.WriteString("\n")
		b.WriteString(note.Body)
	}
	if note.UserID != "" {
		fmt.Fprintf(&b, "\nuser: %s", note.UserID)
	}
	keys := make([]string, 0, len(note.Fields))
	for k := range note.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, note.Fields[k])
	}
	return b.String()
}

// LogNotifier writes notifications to the log; used when Telegram is not configured.
type LogNotifier struct {
	log *zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: logger}
}

func (n *LogNotifier) Notify(_ context.Context, note adapter.Notification) error {
	ev := n.log.Info()
	switch note.Severity {
	case adapter.SeverityCritical:
		ev = n.log.Error()
	case adapter.SeverityWarning:
		ev = n.log.Warn()
	}
	ev.Str("user_id", note.UserID).Interface("fields", note.Fields).Str("body", note.Body).Msg(note.Title)
	return nil
}
