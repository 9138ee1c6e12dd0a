// Package notify announces new turning points to the loan team.
package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"loanlens/internal/timeline"
)

// Event is one turning point detected while ingesting a call.
type Event struct {
	LoanNumbers []string
	Point       timeline.TurningPoint
}

// Notifier delivers events. Delivery failures never block ingestion.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// TelegramNotifier posts events to one chat.
type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
	logger *zap.Logger
}

// NewTelegramNotifier authorizes the bot token. An empty token or chat id
// yields (nil, nil) so callers fall back to Nop.
func NewTelegramNotifier(token string, chatID int64, logger *zap.Logger) (*TelegramNotifier, error) {
	return newTelegramNotifier(token, chatID, tgbotapi.APIEndpoint, logger)
}

func newTelegramNotifier(token string, chatID int64, endpoint string, logger *zap.Logger) (*TelegramNotifier, error) {
	if token == "" || chatID == 0 {
		logger.Info("Telegram notifications are disabled (token or chat id is empty)")
		return nil, nil
	}

	botAPI, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot API: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", botAPI.Self.UserName))

	return &TelegramNotifier{api: botAPI, chatID: chatID, logger: logger}, nil
}

func (n *TelegramNotifier) Notify(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(n.chatID, FormatEvent(ev))
	if _, err := n.api.Send(msg); err != nil {
		n.logger.Error("Failed to send Telegram notification",
			zap.String("call_id", ev.Point.CallID), zap.Error(err))
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}

// FormatEvent renders the plain-text notification body.
func FormatEvent(ev Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", ev.Point.Event)
	if len(ev.LoanNumbers) > 0 {
		fmt.Fprintf(&b, "Loan: %s\n", strings.Join(ev.LoanNumbers, ", "))
	}
	fmt.Fprintf(&b, "Call: %s", ev.Point.CallID)
	if !ev.Point.Timestamp.IsZero() {
		fmt.Fprintf(&b, " (%s)", ev.Point.Timestamp.UTC().Format("2006-01-02 15:04 MST"))
	}
	if ev.Point.Context != "" {
		fmt.Fprintf(&b, "\n\n%s", ev.Point.Context)
	}
	return b.String()
}
