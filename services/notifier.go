// services/notifier.go
package services

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Notifier delivers operator alerts. Delivery failures are logged by the
// caller and never affect ledger state.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// ReportArchive stores a finished batch report and returns its object key.
type ReportArchive interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

type TelegramNotifier struct {
	Bot    *tgbotapi.BotAPI
	ChatID int64
}

func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	if token == "" || chatID == 0 {
		return nil, fmt.Errorf("telegram bot token and chat id are required")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramNotifier{Bot: bot, ChatID: chatID}, nil
}

func (n *TelegramNotifier) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(n.ChatID, text)
	_, err := n.Bot.Send(msg)
	return err
}
