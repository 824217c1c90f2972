package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSender delivers notifications through the Telegram Bot API.
type TelegramSender struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramSender authenticates the bot token. endpoint overrides the API
// URL format (tgbotapi.APIEndpoint when empty).
func NewTelegramSender(token string, chatID int64, endpoint string) (*TelegramSender, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}
	return &TelegramSender{api: api, chatID: chatID}, nil
}

// Send posts the title in bold followed by the message.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	msg := tgbotapi.NewMessage(t.chatID, fmt.Sprintf("*%s*\n%s", title, message))
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
