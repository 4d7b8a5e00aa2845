package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Notifier delivers one rendered HTML message to one chat. A failed
// delivery affects that chat only; callers continue with the rest of
// their batch.
type Notifier interface {
	Send(chatID int64, text string) error
}

// TelegramNotifier delivers messages through the Telegram Bot API.
type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	logger zerolog.Logger
}

// NewTelegramNotifier authenticates against the Bot API. The endpoint is
// a format string like "https://api.telegram.org/bot%s/%s"; tests point
// it at a local server.
func NewTelegramNotifier(token, endpoint string, logger zerolog.Logger) (*TelegramNotifier, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}

	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}

	return &TelegramNotifier{
		api:    api,
		logger: logger.With().Str("component", "telegram").Logger(),
	}, nil
}

// Send pushes one HTML message without link previews.
func (n *TelegramNotifier) Send(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("send to %d: %w", chatID, err)
	}
	n.logger.Debug().Int64("chat_id", chatID).Msg("message delivered")
	return nil
}

var _ Notifier = (*TelegramNotifier)(nil)
