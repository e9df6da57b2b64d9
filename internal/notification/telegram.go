// Package notification delivers verification codes to users over Telegram.
package notification

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramConfig holds bot credentials.
type TelegramConfig struct {
	BotToken string
}

// TelegramService sends messages through the Telegram Bot API.
type TelegramService struct {
	bot *tgbotapi.BotAPI
}

// NewTelegramService creates a new Telegram sender. It validates the token
// against the Bot API.
func NewTelegramService(config TelegramConfig) (*TelegramService, error) {
	bot, err := tgbotapi.NewBotAPI(config.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telegram: %w", err)
	}
	return &TelegramService{bot: bot}, nil
}

// NewTelegramServiceWithBot wraps an existing bot connection, so the sender
// and the update loop can share one.
func NewTelegramServiceWithBot(bot *tgbotapi.BotAPI) *TelegramService {
	return &TelegramService{bot: bot}
}

// Bot exposes the underlying connection for the update loop.
func (s *TelegramService) Bot() *tgbotapi.BotAPI {
	return s.bot
}

// SendCode delivers a verification code to a chat.
func (s *TelegramService) SendCode(ctx context.Context, chatID int64, code, serviceName string, expiresIn time.Duration) error {
	text := "🔐 *New Verification Code*\n\n" +
		fmt.Sprintf("Service: *%s*\n\n", serviceName) +
		fmt.Sprintf("Your code: `%s`\n\n", code) +
		fmt.Sprintf("⏱ Expires in %s\n\n", formatMinutes(expiresIn)) +
		"_Enter this code in the app/website to verify._"

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

// formatMinutes renders a duration as whole minutes, rounded up, matching
// what users see in the expiry copy.
func formatMinutes(d time.Duration) string {
	minutes := int((d + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	if minutes == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}
