// Package bot runs the Telegram update loop: it welcomes users, collects
// their contact, and hands the chat link to the delivery coordinator.
package bot

import (
	"context"
	"errors"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/chatverify/chatverify/internal/domain"
	"github.com/chatverify/chatverify/internal/otp"
)

const (
	welcomeText = "👋 *Welcome to the Phone Verification Bot!*\n\n" +
		"A service has requested to verify your phone number.\n\n" +
		"Tap the button below to share your contact and receive your verification code.\n\n" +
		"🔒 Your phone number is only used for verification."

	helpText = "ℹ️ *How This Works*\n\n" +
		"1️⃣ A website or app requests to verify your phone\n" +
		"2️⃣ They send you here to get a code\n" +
		"3️⃣ Tap /start and share your contact\n" +
		"4️⃣ Enter the code you receive back in the app\n\n" +
		"🔒 This bot only verifies your phone number.\n" +
		"We don't store or share your information."

	registeredText = "✅ *Phone Number Registered!*\n\n" +
		"Your phone number has been linked to this bot.\n\n" +
		"📲 *Next time*, you'll receive verification codes automatically here — no need to share your contact again!\n\n" +
		"_No pending verification request found at this time._"

	expiredText = "⏰ *Request Expired*\n\n" +
		"Your verification request has expired.\n\n" +
		"Please go back and request a new verification code."

	notYourContactText = "⚠️ *Security Notice*\n\n" +
		"Please share your own contact, not someone else's."

	badPhoneText = "❌ *Error*\n\n" +
		"Could not process your phone number. Please try again."

	genericErrorText = "❌ *Error*\n\n" +
		"Something went wrong while processing your request.\n\n" +
		"Please try again later."

	fallbackText = "👋 To verify your phone number, tap /start and share your contact."
)

// Bot handles Telegram updates over long polling.
type Bot struct {
	logger      *slog.Logger
	api         *tgbotapi.BotAPI
	coordinator *otp.Coordinator
}

// New creates a new bot on an existing API connection.
func New(logger *slog.Logger, api *tgbotapi.BotAPI, coordinator *otp.Coordinator) *Bot {
	return &Bot{
		logger:      logger,
		api:         api,
		coordinator: coordinator,
	}
}

// Run polls for updates until the context is canceled.
func (b *Bot) Run(ctx context.Context) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := b.api.GetUpdatesChan(cfg)

	b.logger.Info("bot started", "username", b.api.Self.UserName)
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("bot stopped")
			return
		case update := <-updates:
			if update.Message == nil {
				continue
			}
			b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	switch {
	case msg.Contact != nil:
		b.handleContact(ctx, msg)
	case msg.IsCommand() && msg.Command() == "start":
		b.replyWithContactKeyboard(msg.Chat.ID, welcomeText)
	case msg.IsCommand() && msg.Command() == "help":
		b.reply(msg.Chat.ID, helpText)
	default:
		b.reply(msg.Chat.ID, fallbackText)
	}
}

func (b *Bot) handleContact(ctx context.Context, msg *tgbotapi.Message) {
	contact := msg.Contact

	// Telegram verifies contact ownership only when user id matches the
	// sender; anything else could be a forwarded third-party contact.
	if msg.From == nil || contact.UserID != msg.From.ID {
		b.reply(msg.Chat.ID, notYourContactText)
		return
	}

	meta := otp.ChatLinkMetadata{}
	if contact.FirstName != "" {
		meta.FirstName = &contact.FirstName
	}
	if contact.LastName != "" {
		meta.LastName = &contact.LastName
	}
	if msg.From.UserName != "" {
		meta.Username = &msg.From.UserName
	}

	req, err := b.coordinator.HandleChatLinked(ctx, contact.PhoneNumber, msg.Chat.ID, meta)
	switch {
	case errors.Is(err, domain.ErrInvalidPhoneNumber):
		b.reply(msg.Chat.ID, badPhoneText)
	case errors.Is(err, domain.ErrCodeExpired):
		b.reply(msg.Chat.ID, expiredText)
	case err != nil:
		b.logger.Error("failed to process contact", "chat_id", msg.Chat.ID, "error", err)
		b.reply(msg.Chat.ID, genericErrorText)
	case req == nil:
		b.reply(msg.Chat.ID, registeredText)
	default:
		// The coordinator already delivered the code to this chat.
	}
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("failed to send reply", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) replyWithContactKeyboard(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	keyboard := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButtonContact("📱 Share My Phone Number"),
		),
	)
	keyboard.ResizeKeyboard = true
	keyboard.OneTimeKeyboard = true
	msg.ReplyMarkup = keyboard
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("failed to send welcome", "chat_id", chatID, "error", err)
	}
}
