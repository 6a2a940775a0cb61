// Package notify delivers run summaries to Telegram.
package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"optionbt/internal/engine"
)

// Notifier sends backtest summaries to a Telegram chat.
type Notifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger zerolog.Logger
}

// NewNotifier initialises the bot client. Token and chat id come from the
// environment configuration.
func NewNotifier(token string, chatID int64) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("initialise telegram bot: %w", err)
	}
	return &Notifier{
		bot:    bot,
		chatID: chatID,
		logger: log.With().Str("component", "telegram_notify").Logger(),
	}, nil
}

// SendResult posts the formatted run summary as a monospace block.
func (n *Notifier) SendResult(result *engine.Result) error {
	text := fmt.Sprintf("```\n%s\n```", result.Format())
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = "Markdown"

	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Error().Err(err).Int64("chat_id", n.chatID).Msg("Failed to send result summary")
		return err
	}
	n.logger.Info().Int64("chat_id", n.chatID).Msg("Result summary sent")
	return nil
}
