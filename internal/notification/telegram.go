// Package notification delivers critical operational alerts. Only events
// that need a human (emergency stop, persistent poller failure, drawdown
// breach) go out; routine trading stays in the logs.
package notification

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"aether-trading-bot/config"
)

// TelegramNotifier sends alerts to a configured chat
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger zerolog.Logger
}

// NewTelegramNotifier creates a notifier, or returns nil (no error) when
// telegram is disabled so callers can hold a nil-safe interface.
func NewTelegramNotifier(cfg config.NotificationConfig, logger zerolog.Logger) (*TelegramNotifier, error) {
	if !cfg.TelegramEnabled {
		return nil, nil
	}

	bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}

	return &TelegramNotifier{
		bot:    bot,
		chatID: cfg.TelegramChatID,
		logger: logger.With().Str("component", "telegram").Logger(),
	}, nil
}

// Notify sends one alert message. Failures are logged, never propagated;
// alerting must not take the engine down.
func (n *TelegramNotifier) Notify(ctx context.Context, message string) {
	text := fmt.Sprintf("[aether %s]\n%s", time.Now().UTC().Format("15:04:05"), message)
	msg := tgbotapi.NewMessage(n.chatID, text)

	done := make(chan error, 1)
	go func() {
		_, err := n.bot.Send(msg)
		done <- err
	}()

	select {
	case <-ctx.Done():
		n.logger.Warn().Msg("telegram send abandoned on shutdown")
	case err := <-done:
		if err != nil {
			n.logger.Error().Err(err).Msg("telegram send failed")
		}
	}
}
