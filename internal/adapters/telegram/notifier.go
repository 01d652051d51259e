// Package telegram implements the Notifier port as a send-only Telegram
// bot. Delivery failures are logged and swallowed; notifications must never
// take the trading loop down.
package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"trailbot/internal/ports"
)

// Notifier sends operator messages to a single Telegram chat.
type Notifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger ports.Logger
}

// Config holds the Telegram notifier configuration.
type Config struct {
	Token  string
	ChatID int64
	Logger ports.Logger
}

// New creates a Notifier. With an empty token it returns a no-op notifier,
// so callers never have to branch on whether Telegram is configured.
func New(cfg Config) (ports.Notifier, error) {
	if cfg.Token == "" {
		if cfg.Logger != nil {
			cfg.Logger.Info(context.Background(), "Telegram token not set; notifications disabled")
		}
		return noopNotifier{}, nil
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, err
	}
	if cfg.Logger != nil {
		cfg.Logger.Info(context.Background(), "Telegram notifier ready", map[string]interface{}{
			"botUser": bot.Self.UserName, "chatID": cfg.ChatID,
		})
	}
	return &Notifier{bot: bot, chatID: cfg.ChatID, logger: cfg.Logger}, nil
}

// Notify sends msg to the configured chat.
func (n *Notifier) Notify(ctx context.Context, msg string) {
	if _, err := n.bot.Send(tgbotapi.NewMessage(n.chatID, msg)); err != nil && n.logger != nil {
		n.logger.Warn(ctx, "Telegram notification failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

type noopNotifier struct{}

func (noopNotifier) Notify(ctx context.Context, msg string) {}
