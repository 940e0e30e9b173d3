package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/payplanhq/payplan/internal/storage"
)

// Notifier appends notifications to account feeds and, when a bot token is
// configured and the account has a chat ID, mirrors them to Telegram.
// The feed is append-only from the engine's perspective; reads and the
// read-flag belong to the API layer.
type Notifier struct {
	store *storage.Storage
	bot   *bot.Bot
	log   *slog.Logger
}

// New creates a Notifier. An empty botToken disables Telegram delivery.
func New(store *storage.Storage, botToken string, log *slog.Logger) (*Notifier, error) {
	n := &Notifier{store: store, log: log}

	if botToken == "" {
		log.Info("telegram delivery disabled: BOT_TOKEN not set")
		return n, nil
	}

	tgBot, err := bot.New(botToken)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	n.bot = tgBot
	log.Info("telegram delivery enabled")

	return n, nil
}

// Notify appends one notification and delivers it. Delivery failures are
// logged, never propagated: the feed entry is the source of truth.
func (n *Notifier) Notify(ctx context.Context, accountID int64, typ storage.NotificationType, message string) {
	if _, err := n.store.AddNotification(accountID, typ, message); err != nil {
		n.log.Error("append notification", "account_id", accountID, "error", err)
		return
	}

	if n.bot == nil {
		return
	}

	account, err := n.store.GetAccount(accountID)
	if err != nil || account.TelegramChatID == 0 {
		return
	}

	_, err = n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    account.TelegramChatID,
		Text:      formatMessage(typ, message),
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		n.log.Error("send telegram notification",
			"account_id", accountID,
			"chat_id", account.TelegramChatID,
			"error", err,
		)
	}
}

func formatMessage(typ storage.NotificationType, message string) string {
	switch typ {
	case storage.NotifyIncome:
		return "💰 <b>Income</b>\n\n" + message
	case storage.NotifyPaymentConfirmed:
		return "✅ <b>Payment confirmed</b>\n\n" + message
	case storage.NotifyPaymentReceived:
		return "📥 <b>Payment received</b>\n\n" + message
	case storage.NotifyError:
		return "⚠️ <b>Attention</b>\n\n" + message
	default:
		return message
	}
}
