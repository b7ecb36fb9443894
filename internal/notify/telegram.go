package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/QuickDatePay/internal/models"
)

// Sender is the part of tgbotapi.BotAPI used for notifications.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts a short message to an operator chat for every applied purchase.
type Telegram struct {
	bot    Sender
	chatID int64
}

func NewTelegram(bot Sender, chatID int64) *Telegram {
	return &Telegram{bot: bot, chatID: chatID}
}

func (t *Telegram) PurchaseApplied(_ context.Context, user models.User, record models.PaymentRecord) error {
	msg := tgbotapi.NewMessage(t.chatID, purchaseText(user, record))
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("send purchase notification: %w", err)
	}
	return nil
}

func purchaseText(user models.User, record models.PaymentRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New %s payment via %s\n", record.Kind, record.Via)
	fmt.Fprintf(&b, "User: %s <%s>\n", user.Name, user.Email)
	fmt.Fprintf(&b, "Amount: %d\n", record.Amount)
	switch record.Kind {
	case models.KindCredits:
		fmt.Fprintf(&b, "Credits: +%d (balance %d)\n", record.CreditAmount, user.Balance)
	case models.KindPro:
		fmt.Fprintf(&b, "Plan: %s\n", record.ProPlan)
	}
	if record.TxnRef != "" {
		fmt.Fprintf(&b, "Ref: %s\n", record.TxnRef)
	}
	return strings.TrimRight(b.String(), "\n")
}
