package notify

import (
	"context"
	"log/slog"

	"github.com/digkill/QuickDatePay/internal/models"
)

// Log records affiliate revenue for every applied purchase. There is no affiliate
// backend in this service, so the registration is the log line itself.
type Log struct {
	log *slog.Logger
}

func NewLog(log *slog.Logger) *Log {
	return &Log{log: log}
}

func (l *Log) PurchaseApplied(_ context.Context, user models.User, record models.PaymentRecord) error {
	l.log.Info("affiliate revenue registered", "user", user.ID, "amount", record.Amount, "kind", record.Kind, "via", record.Via)
	return nil
}
