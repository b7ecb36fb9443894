package repository

import (
	"context"
	"errors"

	"github.com/digkill/QuickDatePay/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserInput carries the identity fields used when a purchase creates a user.
type UserInput struct {
	Name  string
	Email string
	Phone string
}

// Snapshot is a full dump of the store for the debug endpoint.
type Snapshot struct {
	Users    []models.User          `json:"users"`
	Payments []models.PaymentRecord `json:"payments"`
}

// Store is the persistence boundary for users and the payment ledger. Users returned by
// any method are copies; write changes back with UpdateUser.
type Store interface {
	FindOrCreateUserByEmail(ctx context.Context, input UserInput) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	// SettlePendingTxn writes user back only while the stored row still holds txnID. It
	// reports false, writing nothing, when the reference was settled by someone else first.
	SettlePendingTxn(ctx context.Context, user *models.User, txnID string) (bool, error)
	AppendPayment(ctx context.Context, payment *models.PaymentRecord) error
	// FindUserByPendingTxn returns nil, nil when no user holds txnID.
	FindUserByPendingTxn(ctx context.Context, txnID string) (*models.User, error)
	HasPendingTxn(ctx context.Context) (bool, error)
	// FindPaymentByTxnRef returns nil, nil when no ledger entry carries ref.
	FindPaymentByTxnRef(ctx context.Context, via models.Gateway, ref string) (*models.PaymentRecord, error)
	Snapshot(ctx context.Context) (Snapshot, error)
	// WithinTx runs fn atomically with respect to other WithinTx calls. fn must use the
	// Store it is given.
	WithinTx(ctx context.Context, fn func(Store) error) error
}
