package models

import "time"

// ProTier is the pro membership level. Zero means no membership.
type ProTier int

const (
	ProNone ProTier = iota
	ProWeekly
	ProMonthly
	ProYearly
	ProLifetime
)

func (t ProTier) String() string {
	switch t {
	case ProWeekly:
		return "weekly"
	case ProMonthly:
		return "monthly"
	case ProYearly:
		return "yearly"
	case ProLifetime:
		return "lifetime"
	default:
		return "none"
	}
}

// PaymentKind classifies a ledger entry. Generic purchases (unlocks) carry the
// declared purchase type verbatim.
type PaymentKind string

const (
	KindCredits PaymentKind = "CREDITS"
	KindPro     PaymentKind = "PRO"
)

type Gateway string

const (
	GatewayAamarpay  Gateway = "Aamarpay"
	GatewayAuthorize Gateway = "Authorize"
)

// Purchase types accepted from the mobile client.
const (
	TypeCredit             = "credit"
	TypeGoPro              = "go_pro"
	TypeUnlockPrivatePhoto = "unlock_private_photo"
	TypeLockProVideo       = "lock_pro_video"
)

type User struct {
	ID           string     `json:"id" db:"id"`
	Name         string     `json:"name" db:"name"`
	Email        string     `json:"email" db:"email"`
	Phone        string     `json:"phone" db:"phone"`
	Balance      int        `json:"balance" db:"balance"`
	IsPro        bool       `json:"is_pro" db:"is_pro"`
	ProType      ProTier    `json:"pro_type" db:"pro_type"`
	ProTime      *time.Time `json:"pro_time" db:"pro_time"`
	PendingTxnID string     `json:"aamarpay_tran_id" db:"pending_txn_id"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// HasPendingTxn reports whether an Aamarpay payment is still awaiting confirmation.
func (u *User) HasPendingTxn() bool {
	return u.PendingTxnID != ""
}

type PaymentRecord struct {
	ID           int64       `json:"id" db:"id"`
	UserID       string      `json:"user_id" db:"user_id"`
	Amount       int         `json:"amount" db:"amount"`
	Kind         PaymentKind `json:"type" db:"kind"`
	ProPlan      ProTier     `json:"pro_plan" db:"pro_plan"`
	CreditAmount int         `json:"credit_amount" db:"credit_amount"`
	Via          Gateway     `json:"via" db:"via"`
	TxnRef       string      `json:"txn_ref,omitempty" db:"txn_ref"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
}
