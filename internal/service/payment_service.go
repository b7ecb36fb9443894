package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/digkill/QuickDatePay/internal/config"
	"github.com/digkill/QuickDatePay/internal/gateway/aamarpay"
	"github.com/digkill/QuickDatePay/internal/gateway/authorizenet"
	"github.com/digkill/QuickDatePay/internal/models"
	"github.com/digkill/QuickDatePay/internal/pricing"
	"github.com/digkill/QuickDatePay/internal/repository"
)

const (
	aamarpayStatusSuccessful = "Successful"

	successURL    = "https://example.com/ProSuccess"
	proSuccessURL = "https://example.com/ProSuccess?paymode=pro"

	demoName  = "Demo User"
	demoEmail = "demo@example.com"
	demoPhone = "0000000000"
)

// Charger submits tokenized charges to Authorize.Net.
type Charger interface {
	Charge(ctx context.Context, req authorizenet.ChargeRequest) (*authorizenet.ChargeResult, error)
}

// PurchaseListener is told about every purchase applied to a user. Errors are logged and
// never undo the purchase.
type PurchaseListener interface {
	PurchaseApplied(ctx context.Context, user models.User, record models.PaymentRecord) error
}

type PaymentService struct {
	cfg       config.Config
	log       *slog.Logger
	store     repository.Store
	prices    *pricing.Table
	aamarpay  *aamarpay.Client
	authorize Charger
	listeners []PurchaseListener
	now       func() time.Time
}

func NewPaymentService(cfg config.Config, log *slog.Logger, store repository.Store, prices *pricing.Table, aamarpayClient *aamarpay.Client, authorize Charger, listeners ...PurchaseListener) *PaymentService {
	return &PaymentService{
		cfg:       cfg,
		log:       log,
		store:     store,
		prices:    prices,
		aamarpay:  aamarpayClient,
		authorize: authorize,
		listeners: listeners,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type AamarpayRequest struct {
	Type  string
	Price string
	Name  string
	Email string
	Phone string
}

type AamarpayCallback struct {
	Type      string
	Amount    string
	MerTxnID  string
	PayStatus string
}

type AuthorizeRequest struct {
	Type           string
	Price          string
	Name           string
	Email          string
	Phone          string
	DataDescriptor string
	DataValue      string
}

// ChargeResult is returned to the client after a successful Authorize.Net payment.
// CreditAmount is the user's balance after a credit purchase.
type ChargeResult struct {
	Message      string
	URL          string
	CreditAmount *int
}

// AuthorizeClientConfig is what the client-side tokenization widget needs.
type AuthorizeClientConfig struct {
	APILoginID string
	ClientKey  string
	Mode       string
}

// IssueAamarpay records a pending transaction reference on the buyer and returns the
// hosted checkout URL for it.
func (s *PaymentService) IssueAamarpay(ctx context.Context, req AamarpayRequest) (string, error) {
	const missing = "missing_fields"
	if req.Type == "" || req.Name == "" || req.Email == "" || req.Phone == "" {
		return "", reject(ErrMissingFields, missing)
	}
	if !isAamarpayType(req.Type) {
		return "", reject(ErrInvalidType, missing)
	}
	price, err := pricing.ParsePrice(req.Price)
	if err != nil {
		return "", reject(ErrMissingFields, missing)
	}
	if _, err := s.resolve(req.Type, price); err != nil {
		return "", err
	}

	txnID := s.aamarpay.NewTxnID()
	var userID string
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		user, err := tx.FindOrCreateUserByEmail(ctx, repository.UserInput{Name: req.Name, Email: req.Email, Phone: req.Phone})
		if err != nil {
			return err
		}
		user.PendingTxnID = txnID
		userID = user.ID
		return tx.UpdateUser(ctx, user)
	})
	if err != nil {
		return "", internal("internal_error", fmt.Errorf("store pending txn: %w", err))
	}

	s.log.Info("aamarpay checkout issued", "user", userID, "txn", txnID, "type", req.Type, "amount", price, "store", s.aamarpay.StoreID())
	return s.aamarpay.RedirectURL(txnID, req.Type, price), nil
}

type confirmOutcome int

const (
	confirmApplied confirmOutcome = iota
	confirmReplayed
	confirmUnmatched
)

// ConfirmAamarpay settles the pending transaction named by the callback.
//
// A callback whose reference matches no pending transaction is accepted without changes
// as long as some other transaction is still pending. Such a callback may be a replay or
// a forgery; the two cannot be told apart here, so it is logged at warn level.
func (s *PaymentService) ConfirmAamarpay(ctx context.Context, cb AamarpayCallback) error {
	if cb.Type == "" || !isAamarpayType(cb.Type) || cb.Amount == "" || cb.MerTxnID == "" || cb.PayStatus != aamarpayStatusSuccessful {
		return reject(ErrMissingFields, "missing_fields_or_invalid_status")
	}

	var (
		outcome confirmOutcome
		applied models.User
		record  models.PaymentRecord
	)
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		user, err := tx.FindUserByPendingTxn(ctx, cb.MerTxnID)
		if err != nil {
			return internal("internal_error", err)
		}
		if user == nil {
			settled, err := tx.FindPaymentByTxnRef(ctx, models.GatewayAamarpay, cb.MerTxnID)
			if err != nil {
				return internal("internal_error", err)
			}
			if settled != nil {
				outcome = confirmReplayed
				return nil
			}
			pending, err := tx.HasPendingTxn(ctx)
			if err != nil {
				return internal("internal_error", err)
			}
			if !pending {
				return reject(ErrPendingNotFound, "No pending payment found")
			}
			outcome = confirmUnmatched
			return nil
		}

		price, err := pricing.ParsePrice(cb.Amount)
		if err != nil {
			return reject(ErrInvalidAmount, "Please enter the correct amount")
		}
		entry, err := s.prices.Resolve(cb.Type, price)
		if err != nil {
			return reject(ErrInvalidAmount, "Please enter the correct amount")
		}

		user.PendingTxnID = ""
		rec, err := s.apply(ctx, tx, user, cb.Type, price, &entry, models.GatewayAamarpay, cb.MerTxnID, cb.MerTxnID)
		if errors.Is(err, errAlreadySettled) {
			outcome = confirmReplayed
			return nil
		}
		if err != nil {
			return err
		}
		outcome, applied, record = confirmApplied, *user, rec
		return nil
	})
	if err != nil {
		var reqErr *RequestError
		if errors.As(err, &reqErr) {
			return err
		}
		return internal("internal_error", err)
	}

	switch outcome {
	case confirmApplied:
		s.log.Info("aamarpay payment confirmed", "user", applied.ID, "txn", cb.MerTxnID, "amount", record.Amount, "kind", record.Kind)
		s.notify(ctx, applied, record)
	case confirmReplayed:
		s.log.Info("aamarpay callback replayed for settled txn", "txn", cb.MerTxnID)
	case confirmUnmatched:
		s.log.Warn("aamarpay callback for unknown txn accepted without changes", "txn", cb.MerTxnID, "amount", cb.Amount)
	}
	return nil
}

// AuthorizeConfig exposes the public half of the Authorize.Net credentials.
func (s *PaymentService) AuthorizeConfig() (AuthorizeClientConfig, error) {
	a := s.cfg.Authorize
	if a.LoginID == "" || a.ClientKey == "" {
		return AuthorizeClientConfig{}, reject(ErrNotConfigured, "Authorize.Net not configured on server")
	}
	return AuthorizeClientConfig{APILoginID: a.LoginID, ClientKey: a.ClientKey, Mode: a.Mode}, nil
}

// ChargeAuthorize charges tokenized payment data and applies the purchase on approval.
// Without server credentials the charge is simulated as approved.
func (s *PaymentService) ChargeAuthorize(ctx context.Context, req AuthorizeRequest) (*ChargeResult, error) {
	const invalid = "please check your details or provide tokenized payment data"
	if !isAuthorizeType(req.Type) || req.DataDescriptor == "" || req.DataValue == "" {
		return nil, reject(ErrMissingFields, invalid)
	}
	price, err := pricing.ParsePrice(req.Price)
	if err != nil {
		return nil, reject(ErrMissingFields, invalid)
	}

	var entry *pricing.Entry
	if req.Type == models.TypeCredit || req.Type == models.TypeGoPro {
		e, err := s.resolve(req.Type, price)
		if err != nil {
			return nil, err
		}
		entry = &e
	}

	input := repository.UserInput{
		Name:  orDefault(req.Name, demoName),
		Email: orDefault(req.Email, demoEmail),
		Phone: orDefault(req.Phone, demoPhone),
	}

	// A submitted charge may be captured after the caller has gone away, so the charge and
	// the purchase it pays for outlive the request. The gateway client bounds the charge.
	ctx = context.WithoutCancel(ctx)

	var txnRef string
	if s.authorize == nil || !s.cfg.Authorize.HasCredentials() {
		s.log.Info("authorize.net credentials not configured, simulating approval", "type", req.Type, "amount", price)
	} else {
		result, err := s.authorize.Charge(ctx, authorizenet.ChargeRequest{
			Amount:         price,
			DataDescriptor: req.DataDescriptor,
			DataValue:      req.DataValue,
		})
		if err != nil {
			return nil, s.chargeError(err)
		}
		txnRef = result.TransID
	}

	var (
		user   models.User
		record models.PaymentRecord
	)
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		u, err := tx.FindOrCreateUserByEmail(ctx, input)
		if err != nil {
			return err
		}
		rec, err := s.apply(ctx, tx, u, req.Type, price, entry, models.GatewayAuthorize, txnRef, "")
		if err != nil {
			return err
		}
		user, record = *u, rec
		return nil
	})
	if err != nil {
		s.log.Error("apply authorize.net purchase", "txn", txnRef, "err", err)
		return nil, internal("internal_error", err)
	}

	s.log.Info("authorize.net payment applied", "user", user.ID, "txn", txnRef, "amount", price, "kind", record.Kind)
	s.notify(ctx, user, record)

	result := &ChargeResult{Message: "payment Success", URL: successURL}
	switch req.Type {
	case models.TypeCredit:
		balance := user.Balance
		result.CreditAmount = &balance
	case models.TypeGoPro:
		result.URL = proSuccessURL
	}
	return result, nil
}

// Snapshot dumps the store for the debug endpoint.
func (s *PaymentService) Snapshot(ctx context.Context) (repository.Snapshot, error) {
	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		return repository.Snapshot{}, fmt.Errorf("snapshot store: %w", err)
	}
	return snap, nil
}

// apply grants the purchase to user, persists it and appends exactly one ledger entry.
// entry is nil for purchase types outside the catalog. With a non-empty pendingRef, the user is
// written only if it still holds that pending reference, and errAlreadySettled is returned
// otherwise.
func (s *PaymentService) apply(ctx context.Context, tx repository.Store, user *models.User, purchaseType string, price int, entry *pricing.Entry, via models.Gateway, ref, pendingRef string) (models.PaymentRecord, error) {
	now := s.now()
	record := models.PaymentRecord{
		UserID:    user.ID,
		Amount:    price,
		Kind:      models.PaymentKind(purchaseType),
		Via:       via,
		TxnRef:    ref,
		CreatedAt: now,
	}

	if entry != nil {
		record.Kind = entry.Kind
		switch entry.Kind {
		case models.KindCredits:
			user.Balance += entry.Credits
			record.CreditAmount = entry.Credits
		case models.KindPro:
			user.IsPro = true
			user.ProType = entry.Tier
			user.ProTime = &now
			record.ProPlan = entry.Tier
		}
	}

	if pendingRef != "" {
		ok, err := tx.SettlePendingTxn(ctx, user, pendingRef)
		if err != nil {
			return models.PaymentRecord{}, internal("internal_error", err)
		}
		if !ok {
			return models.PaymentRecord{}, errAlreadySettled
		}
	} else if err := tx.UpdateUser(ctx, user); err != nil {
		return models.PaymentRecord{}, internal("internal_error", err)
	}
	if err := tx.AppendPayment(ctx, &record); err != nil {
		return models.PaymentRecord{}, internal("internal_error", err)
	}
	return record, nil
}

func (s *PaymentService) resolve(purchaseType string, price int) (pricing.Entry, error) {
	entry, err := s.prices.Resolve(purchaseType, price)
	if err == nil {
		return entry, nil
	}
	if errors.Is(err, pricing.ErrInvalidType) {
		return pricing.Entry{}, reject(ErrInvalidType, "missing_fields")
	}
	if purchaseType == models.TypeGoPro {
		return pricing.Entry{}, reject(ErrInvalidAmount, "Please enter the correct amount for pro plan")
	}
	return pricing.Entry{}, reject(ErrInvalidAmount, "Please enter the correct amount for credit pack")
}

func (s *PaymentService) chargeError(err error) error {
	var declined *authorizenet.DeclinedError
	switch {
	case errors.As(err, &declined):
		s.log.Warn("authorize.net charge declined", "reason", declined.Text)
		return reject(ErrGatewayDeclined, declined.Text)
	case errors.Is(err, authorizenet.ErrEmptyResponse):
		s.log.Error("authorize.net empty response", "err", err)
		return internal("unknown_error", err)
	default:
		s.log.Error("authorize.net charge failed", "err", err)
		return internal("internal_error", err)
	}
}

func (s *PaymentService) notify(ctx context.Context, user models.User, record models.PaymentRecord) {
	for _, l := range s.listeners {
		if err := l.PurchaseApplied(ctx, user, record); err != nil {
			s.log.Error("purchase listener failed", "user", user.ID, "payment", record.ID, "err", err)
		}
	}
}

func isAamarpayType(t string) bool {
	return t == models.TypeCredit || t == models.TypeGoPro
}

func isAuthorizeType(t string) bool {
	switch t {
	case models.TypeCredit, models.TypeGoPro, models.TypeUnlockPrivatePhoto, models.TypeLockProVideo:
		return true
	}
	return false
}

func orDefault(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}
