package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/QuickDatePay/internal/models"
)

// MemoryStore keeps users and payments in process memory. Nothing survives a restart.
type MemoryStore struct {
	txMu     sync.Mutex
	mu       sync.RWMutex
	users    map[string]*models.User
	payments []models.PaymentRecord
	nextID   int64
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]*models.User),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) FindOrCreateUserByEmail(_ context.Context, input UserInput) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == input.Email {
			return cloneUser(u), nil
		}
	}

	now := s.now()
	user := &models.User{
		ID:        uuid.NewString(),
		Name:      input.Name,
		Email:     input.Email,
		Phone:     input.Phone,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.users[user.ID] = user
	return cloneUser(user), nil
}

func (s *MemoryStore) UpdateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; !ok {
		return fmt.Errorf("update user %s: %w", user.ID, ErrUserNotFound)
	}
	user.UpdatedAt = s.now()
	s.users[user.ID] = cloneUser(user)
	return nil
}

func (s *MemoryStore) SettlePendingTxn(_ context.Context, user *models.User, txnID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.users[user.ID]
	if !ok {
		return false, fmt.Errorf("settle user %s: %w", user.ID, ErrUserNotFound)
	}
	if txnID == "" || stored.PendingTxnID != txnID {
		return false, nil
	}
	user.UpdatedAt = s.now()
	s.users[user.ID] = cloneUser(user)
	return true, nil
}

func (s *MemoryStore) AppendPayment(_ context.Context, payment *models.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	payment.ID = s.nextID
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = s.now()
	}
	s.payments = append(s.payments, *payment)
	return nil
}

func (s *MemoryStore) FindUserByPendingTxn(_ context.Context, txnID string) (*models.User, error) {
	if txnID == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.PendingTxnID == txnID {
			return cloneUser(u), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) HasPendingTxn(_ context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.HasPendingTxn() {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) FindPaymentByTxnRef(_ context.Context, via models.Gateway, ref string) (*models.PaymentRecord, error) {
	if ref == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.payments) - 1; i >= 0; i-- {
		if p := s.payments[i]; p.Via == via && p.TxnRef == ref {
			return &p, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) Snapshot(_ context.Context) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, *cloneUser(u))
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})

	payments := make([]models.PaymentRecord, len(s.payments))
	copy(payments, s.payments)
	return Snapshot{Users: users, Payments: payments}, nil
}

// WithinTx serialises fn against other WithinTx callers. Writes made before fn fails
// are not rolled back.
func (s *MemoryStore) WithinTx(_ context.Context, fn func(Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(s)
}

func cloneUser(u *models.User) *models.User {
	c := *u
	if u.ProTime != nil {
		t := *u.ProTime
		c.ProTime = &t
	}
	return &c
}
