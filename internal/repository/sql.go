package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/digkill/QuickDatePay/internal/models"
)

const (
	driverMySQL = "mysql"

	mysqlDuplicateEntry = 1062

	userColumns    = `id, name, email, phone, balance, is_pro, pro_type, pro_time, pending_txn_id, created_at, updated_at`
	paymentColumns = `id, user_id, amount, kind, pro_plan, credit_amount, via, txn_ref, created_at`
)

// SQLStore persists users and payments through sqlx. The queries stick to the subset of
// SQL shared by MySQL and SQLite.
type SQLStore struct {
	db  *sqlx.DB
	ext sqlx.ExtContext
}

func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db, ext: db}
}

func (s *SQLStore) FindOrCreateUserByEmail(ctx context.Context, input UserInput) (*models.User, error) {
	user, err := s.userByEmail(ctx, input.Email)
	if err != nil {
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	if user != nil {
		return user, nil
	}

	now := time.Now().UTC()
	created := &models.User{
		ID:        uuid.NewString(),
		Name:      input.Name,
		Email:     input.Email,
		Phone:     input.Phone,
		CreatedAt: now,
		UpdatedAt: now,
	}
	const query = `
INSERT INTO users (id, name, email, phone, balance, is_pro, pro_type, pro_time, pending_txn_id, created_at, updated_at)
VALUES (?, ?, ?, ?, 0, ?, 0, NULL, '', ?, ?)`
	if _, err := s.ext.ExecContext(ctx, query, created.ID, created.Name, created.Email, created.Phone, false, created.CreatedAt, created.UpdatedAt); err != nil {
		if !isDuplicateKey(err) {
			return nil, fmt.Errorf("insert user: %w", err)
		}
		// A concurrent first purchase created the user between our read and insert.
		existing, findErr := s.userByEmail(ctx, input.Email)
		if findErr != nil {
			return nil, fmt.Errorf("find user after duplicate insert: %w", findErr)
		}
		if existing == nil {
			return nil, fmt.Errorf("insert user: %w", err)
		}
		return existing, nil
	}
	return created, nil
}

func (s *SQLStore) userByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = ? LIMIT 1`+s.lockClause(), email)
}

func (s *SQLStore) UpdateUser(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now().UTC()
	const query = `
UPDATE users SET name = ?, phone = ?, balance = ?, is_pro = ?, pro_type = ?, pro_time = ?, pending_txn_id = ?, updated_at = ?
WHERE id = ?`
	res, err := s.ext.ExecContext(ctx, query, user.Name, user.Phone, user.Balance, user.IsPro, int(user.ProType), user.ProTime, user.PendingTxnID, user.UpdatedAt, user.ID)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("user rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update user %s: %w", user.ID, ErrUserNotFound)
	}
	return nil
}

func (s *SQLStore) SettlePendingTxn(ctx context.Context, user *models.User, txnID string) (bool, error) {
	if txnID == "" {
		return false, nil
	}
	user.UpdatedAt = time.Now().UTC()
	const query = `
UPDATE users SET name = ?, phone = ?, balance = ?, is_pro = ?, pro_type = ?, pro_time = ?, pending_txn_id = ?, updated_at = ?
WHERE id = ? AND pending_txn_id = ?`
	res, err := s.ext.ExecContext(ctx, query, user.Name, user.Phone, user.Balance, user.IsPro, int(user.ProType), user.ProTime, user.PendingTxnID, user.UpdatedAt, user.ID, txnID)
	if err != nil {
		return false, fmt.Errorf("settle pending txn: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("settle rows affected: %w", err)
	}
	return affected == 1, nil
}

func (s *SQLStore) AppendPayment(ctx context.Context, payment *models.PaymentRecord) error {
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	const query = `
INSERT INTO payments (user_id, amount, kind, pro_plan, credit_amount, via, txn_ref, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.ext.ExecContext(ctx, query, payment.UserID, payment.Amount, string(payment.Kind), int(payment.ProPlan), payment.CreditAmount, string(payment.Via), payment.TxnRef, payment.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	payment.ID = id
	return nil
}

func (s *SQLStore) FindUserByPendingTxn(ctx context.Context, txnID string) (*models.User, error) {
	if txnID == "" {
		return nil, nil
	}
	user, err := s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE pending_txn_id = ? LIMIT 1`+s.lockClause(), txnID)
	if err != nil {
		return nil, fmt.Errorf("find user by pending txn: %w", err)
	}
	return user, nil
}

func (s *SQLStore) HasPendingTxn(ctx context.Context) (bool, error) {
	var count int
	if err := sqlx.GetContext(ctx, s.ext, &count, `SELECT COUNT(*) FROM users WHERE pending_txn_id <> ''`); err != nil {
		return false, fmt.Errorf("count pending txns: %w", err)
	}
	return count > 0, nil
}

func (s *SQLStore) FindPaymentByTxnRef(ctx context.Context, via models.Gateway, ref string) (*models.PaymentRecord, error) {
	if ref == "" {
		return nil, nil
	}
	var p models.PaymentRecord
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE via = ? AND txn_ref = ? ORDER BY id DESC LIMIT 1`
	if err := sqlx.GetContext(ctx, s.ext, &p, query, string(via), ref); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find payment by txn ref: %w", err)
	}
	return &p, nil
}

func (s *SQLStore) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{
		Users:    []models.User{},
		Payments: []models.PaymentRecord{},
	}
	if err := sqlx.SelectContext(ctx, s.ext, &snap.Users, `SELECT `+userColumns+` FROM users ORDER BY created_at ASC, id ASC`); err != nil {
		return Snapshot{}, fmt.Errorf("list users: %w", err)
	}
	if err := sqlx.SelectContext(ctx, s.ext, &snap.Payments, `SELECT `+paymentColumns+` FROM payments ORDER BY id ASC`); err != nil {
		return Snapshot{}, fmt.Errorf("list payments: %w", err)
	}
	return snap, nil
}

func (s *SQLStore) WithinTx(ctx context.Context, fn func(Store) error) error {
	if _, inTx := s.ext.(*sqlx.Tx); inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&SQLStore{db: s.db, ext: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLStore) getUser(ctx context.Context, query string, args ...any) (*models.User, error) {
	var u models.User
	if err := sqlx.GetContext(ctx, s.ext, &u, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// lockClause makes user reads inside a MySQL transaction lock the row until commit, so a
// concurrent transaction cannot act on a balance this one is about to change. SQLite runs
// on a single connection and needs no row locks.
func (s *SQLStore) lockClause() string {
	if _, inTx := s.ext.(*sqlx.Tx); inTx && s.db.DriverName() == driverMySQL {
		return " FOR UPDATE"
	}
	return ""
}

func isDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
