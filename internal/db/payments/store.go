// Package paymentsdb persists the payment aggregate in Postgres. The UNIQUE
// constraint on idempotency_key is the load-bearing piece: Insert relies on
// ON CONFLICT DO NOTHING plus RowsAffected to detect a lost race without a
// transaction.
package paymentsdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"orderflow/internal/events"
	"orderflow/internal/fault"
	"orderflow/internal/payments"
)

// Store implements payments.Store on database/sql.
type Store struct {
	db *sql.DB
}

// NewStore constructs a Store backed by Postgres.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// NewStoreWithSchema initializes the schema then returns the store.
func NewStoreWithSchema(ctx context.Context, db *sql.DB) (*Store, error) {
	store := NewStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the payments table if it does not exist.
func (s *Store) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS payments (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			idempotency_key TEXT UNIQUE NOT NULL,
			user_id TEXT,
			amount DOUBLE PRECISION NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			method TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_order_id ON payments(order_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

// FindByIdempotencyKey reports whether a payment already holds the key.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (payments.Payment, bool, error) {
	row := s.db.QueryRowContext(ctx, selectPayments+` WHERE idempotency_key = $1`, key)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return payments.Payment{}, false, nil
		}
		return payments.Payment{}, false, err
	}
	return p, true, nil
}

// Insert persists the payment, returning payments.ErrDuplicateKey when the
// idempotency key is already taken.
func (s *Store) Insert(ctx context.Context, p payments.Payment) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (id, order_id, idempotency_key, user_id, amount, currency, status, method, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		p.ID, p.OrderID, p.IdempotencyKey, string(p.UserID), p.Amount, p.Currency, string(p.Status), p.Method, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return payments.ErrDuplicateKey
	}
	return nil
}

// Get returns the payment or an error wrapping fault.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (payments.Payment, error) {
	row := s.db.QueryRowContext(ctx, selectPayments+` WHERE id = $1`, id)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return payments.Payment{}, fault.NotFoundf("payment %s", id)
		}
		return payments.Payment{}, err
	}
	return p, nil
}

// List returns payments matching the filter, newest first.
func (s *Store) List(ctx context.Context, f payments.ListFilter) ([]payments.Payment, error) {
	query := selectPayments
	var args []any

	if f.OrderID != "" {
		args = append(args, f.OrderID)
		query += fmt.Sprintf(" WHERE order_id = $%d", len(args))
	}

	args = append(args, f.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, f.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []payments.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const selectPayments = `
	SELECT id, order_id, idempotency_key, user_id, amount, currency, status, method, created_at, updated_at
	FROM payments`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (payments.Payment, error) {
	var p payments.Payment
	var userID string
	var status string
	if err := row.Scan(&p.ID, &p.OrderID, &p.IdempotencyKey, &userID, &p.Amount, &p.Currency, &status, &p.Method, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return payments.Payment{}, err
	}
	p.UserID = events.UserID(userID)
	p.Status = payments.Status(status)
	return p, nil
}
