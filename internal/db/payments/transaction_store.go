package paymentsdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"paylane/internal/events"
	"paylane/internal/payments"
)

// TransactionStore persists payment transactions in Postgres.
type TransactionStore struct {
	db *sql.DB
}

// NewTransactionStore constructs a TransactionStore backed by Postgres.
func NewTransactionStore(db *sql.DB) *TransactionStore {
	return &TransactionStore{db: db}
}

// NewTransactionStoreWithSchema initializes the schema then returns the store.
func NewTransactionStoreWithSchema(ctx context.Context, db *sql.DB) (*TransactionStore, error) {
	store := NewTransactionStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the payment_transactions table if it does not exist.
func (s *TransactionStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS payment_transactions (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			currency TEXT NOT NULL,
			channel TEXT NOT NULL,
			provider_ref TEXT,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_payment_transactions_order
		ON payment_transactions (order_id, created_at)`,
	)
	return err
}

// Create inserts a new transaction row.
func (s *TransactionStore) Create(ctx context.Context, tx payments.Transaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_transactions (id, order_id, amount, currency, channel, provider_ref, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		tx.ID, tx.OrderID, tx.Amount, tx.Currency, tx.Channel, nullable(tx.ProviderRef), tx.Status, tx.CreatedAt, tx.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", tx.ID, err)
	}
	return nil
}

// Update rewrites the mutable columns of an existing transaction.
func (s *TransactionStore) Update(ctx context.Context, tx payments.Transaction) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_transactions
		SET provider_ref = $2, status = $3, updated_at = $4
		WHERE id = $1`,
		tx.ID, nullable(tx.ProviderRef), tx.Status, tx.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update transaction %s: %w", tx.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return payments.ErrTransactionNotFound
	}
	return nil
}

// GetByID returns the transaction with the given id.
func (s *TransactionStore) GetByID(ctx context.Context, id string) (payments.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, order_id, amount, currency, channel, provider_ref, status, created_at, updated_at
		FROM payment_transactions
		WHERE id = $1`,
		id,
	)
	return scanTransaction(row)
}

// LatestByOrderID returns the most recent transaction for the order.
func (s *TransactionStore) LatestByOrderID(ctx context.Context, orderID string) (payments.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, order_id, amount, currency, channel, provider_ref, status, created_at, updated_at
		FROM payment_transactions
		WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT 1`,
		orderID,
	)
	return scanTransaction(row)
}

func scanTransaction(row *sql.Row) (payments.Transaction, error) {
	var tx payments.Transaction
	var providerRef sql.NullString
	var status string
	err := row.Scan(&tx.ID, &tx.OrderID, &tx.Amount, &tx.Currency, &tx.Channel, &providerRef, &status, &tx.CreatedAt, &tx.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return payments.Transaction{}, payments.ErrTransactionNotFound
	}
	if err != nil {
		return payments.Transaction{}, err
	}
	tx.ProviderRef = providerRef.String
	tx.Status = events.Status(status)
	return tx, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
