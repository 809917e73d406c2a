package paymentsdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"paylane/internal/payments"
)

// RefundStore persists refund records in Postgres.
type RefundStore struct {
	db *sql.DB
}

// NewRefundStore constructs a RefundStore backed by Postgres.
func NewRefundStore(db *sql.DB) *RefundStore {
	return &RefundStore{db: db}
}

// NewRefundStoreWithSchema initializes the schema then returns the store.
func NewRefundStoreWithSchema(ctx context.Context, db *sql.DB) (*RefundStore, error) {
	store := NewRefundStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the payment_refunds table if it does not exist.
func (s *RefundStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS payment_refunds (
			id TEXT PRIMARY KEY,
			transaction_id TEXT NOT NULL,
			provider_refund_id TEXT,
			amount DOUBLE PRECISION,
			reason TEXT,
			currency TEXT NOT NULL,
			channel TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_payment_refunds_transaction
		ON payment_refunds (transaction_id, created_at)`,
	)
	return err
}

// Create inserts a new refund row.
func (s *RefundStore) Create(ctx context.Context, r payments.Refund) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_refunds (id, transaction_id, provider_refund_id, amount, reason, currency, channel, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.TransactionID, nullable(r.ProviderRefundID), nullableFloat(r.Amount), nullable(r.Reason), r.Currency, r.Channel, r.Status, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert refund %s: %w", r.ID, err)
	}
	return nil
}

// Update rewrites the mutable columns of an existing refund.
func (s *RefundStore) Update(ctx context.Context, r payments.Refund) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_refunds
		SET provider_refund_id = $2, status = $3, updated_at = $4
		WHERE id = $1`,
		r.ID, nullable(r.ProviderRefundID), r.Status, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update refund %s: %w", r.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return payments.ErrRefundNotFound
	}
	return nil
}

// GetByID returns the refund with the given id.
func (s *RefundStore) GetByID(ctx context.Context, id string) (payments.Refund, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, transaction_id, provider_refund_id, amount, reason, currency, channel, status, created_at, updated_at
		FROM payment_refunds
		WHERE id = $1`,
		id,
	)
	return scanRefund(row)
}

// LatestByTransactionID returns the most recent refund for the transaction.
func (s *RefundStore) LatestByTransactionID(ctx context.Context, transactionID string) (payments.Refund, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, transaction_id, provider_refund_id, amount, reason, currency, channel, status, created_at, updated_at
		FROM payment_refunds
		WHERE transaction_id = $1
		ORDER BY created_at DESC
		LIMIT 1`,
		transactionID,
	)
	return scanRefund(row)
}

func scanRefund(row *sql.Row) (payments.Refund, error) {
	var r payments.Refund
	var providerRefundID, reason sql.NullString
	var amount sql.NullFloat64
	var status string
	err := row.Scan(&r.ID, &r.TransactionID, &providerRefundID, &amount, &reason, &r.Currency, &r.Channel, &status, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return payments.Refund{}, payments.ErrRefundNotFound
	}
	if err != nil {
		return payments.Refund{}, err
	}
	r.ProviderRefundID = providerRefundID.String
	r.Reason = reason.String
	if amount.Valid {
		v := amount.Float64
		r.Amount = &v
	}
	r.Status = payments.RefundStatus(status)
	return r, nil
}

func nullableFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
