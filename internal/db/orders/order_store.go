package ordersdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"paylane/internal/orders"
)

// OrderStore persists orders in Postgres.
type OrderStore struct {
	db *sql.DB
}

// NewOrderStore constructs an OrderStore backed by Postgres.
func NewOrderStore(db *sql.DB) *OrderStore {
	return &OrderStore{db: db}
}

// NewOrderStoreWithSchema initializes the schema then returns the store.
func NewOrderStoreWithSchema(ctx context.Context, db *sql.DB) (*OrderStore, error) {
	store := NewOrderStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the orders table if it does not exist.
func (s *OrderStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			order_number TEXT UNIQUE NOT NULL,
			merchant_id TEXT,
			amount DOUBLE PRECISION NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	)
	return err
}

// Create inserts a new order row.
func (s *OrderStore) Create(ctx context.Context, o orders.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, order_number, merchant_id, amount, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.ID, o.Number, o.MerchantID, o.Amount, o.Currency, o.Status, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.ID, err)
	}
	return nil
}

// Update rewrites the mutable columns of an existing order.
func (s *OrderStore) Update(ctx context.Context, o orders.Order) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, updated_at = $3
		WHERE id = $1`,
		o.ID, o.Status, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update order %s: %w", o.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return orders.ErrOrderNotFound
	}
	return nil
}

// GetByID returns the order with the given id.
func (s *OrderStore) GetByID(ctx context.Context, id string) (orders.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, order_number, merchant_id, amount, currency, status, created_at, updated_at
		FROM orders
		WHERE id = $1`,
		id,
	)
	return scanOrder(row)
}

// GetByNumber returns the order with the given human-facing number.
func (s *OrderStore) GetByNumber(ctx context.Context, number string) (orders.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, order_number, merchant_id, amount, currency, status, created_at, updated_at
		FROM orders
		WHERE order_number = $1`,
		number,
	)
	return scanOrder(row)
}

func scanOrder(row *sql.Row) (orders.Order, error) {
	var o orders.Order
	var merchantID sql.NullString
	err := row.Scan(&o.ID, &o.Number, &merchantID, &o.Amount, &o.Currency, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	if err != nil {
		return orders.Order{}, err
	}
	o.MerchantID = merchantID.String
	return o, nil
}
