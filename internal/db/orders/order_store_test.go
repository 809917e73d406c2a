package ordersdb

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"paylane/internal/orders"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			t.Fatalf("close db: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unmet expectations: %v", err)
		}
	}

	return db, mock, cleanup
}

func sampleOrder() orders.Order {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return orders.Order{
		ID:         "order-1",
		Number:     "ORD-ABCD1234",
		MerchantID: "m-1",
		Amount:     100.0,
		Currency:   "USD",
		Status:     orders.StatusNew,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestOrderStore_InitSchema(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS orders").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	store := NewOrderStore(db)
	if err := store.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
}

func TestOrderStore_Create(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	o := sampleOrder()
	mock.ExpectExec("INSERT INTO orders").
		WithArgs(o.ID, o.Number, o.MerchantID, o.Amount, o.Currency, string(o.Status), o.CreatedAt, o.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	store := NewOrderStore(db)
	if err := store.Create(context.Background(), o); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestOrderStore_Update_NotFound(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	o := sampleOrder()
	mock.ExpectExec("UPDATE orders").
		WithArgs(o.ID, string(o.Status), o.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	store := NewOrderStore(db)
	if err := store.Update(context.Background(), o); !errors.Is(err, orders.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderStore_GetByID(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	o := sampleOrder()
	rows := sqlmock.NewRows([]string{"id", "order_number", "merchant_id", "amount", "currency", "status", "created_at", "updated_at"}).
		AddRow(o.ID, o.Number, o.MerchantID, o.Amount, o.Currency, string(o.Status), o.CreatedAt, o.UpdatedAt)
	mock.ExpectQuery("SELECT id, order_number, merchant_id, amount, currency, status").
		WithArgs(o.ID).
		WillReturnRows(rows)
	mock.ExpectClose()

	store := NewOrderStore(db)
	got, err := store.GetByID(context.Background(), o.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Number != o.Number || got.Status != orders.StatusNew {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestOrderStore_GetByNumber_NotFound(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectQuery("SELECT id, order_number, merchant_id, amount, currency, status").
		WithArgs("ORD-MISSING1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectClose()

	store := NewOrderStore(db)
	if _, err := store.GetByNumber(context.Background(), "ORD-MISSING1"); !errors.Is(err, orders.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
