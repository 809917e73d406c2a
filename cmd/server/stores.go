package main

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	ordersdb "paylane/internal/db/orders"
	paymentsdb "paylane/internal/db/payments"
	"paylane/internal/orders"
	"paylane/internal/payments"
)

// buildStores returns Postgres-backed stores when DATABASE_URL is set and
// reachable, falling back to in-memory stores otherwise. The fallback keeps
// local development working without a database at the cost of durability.
func buildStores(ctx context.Context, dsn string, logf func(format string, args ...any)) (payments.TransactionStore, payments.RefundStore, orders.Store, func(), error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		logf("DATABASE_URL not set, using in-memory stores")
		return payments.NewInMemoryTransactionStore(), payments.NewInMemoryRefundStore(), orders.NewInMemoryStore(), func() {}, nil
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		logf("database unreachable (%v), using in-memory stores", err)
		return payments.NewInMemoryTransactionStore(), payments.NewInMemoryRefundStore(), orders.NewInMemoryStore(), func() {}, nil
	}

	txStore, err := paymentsdb.NewTransactionStoreWithSchema(ctx, db)
	if err != nil {
		db.Close()
		return nil, nil, nil, nil, err
	}
	refundStore, err := paymentsdb.NewRefundStoreWithSchema(ctx, db)
	if err != nil {
		db.Close()
		return nil, nil, nil, nil, err
	}
	orderStore, err := ordersdb.NewOrderStoreWithSchema(ctx, db)
	if err != nil {
		db.Close()
		return nil, nil, nil, nil, err
	}

	cleanup := func() { _ = db.Close() }
	return txStore, refundStore, orderStore, cleanup, nil
}
