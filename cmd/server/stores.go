package main

import (
	"context"
	"database/sql"
	"log/slog"

	"orderflow/cmd/server/config"
	ordersdb "orderflow/internal/db/orders"
	paymentsdb "orderflow/internal/db/payments"
	"orderflow/internal/httpapi"
	"orderflow/internal/orders"
	"orderflow/internal/payments"
)

var openStoreDB = func(driver, dsn string) (*sql.DB, error) {
	return sql.Open(driver, dsn)
}

type storeSet struct {
	orders   orders.Store
	payments payments.Store
	ready    []httpapi.ReadyCheck
	cleanup  func()
}

// buildStores opens Postgres-backed stores when DATABASE_URL is set and
// falls back to in-memory stores otherwise, so the binary runs without any
// infrastructure in development.
func buildStores(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*storeSet, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		return &storeSet{
			orders:   orders.NewInMemoryStore(),
			payments: payments.NewInMemoryStore(),
			cleanup:  func() {},
		}, nil
	}

	db, err := openStoreDB("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	orderStore, err := ordersdb.NewStoreWithSchema(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	paymentStore, err := paymentsdb.NewStoreWithSchema(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &storeSet{
		orders:   orderStore,
		payments: paymentStore,
		ready:    []httpapi.ReadyCheck{db.PingContext},
		cleanup: func() {
			if err := db.Close(); err != nil {
				log.Error("close db", "error", err)
			}
		},
	}, nil
}
