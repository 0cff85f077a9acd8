package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema for the shared relational store. Money and quantity columns are
// NUMERIC(20,8); the CHECK constraints back up the checks in the core, and
// tripping one surfaces as an invariant violation, never a business error.
const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	owner_id   BIGINT PRIMARY KEY,
	balance    NUMERIC(20,8) NOT NULL DEFAULT 0 CHECK (balance >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS holdings (
	owner_id      BIGINT NOT NULL,
	symbol        VARCHAR(10) NOT NULL,
	amount        NUMERIC(20,8) NOT NULL DEFAULT 0 CHECK (amount >= 0),
	locked_amount NUMERIC(20,8) NOT NULL DEFAULT 0 CHECK (locked_amount >= 0 AND locked_amount <= amount),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (owner_id, symbol)
);

CREATE TABLE IF NOT EXISTS orders (
	id           BIGSERIAL PRIMARY KEY,
	owner_id     BIGINT NOT NULL,
	symbol       VARCHAR(10) NOT NULL,
	side         TEXT NOT NULL CHECK (side IN ('buy', 'sell')),
	price        NUMERIC(20,8) NOT NULL CHECK (price > 0),
	amount       NUMERIC(20,8) NOT NULL CHECK (amount > 0),
	status       TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'filled', 'cancelled')),
	reserved_usd NUMERIC(20,8) NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_matching ON orders (symbol, side, status, price, created_at);
CREATE INDEX IF NOT EXISTS idx_orders_owner ON orders (owner_id, status);

CREATE TABLE IF NOT EXISTS trades (
	id            BIGSERIAL PRIMARY KEY,
	buy_order_id  BIGINT NOT NULL REFERENCES orders (id),
	sell_order_id BIGINT NOT NULL REFERENCES orders (id),
	symbol        VARCHAR(10) NOT NULL,
	price         NUMERIC(20,8) NOT NULL,
	amount        NUMERIC(20,8) NOT NULL,
	commission    NUMERIC(20,8) NOT NULL,
	buyer_id      BIGINT NOT NULL,
	seller_id     BIGINT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades (symbol, created_at);
CREATE INDEX IF NOT EXISTS idx_trades_buyer ON trades (buyer_id, created_at);
CREATE INDEX IF NOT EXISTS idx_trades_seller ON trades (seller_id, created_at);
`

// Connect opens a pgx pool and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
