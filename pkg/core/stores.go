package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store opens atomic units of work. Every mutating sequence (create, cancel,
// settle) runs inside exactly one WithinTx call: all reservations,
// persistence, and settlement steps commit together or not at all.
type Store interface {
	// WithinTx runs fn in one transaction. A nil return commits; any error
	// rolls back every effect and is returned unchanged (store-level lock
	// timeouts and deadlock aborts surface as ErrConcurrencyConflict).
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is one open transaction. The stores it exposes share the transaction's
// locks and visibility.
type Tx interface {
	Ledger() LedgerStore
	Orders() OrderStore
	Trades() TradeStore
}

// LedgerStore owns Account and Holding rows. Only the Lock* calls acquire
// row locks; every mutating primitive requires the caller to already hold the
// corresponding row's exclusive lock within the active transaction. The split
// keeps lock scope visible at the call site.
type LedgerStore interface {
	// LockAccount takes the exclusive row lock on the owner's account,
	// creating a zero-balance row first if none exists.
	LockAccount(ctx context.Context, owner int64) (*Account, error)
	// LockHolding takes the exclusive row lock on the owner's holding for
	// symbol, creating a zero row first if none exists.
	LockHolding(ctx context.Context, owner int64, symbol string) (*Holding, error)

	DebitBalance(ctx context.Context, owner int64, amount decimal.Decimal) error
	CreditBalance(ctx context.Context, owner int64, amount decimal.Decimal) error

	// LockAsset / UnlockAsset move holding quantity in and out of the
	// reserved (locked) portion.
	LockAsset(ctx context.Context, owner int64, symbol string, amount decimal.Decimal) error
	UnlockAsset(ctx context.Context, owner int64, symbol string, amount decimal.Decimal) error

	CreditHolding(ctx context.Context, owner int64, symbol string, amount decimal.Decimal) error
	DebitHolding(ctx context.Context, owner int64, symbol string, amount decimal.Decimal) error

	// Read-only views, outside the integrity-critical path.
	AccountByOwner(ctx context.Context, owner int64) (*Account, error)
	HoldingsByOwner(ctx context.Context, owner int64) ([]Holding, error)
}

// OrderStore owns the Order lifecycle.
type OrderStore interface {
	// Create persists a new order and assigns its id.
	Create(ctx context.Context, o *Order) error
	// LockByID takes the exclusive row lock and returns the order, or
	// (nil, nil) when no such row exists.
	LockByID(ctx context.Context, id int64) (*Order, error)
	// LockBestCounter scans for the best open counter-order for o: opposite
	// side, same symbol, equal amount, price-compatible, best price first
	// with earliest creation as tie-break. The returned candidate is locked
	// exclusively so no concurrent match can select it. Returns (nil, nil)
	// when nothing is eligible.
	LockBestCounter(ctx context.Context, o *Order) (*Order, error)
	// UpdateStatus transitions the (already locked) order to status.
	UpdateStatus(ctx context.Context, id int64, status OrderStatus) error

	OpenBySymbol(ctx context.Context, symbol string) ([]Order, error)
	ByOwner(ctx context.Context, owner int64, symbol string) ([]Order, error)
}

// TradeStore owns Trade creation. Trades are never updated or deleted.
type TradeStore interface {
	Create(ctx context.Context, t *Trade) error
	ByParty(ctx context.Context, owner int64) ([]Trade, error)
	BySymbol(ctx context.Context, symbol string, limit int) ([]Trade, error)
}
