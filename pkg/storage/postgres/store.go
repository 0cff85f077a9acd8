// Package postgres implements the core store interfaces on PostgreSQL via
// pgx. Row locks are explicit SELECT ... FOR UPDATE reads; every unit of work
// is one transaction with a bounded lock wait, and lock-wait timeouts,
// deadlock aborts, and serialization failures all surface as the retryable
// ConcurrencyConflict error kind.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/openspot/openspot/pkg/core"
)

// PostgreSQL error codes translated to core error kinds.
const (
	codeLockNotAvailable     = "55P03"
	codeDeadlockDetected     = "40P01"
	codeSerializationFailure = "40001"
	codeCheckViolation       = "23514"
)

const defaultLockTimeout = 3 * time.Second

// Store is a PostgreSQL-backed core.Store.
type Store struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
	log         *zap.SugaredLogger
}

type Option func(*Store)

// WithLockTimeout bounds how long a transaction blocks on a row lock before
// failing with ConcurrencyConflict.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

func NewStore(pool *pgxpool.Pool, log *zap.SugaredLogger, opts ...Option) *Store {
	s := &Store{pool: pool, lockTimeout: defaultLockTimeout, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithinTx runs fn in one database transaction, committing on nil error and
// rolling back otherwise.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx core.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("set lock_timeout: %w", err)
	}

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return s.translate(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return s.translate(fmt.Errorf("commit: %w", err))
	}
	committed = true
	return nil
}

// translate maps driver-level failures onto the core taxonomy. Domain errors
// raised inside the transaction pass through untouched.
func (s *Store) translate(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeLockNotAvailable, codeDeadlockDetected, codeSerializationFailure:
		return fmt.Errorf("%w: %s", core.ErrConcurrencyConflict, pgErr.Message)
	case codeCheckViolation:
		// A constraint tripped despite the defensive checks upstream.
		s.log.Errorw("check_constraint_violation", "constraint", pgErr.ConstraintName, "err", pgErr.Message)
		return fmt.Errorf("%w: constraint %s", core.ErrInvariantViolation, pgErr.ConstraintName)
	}
	return err
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Ledger() core.LedgerStore { return &ledgerStore{tx: t.tx} }
func (t *pgTx) Orders() core.OrderStore  { return &orderStore{tx: t.tx} }
func (t *pgTx) Trades() core.TradeStore  { return &tradeStore{tx: t.tx} }

// exactlyOne asserts a mutation touched the row it was aimed at. A zero count
// means the caller skipped the Lock* call that creates and locks the row.
func exactlyOne(tag pgconn.CommandTag, what string) error {
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: %s affected %d rows", core.ErrInvariantViolation, what, tag.RowsAffected())
	}
	return nil
}
