package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/openspot/openspot/pkg/core"
)

type ledgerStore struct {
	tx pgx.Tx
}

func (l *ledgerStore) LockAccount(ctx context.Context, owner int64) (*core.Account, error) {
	acct, err := l.selectAccountForUpdate(ctx, owner)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	// Insert-then-relock so two concurrent creators converge on one row.
	if _, err := l.tx.Exec(ctx, `
		INSERT INTO accounts (owner_id, balance, updated_at)
		VALUES ($1, 0, now())
		ON CONFLICT (owner_id) DO NOTHING
	`, owner); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	return l.selectAccountForUpdate(ctx, owner)
}

func (l *ledgerStore) selectAccountForUpdate(ctx context.Context, owner int64) (*core.Account, error) {
	var (
		acct       core.Account
		balanceStr string
	)
	row := l.tx.QueryRow(ctx, `
		SELECT owner_id, balance::text, updated_at
		FROM accounts
		WHERE owner_id = $1
		FOR UPDATE
	`, owner)
	if err := row.Scan(&acct.Owner, &balanceStr, &acct.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if acct.Balance, err = decimal.NewFromString(balanceStr); err != nil {
		return nil, fmt.Errorf("parse balance: %w", err)
	}
	return &acct, nil
}

func (l *ledgerStore) LockHolding(ctx context.Context, owner int64, symbol string) (*core.Holding, error) {
	h, err := l.selectHoldingForUpdate(ctx, owner, symbol)
	if err == nil {
		return h, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if _, err := l.tx.Exec(ctx, `
		INSERT INTO holdings (owner_id, symbol, amount, locked_amount, updated_at)
		VALUES ($1, $2, 0, 0, now())
		ON CONFLICT (owner_id, symbol) DO NOTHING
	`, owner, symbol); err != nil {
		return nil, fmt.Errorf("create holding: %w", err)
	}
	return l.selectHoldingForUpdate(ctx, owner, symbol)
}

func (l *ledgerStore) selectHoldingForUpdate(ctx context.Context, owner int64, symbol string) (*core.Holding, error) {
	var (
		h                    core.Holding
		amountStr, lockedStr string
	)
	row := l.tx.QueryRow(ctx, `
		SELECT owner_id, symbol, amount::text, locked_amount::text, updated_at
		FROM holdings
		WHERE owner_id = $1 AND symbol = $2
		FOR UPDATE
	`, owner, symbol)
	if err := row.Scan(&h.Owner, &h.Symbol, &amountStr, &lockedStr, &h.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if h.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	if h.LockedAmount, err = decimal.NewFromString(lockedStr); err != nil {
		return nil, fmt.Errorf("parse locked amount: %w", err)
	}
	return &h, nil
}

func (l *ledgerStore) DebitBalance(ctx context.Context, owner int64, amount decimal.Decimal) error {
	tag, err := l.tx.Exec(ctx, `
		UPDATE accounts
		SET balance = balance - $2, updated_at = now()
		WHERE owner_id = $1
	`, owner, amount.String())
	if err != nil {
		return fmt.Errorf("debit balance: %w", err)
	}
	return exactlyOne(tag, "debit balance")
}

func (l *ledgerStore) CreditBalance(ctx context.Context, owner int64, amount decimal.Decimal) error {
	tag, err := l.tx.Exec(ctx, `
		UPDATE accounts
		SET balance = balance + $2, updated_at = now()
		WHERE owner_id = $1
	`, owner, amount.String())
	if err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}
	return exactlyOne(tag, "credit balance")
}

func (l *ledgerStore) LockAsset(ctx context.Context, owner int64, symbol string, amount decimal.Decimal) error {
	return l.adjustHolding(ctx, owner, symbol, "locked_amount = locked_amount + $3", amount, "lock asset")
}

func (l *ledgerStore) UnlockAsset(ctx context.Context, owner int64, symbol string, amount decimal.Decimal) error {
	return l.adjustHolding(ctx, owner, symbol, "locked_amount = locked_amount - $3", amount, "unlock asset")
}

func (l *ledgerStore) CreditHolding(ctx context.Context, owner int64, symbol string, amount decimal.Decimal) error {
	return l.adjustHolding(ctx, owner, symbol, "amount = amount + $3", amount, "credit holding")
}

func (l *ledgerStore) DebitHolding(ctx context.Context, owner int64, symbol string, amount decimal.Decimal) error {
	return l.adjustHolding(ctx, owner, symbol, "amount = amount - $3", amount, "debit holding")
}

func (l *ledgerStore) adjustHolding(ctx context.Context, owner int64, symbol, set string, amount decimal.Decimal, what string) error {
	tag, err := l.tx.Exec(ctx, fmt.Sprintf(`
		UPDATE holdings
		SET %s, updated_at = now()
		WHERE owner_id = $1 AND symbol = $2
	`, set), owner, symbol, amount.String())
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return exactlyOne(tag, what)
}

func (l *ledgerStore) AccountByOwner(ctx context.Context, owner int64) (*core.Account, error) {
	var (
		acct       core.Account
		balanceStr string
	)
	row := l.tx.QueryRow(ctx, `
		SELECT owner_id, balance::text, updated_at
		FROM accounts
		WHERE owner_id = $1
	`, owner)
	if err := row.Scan(&acct.Owner, &balanceStr, &acct.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &core.Account{Owner: owner, Balance: decimal.Zero}, nil
		}
		return nil, err
	}
	var err error
	if acct.Balance, err = decimal.NewFromString(balanceStr); err != nil {
		return nil, fmt.Errorf("parse balance: %w", err)
	}
	return &acct, nil
}

func (l *ledgerStore) HoldingsByOwner(ctx context.Context, owner int64) ([]core.Holding, error) {
	rows, err := l.tx.Query(ctx, `
		SELECT owner_id, symbol, amount::text, locked_amount::text, updated_at
		FROM holdings
		WHERE owner_id = $1
		ORDER BY symbol
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Holding
	for rows.Next() {
		var (
			h                    core.Holding
			amountStr, lockedStr string
		)
		if err := rows.Scan(&h.Owner, &h.Symbol, &amountStr, &lockedStr, &h.UpdatedAt); err != nil {
			return nil, err
		}
		if h.Amount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, fmt.Errorf("parse amount: %w", err)
		}
		if h.LockedAmount, err = decimal.NewFromString(lockedStr); err != nil {
			return nil, fmt.Errorf("parse locked amount: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
