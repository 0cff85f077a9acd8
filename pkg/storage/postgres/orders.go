package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/openspot/openspot/pkg/core"
)

const orderColumns = `id, owner_id, symbol, side, price::text, amount::text, status, reserved_usd::text, created_at, updated_at`

type orderStore struct {
	tx pgx.Tx
}

func (o *orderStore) Create(ctx context.Context, ord *core.Order) error {
	row := o.tx.QueryRow(ctx, `
		INSERT INTO orders (owner_id, symbol, side, price, amount, status, reserved_usd, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, ord.Owner, ord.Symbol, string(ord.Side), ord.Price.String(), ord.Amount.String(),
		string(ord.Status), ord.ReservedUSD.String(), ord.CreatedAt, ord.UpdatedAt)
	if err := row.Scan(&ord.ID); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (o *orderStore) LockByID(ctx context.Context, id int64) (*core.Order, error) {
	row := o.tx.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, id)
	ord, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return ord, err
}

// LockBestCounter selects and exclusively locks the best eligible resting
// counter-order under price-time priority. Only candidates with exactly the
// incoming order's amount are eligible: settlement is all-or-nothing, there
// are no partial fills.
func (o *orderStore) LockBestCounter(ctx context.Context, incoming *core.Order) (*core.Order, error) {
	var (
		priceCond  string
		priceOrder string
	)
	if incoming.Side == core.SideBuy {
		// Cheapest sell at or below the bid.
		priceCond, priceOrder = "price <= $3", "price ASC"
	} else {
		// Highest buy at or above the ask.
		priceCond, priceOrder = "price >= $3", "price DESC"
	}
	row := o.tx.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE symbol = $1
		  AND side = $2
		  AND status = 'open'
		  AND `+priceCond+`
		  AND amount = $4
		ORDER BY `+priceOrder+`, created_at ASC, id ASC
		LIMIT 1
		FOR UPDATE
	`, incoming.Symbol, string(incoming.Side.Opposite()), incoming.Price.String(), incoming.Amount.String())
	ord, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return ord, err
}

func (o *orderStore) UpdateStatus(ctx context.Context, id int64, status core.OrderStatus) error {
	tag, err := o.tx.Exec(ctx, `
		UPDATE orders
		SET status = $2, updated_at = now()
		WHERE id = $1
	`, id, string(status))
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return exactlyOne(tag, "update order status")
}

func (o *orderStore) OpenBySymbol(ctx context.Context, symbol string) ([]core.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status = 'open'`
	args := []any{}
	if symbol != "" {
		query += ` AND symbol = $1`
		args = append(args, symbol)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	return o.queryOrders(ctx, query, args...)
}

func (o *orderStore) ByOwner(ctx context.Context, owner int64, symbol string) ([]core.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE owner_id = $1`
	args := []any{owner}
	if symbol != "" {
		query += ` AND symbol = $2`
		args = append(args, symbol)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	return o.queryOrders(ctx, query, args...)
}

func (o *orderStore) queryOrders(ctx context.Context, query string, args ...any) ([]core.Order, error) {
	rows, err := o.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Order
	for rows.Next() {
		ord, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ord)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (*core.Order, error) {
	var (
		ord                             core.Order
		side, status                    string
		priceStr, amountStr, reservedStr string
	)
	if err := row.Scan(&ord.ID, &ord.Owner, &ord.Symbol, &side, &priceStr, &amountStr,
		&status, &reservedStr, &ord.CreatedAt, &ord.UpdatedAt); err != nil {
		return nil, err
	}
	ord.Side = core.Side(side)
	ord.Status = core.OrderStatus(status)
	var err error
	if ord.Price, err = decimal.NewFromString(priceStr); err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	if ord.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	if ord.ReservedUSD, err = decimal.NewFromString(reservedStr); err != nil {
		return nil, fmt.Errorf("parse reserved usd: %w", err)
	}
	return &ord, nil
}
