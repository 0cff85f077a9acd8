package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/openspot/openspot/pkg/core"
)

const tradeColumns = `id, buy_order_id, sell_order_id, symbol, price::text, amount::text, commission::text, buyer_id, seller_id, created_at`

type tradeStore struct {
	tx pgx.Tx
}

func (t *tradeStore) Create(ctx context.Context, tr *core.Trade) error {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO trades (buy_order_id, sell_order_id, symbol, price, amount, commission, buyer_id, seller_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, tr.BuyOrderID, tr.SellOrderID, tr.Symbol, tr.Price.String(), tr.Amount.String(),
		tr.Commission.String(), tr.BuyerID, tr.SellerID, tr.CreatedAt)
	if err := row.Scan(&tr.ID); err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

func (t *tradeStore) ByParty(ctx context.Context, owner int64) ([]core.Trade, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC, id DESC
	`, owner)
	if err != nil {
		return nil, err
	}
	return scanTrades(rows)
}

func (t *tradeStore) BySymbol(ctx context.Context, symbol string, limit int) ([]core.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := t.tx.Query(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE symbol = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, symbol, limit)
	if err != nil {
		return nil, err
	}
	return scanTrades(rows)
}

func scanTrades(rows pgx.Rows) ([]core.Trade, error) {
	defer rows.Close()

	var out []core.Trade
	for rows.Next() {
		var (
			tr                                  core.Trade
			priceStr, amountStr, commissionStr string
		)
		if err := rows.Scan(&tr.ID, &tr.BuyOrderID, &tr.SellOrderID, &tr.Symbol,
			&priceStr, &amountStr, &commissionStr, &tr.BuyerID, &tr.SellerID, &tr.CreatedAt); err != nil {
			return nil, err
		}
		var err error
		if tr.Price, err = decimal.NewFromString(priceStr); err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		if tr.Amount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, fmt.Errorf("parse amount: %w", err)
		}
		if tr.Commission, err = decimal.NewFromString(commissionStr); err != nil {
			return nil, fmt.Errorf("parse commission: %w", err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}
