package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// DecimalScale is the fixed number of fractional digits for every money and
// quantity value in the system. Prices, amounts, balances, and commissions are
// all quantized to this scale; arithmetic on them is exact.
const DecimalScale = 8

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the counter side used by the matching scan.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus is the lifecycle state of an order.
// open → filled and open → cancelled are the only transitions; filled and
// cancelled are terminal.
type OrderStatus string

const (
	StatusOpen      OrderStatus = "open"
	StatusFilled    OrderStatus = "filled"
	StatusCancelled OrderStatus = "cancelled"
)

// Order is a resting or incoming limit order for the full amount.
// ReservedUSD is fixed at creation (price × amount for buy orders, zero for
// sell orders) and never recomputed.
type Order struct {
	ID          int64
	Owner       int64
	Symbol      string
	Side        Side
	Price       decimal.Decimal
	Amount      decimal.Decimal
	Status      OrderStatus
	ReservedUSD decimal.Decimal
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (o *Order) IsBuy() bool  { return o.Side == SideBuy }
func (o *Order) IsOpen() bool { return o.Status == StatusOpen }

// Account holds an owner's USD balance. Balance never goes negative; the buy
// reservation path debits it only after checking sufficiency under the row lock.
type Account struct {
	Owner     int64
	Balance   decimal.Decimal
	UpdatedAt time.Time
}

// Holding is an owner's position in one symbol. LockedAmount is the portion
// reserved by open sell orders; 0 ≤ LockedAmount ≤ Amount at all times.
type Holding struct {
	Owner        int64
	Symbol       string
	Amount       decimal.Decimal
	LockedAmount decimal.Decimal
	UpdatedAt    time.Time
}

// Available returns the amount not reserved by open sell orders.
func (h *Holding) Available() decimal.Decimal {
	return h.Amount.Sub(h.LockedAmount)
}

// Trade records one completed settlement between two orders. Write-once.
type Trade struct {
	ID          int64
	BuyOrderID  int64
	SellOrderID int64
	Symbol      string
	Price       decimal.Decimal
	Amount      decimal.Decimal
	Commission  decimal.Decimal
	BuyerID     int64
	SellerID    int64
	CreatedAt   time.Time
}

// OrderView is the external representation of an order. Decimal fields are
// exact strings so precision survives JSON end-to-end.
type OrderView struct {
	ID          int64  `json:"id"`
	Owner       int64  `json:"owner"`
	Symbol      string `json:"symbol"`
	Side        Side   `json:"side"`
	Price       string `json:"price"`
	Amount      string `json:"amount"`
	Status      string `json:"status"`
	ReservedUSD string `json:"reservedUsd"`
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
}

func (o *Order) View() OrderView {
	return OrderView{
		ID:          o.ID,
		Owner:       o.Owner,
		Symbol:      o.Symbol,
		Side:        o.Side,
		Price:       o.Price.StringFixed(DecimalScale),
		Amount:      o.Amount.StringFixed(DecimalScale),
		Status:      string(o.Status),
		ReservedUSD: o.ReservedUSD.StringFixed(DecimalScale),
		CreatedAt:   o.CreatedAt.UnixMilli(),
		UpdatedAt:   o.UpdatedAt.UnixMilli(),
	}
}

// TradeView is the external representation of a trade.
type TradeView struct {
	ID          int64  `json:"id"`
	BuyOrderID  int64  `json:"buyOrderId"`
	SellOrderID int64  `json:"sellOrderId"`
	Symbol      string `json:"symbol"`
	Price       string `json:"price"`
	Amount      string `json:"amount"`
	Commission  string `json:"commission"`
	BuyerID     int64  `json:"buyerId"`
	SellerID    int64  `json:"sellerId"`
	CreatedAt   int64  `json:"createdAt"`
}

func (t *Trade) View() TradeView {
	return TradeView{
		ID:          t.ID,
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		Symbol:      t.Symbol,
		Price:       t.Price.StringFixed(DecimalScale),
		Amount:      t.Amount.StringFixed(DecimalScale),
		Commission:  t.Commission.StringFixed(DecimalScale),
		BuyerID:     t.BuyerID,
		SellerID:    t.SellerID,
		CreatedAt:   t.CreatedAt.UnixMilli(),
	}
}
