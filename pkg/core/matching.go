package core

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openspot/openspot/pkg/util"
)

// CommissionRate is deducted from the seller's proceeds at settlement: 1.5%
// of trade value.
var CommissionRate = decimal.New(15, -3)

// MatchResult carries the outcome of a successful settlement. BuyOrder and
// SellOrder reflect post-settlement state (status filled).
type MatchResult struct {
	Trade     *Trade
	BuyOrder  *Order
	SellOrder *Order
}

// Engine finds a compatible resting counter-order and executes the atomic
// settlement. It operates entirely inside the caller's transaction;
// correctness is delegated to the store's row locks, taken in a fixed order:
// order rows by ascending id, then ledger rows by ascending owner id.
type Engine struct {
	clock util.Clock
	log   *zap.SugaredLogger
}

func NewEngine(clock util.Clock, log *zap.SugaredLogger) *Engine {
	return &Engine{clock: clock, log: log}
}

// Match attempts to settle order against the best eligible resting order.
// Returns (nil, nil) when no trade occurred; the order then stays open.
func (e *Engine) Match(ctx context.Context, tx Tx, order *Order) (*MatchResult, error) {
	counter, err := tx.Orders().LockBestCounter(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("counter scan: %w", err)
	}
	if counter == nil {
		return nil, nil
	}

	buy, sell := order, counter
	if order.Side == SideSell {
		buy, sell = counter, order
	}

	return e.settle(ctx, tx, buy, sell, counter)
}

// settle executes the trade between buy and sell. resting is whichever of the
// two pre-existed; its price is the settlement price, so the incoming order
// receives price improvement, never the opposite.
func (e *Engine) settle(ctx context.Context, tx Tx, buy, sell, resting *Order) (*MatchResult, error) {
	// Lock both order rows in ascending id order, then re-read state before
	// trusting it. A counterparty that went non-open between the scan and the
	// lock is stale, not an error: the incoming order simply rests.
	first, second := buy, sell
	if second.ID < first.ID {
		first, second = second, first
	}
	for _, o := range []*Order{first, second} {
		locked, err := tx.Orders().LockByID(ctx, o.ID)
		if err != nil {
			return nil, fmt.Errorf("lock order %d: %w", o.ID, err)
		}
		if locked == nil {
			return nil, fmt.Errorf("%w: matched order %d vanished", ErrInvariantViolation, o.ID)
		}
		*o = *locked
	}
	if !buy.IsOpen() || !sell.IsOpen() {
		e.log.Debugw("match_counterparty_stale",
			"buy_order", buy.ID, "buy_status", buy.Status,
			"sell_order", sell.ID, "sell_status", sell.Status)
		return nil, nil
	}

	// The scan only returns equal-amount candidates; disagreement here means
	// a defect in the store, not a business condition.
	if !buy.Amount.Equal(sell.Amount) {
		return nil, fmt.Errorf("%w: matched orders %d/%d disagree on amount", ErrInvariantViolation, buy.ID, sell.ID)
	}

	price := resting.Price
	amount := buy.Amount
	usdValue := price.Mul(amount)
	commission := usdValue.Mul(CommissionRate).Truncate(DecimalScale)
	sellerProceeds := usdValue.Sub(commission)

	led := tx.Ledger()

	// Ledger rows after order rows: seller account first, then both parties'
	// holdings by ascending owner id.
	if _, err := led.LockAccount(ctx, sell.Owner); err != nil {
		return nil, fmt.Errorf("lock seller account: %w", err)
	}
	owners := []int64{buy.Owner, sell.Owner}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })
	holdings := make(map[int64]*Holding, 2)
	for _, owner := range owners {
		h, err := led.LockHolding(ctx, owner, buy.Symbol)
		if err != nil {
			return nil, fmt.Errorf("lock holding %d/%s: %w", owner, buy.Symbol, err)
		}
		holdings[owner] = h
	}

	sellerHolding := holdings[sell.Owner]
	if sellerHolding.LockedAmount.LessThan(amount) {
		return nil, fmt.Errorf("%w: seller %d locked %s below trade amount %s",
			ErrInvariantViolation, sell.Owner, sellerHolding.LockedAmount, amount)
	}
	if sellerHolding.LockedAmount.GreaterThan(sellerHolding.Amount) {
		return nil, fmt.Errorf("%w: holding %d/%s locked %s exceeds amount %s",
			ErrInvariantViolation, sell.Owner, sell.Symbol, sellerHolding.LockedAmount, sellerHolding.Amount)
	}

	// Buyer takes custody of the asset.
	if err := led.CreditHolding(ctx, buy.Owner, buy.Symbol, amount); err != nil {
		return nil, fmt.Errorf("credit buyer holding: %w", err)
	}
	// The asset leaves the seller's custody permanently: release the
	// reservation, then the quantity itself.
	if err := led.UnlockAsset(ctx, sell.Owner, sell.Symbol, amount); err != nil {
		return nil, fmt.Errorf("unlock seller asset: %w", err)
	}
	if err := led.DebitHolding(ctx, sell.Owner, sell.Symbol, amount); err != nil {
		return nil, fmt.Errorf("debit seller holding: %w", err)
	}
	if err := led.CreditBalance(ctx, sell.Owner, sellerProceeds); err != nil {
		return nil, fmt.Errorf("credit seller proceeds: %w", err)
	}

	for _, o := range []*Order{buy, sell} {
		if err := tx.Orders().UpdateStatus(ctx, o.ID, StatusFilled); err != nil {
			return nil, fmt.Errorf("fill order %d: %w", o.ID, err)
		}
		o.Status = StatusFilled
	}

	trade := &Trade{
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		Symbol:      buy.Symbol,
		Price:       price,
		Amount:      amount,
		Commission:  commission,
		BuyerID:     buy.Owner,
		SellerID:    sell.Owner,
		CreatedAt:   e.clock.Now().UTC(),
	}
	if err := tx.Trades().Create(ctx, trade); err != nil {
		return nil, fmt.Errorf("record trade: %w", err)
	}

	e.log.Infow("trade_settled",
		"trade", trade.ID,
		"symbol", trade.Symbol,
		"price", price.String(),
		"amount", amount.String(),
		"commission", commission.String(),
		"buy_order", buy.ID,
		"sell_order", sell.ID)

	return &MatchResult{Trade: trade, BuyOrder: buy, SellOrder: sell}, nil
}
