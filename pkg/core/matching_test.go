package core_test

import (
	"context"
	"testing"

	"github.com/openspot/openspot/pkg/core"
)

func lastMatch(t *testing.T, sink *captureSink) core.OrderMatched {
	t.Helper()
	events := sink.all()
	if len(events) == 0 {
		t.Fatal("no events published")
	}
	matched, ok := events[len(events)-1].(core.OrderMatched)
	if !ok {
		t.Fatalf("last event = %T, want OrderMatched", events[len(events)-1])
	}
	return matched
}

// Exact settlement: 1 BTC at 50000 with a 1.5% commission leaves the seller
// 49250 and the buyer the asset.
func TestMatch_FullSettlement(t *testing.T) {
	svc, sink := newTestService(t)
	mustDepositAsset(t, svc, bob, "BTC", "1.00000000")
	sell := mustCreate(t, svc, bob, "BTC", core.SideSell, "50000.00000000", "1.00000000")

	mustDeposit(t, svc, alice, "100000.00000000")
	buy := mustCreate(t, svc, alice, "BTC", core.SideBuy, "50000.00000000", "1.00000000")

	if buy.Status != core.StatusFilled {
		t.Errorf("buy status = %s, want filled", buy.Status)
	}

	matched := lastMatch(t, sink)
	if matched.Trade.Price != "50000.00000000" {
		t.Errorf("trade price = %q, want 50000.00000000", matched.Trade.Price)
	}
	if matched.Trade.Commission != "750.00000000" {
		t.Errorf("commission = %q, want 750.00000000", matched.Trade.Commission)
	}
	if matched.Trade.BuyOrderID != buy.ID || matched.Trade.SellOrderID != sell.ID {
		t.Errorf("trade order ids = (%d, %d), want (%d, %d)",
			matched.Trade.BuyOrderID, matched.Trade.SellOrderID, buy.ID, sell.ID)
	}

	// Seller: proceeds minus commission, asset fully released and gone.
	if got := balanceOf(t, svc, bob); !got.Equal(dec("49250.00000000")) {
		t.Errorf("seller balance = %s, want 49250", got)
	}
	sellerHolding := holdingOf(t, svc, bob, "BTC")
	if !sellerHolding.Amount.IsZero() || !sellerHolding.LockedAmount.IsZero() {
		t.Errorf("seller holding = %s/%s locked, want 0/0",
			sellerHolding.Amount, sellerHolding.LockedAmount)
	}

	// Buyer: funds consumed by the reservation, asset credited.
	if got := balanceOf(t, svc, alice); !got.Equal(dec("50000")) {
		t.Errorf("buyer balance = %s, want 50000", got)
	}
	if got := holdingOf(t, svc, alice, "BTC"); !got.Amount.Equal(dec("1")) {
		t.Errorf("buyer holding = %s, want 1", got.Amount)
	}

	// Both orders terminal.
	sellerOrders, err := svc.UserOrders(context.Background(), bob, "BTC")
	if err != nil {
		t.Fatalf("user orders: %v", err)
	}
	if len(sellerOrders) != 1 || sellerOrders[0].Status != core.StatusFilled {
		t.Errorf("sell order not filled: %+v", sellerOrders)
	}
}

func TestMatch_AmountsMustBeEqual(t *testing.T) {
	svc, sink := newTestService(t)
	mustDepositAsset(t, svc, bob, "BTC", "2")
	mustCreate(t, svc, bob, "BTC", core.SideSell, "50000", "2")

	mustDeposit(t, svc, alice, "100000")
	buy := mustCreate(t, svc, alice, "BTC", core.SideBuy, "50000", "1")

	if buy.Status != core.StatusOpen {
		t.Errorf("buy status = %s, want open (no partial fills)", buy.Status)
	}
	for _, ev := range sink.all() {
		if _, ok := ev.(core.OrderMatched); ok {
			t.Fatal("orders with different amounts must not match")
		}
	}
}

func TestMatch_PriceIncompatible(t *testing.T) {
	svc, _ := newTestService(t)
	mustDepositAsset(t, svc, bob, "BTC", "1")
	mustCreate(t, svc, bob, "BTC", core.SideSell, "51000", "1")

	mustDeposit(t, svc, alice, "100000")
	buy := mustCreate(t, svc, alice, "BTC", core.SideBuy, "50000", "1")

	if buy.Status != core.StatusOpen {
		t.Errorf("buy status = %s, want open", buy.Status)
	}
}

// An incoming buy takes the lowest-priced compatible sell and settles at
// that resting price.
func TestMatch_BestPriceWinsAndSetsSettlementPrice(t *testing.T) {
	svc, sink := newTestService(t)
	mustDepositAsset(t, svc, bob, "BTC", "1")
	mustCreate(t, svc, bob, "BTC", core.SideSell, "50000", "1")
	mustDepositAsset(t, svc, carol, "BTC", "1")
	cheaper := mustCreate(t, svc, carol, "BTC", core.SideSell, "49000", "1")

	mustDeposit(t, svc, alice, "100000")
	mustCreate(t, svc, alice, "BTC", core.SideBuy, "50000", "1")

	matched := lastMatch(t, sink)
	if matched.Trade.SellOrderID != cheaper.ID {
		t.Errorf("matched sell %d, want cheapest %d", matched.Trade.SellOrderID, cheaper.ID)
	}
	if matched.Trade.Price != "49000.00000000" {
		t.Errorf("settlement price = %q, want resting 49000.00000000", matched.Trade.Price)
	}
}

// An incoming sell takes the highest-priced compatible buy.
func TestMatch_IncomingSellTakesHighestBid(t *testing.T) {
	svc, sink := newTestService(t)
	mustDeposit(t, svc, alice, "200000")
	mustCreate(t, svc, alice, "BTC", core.SideBuy, "50000", "1")
	higher := mustCreate(t, svc, alice, "BTC", core.SideBuy, "51000", "1")

	mustDepositAsset(t, svc, bob, "BTC", "1")
	mustCreate(t, svc, bob, "BTC", core.SideSell, "50000", "1")

	matched := lastMatch(t, sink)
	if matched.Trade.BuyOrderID != higher.ID {
		t.Errorf("matched buy %d, want highest bid %d", matched.Trade.BuyOrderID, higher.ID)
	}
	if matched.Trade.Price != "51000.00000000" {
		t.Errorf("settlement price = %q, want resting 51000.00000000", matched.Trade.Price)
	}
}

// Equal prices fall back to creation order.
func TestMatch_TimePriorityOnEqualPrice(t *testing.T) {
	svc, sink := newTestService(t)
	mustDepositAsset(t, svc, bob, "BTC", "1")
	earlier := mustCreate(t, svc, bob, "BTC", core.SideSell, "50000", "1")
	mustDepositAsset(t, svc, carol, "BTC", "1")
	mustCreate(t, svc, carol, "BTC", core.SideSell, "50000", "1")

	mustDeposit(t, svc, alice, "100000")
	mustCreate(t, svc, alice, "BTC", core.SideBuy, "50000", "1")

	matched := lastMatch(t, sink)
	if matched.Trade.SellOrderID != earlier.ID {
		t.Errorf("matched sell %d, want earliest %d", matched.Trade.SellOrderID, earlier.ID)
	}
}

func TestMatch_CancelledOrdersIgnored(t *testing.T) {
	svc, _ := newTestService(t)
	mustDepositAsset(t, svc, bob, "BTC", "1")
	sell := mustCreate(t, svc, bob, "BTC", core.SideSell, "50000", "1")
	if _, err := svc.CancelOrder(context.Background(), sell.ID, bob); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	mustDeposit(t, svc, alice, "100000")
	buy := mustCreate(t, svc, alice, "BTC", core.SideBuy, "50000", "1")
	if buy.Status != core.StatusOpen {
		t.Errorf("buy status = %s, want open", buy.Status)
	}
}

func TestMatch_SymbolsDoNotCross(t *testing.T) {
	svc, _ := newTestService(t)
	mustDepositAsset(t, svc, bob, "ETH", "1")
	mustCreate(t, svc, bob, "ETH", core.SideSell, "50000", "1")

	mustDeposit(t, svc, alice, "100000")
	buy := mustCreate(t, svc, alice, "BTC", core.SideBuy, "50000", "1")
	if buy.Status != core.StatusOpen {
		t.Errorf("buy status = %s, want open", buy.Status)
	}
}

// Matching one order must not touch others resting in the pool.
func TestMatch_LeavesOtherOrdersIntact(t *testing.T) {
	svc, _ := newTestService(t)
	mustDepositAsset(t, svc, bob, "BTC", "3")
	mustCreate(t, svc, bob, "BTC", core.SideSell, "49000", "1")
	mustCreate(t, svc, bob, "BTC", core.SideSell, "49500", "1")

	mustDeposit(t, svc, alice, "100000")
	mustCreate(t, svc, alice, "BTC", core.SideBuy, "50000", "1")

	open, err := svc.OpenOrders(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("open orders: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected 1 resting order after match, got %d", len(open))
	}
	if !open[0].Price.Equal(dec("49500")) {
		t.Errorf("surviving order price = %s, want 49500", open[0].Price)
	}
	// The second sell still holds its asset lock.
	h := holdingOf(t, svc, bob, "BTC")
	if !h.Amount.Equal(dec("2")) || !h.LockedAmount.Equal(dec("1")) {
		t.Errorf("seller holding = %s/%s locked, want 2/1", h.Amount, h.LockedAmount)
	}
}

// Commission is truncated, not rounded, at 8 decimal places.
func TestMatch_CommissionTruncation(t *testing.T) {
	svc, sink := newTestService(t)
	mustDepositAsset(t, svc, bob, "BTC", "0.33333333")
	mustCreate(t, svc, bob, "BTC", core.SideSell, "1", "0.33333333")

	mustDeposit(t, svc, alice, "1")
	mustCreate(t, svc, alice, "BTC", core.SideBuy, "1", "0.33333333")

	matched := lastMatch(t, sink)
	// usd = 0.33333333, commission = 0.0049999999(5) truncated to 8 digits.
	if matched.Trade.Commission != "0.00499999" {
		t.Errorf("commission = %q, want 0.00499999", matched.Trade.Commission)
	}
	want := dec("0.33333333").Sub(dec("0.00499999"))
	if got := balanceOf(t, svc, bob); !got.Equal(want) {
		t.Errorf("seller balance = %s, want %s", got, want)
	}
}

func TestMatch_SelfTradeAllowed(t *testing.T) {
	svc, sink := newTestService(t)
	mustDeposit(t, svc, alice, "100000")
	mustDepositAsset(t, svc, alice, "BTC", "1")

	mustCreate(t, svc, alice, "BTC", core.SideSell, "50000", "1")
	buy := mustCreate(t, svc, alice, "BTC", core.SideBuy, "50000", "1")

	if buy.Status != core.StatusFilled {
		t.Fatalf("buy status = %s, want filled", buy.Status)
	}
	matched := lastMatch(t, sink)
	if matched.Trade.BuyerID != alice || matched.Trade.SellerID != alice {
		t.Errorf("trade parties = (%d, %d), want (1, 1)", matched.Trade.BuyerID, matched.Trade.SellerID)
	}
	// Net effect of trading with yourself is paying the commission.
	if got := balanceOf(t, svc, alice); !got.Equal(dec("99250")) {
		t.Errorf("balance = %s, want 99250", got)
	}
	if got := holdingOf(t, svc, alice, "BTC"); !got.Amount.Equal(dec("1")) {
		t.Errorf("holding = %s, want 1", got.Amount)
	}
}

func TestRecentTrades(t *testing.T) {
	svc, _ := newTestService(t)
	mustDepositAsset(t, svc, bob, "BTC", "2")
	mustDeposit(t, svc, alice, "100000")

	mustCreate(t, svc, bob, "BTC", core.SideSell, "40000", "1")
	mustCreate(t, svc, alice, "BTC", core.SideBuy, "40000", "1")
	mustCreate(t, svc, bob, "BTC", core.SideSell, "41000", "1")
	mustCreate(t, svc, alice, "BTC", core.SideBuy, "41000", "1")

	trades, err := svc.RecentTrades(context.Background(), "BTC", 10)
	if err != nil {
		t.Fatalf("recent trades: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if !trades[0].Price.Equal(dec("41000")) {
		t.Errorf("trades not newest-first: first price = %s", trades[0].Price)
	}

	mine, err := svc.UserTrades(context.Background(), alice)
	if err != nil {
		t.Fatalf("user trades: %v", err)
	}
	if len(mine) != 2 {
		t.Errorf("expected 2 trades for buyer, got %d", len(mine))
	}
}
