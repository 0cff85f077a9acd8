// Package memory implements the core store interfaces on plain maps with
// clone-and-swap transactions. Transactions are serialized by one mutex, so
// the row-lock primitives reduce to find-or-create; rollback is real: a
// failed transaction's working copy is discarded untouched.
//
// Used by the core tests and by spotd's dev mode when no database is
// configured.
package memory

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openspot/openspot/pkg/core"
)

type holdingKey struct {
	owner  int64
	symbol string
}

type state struct {
	accounts    map[int64]*core.Account
	holdings    map[holdingKey]*core.Holding
	orders      map[int64]*core.Order
	trades      []*core.Trade
	nextOrderID int64
	nextTradeID int64
}

func newState() *state {
	return &state{
		accounts:    make(map[int64]*core.Account),
		holdings:    make(map[holdingKey]*core.Holding),
		orders:      make(map[int64]*core.Order),
		nextOrderID: 1,
		nextTradeID: 1,
	}
}

func (s *state) clone() *state {
	c := &state{
		accounts:    make(map[int64]*core.Account, len(s.accounts)),
		holdings:    make(map[holdingKey]*core.Holding, len(s.holdings)),
		orders:      make(map[int64]*core.Order, len(s.orders)),
		trades:      make([]*core.Trade, len(s.trades)),
		nextOrderID: s.nextOrderID,
		nextTradeID: s.nextTradeID,
	}
	for k, v := range s.accounts {
		cp := *v
		c.accounts[k] = &cp
	}
	for k, v := range s.holdings {
		cp := *v
		c.holdings[k] = &cp
	}
	for k, v := range s.orders {
		cp := *v
		c.orders[k] = &cp
	}
	for i, v := range s.trades {
		cp := *v
		c.trades[i] = &cp
	}
	return c
}

// Store is an in-memory core.Store.
type Store struct {
	mu sem
	st *state
}

// sem is a channel-based mutex so transaction entry respects ctx cancellation.
type sem chan struct{}

func (s sem) lock(ctx context.Context) error {
	select {
	case s <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s sem) unlock() { <-s }

func NewStore() *Store {
	return &Store{mu: make(sem, 1), st: newState()}
}

// WithinTx runs fn against a deep copy of the state and swaps it in on
// success. Any error discards the copy, leaving no partial effects.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx core.Tx) error) error {
	if err := s.mu.lock(ctx); err != nil {
		return err
	}
	defer s.mu.unlock()

	work := s.st.clone()
	if err := fn(ctx, &memTx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

type memTx struct {
	st *state
}

func (t *memTx) Ledger() core.LedgerStore { return &ledgerStore{st: t.st} }
func (t *memTx) Orders() core.OrderStore  { return &orderStore{st: t.st} }
func (t *memTx) Trades() core.TradeStore  { return &tradeStore{st: t.st} }

// ---- ledger ----

type ledgerStore struct {
	st *state
}

func (l *ledgerStore) LockAccount(_ context.Context, owner int64) (*core.Account, error) {
	acct, ok := l.st.accounts[owner]
	if !ok {
		acct = &core.Account{Owner: owner, Balance: decimal.Zero, UpdatedAt: time.Now().UTC()}
		l.st.accounts[owner] = acct
	}
	cp := *acct
	return &cp, nil
}

func (l *ledgerStore) LockHolding(_ context.Context, owner int64, symbol string) (*core.Holding, error) {
	key := holdingKey{owner, symbol}
	h, ok := l.st.holdings[key]
	if !ok {
		h = &core.Holding{
			Owner:        owner,
			Symbol:       symbol,
			Amount:       decimal.Zero,
			LockedAmount: decimal.Zero,
			UpdatedAt:    time.Now().UTC(),
		}
		l.st.holdings[key] = h
	}
	cp := *h
	return &cp, nil
}

func (l *ledgerStore) DebitBalance(ctx context.Context, owner int64, amount decimal.Decimal) error {
	acct := l.st.accounts[owner]
	if acct == nil {
		return errNoRow("account", owner)
	}
	next := acct.Balance.Sub(amount)
	if next.IsNegative() {
		return errNegative("balance", owner, next)
	}
	acct.Balance = next
	acct.UpdatedAt = time.Now().UTC()
	return nil
}

func (l *ledgerStore) CreditBalance(ctx context.Context, owner int64, amount decimal.Decimal) error {
	acct := l.st.accounts[owner]
	if acct == nil {
		return errNoRow("account", owner)
	}
	acct.Balance = acct.Balance.Add(amount)
	acct.UpdatedAt = time.Now().UTC()
	return nil
}

func (l *ledgerStore) LockAsset(ctx context.Context, owner int64, symbol string, amount decimal.Decimal) error {
	return l.mutateHolding(owner, symbol, func(h *core.Holding) {
		h.LockedAmount = h.LockedAmount.Add(amount)
	})
}

func (l *ledgerStore) UnlockAsset(ctx context.Context, owner int64, symbol string, amount decimal.Decimal) error {
	return l.mutateHolding(owner, symbol, func(h *core.Holding) {
		h.LockedAmount = h.LockedAmount.Sub(amount)
	})
}

func (l *ledgerStore) CreditHolding(ctx context.Context, owner int64, symbol string, amount decimal.Decimal) error {
	return l.mutateHolding(owner, symbol, func(h *core.Holding) {
		h.Amount = h.Amount.Add(amount)
	})
}

func (l *ledgerStore) DebitHolding(ctx context.Context, owner int64, symbol string, amount decimal.Decimal) error {
	return l.mutateHolding(owner, symbol, func(h *core.Holding) {
		h.Amount = h.Amount.Sub(amount)
	})
}

// mutateHolding applies fn and enforces 0 ≤ locked ≤ amount afterwards, the
// same defensive check the SQL schema expresses as a CHECK constraint.
func (l *ledgerStore) mutateHolding(owner int64, symbol string, fn func(*core.Holding)) error {
	h := l.st.holdings[holdingKey{owner, symbol}]
	if h == nil {
		return errNoRow("holding", owner)
	}
	fn(h)
	if h.LockedAmount.IsNegative() || h.LockedAmount.GreaterThan(h.Amount) || h.Amount.IsNegative() {
		return errHoldingInvariant(owner, symbol, h.Amount, h.LockedAmount)
	}
	h.UpdatedAt = time.Now().UTC()
	return nil
}

func (l *ledgerStore) AccountByOwner(_ context.Context, owner int64) (*core.Account, error) {
	if acct, ok := l.st.accounts[owner]; ok {
		cp := *acct
		return &cp, nil
	}
	return &core.Account{Owner: owner, Balance: decimal.Zero}, nil
}

func (l *ledgerStore) HoldingsByOwner(_ context.Context, owner int64) ([]core.Holding, error) {
	var out []core.Holding
	for key, h := range l.st.holdings {
		if key.owner == owner {
			out = append(out, *h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// ---- orders ----

type orderStore struct {
	st *state
}

func (o *orderStore) Create(_ context.Context, ord *core.Order) error {
	ord.ID = o.st.nextOrderID
	o.st.nextOrderID++
	cp := *ord
	o.st.orders[ord.ID] = &cp
	return nil
}

func (o *orderStore) LockByID(_ context.Context, id int64) (*core.Order, error) {
	ord, ok := o.st.orders[id]
	if !ok {
		return nil, nil
	}
	cp := *ord
	return &cp, nil
}

func (o *orderStore) LockBestCounter(_ context.Context, incoming *core.Order) (*core.Order, error) {
	want := incoming.Side.Opposite()
	var best *core.Order
	for _, cand := range o.st.orders {
		if cand.Symbol != incoming.Symbol || cand.Side != want || cand.Status != core.StatusOpen {
			continue
		}
		if !cand.Amount.Equal(incoming.Amount) {
			continue
		}
		if want == core.SideSell && cand.Price.GreaterThan(incoming.Price) {
			continue
		}
		if want == core.SideBuy && cand.Price.LessThan(incoming.Price) {
			continue
		}
		if best == nil || better(cand, best, want) {
			best = cand
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

// better reports whether a beats b under price-time priority: for sell
// candidates the lowest price wins, for buy candidates the highest; ties go
// to the earliest creation time, then the lowest id.
func better(a, b *core.Order, side core.Side) bool {
	if !a.Price.Equal(b.Price) {
		if side == core.SideSell {
			return a.Price.LessThan(b.Price)
		}
		return a.Price.GreaterThan(b.Price)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (o *orderStore) UpdateStatus(_ context.Context, id int64, status core.OrderStatus) error {
	ord, ok := o.st.orders[id]
	if !ok {
		return errNoRow("order", id)
	}
	ord.Status = status
	ord.UpdatedAt = time.Now().UTC()
	return nil
}

func (o *orderStore) OpenBySymbol(_ context.Context, symbol string) ([]core.Order, error) {
	var out []core.Order
	for _, ord := range o.st.orders {
		if ord.Status != core.StatusOpen {
			continue
		}
		if symbol != "" && ord.Symbol != symbol {
			continue
		}
		out = append(out, *ord)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (o *orderStore) ByOwner(_ context.Context, owner int64, symbol string) ([]core.Order, error) {
	var out []core.Order
	for _, ord := range o.st.orders {
		if ord.Owner != owner {
			continue
		}
		if symbol != "" && ord.Symbol != symbol {
			continue
		}
		out = append(out, *ord)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// ---- trades ----

type tradeStore struct {
	st *state
}

func (t *tradeStore) Create(_ context.Context, tr *core.Trade) error {
	tr.ID = t.st.nextTradeID
	t.st.nextTradeID++
	cp := *tr
	t.st.trades = append(t.st.trades, &cp)
	return nil
}

func (t *tradeStore) ByParty(_ context.Context, owner int64) ([]core.Trade, error) {
	var out []core.Trade
	for _, tr := range t.st.trades {
		if tr.BuyerID == owner || tr.SellerID == owner {
			out = append(out, *tr)
		}
	}
	reverse(out)
	return out, nil
}

func (t *tradeStore) BySymbol(_ context.Context, symbol string, limit int) ([]core.Trade, error) {
	var out []core.Trade
	for _, tr := range t.st.trades {
		if symbol == "" || tr.Symbol == symbol {
			out = append(out, *tr)
		}
	}
	reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func reverse(trades []core.Trade) {
	for i, j := 0, len(trades)-1; i < j; i, j = i+1, j-1 {
		trades[i], trades[j] = trades[j], trades[i]
	}
}
