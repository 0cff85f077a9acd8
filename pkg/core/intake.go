package core

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openspot/openspot/pkg/util"
)

// CreateOrderCommand is the validated input for order intake.
type CreateOrderCommand struct {
	Owner  int64
	Symbol string
	Side   Side
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// Profile is a read-only snapshot of an owner's balance and holdings.
type Profile struct {
	Balance  decimal.Decimal
	Holdings []Holding
}

// Service is the order intake entry point: it reserves funds or holdings,
// persists the order, and hands it to the matching engine in one transaction.
// Events are published only after the transaction commits.
type Service struct {
	store   Store
	engine  *Engine
	sink    EventSink
	symbols map[string]struct{}
	clock   util.Clock
	log     *zap.SugaredLogger
}

func NewService(store Store, engine *Engine, sink EventSink, symbols []string, clock util.Clock, log *zap.SugaredLogger) *Service {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}
	return &Service{
		store:   store,
		engine:  engine,
		sink:    sink,
		symbols: set,
		clock:   clock,
		log:     log,
	}
}

// CreateOrder reserves funds (buy) or holdings (sell), persists the order
// open, and attempts a match within the same transaction. Any failure before
// commit rolls back the reservation and the order together.
func (s *Service) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (*Order, error) {
	if err := s.validateCreate(cmd); err != nil {
		return nil, err
	}

	var (
		order  *Order
		result *MatchResult
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		reserved := decimal.Zero
		if cmd.Side == SideBuy {
			acct, err := tx.Ledger().LockAccount(ctx, cmd.Owner)
			if err != nil {
				return fmt.Errorf("lock account: %w", err)
			}
			required := cmd.Price.Mul(cmd.Amount)
			if acct.Balance.LessThan(required) {
				return fmt.Errorf("%w: balance %s, required %s",
					ErrInsufficientBalance, acct.Balance, required)
			}
			if err := tx.Ledger().DebitBalance(ctx, cmd.Owner, required); err != nil {
				return fmt.Errorf("reserve funds: %w", err)
			}
			reserved = required
		} else {
			holding, err := tx.Ledger().LockHolding(ctx, cmd.Owner, cmd.Symbol)
			if err != nil {
				return fmt.Errorf("lock holding: %w", err)
			}
			if holding.Available().LessThan(cmd.Amount) {
				return fmt.Errorf("%w: available %s, required %s",
					ErrInsufficientAsset, holding.Available(), cmd.Amount)
			}
			if err := tx.Ledger().LockAsset(ctx, cmd.Owner, cmd.Symbol, cmd.Amount); err != nil {
				return fmt.Errorf("reserve asset: %w", err)
			}
		}

		now := s.clock.Now().UTC()
		order = &Order{
			Owner:       cmd.Owner,
			Symbol:      cmd.Symbol,
			Side:        cmd.Side,
			Price:       cmd.Price,
			Amount:      cmd.Amount,
			Status:      StatusOpen,
			ReservedUSD: reserved,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.Orders().Create(ctx, order); err != nil {
			return fmt.Errorf("persist order: %w", err)
		}

		res, err := s.engine.Match(ctx, tx, order)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result != nil {
		s.emit(ctx, OrderMatched{
			BuyOrder:  result.BuyOrder.View(),
			SellOrder: result.SellOrder.View(),
			Trade:     result.Trade.View(),
		})
	} else {
		s.log.Infow("order_created",
			"order", order.ID, "owner", order.Owner, "symbol", order.Symbol,
			"side", order.Side, "price", order.Price.String(), "amount", order.Amount.String())
		s.emit(ctx, OrderCreated{Order: order.View()})
	}
	return order, nil
}

// CancelOrder cancels the caller's open order and releases its reservation.
func (s *Service) CancelOrder(ctx context.Context, orderID, owner int64) (*Order, error) {
	var order *Order
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.Orders().LockByID(ctx, orderID)
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		if o == nil {
			return fmt.Errorf("%w: id %d", ErrOrderNotFound, orderID)
		}
		if o.Owner != owner {
			return fmt.Errorf("%w: order %d", ErrUnauthorized, orderID)
		}
		if o.Status != StatusOpen {
			return fmt.Errorf("%w: status %s", ErrOrderNotCancellable, o.Status)
		}

		if o.IsBuy() {
			if _, err := tx.Ledger().LockAccount(ctx, owner); err != nil {
				return fmt.Errorf("lock account: %w", err)
			}
			if err := tx.Ledger().CreditBalance(ctx, owner, o.ReservedUSD); err != nil {
				return fmt.Errorf("release funds: %w", err)
			}
		} else {
			holding, err := tx.Ledger().LockHolding(ctx, owner, o.Symbol)
			if err != nil {
				return fmt.Errorf("lock holding: %w", err)
			}
			if holding.LockedAmount.LessThan(o.Amount) {
				return fmt.Errorf("%w: holding %d/%s locked %s below order amount %s",
					ErrInvariantViolation, owner, o.Symbol, holding.LockedAmount, o.Amount)
			}
			if err := tx.Ledger().UnlockAsset(ctx, owner, o.Symbol, o.Amount); err != nil {
				return fmt.Errorf("release asset: %w", err)
			}
		}

		if err := tx.Orders().UpdateStatus(ctx, o.ID, StatusCancelled); err != nil {
			return fmt.Errorf("cancel order: %w", err)
		}
		o.Status = StatusCancelled
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Infow("order_cancelled", "order", order.ID, "owner", owner)
	s.emit(ctx, OrderCancelled{Order: order.View()})
	return order, nil
}

// Deposit credits the owner's USD balance.
func (s *Service) Deposit(ctx context.Context, owner int64, amount decimal.Decimal) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	return s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Ledger().LockAccount(ctx, owner); err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
		return tx.Ledger().CreditBalance(ctx, owner, amount)
	})
}

// DepositAsset credits the owner's holding for symbol.
func (s *Service) DepositAsset(ctx context.Context, owner int64, symbol string, amount decimal.Decimal) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if _, ok := s.symbols[symbol]; !ok {
		return fmt.Errorf("%w: unsupported symbol %q", ErrValidation, symbol)
	}
	return s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Ledger().LockHolding(ctx, owner, symbol); err != nil {
			return fmt.Errorf("lock holding: %w", err)
		}
		return tx.Ledger().CreditHolding(ctx, owner, symbol, amount)
	})
}

// Profile returns the owner's balance and holdings.
func (s *Service) Profile(ctx context.Context, owner int64) (*Profile, error) {
	var p Profile
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		acct, err := tx.Ledger().AccountByOwner(ctx, owner)
		if err != nil {
			return err
		}
		p.Balance = acct.Balance
		p.Holdings, err = tx.Ledger().HoldingsByOwner(ctx, owner)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// OpenOrders lists open orders, oldest first. Empty symbol means all markets.
func (s *Service) OpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	var orders []Order
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		orders, err = tx.Orders().OpenBySymbol(ctx, symbol)
		return err
	})
	return orders, err
}

// UserOrders lists the owner's orders, newest first.
func (s *Service) UserOrders(ctx context.Context, owner int64, symbol string) ([]Order, error) {
	var orders []Order
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		orders, err = tx.Orders().ByOwner(ctx, owner, symbol)
		return err
	})
	return orders, err
}

// UserTrades lists trades where the owner was buyer or seller, newest first.
func (s *Service) UserTrades(ctx context.Context, owner int64) ([]Trade, error) {
	var trades []Trade
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		trades, err = tx.Trades().ByParty(ctx, owner)
		return err
	})
	return trades, err
}

// RecentTrades lists the latest trades for a symbol.
func (s *Service) RecentTrades(ctx context.Context, symbol string, limit int) ([]Trade, error) {
	var trades []Trade
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		trades, err = tx.Trades().BySymbol(ctx, symbol, limit)
		return err
	})
	return trades, err
}

func (s *Service) validateCreate(cmd CreateOrderCommand) error {
	if !cmd.Side.Valid() {
		return fmt.Errorf("%w: side %q", ErrValidation, cmd.Side)
	}
	if _, ok := s.symbols[cmd.Symbol]; !ok {
		return fmt.Errorf("%w: unsupported symbol %q", ErrValidation, cmd.Symbol)
	}
	if !cmd.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", ErrValidation)
	}
	// Compare against the truncated value so trailing zeros in the input
	// representation cannot reject a value that fits the scale.
	if !cmd.Price.Equal(cmd.Price.Truncate(DecimalScale)) {
		return fmt.Errorf("%w: price exceeds %d decimal places", ErrValidation, DecimalScale)
	}
	if err := validAmount(cmd.Amount); err != nil {
		return err
	}
	return nil
}

func validAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if !amount.Equal(amount.Truncate(DecimalScale)) {
		return fmt.Errorf("%w: amount exceeds %d decimal places", ErrValidation, DecimalScale)
	}
	return nil
}

func (s *Service) emit(ctx context.Context, ev Event) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Publish(ctx, ev); err != nil {
		// The transaction already committed; delivery is at-least-once via
		// the durable sink, so failure here is logged, never propagated.
		s.log.Warnw("event_publish_failed", "event", ev.Name(), "err", err)
	}
}
