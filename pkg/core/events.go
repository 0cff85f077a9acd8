package core

import (
	"context"
	"errors"
)

// Event is a domain event produced by the intake and matching path. Events
// are emitted only after the transaction that produced them has committed;
// delivery failure never rolls back a committed settlement.
type Event interface {
	// Name is the wire name of the event, e.g. "order.created".
	Name() string
	// Symbol is the market the event concerns (cache invalidation, fanout).
	Symbol() string
	// Parties lists the owner ids involved, for per-user delivery channels.
	Parties() []int64
}

// OrderCreated is emitted when a new order rests in the pool without matching.
type OrderCreated struct {
	Order OrderView `json:"order"`
}

func (OrderCreated) Name() string       { return "order.created" }
func (e OrderCreated) Symbol() string   { return e.Order.Symbol }
func (e OrderCreated) Parties() []int64 { return []int64{e.Order.Owner} }

// OrderMatched is emitted when two orders settle into a trade.
type OrderMatched struct {
	BuyOrder  OrderView `json:"buyOrder"`
	SellOrder OrderView `json:"sellOrder"`
	Trade     TradeView `json:"trade"`
}

func (OrderMatched) Name() string     { return "order.matched" }
func (e OrderMatched) Symbol() string { return e.Trade.Symbol }
func (e OrderMatched) Parties() []int64 {
	return []int64{e.BuyOrder.Owner, e.SellOrder.Owner}
}

// OrderCancelled is emitted when an open order is cancelled and its
// reservation released.
type OrderCancelled struct {
	Order OrderView `json:"order"`
}

func (OrderCancelled) Name() string       { return "order.cancelled" }
func (e OrderCancelled) Symbol() string   { return e.Order.Symbol }
func (e OrderCancelled) Parties() []int64 { return []int64{e.Order.Owner} }

// EventSink receives domain events. Delivery is best-effort, at-least-once;
// implementations must not block the settlement path.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

// MultiSink fans one event out to several sinks. Every sink is attempted;
// errors are joined so one failing sink does not starve the others.
type MultiSink []EventSink

func (m MultiSink) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
