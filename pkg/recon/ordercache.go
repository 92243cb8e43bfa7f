package recon

import (
	"errors"
	"fmt"
)

// ErrNegativeQty is returned when an event would push an accumulated
// quantity negative. The caller decides whether to drop the event or
// abort the security; the cache itself is left untouched either way.
var ErrNegativeQty = errors.New("negative quantity")

// OrderContext accumulates everything observed about one order id over a
// security-day. IsAggressive is the order's birth mode: it is fixed by
// the type of the event that first introduced the id and never reassigned,
// even when a trade-born order later posts its passive remainder.
type OrderContext struct {
	OrderID        int64
	Side           Side
	FirstTime      int64
	FirstBizIndex  int64
	TradeQty       int64
	RestingQty     int64
	LastTradePrice float64
	RestingPrice   float64
	IsAggressive   bool
	HasResting     bool
}

// AddTradeQty accumulates executed quantity.
func (c *OrderContext) AddTradeQty(qty int64) error {
	if qty < 0 {
		return fmt.Errorf("%w: trade qty %d for order %d", ErrNegativeQty, qty, c.OrderID)
	}
	c.TradeQty += qty
	return nil
}

// AddRestingQty accumulates posted quantity. An order normally posts at
// most once, but the feed does not guarantee it.
func (c *OrderContext) AddRestingQty(qty int64) error {
	if qty < 0 {
		return fmt.Errorf("%w: resting qty %d for order %d", ErrNegativeQty, qty, c.OrderID)
	}
	c.RestingQty += qty
	return nil
}

// TotalQty is the inferred original order size: everything it executed
// plus everything it posted.
func (c *OrderContext) TotalQty() int64 { return c.TradeQty + c.RestingQty }

// EffectivePrice prefers the posted price, which states the order's intent
// directly; the last trade price covers orders that executed in full
// without ever posting.
func (c *OrderContext) EffectivePrice() float64 {
	if c.RestingPrice > 0 {
		return c.RestingPrice
	}
	return c.LastTradePrice
}

// OrderCache maps order id to accumulated state for one security-day. It
// is owned exclusively by a single engine run, built fresh per security
// and discarded after settlement, so parallel per-security runs need no
// locking.
type OrderCache struct {
	m map[int64]*OrderContext
}

func NewOrderCache() *OrderCache {
	return &OrderCache{m: make(map[int64]*OrderContext)}
}

func (c *OrderCache) Get(orderID int64) (*OrderContext, bool) {
	ctx, ok := c.m[orderID]
	return ctx, ok
}

func (c *OrderCache) Put(ctx *OrderContext) { c.m[ctx.OrderID] = ctx }

func (c *OrderCache) Len() int { return len(c.m) }

// Each visits every cached order in map iteration order. Settlement
// re-sorts its output, so visit order does not leak into results.
func (c *OrderCache) Each(fn func(*OrderContext)) {
	for _, ctx := range c.m {
		fn(ctx)
	}
}
