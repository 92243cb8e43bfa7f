package recon

import (
	"fmt"
	"sort"
)

// Engine reconstructs one security's order and trade tables from its
// merged tick feed. It owns its cache exclusively; a fresh engine is
// built per security-day and discarded after the run, which keeps
// parallel per-security execution lock-free.
//
// The exchange sends a trade before the posting of its passive remainder,
// so an order id can legitimately appear first on a Trade event; the
// engine's job is to fold both appearances back into one committed order.
type Engine struct {
	securityID string
	session    SessionFilter
	cache      *OrderCache

	// Last strictly-positive trade price seen this security-day, used as
	// the final cancel-price fallback. Deliberately carried across the
	// lunch break rather than reset per session.
	lastPrice float64

	orders   []OrderRecord
	trades   []TradeRecord
	rejected int
}

func NewEngine(securityID string, session SessionFilter) *Engine {
	return &Engine{
		securityID: securityID,
		session:    session,
		cache:      NewOrderCache(),
	}
}

// Reconstruct runs the full per-security pass: preprocess, replay,
// settle, sort. It is a total function of its input apart from the
// documented last-price carry; any error aborts the security with no
// further events processed.
func (e *Engine) Reconstruct(events []TickEvent) ([]OrderRecord, []TradeRecord, error) {
	ordered, err := e.preprocess(events)
	if err != nil {
		return nil, nil, err
	}

	for i := range ordered {
		ev := &ordered[i]
		switch ev.Type {
		case EventTrade:
			err = e.handleTrade(ev)
		case EventAdd:
			err = e.handleAdd(ev)
		case EventDelete:
			err = e.handleDelete(ev)
		}
		if err != nil {
			return nil, nil, err
		}
	}

	e.settle()

	sortByTime(e.orders, func(r *OrderRecord) (int64, int64) { return r.TickTime, r.BizIndex })
	sortByTime(e.trades, func(r *TradeRecord) (int64, int64) { return r.TickTime, r.BizIndex })
	return e.orders, e.trades, nil
}

// Rejected reports how many events were dropped for invariant violations
// (negative quantities). Rejected events never touch the cache.
func (e *Engine) Rejected() int { return e.rejected }

// preprocess drops status and unrecognized rows, keeps only the
// continuous-auction session, validates what remains and establishes the
// total order. TickTime alone is not unique within a millisecond, so
// BizIndex breaks ties.
func (e *Engine) preprocess(events []TickEvent) ([]TickEvent, error) {
	ordered := make([]TickEvent, 0, len(events))
	for i := range events {
		ev := events[i]
		if ev.Type != EventTrade && ev.Type != EventAdd && ev.Type != EventDelete {
			continue
		}
		if !e.session.InContinuousSession(ev.TickTime) {
			continue
		}
		if err := ev.Validate(); err != nil {
			return nil, err
		}
		ordered = append(ordered, ev)
	}
	sortByTime(ordered, func(ev *TickEvent) (int64, int64) { return ev.TickTime, ev.BizIndex })
	return ordered, nil
}

// handleTrade emits a trade record for every trade event and reconstructs
// the aggressor side only. The passive side always has its own Add row,
// and auction matches have no aggressor to reconstruct at all.
func (e *Engine) handleTrade(ev *TickEvent) error {
	activeSide := ActiveNone
	var activeID int64
	var side Side
	switch ev.ActiveFlag {
	case FlagBuy:
		activeSide, activeID, side = ActiveBuy, ev.BuyOrderID, Buy
	case FlagSell:
		activeSide, activeID, side = ActiveSell, ev.SellOrderID, Sell
	}

	money := ev.TradeMoney
	if money <= 0 {
		money = ev.Price * float64(ev.Qty)
	}
	e.trades = append(e.trades, TradeRecord{
		SecurityID: e.securityID,
		BizIndex:   ev.BizIndex,
		TickTime:   ev.TickTime,
		BidOrderID: ev.BuyOrderID,
		AskOrderID: ev.SellOrderID,
		Price:      ev.Price,
		Qty:        ev.Qty,
		TradeMoney: money,
		ActiveSide: activeSide,
	})
	if ev.Price > 0 {
		e.lastPrice = ev.Price
	}

	if activeSide == ActiveNone {
		return nil
	}
	if activeID <= 0 {
		return fmt.Errorf("%w: %s order id on trade (biz_index=%d)", ErrMissingField, side, ev.BizIndex)
	}

	if ctx, ok := e.cache.Get(activeID); ok {
		if err := ctx.AddTradeQty(ev.Qty); err != nil {
			e.rejected++
			return nil
		}
		ctx.LastTradePrice = ev.Price
		return nil
	}
	if ev.Qty < 0 {
		e.rejected++
		return nil
	}
	// First appearance is a trade: the order was born crossing the
	// spread. This fixes IsAggressive for the rest of its life.
	e.cache.Put(&OrderContext{
		OrderID:        activeID,
		Side:           side,
		FirstTime:      ev.TickTime,
		FirstBizIndex:  ev.BizIndex,
		TradeQty:       ev.Qty,
		LastTradePrice: ev.Price,
		IsAggressive:   true,
	})
	return nil
}

// handleAdd accumulates a posted remainder onto a trade-born order, or
// creates a fresh passive order. A posting event names exactly one side.
func (e *Engine) handleAdd(ev *TickEvent) error {
	orderID, side, err := resolveSingleSide(ev)
	if err != nil {
		return err
	}

	if ctx, ok := e.cache.Get(orderID); ok {
		// Already seen as a trade: the unfilled remainder is posting.
		// IsAggressive stays as set at birth.
		if err := ctx.AddRestingQty(ev.Qty); err != nil {
			e.rejected++
			return nil
		}
		ctx.RestingPrice = ev.Price
		ctx.HasResting = true
		return nil
	}
	if ev.Qty < 0 {
		e.rejected++
		return nil
	}
	e.cache.Put(&OrderContext{
		OrderID:       orderID,
		Side:          side,
		FirstTime:     ev.TickTime,
		FirstBizIndex: ev.BizIndex,
		RestingQty:    ev.Qty,
		RestingPrice:  ev.Price,
		IsAggressive:  false,
		HasResting:    true,
	})
	return nil
}

// handleDelete emits a cancel record immediately, carrying the delete
// event's own sequence coordinates. The cancellation's own price field is
// unreliable, so the price resolves through a three-level fallback; the
// cache entry, if any, is read but never modified — the order still
// settles later with its full pre-cancellation size.
func (e *Engine) handleDelete(ev *TickEvent) error {
	orderID, side, err := resolveSingleSide(ev)
	if err != nil {
		return err
	}

	price := ev.Price
	if price <= 0 {
		if ctx, ok := e.cache.Get(orderID); ok {
			price = ctx.EffectivePrice()
		} else {
			price = e.lastPrice
		}
	}

	e.orders = append(e.orders, OrderRecord{
		SecurityID:   e.securityID,
		BizIndex:     ev.BizIndex,
		TickTime:     ev.TickTime,
		OrderID:      orderID,
		OrderType:    OrderCancel,
		Side:         side,
		Price:        price,
		Qty:          ev.Qty,
		IsAggressive: nil,
	})
	return nil
}

// settle flushes the cache into committed New records. First-seen
// coordinates place the order where it entered the feed; entries that
// never accumulated quantity are dropped.
func (e *Engine) settle() {
	e.cache.Each(func(ctx *OrderContext) {
		total := ctx.TotalQty()
		if total <= 0 {
			return
		}
		agg := ctx.IsAggressive
		e.orders = append(e.orders, OrderRecord{
			SecurityID:   e.securityID,
			BizIndex:     ctx.FirstBizIndex,
			TickTime:     ctx.FirstTime,
			OrderID:      ctx.OrderID,
			OrderType:    OrderNew,
			Side:         ctx.Side,
			Price:        ctx.EffectivePrice(),
			Qty:          total,
			IsAggressive: &agg,
		})
	})
}

// resolveSingleSide picks the order id named by a posting or cancel
// event. The flag is B or S on well-formed rows; the exchange's own
// convention treats anything else as sell.
func resolveSingleSide(ev *TickEvent) (int64, Side, error) {
	orderID, side := ev.SellOrderID, Sell
	if ev.ActiveFlag == FlagBuy {
		orderID, side = ev.BuyOrderID, Buy
	}
	if orderID <= 0 {
		return 0, side, fmt.Errorf("%w: %s order id on %s (biz_index=%d)",
			ErrMissingField, side, ev.Type, ev.BizIndex)
	}
	return orderID, side, nil
}

func sortByTime[T any](s []T, key func(*T) (int64, int64)) {
	sort.SliceStable(s, func(i, j int) bool {
		ti, bi := key(&s[i])
		tj, bj := key(&s[j])
		if ti != tj {
			return ti < tj
		}
		return bi < bj
	})
}

// Reconstruct is the per-security driver: one engine, one pass, ordered
// results.
func Reconstruct(securityID string, events []TickEvent, session SessionFilter) ([]OrderRecord, []TradeRecord, error) {
	return NewEngine(securityID, session).Reconstruct(events)
}
