package recon

import (
	"errors"
	"testing"
)

const testSecurity = "600519"

func trade(biz, tick int64, buyID, sellID int64, price float64, qty int64, flag ActiveFlag) TickEvent {
	return TickEvent{
		SecurityID: testSecurity, BizIndex: biz, TickTime: tick, Type: EventTrade,
		BuyOrderID: buyID, SellOrderID: sellID, Price: price, Qty: qty, ActiveFlag: flag,
	}
}

func add(biz, tick int64, buyID, sellID int64, price float64, qty int64, flag ActiveFlag) TickEvent {
	return TickEvent{
		SecurityID: testSecurity, BizIndex: biz, TickTime: tick, Type: EventAdd,
		BuyOrderID: buyID, SellOrderID: sellID, Price: price, Qty: qty, ActiveFlag: flag,
	}
}

func del(biz, tick int64, buyID, sellID int64, price float64, qty int64, flag ActiveFlag) TickEvent {
	return TickEvent{
		SecurityID: testSecurity, BizIndex: biz, TickTime: tick, Type: EventDelete,
		BuyOrderID: buyID, SellOrderID: sellID, Price: price, Qty: qty, ActiveFlag: flag,
	}
}

func mustReconstruct(t *testing.T, events []TickEvent) ([]OrderRecord, []TradeRecord) {
	t.Helper()
	orders, trades, err := Reconstruct(testSecurity, events, ShanghaiSessions())
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	return orders, trades
}

func filterOrders(orders []OrderRecord, typ OrderType) []OrderRecord {
	var out []OrderRecord
	for _, o := range orders {
		if o.OrderType == typ {
			out = append(out, o)
		}
	}
	return out
}

// Single trade, fully filled on arrival: the buy order never posts and is
// reconstructed purely from its execution.
func TestImmediateFullFill(t *testing.T) {
	orders, trades := mustReconstruct(t, []TickEvent{
		trade(100, 93000100, 1001, 2001, 50.5, 1000, FlagBuy),
	})

	if len(orders) != 1 || len(trades) != 1 {
		t.Fatalf("got %d orders, %d trades, want 1 and 1", len(orders), len(trades))
	}
	o := orders[0]
	if o.OrderType != OrderNew || o.Side != Buy || o.Qty != 1000 || o.OrderID != 1001 {
		t.Errorf("unexpected order record: %+v", o)
	}
	if o.IsAggressive == nil || !*o.IsAggressive {
		t.Error("immediate full fill must settle as aggressive")
	}
	if o.Price != 50.5 {
		t.Errorf("price = %v, want 50.5 (last trade price fallback)", o.Price)
	}
	if trades[0].ActiveSide != ActiveBuy {
		t.Errorf("activeSide = %d, want %d", trades[0].ActiveSide, ActiveBuy)
	}
	if trades[0].TradeMoney != 50.5*1000 {
		t.Errorf("tradeMoney = %v, want computed price*qty", trades[0].TradeMoney)
	}
}

// Partial fill then posted remainder: trade arrives before the add, both
// fold into one New record that keeps the birth-mode aggressive flag and
// the posted price.
func TestPartialFillThenPost(t *testing.T) {
	orders, _ := mustReconstruct(t, []TickEvent{
		trade(200, 93001000, 1002, 2002, 60.0, 600, FlagBuy),
		add(201, 93001100, 1002, 0, 60.5, 400, FlagBuy),
	})

	news := filterOrders(orders, OrderNew)
	if len(news) != 1 {
		t.Fatalf("got %d New records, want 1", len(news))
	}
	o := news[0]
	if o.Qty != 1000 {
		t.Errorf("qty = %d, want 600+400=1000", o.Qty)
	}
	if o.Price != 60.5 {
		t.Errorf("price = %v, want posted 60.5", o.Price)
	}
	if o.IsAggressive == nil || !*o.IsAggressive {
		t.Error("later posting must not clear the aggressive birth mode")
	}
	if o.BizIndex != 200 || o.TickTime != 93001000 {
		t.Errorf("settled record must keep first-seen coordinates, got biz=%d time=%d", o.BizIndex, o.TickTime)
	}
}

// A lone posting settles as a passive order and emits no trades.
func TestPurePassivePost(t *testing.T) {
	orders, trades := mustReconstruct(t, []TickEvent{
		add(300, 93002000, 0, 3001, 45.0, 2000, FlagSell),
	})

	if len(trades) != 0 {
		t.Fatalf("got %d trades, want 0", len(trades))
	}
	if len(orders) != 1 {
		t.Fatalf("got %d orders, want 1", len(orders))
	}
	o := orders[0]
	if o.Side != Sell || o.Qty != 2000 || o.OrderID != 3001 {
		t.Errorf("unexpected order record: %+v", o)
	}
	if o.IsAggressive == nil || *o.IsAggressive {
		t.Error("pure posting must settle as passive")
	}
}

// Cancel and settlement are independent ledgers: the delete emits a
// cancel priced from the cache, and the order still settles with its full
// pre-cancellation size.
func TestCancelLeavesCacheUntouched(t *testing.T) {
	orders, _ := mustReconstruct(t, []TickEvent{
		add(400, 93003000, 4001, 0, 70.0, 1000, FlagBuy),
		del(401, 93003500, 4001, 0, 0, 500, FlagBuy),
	})

	cancels := filterOrders(orders, OrderCancel)
	news := filterOrders(orders, OrderNew)
	if len(cancels) != 1 || len(news) != 1 {
		t.Fatalf("got %d cancels, %d news, want 1 and 1", len(cancels), len(news))
	}

	c := cancels[0]
	if c.Price != 70.0 {
		t.Errorf("cancel price = %v, want 70.0 from cache", c.Price)
	}
	if c.IsAggressive != nil {
		t.Error("cancel records carry no aggressive flag")
	}
	if c.BizIndex != 401 || c.TickTime != 93003500 {
		t.Error("cancel must carry the delete event's own coordinates")
	}
	if c.Qty != 500 {
		t.Errorf("cancel qty = %d, want 500", c.Qty)
	}

	n := news[0]
	if n.Qty != 1000 || n.Price != 70.0 {
		t.Errorf("settled order = qty %d price %v, want full 1000 @ 70.0", n.Qty, n.Price)
	}
	if n.IsAggressive == nil || *n.IsAggressive {
		t.Error("posted order must settle passive")
	}
}

func TestCancelPriceFallbackLevels(t *testing.T) {
	t.Run("own price wins", func(t *testing.T) {
		orders, _ := mustReconstruct(t, []TickEvent{
			add(500, 93004000, 5001, 0, 80.0, 100, FlagBuy),
			del(501, 93004100, 5001, 0, 81.5, 100, FlagBuy),
		})
		if c := filterOrders(orders, OrderCancel)[0]; c.Price != 81.5 {
			t.Errorf("cancel price = %v, want event's own 81.5", c.Price)
		}
	})

	t.Run("last trade price for unknown order", func(t *testing.T) {
		orders, _ := mustReconstruct(t, []TickEvent{
			trade(600, 93005000, 6001, 6002, 99.0, 100, FlagBuy),
			del(601, 93005100, 7777, 0, 0, 100, FlagBuy),
		})
		if c := filterOrders(orders, OrderCancel)[0]; c.Price != 99.0 {
			t.Errorf("cancel price = %v, want last trade 99.0", c.Price)
		}
	})

	t.Run("no price knowable", func(t *testing.T) {
		orders, _ := mustReconstruct(t, []TickEvent{
			del(700, 93006000, 8888, 0, 0, 100, FlagBuy),
		})
		if c := filterOrders(orders, OrderCancel)[0]; c.Price != 0 {
			t.Errorf("cancel price = %v, want 0 when nothing is knowable", c.Price)
		}
	})
}

// The last trade price survives the lunch break; an afternoon cancel of an
// unknown order falls back to the morning's last execution.
func TestLastPriceCarriesAcrossSessions(t *testing.T) {
	orders, _ := mustReconstruct(t, []TickEvent{
		trade(800, 112900000, 8001, 8002, 55.5, 100, FlagBuy),
		del(801, 130100000, 9999, 0, 0, 100, FlagBuy),
	})
	if c := filterOrders(orders, OrderCancel)[0]; c.Price != 55.5 {
		t.Errorf("cancel price = %v, want morning's 55.5", c.Price)
	}
}

// Auction matches emit trades with no aggressor and never touch the cache.
func TestAuctionTradeHasNoAggressor(t *testing.T) {
	orders, trades := mustReconstruct(t, []TickEvent{
		trade(900, 93007000, 9001, 9002, 30.0, 500, FlagAuction),
	})
	if len(trades) != 1 || trades[0].ActiveSide != ActiveNone {
		t.Fatalf("want exactly one trade with activeSide 0, got %+v", trades)
	}
	if len(orders) != 0 {
		t.Errorf("auction trades must not reconstruct orders, got %+v", orders)
	}
}

func TestFilteredEventsProduceNoOutput(t *testing.T) {
	tests := []struct {
		name string
		ev   TickEvent
	}{
		{"status row", TickEvent{SecurityID: testSecurity, BizIndex: 1, TickTime: 93000000, Type: EventStatus}},
		{"unknown type", TickEvent{SecurityID: testSecurity, BizIndex: 2, TickTime: 93000000, Type: EventUnknown}},
		{"open call auction trade", trade(3, 92500000, 1, 2, 10.0, 100, FlagBuy)},
		{"lunch break add", add(4, 120000000, 5, 0, 10.0, 100, FlagBuy)},
		{"after close delete", del(5, 150000000, 6, 0, 10.0, 100, FlagBuy)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders, trades := mustReconstruct(t, []TickEvent{tt.ev})
			if len(orders) != 0 || len(trades) != 0 {
				t.Errorf("got %d orders, %d trades, want none", len(orders), len(trades))
			}
		})
	}
}

func TestSourceTradeMoneyPreserved(t *testing.T) {
	ev := trade(100, 93000100, 1, 2, 50.0, 100, FlagBuy)
	ev.TradeMoney = 4999.5 // source value wins even when it disagrees with price*qty
	_, trades := mustReconstruct(t, []TickEvent{ev})
	if trades[0].TradeMoney != 4999.5 {
		t.Errorf("tradeMoney = %v, want source 4999.5", trades[0].TradeMoney)
	}
}

// Events arrive unsorted and share a millisecond; BizIndex is the true
// total order, so the trade at biz 100 must be seen before the add at 101.
func TestBizIndexBreaksTimestampTies(t *testing.T) {
	orders, _ := mustReconstruct(t, []TickEvent{
		add(101, 93000100, 1002, 0, 60.5, 400, FlagBuy),
		trade(100, 93000100, 1002, 2002, 60.0, 600, FlagBuy),
	})
	news := filterOrders(orders, OrderNew)
	if len(news) != 1 {
		t.Fatalf("got %d New records, want 1", len(news))
	}
	if news[0].IsAggressive == nil || !*news[0].IsAggressive {
		t.Error("first appearance by BizIndex is the trade, order must settle aggressive")
	}
	if news[0].Qty != 1000 {
		t.Errorf("qty = %d, want 1000", news[0].Qty)
	}
}

func TestOutputOrdering(t *testing.T) {
	orders, trades := mustReconstruct(t, []TickEvent{
		add(706, 93000600, 0, 8004, 98.0, 600, FlagSell),
		trade(705, 93000500, 0, 7003, 102.0, 150, FlagSell),
		del(704, 93000400, 7001, 0, 0, 200, FlagBuy),
		add(703, 93000300, 0, 8003, 99.0, 400, FlagSell),
		trade(702, 93000200, 7002, 8002, 101.0, 200, FlagBuy),
		add(701, 93000100, 7001, 0, 100.5, 300, FlagBuy),
		trade(700, 93000000, 7001, 8001, 100.0, 500, FlagBuy),
	})

	for i := 1; i < len(orders); i++ {
		a, b := orders[i-1], orders[i]
		if a.TickTime > b.TickTime || (a.TickTime == b.TickTime && a.BizIndex > b.BizIndex) {
			t.Fatalf("orders out of (tickTime, bizIndex) order at %d: %+v then %+v", i, a, b)
		}
	}
	for i := 1; i < len(trades); i++ {
		a, b := trades[i-1], trades[i]
		if a.TickTime > b.TickTime || (a.TickTime == b.TickTime && a.BizIndex > b.BizIndex) {
			t.Fatalf("trades out of (tickTime, bizIndex) order at %d", i)
		}
	}

	if got := len(trades); got != 3 {
		t.Errorf("trade count = %d, want 3", got)
	}
	if got := len(filterOrders(orders, OrderCancel)); got != 1 {
		t.Errorf("cancel count = %d, want 1", got)
	}
	// 7001 (trade-born), 7002 (trade-born), 8003, 8004 settle; 7003's sell
	// trade is aggressor-side 7003 which also settles.
	if got := len(filterOrders(orders, OrderNew)); got != 5 {
		t.Errorf("new count = %d, want 5", got)
	}
}

func TestMissingOrderIDFailsFast(t *testing.T) {
	_, _, err := Reconstruct(testSecurity, []TickEvent{
		trade(100, 93000100, 0, 2001, 50.5, 1000, FlagBuy),
	}, ShanghaiSessions())
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("err = %v, want ErrMissingField", err)
	}
}

func TestMissingRequiredFieldFailsFast(t *testing.T) {
	tests := []struct {
		name string
		ev   TickEvent
	}{
		{"no security id", TickEvent{BizIndex: 1, TickTime: 93000000, Type: EventTrade, BuyOrderID: 1, SellOrderID: 2, ActiveFlag: FlagBuy}},
		{"no biz index", TickEvent{SecurityID: testSecurity, TickTime: 93000000, Type: EventTrade, BuyOrderID: 1, SellOrderID: 2, ActiveFlag: FlagBuy}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Reconstruct(testSecurity, []TickEvent{tt.ev}, ShanghaiSessions())
			if !errors.Is(err, ErrMissingField) {
				t.Fatalf("err = %v, want ErrMissingField", err)
			}
		})
	}
}

func TestNegativeQtyEventRejected(t *testing.T) {
	eng := NewEngine(testSecurity, ShanghaiSessions())
	orders, trades, err := eng.Reconstruct([]TickEvent{
		add(100, 93000000, 1001, 0, 70.0, 1000, FlagBuy),
		add(101, 93000100, 1001, 0, 70.0, -400, FlagBuy),
	})
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if eng.Rejected() != 1 {
		t.Errorf("rejected = %d, want 1", eng.Rejected())
	}
	if len(trades) != 0 {
		t.Errorf("got %d trades, want 0", len(trades))
	}
	if len(orders) != 1 || orders[0].Qty != 1000 {
		t.Errorf("settled qty must stay 1000, got %+v", orders)
	}
}
