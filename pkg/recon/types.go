// Package recon rebuilds canonical order and trade tables from a merged
// intraday tick feed. Exchanges that publish this format interleave trade
// executions, order postings, cancellations and status markers in one
// stream and never emit an explicit order lifecycle record; order
// existence, side, aggressor role and original size have to be inferred
// from the event sequence alone.
package recon

import (
	"errors"
	"fmt"
)

// EventType classifies a raw tick feed row.
type EventType uint8

const (
	EventUnknown EventType = iota
	EventTrade
	EventAdd
	EventDelete
	EventStatus
)

// ParseEventType maps the feed's single-letter type codes. Anything
// unrecognized maps to EventUnknown, which the engine ignores the same
// way it ignores status rows.
func ParseEventType(code string) EventType {
	switch code {
	case "T":
		return EventTrade
	case "A":
		return EventAdd
	case "D":
		return EventDelete
	case "S":
		return EventStatus
	default:
		return EventUnknown
	}
}

func (t EventType) String() string {
	switch t {
	case EventTrade:
		return "Trade"
	case EventAdd:
		return "Add"
	case EventDelete:
		return "Delete"
	case EventStatus:
		return "Status"
	default:
		return "Unknown"
	}
}

// ActiveFlag identifies which side, if any, is the liquidity taker for an
// event. Auction-matched trades carry no aggressor.
type ActiveFlag uint8

const (
	FlagAuction ActiveFlag = iota
	FlagBuy
	FlagSell
)

// ParseActiveFlag maps the feed's B/S/N flag. Anything other than B or S
// is treated as the auction flag, matching the exchange's convention.
func ParseActiveFlag(code string) ActiveFlag {
	switch code {
	case "B":
		return FlagBuy
	case "S":
		return FlagSell
	default:
		return FlagAuction
	}
}

// Side is the order side on reconstructed records.
type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "Buy"
	}
	return "Sell"
}

// MarshalJSON emits the wire strings "Buy"/"Sell" expected by downstream
// consumers of the order table.
func (s Side) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *Side) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case `"Buy"`:
		*s = Buy
	case `"Sell"`:
		*s = Sell
	default:
		return fmt.Errorf("invalid side %s", b)
	}
	return nil
}

// OrderType distinguishes the two kinds of reconstructed order rows.
type OrderType string

const (
	OrderNew    OrderType = "New"
	OrderCancel OrderType = "Cancel"
)

// Aggressor encoding on trade records.
const (
	ActiveNone int8 = 0 // auction match, no aggressor
	ActiveBuy  int8 = 1
	ActiveSell int8 = 2
)

// TickEvent is one row of the merged feed. BizIndex is the exchange's
// per-security monotonic sequence number and the authoritative ordering
// key; TickTime is HHMMSSmmm and not unique within a millisecond.
type TickEvent struct {
	SecurityID  string
	BizIndex    int64
	TickTime    int64
	Type        EventType
	BuyOrderID  int64
	SellOrderID int64
	Price       float64
	Qty         int64
	TradeMoney  float64
	ActiveFlag  ActiveFlag
}

// ErrMissingField marks an event that lacks a field its type requires.
var ErrMissingField = errors.New("missing required field")

// Validate fails fast on fields every event must carry. Order ids are
// checked later, at aggressor resolution, because which id is required
// depends on the event type and auction phase.
func (e *TickEvent) Validate() error {
	if e.SecurityID == "" {
		return fmt.Errorf("%w: SecurityID", ErrMissingField)
	}
	if e.BizIndex <= 0 {
		return fmt.Errorf("%w: BizIndex (biz_index=%d)", ErrMissingField, e.BizIndex)
	}
	if e.TickTime <= 0 {
		return fmt.Errorf("%w: TickTime (biz_index=%d)", ErrMissingField, e.BizIndex)
	}
	return nil
}

// OrderRecord is one row of the reconstructed order table. IsAggressive
// is nil exactly when OrderType is Cancel.
type OrderRecord struct {
	SecurityID   string    `json:"securityId"`
	BizIndex     int64     `json:"bizIndex"`
	TickTime     int64     `json:"tickTime"`
	OrderID      int64     `json:"orderId"`
	OrderType    OrderType `json:"orderType"`
	Side         Side      `json:"side"`
	Price        float64   `json:"price"`
	Qty          int64     `json:"qty"`
	IsAggressive *bool     `json:"isAggressive"`
}

// TradeRecord is one row of the normalized trade table.
type TradeRecord struct {
	SecurityID string  `json:"securityId"`
	BizIndex   int64   `json:"bizIndex"`
	TickTime   int64   `json:"tickTime"`
	BidOrderID int64   `json:"bidOrderId"`
	AskOrderID int64   `json:"askOrderId"`
	Price      float64 `json:"price"`
	Qty        int64   `json:"qty"`
	TradeMoney float64 `json:"tradeMoney"`
	ActiveSide int8    `json:"activeSide"`
}
