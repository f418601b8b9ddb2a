// Package broker defines the capability contract a reconciliation
// engine drives: instrument lookup, position and balance queries, and
// order placement against a brokerage account. Concrete wire-level
// implementations live under internal/brokers/.
package broker

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is a trade side.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// PositionIntent is the target position a signal declares.
type PositionIntent string

const (
	PositionLong  PositionIntent = "long"
	PositionShort PositionIntent = "short"
	PositionFlat  PositionIntent = "flat"
)

// OrderType tags the kind of order an EnsureOrder represents.
type OrderType string

const (
	OrderTypeBuy        OrderType = "buy"
	OrderTypeSell       OrderType = "sell"
	OrderTypeStopLoss   OrderType = "stop_loss"
	OrderTypeTakeProfit OrderType = "take_profit"
)

// OrderAction tags why a trade-class order was issued.
type OrderAction string

const (
	ActionOpenLong   OrderAction = "open_long"
	ActionOpenShort  OrderAction = "open_short"
	ActionCloseLong  OrderAction = "close_long"
	ActionCloseShort OrderAction = "close_short"
)

// StopOrderType tags an observed conditional order.
type StopOrderType string

const (
	StopOrderStopLoss   StopOrderType = "stop_loss"
	StopOrderTakeProfit StopOrderType = "take_profit"
)

// InstrumentInfo describes a tradeable instrument's contract terms.
type InstrumentInfo struct {
	ID           string
	Name         string
	Type         string
	Currency     string
	LotSize      decimal.Decimal
	MinPriceStep decimal.Decimal
	MarginLong   *decimal.Decimal
	MarginShort  *decimal.Decimal
}

// MarginPerLot returns the per-lot margin requirement for direction,
// or nil if the adapter did not supply one (without a max-lots value
// the balance bound is then skipped and only the leverage bound
// applies — see sizing.go).
func (i InstrumentInfo) MarginPerLot(dir Direction) *decimal.Decimal {
	switch dir {
	case DirectionBuy:
		return i.MarginLong
	case DirectionSell:
		return i.MarginShort
	default:
		return nil
	}
}

// Position is a broker-reported holding. A nil *Position denotes flat.
type Position struct {
	Instrument   string
	Quantity     int64 // signed lots: >0 long, <0 short
	AveragePrice decimal.Decimal
}

// Settled reports whether the broker has finished posting this
// position (a non-flat position with a zero average price has not
// yet settled per the data model invariant in spec §3).
func (p *Position) Settled() bool {
	if p == nil {
		return true
	}
	return p.Quantity == 0 || !p.AveragePrice.IsZero()
}

// Quantity returns 0 for an absent (flat) position, matching the
// "absence ≡ flat" convention used throughout the reconciler.
func Quantity(p *Position) int64 {
	if p == nil {
		return 0
	}
	return p.Quantity
}

// Fill records a trade-class order's execution.
type Fill struct {
	Date  time.Time
	Price decimal.Decimal
}

// EnsureOrder is one order issued (or installed) during reconciliation.
type EnsureOrder struct {
	Type     OrderType
	Quantity int64 // always positive
	OrderID  string
	Action   OrderAction     // set for buy/sell legs
	Price    decimal.Decimal // set for stop_loss/take_profit legs
	Fill     *Fill           // populated by PullEnsureOrdersResult for buy/sell legs
	Slippage *Slippage       // populated by the processor, not the reconciler
}

// Slippage captures the deviation between a signal's advertised entry
// and the broker-reported fill for one trade-class order.
type Slippage struct {
	PriceSlippage decimal.Decimal
	TimeSlippage  time.Duration
}

// StopOrder is a conditional order observed live at the broker.
type StopOrder struct {
	OrderID   string
	OrderType StopOrderType
	Direction Direction
	Quantity  int64
	StopPrice *decimal.Decimal
}
