package broker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// SettlementDefaults are the required polling defaults for
// GetPositionWaitingForSettlement (spec §4.1).
const (
	DefaultSettlementAttempts = 20
	DefaultSettlementDelay    = 250 * time.Millisecond
)

// Adapter abstracts one brokerage account: instrument lookup, position
// and balance queries, and order placement. Every method may fail with
// a *TradingError. Implementations must be safe for concurrent use by
// multiple dispatcher workers (spec §5) since one Adapter instance is
// shared across all keys of one account.
type Adapter interface {
	GetInstrumentInfo(ctx context.Context, id string) (*InstrumentInfo, error)
	GetPosition(ctx context.Context, info *InstrumentInfo) (*Position, error)

	// GetPositionWaitingForSettlement polls GetPosition until the
	// position matches expectedQty (see Settled / spec §4.1), failing
	// with PositionSettlementTimeout after maxAttempts.
	GetPositionWaitingForSettlement(ctx context.Context, info *InstrumentInfo, expectedQty int64, maxAttempts int, delay time.Duration) (*Position, error)

	GetMoneyBalance(ctx context.Context, currency string) (decimal.Decimal, error)
	GetLastPrice(ctx context.Context, info *InstrumentInfo) (decimal.Decimal, error)

	// CalculatePositionSize returns the number of lots to open for
	// direction under the given leverage and reserve capital (§4.2).
	CalculatePositionSize(ctx context.Context, info *InstrumentInfo, leveragePercent, reserveCapital decimal.Decimal, dir Direction) (int64, error)

	PlaceMarketOrder(ctx context.Context, info *InstrumentInfo, dir Direction, qty int64) (string, error)
	PlaceStopLossOrder(ctx context.Context, info *InstrumentInfo, dir Direction, qty int64, stopPrice decimal.Decimal) (string, error)
	PlaceTakeProfitOrder(ctx context.Context, info *InstrumentInfo, dir Direction, qty int64, targetPrice decimal.Decimal) (string, error)
	CancelStopOrders(ctx context.Context, orders []StopOrder) error
	GetCurrentStopOrders(ctx context.Context, info *InstrumentInfo) ([]StopOrder, error)

	// PullEnsureOrdersResult hydrates Fill on every buy/sell order in
	// orders, failing with OrderTradeNotFound if a fill can't be
	// located.
	PullEnsureOrdersResult(ctx context.Context, orders []EnsureOrder, info *InstrumentInfo) ([]EnsureOrder, error)
}
