// Package reconcile implements the position-reconciliation state
// machine: driving an arbitrary current broker position (sign, size,
// active stops) to a declared target by issuing the minimum necessary
// market and conditional orders, then waiting for settlement.
package reconcile

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"signaldispatcher/internal/broker"
)

// Reconciler drives a broker.Adapter's state toward a target position.
// It holds no state of its own — every call is a pure function of the
// adapter's current truth, matching spec §4.3's "re-reconcile from
// ground truth" failure philosophy.
type Reconciler struct {
	adapter            broker.Adapter
	settlementAttempts int
	settlementDelay    time.Duration
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithSettlement overrides the default settlement polling budget.
func WithSettlement(attempts int, delay time.Duration) Option {
	return func(r *Reconciler) {
		r.settlementAttempts = attempts
		r.settlementDelay = delay
	}
}

// New creates a Reconciler over adapter using the spec-mandated
// settlement defaults (20 attempts, 250ms) unless overridden.
func New(adapter broker.Adapter, opts ...Option) *Reconciler {
	r := &Reconciler{
		adapter:            adapter,
		settlementAttempts: broker.DefaultSettlementAttempts,
		settlementDelay:    broker.DefaultSettlementDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Input bundles the parameters to Ensure (spec §4.3).
type Input struct {
	Info            *broker.InstrumentInfo
	Init            *broker.Position
	Desired         broker.PositionIntent
	LeveragePercent decimal.Decimal
	ReserveCapital  decimal.Decimal
	StopPrice       *decimal.Decimal
	TakePrice       *decimal.Decimal
}

// Result is Ensure's output: the settled position plus every order
// issued along the way.
type Result struct {
	Final  *broker.Position
	Orders []broker.EnsureOrder
}

// Ensure drives the broker toward in.Desired, issuing market orders to
// flip/open/close the position and refreshing protective stops as
// needed. See spec §4.3 for the full transition table and stop
// refresh policy; this implementation follows it transition by
// transition.
func (r *Reconciler) Ensure(ctx context.Context, in Input) (*Result, error) {
	q := broker.Quantity(in.Init)
	initStops, err := r.adapter.GetCurrentStopOrders(ctx, in.Info)
	if err != nil {
		return nil, err
	}

	var orders []broker.EnsureOrder
	var expectedQty int64

	switch in.Desired {
	case broker.PositionLong:
		expectedQty, orders, err = r.ensureLong(ctx, in, q, initStops)
	case broker.PositionShort:
		expectedQty, orders, err = r.ensureShort(ctx, in, q, initStops)
	case broker.PositionFlat:
		expectedQty, orders, err = r.ensureFlat(ctx, in, q)
	default:
		return nil, broker.New(broker.ErrInvalidPositionDirection, "unknown desired position "+string(in.Desired))
	}
	if err != nil {
		return nil, err
	}

	quantityChanged := expectedQty != q

	final, err := r.adapter.GetPositionWaitingForSettlement(ctx, in.Info, expectedQty, r.settlementAttempts, r.settlementDelay)
	if err != nil {
		return nil, err
	}

	finalStops, err := r.adapter.GetCurrentStopOrders(ctx, in.Info)
	if err != nil {
		return nil, err
	}

	if quantityChanged || stopsNeedUpdate(finalStops, in.StopPrice, in.TakePrice) {
		stopOrders, err := r.refreshStops(ctx, in.Info, finalStops, broker.Quantity(final), in.StopPrice, in.TakePrice)
		if err != nil {
			return nil, err
		}
		orders = append(orders, stopOrders...)
	}

	return &Result{Final: final, Orders: orders}, nil
}

// ensureLong handles desired == long (three rows of the spec's
// transition table collapse into one function: flip-from-short,
// open-from-flat, no-op-if-already-long).
func (r *Reconciler) ensureLong(ctx context.Context, in Input, q int64, initStops []broker.StopOrder) (int64, []broker.EnsureOrder, error) {
	var orders []broker.EnsureOrder

	if q > 0 {
		return q, orders, nil // already long: no trades
	}

	if q < 0 {
		if err := r.adapter.CancelStopOrders(ctx, initStops); err != nil {
			return 0, nil, err
		}
		id, err := r.adapter.PlaceMarketOrder(ctx, in.Info, broker.DirectionBuy, -q)
		if err != nil {
			return 0, nil, err
		}
		orders = append(orders, broker.EnsureOrder{Type: broker.OrderTypeBuy, Quantity: -q, OrderID: id, Action: broker.ActionCloseShort})
	}

	n, err := r.adapter.CalculatePositionSize(ctx, in.Info, in.LeveragePercent, in.ReserveCapital, broker.DirectionBuy)
	if err != nil {
		return 0, nil, err
	}
	if n > 0 {
		id, err := r.adapter.PlaceMarketOrder(ctx, in.Info, broker.DirectionBuy, n)
		if err != nil {
			return 0, nil, err
		}
		orders = append(orders, broker.EnsureOrder{Type: broker.OrderTypeBuy, Quantity: n, OrderID: id, Action: broker.ActionOpenLong})
	}
	return n, orders, nil
}

// ensureShort mirrors ensureLong for the short side.
func (r *Reconciler) ensureShort(ctx context.Context, in Input, q int64, initStops []broker.StopOrder) (int64, []broker.EnsureOrder, error) {
	var orders []broker.EnsureOrder

	if q < 0 {
		return q, orders, nil // already short: no trades
	}

	if q > 0 {
		if err := r.adapter.CancelStopOrders(ctx, initStops); err != nil {
			return 0, nil, err
		}
		id, err := r.adapter.PlaceMarketOrder(ctx, in.Info, broker.DirectionSell, q)
		if err != nil {
			return 0, nil, err
		}
		orders = append(orders, broker.EnsureOrder{Type: broker.OrderTypeSell, Quantity: q, OrderID: id, Action: broker.ActionCloseLong})
	}

	n, err := r.adapter.CalculatePositionSize(ctx, in.Info, in.LeveragePercent, in.ReserveCapital, broker.DirectionSell)
	if err != nil {
		return 0, nil, err
	}
	if n > 0 {
		id, err := r.adapter.PlaceMarketOrder(ctx, in.Info, broker.DirectionSell, n)
		if err != nil {
			return 0, nil, err
		}
		orders = append(orders, broker.EnsureOrder{Type: broker.OrderTypeSell, Quantity: n, OrderID: id, Action: broker.ActionOpenShort})
	}
	return -n, orders, nil
}

// ensureFlat closes whatever position exists; absent/zero is a no-op.
func (r *Reconciler) ensureFlat(ctx context.Context, in Input, q int64) (int64, []broker.EnsureOrder, error) {
	var orders []broker.EnsureOrder

	switch {
	case q > 0:
		id, err := r.adapter.PlaceMarketOrder(ctx, in.Info, broker.DirectionSell, q)
		if err != nil {
			return 0, nil, err
		}
		orders = append(orders, broker.EnsureOrder{Type: broker.OrderTypeSell, Quantity: q, OrderID: id, Action: broker.ActionCloseLong})
	case q < 0:
		id, err := r.adapter.PlaceMarketOrder(ctx, in.Info, broker.DirectionBuy, -q)
		if err != nil {
			return 0, nil, err
		}
		orders = append(orders, broker.EnsureOrder{Type: broker.OrderTypeBuy, Quantity: -q, OrderID: id, Action: broker.ActionCloseShort})
	}
	return 0, orders, nil
}

// refreshStops cancels the broker's current stop-class orders and
// installs fresh ones sized to finalQty, per the requested triggers.
func (r *Reconciler) refreshStops(ctx context.Context, info *broker.InstrumentInfo, current []broker.StopOrder, finalQty int64, stopPrice, takePrice *decimal.Decimal) ([]broker.EnsureOrder, error) {
	if err := r.adapter.CancelStopOrders(ctx, current); err != nil {
		return nil, err
	}
	if finalQty == 0 {
		return nil, nil
	}

	dir := broker.DirectionSell
	qty := finalQty
	if finalQty < 0 {
		dir = broker.DirectionBuy
		qty = -finalQty
	}

	var orders []broker.EnsureOrder
	if stopPrice != nil {
		id, err := r.adapter.PlaceStopLossOrder(ctx, info, dir, qty, *stopPrice)
		if err != nil {
			return nil, err
		}
		orders = append(orders, broker.EnsureOrder{Type: broker.OrderTypeStopLoss, Quantity: qty, OrderID: id, Price: *stopPrice})
	}
	if takePrice != nil {
		id, err := r.adapter.PlaceTakeProfitOrder(ctx, info, dir, qty, *takePrice)
		if err != nil {
			return nil, err
		}
		orders = append(orders, broker.EnsureOrder{Type: broker.OrderTypeTakeProfit, Quantity: qty, OrderID: id, Price: *takePrice})
	}
	return orders, nil
}

// stopsNeedUpdate implements the refresh predicate from spec §4.3.
func stopsNeedUpdate(current []broker.StopOrder, stopPrice, takePrice *decimal.Decimal) bool {
	var stopLosses, takeProfits []broker.StopOrder
	for _, o := range current {
		switch o.OrderType {
		case broker.StopOrderStopLoss:
			stopLosses = append(stopLosses, o)
		case broker.StopOrderTakeProfit:
			takeProfits = append(takeProfits, o)
		}
	}

	if len(stopLosses) > 1 || len(takeProfits) > 1 {
		return true
	}
	if len(stopLosses) == 1 && !priceEquals(stopLosses[0].StopPrice, stopPrice) {
		return true
	}
	if len(stopLosses) == 0 && stopPrice != nil {
		return true
	}
	if len(takeProfits) == 1 && !priceEquals(takeProfits[0].StopPrice, takePrice) {
		return true
	}
	if len(takeProfits) == 0 && takePrice != nil {
		return true
	}
	return false
}

// priceEquals treats absent as a value distinct from any price,
// matching spec §4.3's "absent treated as a distinct value".
func priceEquals(a, b *decimal.Decimal) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.Equal(*b)
}
