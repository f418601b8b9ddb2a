package reconcile

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"signaldispatcher/internal/broker"
)

// mockAdapter is a hand-written broker.Adapter double for exercising
// Reconciler.Ensure deterministically. Market orders settle
// instantly: PlaceMarketOrder mutates qty in place, so
// GetPositionWaitingForSettlement's first poll already matches.
type mockAdapter struct {
	qty           int64
	avgPrice      decimal.Decimal
	stops         []broker.StopOrder
	lastPrice     decimal.Decimal
	lotSize       decimal.Decimal
	balance       decimal.Decimal
	nextOrderID   int
	placedOrders  []placedOrder
	cancelledAll  [][]broker.StopOrder
	settleTimeout bool
}

type placedOrder struct {
	kind string
	dir  broker.Direction
	qty  int64
}

func newMockAdapter(initQty int64) *mockAdapter {
	return &mockAdapter{
		qty:       initQty,
		lastPrice: decimal.NewFromInt(100),
		lotSize:   decimal.NewFromInt(1),
		balance:   decimal.NewFromInt(100000),
	}
}

func (m *mockAdapter) nextID() string {
	m.nextOrderID++
	return "order-" + decimal.NewFromInt(int64(m.nextOrderID)).String()
}

func (m *mockAdapter) GetInstrumentInfo(ctx context.Context, id string) (*broker.InstrumentInfo, error) {
	return &broker.InstrumentInfo{ID: id, LotSize: m.lotSize}, nil
}

func (m *mockAdapter) GetPosition(ctx context.Context, info *broker.InstrumentInfo) (*broker.Position, error) {
	if m.qty == 0 {
		return nil, nil
	}
	return &broker.Position{Instrument: info.ID, Quantity: m.qty, AveragePrice: m.avgPrice}, nil
}

func (m *mockAdapter) GetPositionWaitingForSettlement(ctx context.Context, info *broker.InstrumentInfo, expectedQty int64, maxAttempts int, delay time.Duration) (*broker.Position, error) {
	if m.settleTimeout {
		return nil, broker.New(broker.ErrPositionSettlementTimeout, "settlement timed out")
	}
	return m.GetPosition(ctx, info)
}

func (m *mockAdapter) GetMoneyBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	return m.balance, nil
}

func (m *mockAdapter) GetLastPrice(ctx context.Context, info *broker.InstrumentInfo) (decimal.Decimal, error) {
	return m.lastPrice, nil
}

func (m *mockAdapter) CalculatePositionSize(ctx context.Context, info *broker.InstrumentInfo, leveragePercent, reserveCapital decimal.Decimal, dir broker.Direction) (int64, error) {
	return broker.CalculatePositionSize(m.balance, m.lastPrice, m.lotSize, nil, nil, leveragePercent, reserveCapital), nil
}

func (m *mockAdapter) PlaceMarketOrder(ctx context.Context, info *broker.InstrumentInfo, dir broker.Direction, qty int64) (string, error) {
	delta := qty
	if dir == broker.DirectionSell {
		delta = -qty
	}
	m.qty += delta
	m.placedOrders = append(m.placedOrders, placedOrder{kind: "market", dir: dir, qty: qty})
	return m.nextID(), nil
}

func (m *mockAdapter) PlaceStopLossOrder(ctx context.Context, info *broker.InstrumentInfo, dir broker.Direction, qty int64, stopPrice decimal.Decimal) (string, error) {
	id := m.nextID()
	m.stops = append(m.stops, broker.StopOrder{OrderID: id, OrderType: broker.StopOrderStopLoss, Direction: dir, Quantity: qty, StopPrice: &stopPrice})
	return id, nil
}

func (m *mockAdapter) PlaceTakeProfitOrder(ctx context.Context, info *broker.InstrumentInfo, dir broker.Direction, qty int64, targetPrice decimal.Decimal) (string, error) {
	id := m.nextID()
	m.stops = append(m.stops, broker.StopOrder{OrderID: id, OrderType: broker.StopOrderTakeProfit, Direction: dir, Quantity: qty, StopPrice: &targetPrice})
	return id, nil
}

func (m *mockAdapter) CancelStopOrders(ctx context.Context, orders []broker.StopOrder) error {
	m.cancelledAll = append(m.cancelledAll, orders)
	if len(orders) == 0 {
		return nil
	}
	cancelled := make(map[string]bool, len(orders))
	for _, o := range orders {
		cancelled[o.OrderID] = true
	}
	var remaining []broker.StopOrder
	for _, o := range m.stops {
		if !cancelled[o.OrderID] {
			remaining = append(remaining, o)
		}
	}
	m.stops = remaining
	return nil
}

func (m *mockAdapter) GetCurrentStopOrders(ctx context.Context, info *broker.InstrumentInfo) ([]broker.StopOrder, error) {
	out := make([]broker.StopOrder, len(m.stops))
	copy(out, m.stops)
	return out, nil
}

func (m *mockAdapter) PullEnsureOrdersResult(ctx context.Context, orders []broker.EnsureOrder, info *broker.InstrumentInfo) ([]broker.EnsureOrder, error) {
	return orders, nil
}
