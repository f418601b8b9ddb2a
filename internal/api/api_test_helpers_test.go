package api

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"signaldispatcher/internal/broker"
)

// fakeAdapter is a minimal broker.Adapter stub for exercising the HTTP
// layer without a real brokerage connection, grounded on the teacher's
// handlers_test.go mock OrderManager.
type fakeAdapter struct {
	balance    decimal.Decimal
	balanceErr error
}

func (f *fakeAdapter) GetInstrumentInfo(ctx context.Context, id string) (*broker.InstrumentInfo, error) {
	return &broker.InstrumentInfo{ID: id, LotSize: decimal.NewFromInt(1)}, nil
}

func (f *fakeAdapter) GetPosition(ctx context.Context, info *broker.InstrumentInfo) (*broker.Position, error) {
	return &broker.Position{Quantity: 0}, nil
}

func (f *fakeAdapter) GetPositionWaitingForSettlement(ctx context.Context, info *broker.InstrumentInfo, expectedQty int64, maxAttempts int, delay time.Duration) (*broker.Position, error) {
	return &broker.Position{Quantity: expectedQty}, nil
}

func (f *fakeAdapter) GetMoneyBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	if f.balanceErr != nil {
		return decimal.Zero, f.balanceErr
	}
	return f.balance, nil
}

func (f *fakeAdapter) GetLastPrice(ctx context.Context, info *broker.InstrumentInfo) (decimal.Decimal, error) {
	return decimal.NewFromInt(100), nil
}

func (f *fakeAdapter) CalculatePositionSize(ctx context.Context, info *broker.InstrumentInfo, leveragePercent, reserveCapital decimal.Decimal, dir broker.Direction) (int64, error) {
	return 1, nil
}

func (f *fakeAdapter) PlaceMarketOrder(ctx context.Context, info *broker.InstrumentInfo, dir broker.Direction, qty int64) (string, error) {
	return "order-1", nil
}

func (f *fakeAdapter) PlaceStopLossOrder(ctx context.Context, info *broker.InstrumentInfo, dir broker.Direction, qty int64, stopPrice decimal.Decimal) (string, error) {
	return "stop-1", nil
}

func (f *fakeAdapter) PlaceTakeProfitOrder(ctx context.Context, info *broker.InstrumentInfo, dir broker.Direction, qty int64, targetPrice decimal.Decimal) (string, error) {
	return "tp-1", nil
}

func (f *fakeAdapter) CancelStopOrders(ctx context.Context, orders []broker.StopOrder) error {
	return nil
}

func (f *fakeAdapter) GetCurrentStopOrders(ctx context.Context, info *broker.InstrumentInfo) ([]broker.StopOrder, error) {
	return nil, nil
}

func (f *fakeAdapter) PullEnsureOrdersResult(ctx context.Context, orders []broker.EnsureOrder, info *broker.InstrumentInfo) ([]broker.EnsureOrder, error) {
	return orders, nil
}
