// Package tinvest implements broker.Adapter against T-Invest
// (Tinkoff Invest), adapted from the teacher's internal/binance
// client shape onto internal/brokerhttp's bearer-auth REST transport.
// Wire shapes are modeled after the tinvest.py reference
// (instruments/get_portfolio/get_last_prices/post_order/
// post_stop_order/get_max_lots) expressed as a JSON REST facade.
package tinvest

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"signaldispatcher/internal/broker"
	"signaldispatcher/internal/brokerhttp"
	"signaldispatcher/internal/brokers/instrumentcache"
	"signaldispatcher/internal/pricefeed"
)

const (
	baseURLProd    = "https://invest-public-api.tinkoff.ru/rest"
	baseURLSandbox = "https://sandbox-invest-public-api.tinkoff.ru/rest"
)

// Config mirrors the `accounts.<name>.broker.config` block for a
// tinvest account (spec §6): {token, account_id, sandbox_mode?}.
type Config struct {
	Token       string `mapstructure:"token"`
	AccountID   string `mapstructure:"account_id"`
	SandboxMode bool   `mapstructure:"sandbox_mode"`
}

// Adapter implements broker.Adapter for a single T-Invest account.
type Adapter struct {
	cfg       Config
	client    *brokerhttp.Client
	cache     *instrumentcache.Cache
	priceFeed *pricefeed.Cache
}

// Option configures optional Adapter behavior beyond the required
// Config.
type Option func(*Adapter)

// WithPriceFeed attaches a running price-feed cache that GetLastPrice
// consults before falling back to a REST last-prices request.
func WithPriceFeed(cache *pricefeed.Cache) Option {
	return func(a *Adapter) { a.priceFeed = cache }
}

func New(cfg Config, opts ...Option) (*Adapter, error) {
	if cfg.Token == "" || cfg.AccountID == "" {
		return nil, broker.New(broker.ErrConfigError, "tinvest: token and account_id are required")
	}
	base := baseURLProd
	if cfg.SandboxMode {
		base = baseURLSandbox
	}
	return newWithClient(cfg, brokerhttp.NewClient(base, brokerhttp.NewBearerAuth(cfg.Token)), opts...), nil
}

func newWithClient(cfg Config, client *brokerhttp.Client, opts ...Option) *Adapter {
	a := &Adapter{cfg: cfg, client: client}
	a.cache = instrumentcache.New(a.fetchInstrumentInfo, 5*time.Minute)
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type instrumentResponse struct {
	FIGI             string          `json:"figi"`
	Name             string          `json:"name"`
	Type             string          `json:"instrument_type"`
	Currency         string          `json:"currency"`
	Lot              decimal.Decimal `json:"lot"`
	BasicAssetSize   decimal.Decimal `json:"basic_asset_size,omitempty"`
	MinPriceIncrement decimal.Decimal `json:"min_price_increment"`
}

func (a *Adapter) fetchInstrumentInfo(ctx context.Context, id string) (*broker.InstrumentInfo, error) {
	var instrument instrumentResponse
	err := a.client.Do(ctx, "GET", "/v1/instruments/"+id, nil, &instrument)
	if err != nil {
		if apiErr, ok := err.(*brokerhttp.APIError); ok && apiErr.HTTPStatus == 404 {
			return nil, nil
		}
		return nil, broker.Wrap(err, "tinvest: get instrument")
	}
	if instrument.Type != "share" && instrument.Type != "futures" && instrument.Type != "bonds" &&
		instrument.Type != "etfs" && instrument.Type != "currencies" && instrument.Type != "options" &&
		instrument.Type != "structured_products" {
		return nil, broker.New(broker.ErrUnsupportedInstrumentType, "tinvest: unsupported instrument type "+instrument.Type)
	}

	lotSize := instrument.Lot
	if instrument.BasicAssetSize.IsPositive() {
		lotSize = lotSize.Mul(instrument.BasicAssetSize)
	}

	return &broker.InstrumentInfo{
		ID:           instrument.FIGI,
		Name:         instrument.Name,
		Type:         instrument.Type,
		Currency:     instrument.Currency,
		LotSize:      lotSize,
		MinPriceStep: instrument.MinPriceIncrement,
	}, nil
}

func (a *Adapter) GetInstrumentInfo(ctx context.Context, id string) (*broker.InstrumentInfo, error) {
	return a.cache.Get(ctx, id)
}

type portfolioPosition struct {
	FIGI                string          `json:"figi"`
	Quantity            decimal.Decimal `json:"quantity"`
	AveragePositionPrice decimal.Decimal `json:"average_position_price"`
}

type portfolioResponse struct {
	Positions []portfolioPosition `json:"positions"`
}

func (a *Adapter) GetPosition(ctx context.Context, info *broker.InstrumentInfo) (*broker.Position, error) {
	var portfolio portfolioResponse
	if err := a.client.Do(ctx, "GET", "/v1/accounts/"+a.cfg.AccountID+"/portfolio", nil, &portfolio); err != nil {
		return nil, broker.Wrap(err, "tinvest: get portfolio")
	}
	for _, p := range portfolio.Positions {
		if p.FIGI == info.ID {
			return &broker.Position{Instrument: p.FIGI, Quantity: p.Quantity.IntPart(), AveragePrice: p.AveragePositionPrice}, nil
		}
	}
	return nil, nil
}

func (a *Adapter) GetPositionWaitingForSettlement(ctx context.Context, info *broker.InstrumentInfo, expectedQty int64, maxAttempts int, delay time.Duration) (*broker.Position, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		pos, err := a.GetPosition(ctx, info)
		if err != nil {
			return nil, err
		}
		if (pos == nil && expectedQty == 0) || (pos != nil && pos.Quantity == expectedQty && pos.Settled()) {
			return pos, nil
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, broker.New(broker.ErrPositionSettlementTimeout,
		fmt.Sprintf("tinvest: position settlement timeout after %d attempts for %s", maxAttempts, info.ID))
}

type moneyEntry struct {
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
}

type positionsResponse struct {
	Money []moneyEntry `json:"money"`
}

func (a *Adapter) GetMoneyBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	var positions positionsResponse
	if err := a.client.Do(ctx, "GET", "/v1/accounts/"+a.cfg.AccountID+"/positions", nil, &positions); err != nil {
		return decimal.Zero, broker.Wrap(err, "tinvest: get positions")
	}
	for _, m := range positions.Money {
		if m.Currency == currency {
			return m.Amount, nil
		}
	}
	return decimal.Zero, nil
}

type lastPriceEntry struct {
	FIGI  string          `json:"figi"`
	Price decimal.Decimal `json:"price"`
}

type lastPricesResponse struct {
	LastPrices []lastPriceEntry `json:"last_prices"`
}

// GetLastPrice consults the streaming price feed first, when one is
// configured and holds a fresh quote for info.ID, and falls back to a
// REST last-prices request otherwise.
func (a *Adapter) GetLastPrice(ctx context.Context, info *broker.InstrumentInfo) (decimal.Decimal, error) {
	if a.priceFeed != nil {
		if price, fresh := a.priceFeed.Get(info.ID); fresh {
			return price, nil
		}
	}

	var resp lastPricesResponse
	if err := a.client.Do(ctx, "GET", "/v1/marketdata/last-prices?figi="+info.ID, nil, &resp); err != nil {
		return decimal.Zero, broker.Wrap(err, "tinvest: get last prices")
	}
	if len(resp.LastPrices) == 0 {
		return decimal.Zero, broker.New(broker.ErrNoPriceData, "tinvest: no price data for "+info.ID)
	}
	return resp.LastPrices[0].Price, nil
}

type maxLotsResponse struct {
	BuyMaxLots       int64 `json:"buy_max_lots"`
	SellMaxLots      int64 `json:"sell_max_lots"`
	BuyMarginMaxLots  *int64 `json:"buy_margin_max_lots,omitempty"`
	SellMarginMaxLots *int64 `json:"sell_margin_max_lots,omitempty"`
}

func (a *Adapter) getMaxLots(ctx context.Context, info *broker.InstrumentInfo, dir broker.Direction) (*int64, error) {
	var resp maxLotsResponse
	path := fmt.Sprintf("/v1/orders/max-lots?account_id=%s&instrument_id=%s", a.cfg.AccountID, info.ID)
	if err := a.client.Do(ctx, "GET", path, nil, &resp); err != nil {
		return nil, broker.Wrap(err, "tinvest: get max lots")
	}
	if dir == broker.DirectionSell {
		if resp.SellMarginMaxLots != nil {
			return resp.SellMarginMaxLots, nil
		}
		v := resp.SellMaxLots
		return &v, nil
	}
	if resp.BuyMarginMaxLots != nil {
		return resp.BuyMarginMaxLots, nil
	}
	v := resp.BuyMaxLots
	return &v, nil
}

func (a *Adapter) CalculatePositionSize(ctx context.Context, info *broker.InstrumentInfo, leveragePercent, reserveCapital decimal.Decimal, dir broker.Direction) (int64, error) {
	balance, err := a.GetMoneyBalance(ctx, info.Currency)
	if err != nil {
		return 0, err
	}
	lastPrice, err := a.GetLastPrice(ctx, info)
	if err != nil {
		return 0, err
	}
	// T-Invest exposes a broker-native max-lots primitive, which is
	// preferred per Open Question (a) over the margin-per-lot fallback.
	maxLots, err := a.getMaxLots(ctx, info, dir)
	if err != nil {
		return 0, err
	}
	return broker.CalculatePositionSize(balance, lastPrice, info.LotSize, nil, maxLots, leveragePercent, reserveCapital), nil
}

type postOrderRequest struct {
	AccountID string `json:"account_id"`
	FIGI      string `json:"figi"`
	Quantity  int64  `json:"quantity"`
	Direction string `json:"direction"`
	OrderType string `json:"order_type"`
}

type postOrderResponse struct {
	OrderID string `json:"order_id"`
}

func directionOf(dir broker.Direction) string {
	if dir == broker.DirectionSell {
		return "sell"
	}
	return "buy"
}

func (a *Adapter) PlaceMarketOrder(ctx context.Context, info *broker.InstrumentInfo, dir broker.Direction, qty int64) (string, error) {
	var resp postOrderResponse
	req := postOrderRequest{AccountID: a.cfg.AccountID, FIGI: info.ID, Quantity: qty, Direction: directionOf(dir), OrderType: "market"}
	if err := a.client.Do(ctx, "POST", "/v1/orders", req, &resp); err != nil {
		return "", broker.Wrap(err, "tinvest: place market order")
	}
	return resp.OrderID, nil
}

type postStopOrderRequest struct {
	AccountID     string          `json:"account_id"`
	FIGI          string          `json:"figi"`
	Quantity      int64           `json:"quantity"`
	Direction     string          `json:"direction"`
	StopPrice     decimal.Decimal `json:"stop_price"`
	StopOrderType string          `json:"stop_order_type"`
}

type postStopOrderResponse struct {
	StopOrderID string `json:"stop_order_id"`
}

func (a *Adapter) PlaceStopLossOrder(ctx context.Context, info *broker.InstrumentInfo, dir broker.Direction, qty int64, stopPrice decimal.Decimal) (string, error) {
	var resp postStopOrderResponse
	req := postStopOrderRequest{AccountID: a.cfg.AccountID, FIGI: info.ID, Quantity: qty, Direction: directionOf(dir), StopPrice: stopPrice, StopOrderType: "stop_loss"}
	if err := a.client.Do(ctx, "POST", "/v1/stop-orders", req, &resp); err != nil {
		return "", broker.Wrap(err, "tinvest: place stop-loss order")
	}
	return resp.StopOrderID, nil
}

func (a *Adapter) PlaceTakeProfitOrder(ctx context.Context, info *broker.InstrumentInfo, dir broker.Direction, qty int64, targetPrice decimal.Decimal) (string, error) {
	var resp postStopOrderResponse
	req := postStopOrderRequest{AccountID: a.cfg.AccountID, FIGI: info.ID, Quantity: qty, Direction: directionOf(dir), StopPrice: targetPrice, StopOrderType: "take_profit"}
	if err := a.client.Do(ctx, "POST", "/v1/stop-orders", req, &resp); err != nil {
		return "", broker.Wrap(err, "tinvest: place take-profit order")
	}
	return resp.StopOrderID, nil
}

func (a *Adapter) CancelStopOrders(ctx context.Context, orders []broker.StopOrder) error {
	for _, o := range orders {
		path := fmt.Sprintf("/v1/stop-orders/%s?account_id=%s", o.OrderID, a.cfg.AccountID)
		if err := a.client.Do(ctx, "DELETE", path, nil, nil); err != nil {
			return broker.Wrap(err, "tinvest: cancel stop order "+o.OrderID)
		}
	}
	return nil
}

type stopOrderEntry struct {
	StopOrderID   string          `json:"stop_order_id"`
	FIGI          string          `json:"figi"`
	StopOrderType string          `json:"stop_order_type"`
	Direction     string          `json:"direction"`
	LotsRequested decimal.Decimal `json:"lots_requested"`
	StopPrice     decimal.Decimal `json:"stop_price"`
}

type stopOrdersResponse struct {
	StopOrders []stopOrderEntry `json:"stop_orders"`
}

func (a *Adapter) GetCurrentStopOrders(ctx context.Context, info *broker.InstrumentInfo) ([]broker.StopOrder, error) {
	var resp stopOrdersResponse
	if err := a.client.Do(ctx, "GET", "/v1/accounts/"+a.cfg.AccountID+"/stop-orders", nil, &resp); err != nil {
		return nil, broker.Wrap(err, "tinvest: get stop orders")
	}

	var stops []broker.StopOrder
	for _, o := range resp.StopOrders {
		if o.FIGI != info.ID {
			continue
		}
		orderType := broker.StopOrderTakeProfit
		if o.StopOrderType == "stop_loss" {
			orderType = broker.StopOrderStopLoss
		}
		dir := broker.DirectionBuy
		if o.Direction == "sell" {
			dir = broker.DirectionSell
		}
		stopPrice := o.StopPrice
		stops = append(stops, broker.StopOrder{
			OrderID:   o.StopOrderID,
			OrderType: orderType,
			Direction: dir,
			Quantity:  o.LotsRequested.IntPart(),
			StopPrice: &stopPrice,
		})
	}
	return stops, nil
}

type orderStateResponse struct {
	OrderDate            time.Time       `json:"order_date"`
	AveragePositionPrice decimal.Decimal `json:"average_position_price"`
}

func (a *Adapter) PullEnsureOrdersResult(ctx context.Context, orders []broker.EnsureOrder, info *broker.InstrumentInfo) ([]broker.EnsureOrder, error) {
	result := make([]broker.EnsureOrder, len(orders))
	copy(result, orders)
	for i, o := range result {
		if o.Type != broker.OrderTypeBuy && o.Type != broker.OrderTypeSell {
			continue
		}
		var state orderStateResponse
		path := fmt.Sprintf("/v1/accounts/%s/orders/%s", a.cfg.AccountID, o.OrderID)
		if err := a.client.Do(ctx, "GET", path, nil, &state); err != nil {
			if apiErr, ok := err.(*brokerhttp.APIError); ok && apiErr.HTTPStatus == 404 {
				return nil, broker.New(broker.ErrOrderTradeNotFound, "tinvest: order "+o.OrderID+" not found")
			}
			return nil, broker.Wrap(err, "tinvest: get order state")
		}
		result[i].Fill = &broker.Fill{Date: state.OrderDate, Price: state.AveragePositionPrice}
	}
	return result, nil
}
