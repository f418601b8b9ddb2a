// Package finam implements broker.Adapter against Finam's brokerage
// API, adapted from the teacher's internal/binance client shape but
// talking REST+bearer (internal/brokerhttp) instead of Binance's
// signed-query HTTP. Wire field names below are modeled after the
// gRPC-era finam.py reference (GetAsset/GetAssetParams/GetAccount/
// PlaceOrder/CancelOrder/GetOrders/Trades) expressed as a JSON REST
// facade, since that's the transport the domain stack here is built
// on (see DESIGN.md).
package finam

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

const baseURL = "https://api.finam.ru"

// Config mirrors the `accounts.<name>.broker.config` block for a
// finam account (spec §6): {token, account_id}.
type Config struct {
	Token     string `mapstructure:"token"`
	AccountID string `mapstructure:"account_id"`
}

// Adapter implements broker.Adapter for a single Finam account.
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
// consults before falling back to a REST quote request.
func WithPriceFeed(cache *pricefeed.Cache) Option {
	return func(a *Adapter) { a.priceFeed = cache }
}

func New(cfg Config, opts ...Option) (*Adapter, error) {
	if cfg.Token == "" || cfg.AccountID == "" {
		return nil, broker.New(broker.ErrConfigError, "finam: token and account_id are required")
	}
	return newWithClient(cfg, brokerhttp.NewClient(baseURL, brokerhttp.NewBearerAuth(cfg.Token)), opts...), nil
}

func newWithClient(cfg Config, client *brokerhttp.Client, opts ...Option) *Adapter {
	a := &Adapter{cfg: cfg, client: client}
	a.cache = instrumentcache.New(a.fetchInstrumentInfo, 5*time.Minute)
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type assetResponse struct {
	Symbol  string          `json:"symbol"`
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	LotSize decimal.Decimal `json:"lot_size"`
	MinStep decimal.Decimal `json:"min_step"`
}

type assetParamsResponse struct {
	Currency          string          `json:"currency_code"`
	LongInitialMargin decimal.Decimal `json:"long_initial_margin"`
	ShortInitialMargin decimal.Decimal `json:"short_initial_margin"`
}

func (a *Adapter) fetchInstrumentInfo(ctx context.Context, id string) (*broker.InstrumentInfo, error) {
	var asset assetResponse
	err := a.client.Do(ctx, "GET", fmt.Sprintf("/v1/assets/%s?account_id=%s", id, a.cfg.AccountID), nil, &asset)
	if err != nil {
		if apiErr, ok := err.(*brokerhttp.APIError); ok && apiErr.HTTPStatus == 404 {
			return nil, nil
		}
		return nil, broker.Wrap(err, "finam: get asset")
	}

	var params assetParamsResponse
	if err := a.client.Do(ctx, "GET", fmt.Sprintf("/v1/assets/%s/params?account_id=%s", id, a.cfg.AccountID), nil, &params); err != nil {
		return nil, broker.Wrap(err, "finam: get asset params")
	}

	long, short := params.LongInitialMargin, params.ShortInitialMargin
	return &broker.InstrumentInfo{
		ID:           asset.Symbol,
		Name:         asset.Name,
		Type:         asset.Type,
		Currency:     params.Currency,
		LotSize:      asset.LotSize,
		MinPriceStep: asset.MinStep,
		MarginLong:   &long,
		MarginShort:  &short,
	}, nil
}

func (a *Adapter) GetInstrumentInfo(ctx context.Context, id string) (*broker.InstrumentInfo, error) {
	return a.cache.Get(ctx, id)
}

type accountPosition struct {
	Symbol       string          `json:"symbol"`
	Quantity     decimal.Decimal `json:"quantity"`
	AveragePrice decimal.Decimal `json:"average_price"`
}

type accountResponse struct {
	Positions   []accountPosition `json:"positions"`
	AvailableCash decimal.Decimal `json:"available_cash"`
}

func (a *Adapter) getAccount(ctx context.Context) (*accountResponse, error) {
	var account accountResponse
	if err := a.client.Do(ctx, "GET", "/v1/accounts/"+a.cfg.AccountID, nil, &account); err != nil {
		return nil, broker.Wrap(err, "finam: get account")
	}
	return &account, nil
}

func (a *Adapter) GetPosition(ctx context.Context, info *broker.InstrumentInfo) (*broker.Position, error) {
	account, err := a.getAccount(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range account.Positions {
		if p.Symbol == info.ID {
			return &broker.Position{
				Instrument:   p.Symbol,
				Quantity:     p.Quantity.IntPart(),
				AveragePrice: p.AveragePrice,
			}, nil
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
		fmt.Sprintf("finam: position settlement timeout after %d attempts for %s", maxAttempts, info.ID))
}

func (a *Adapter) GetMoneyBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	account, err := a.getAccount(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return account.AvailableCash, nil
}

type quoteResponse struct {
	Last decimal.Decimal `json:"last"`
}

// GetLastPrice consults the streaming price feed first, when one is
// configured and holds a fresh quote for info.ID, and falls back to a
// REST quote request otherwise.
func (a *Adapter) GetLastPrice(ctx context.Context, info *broker.InstrumentInfo) (decimal.Decimal, error) {
	if a.priceFeed != nil {
		if price, fresh := a.priceFeed.Get(info.ID); fresh {
			return price, nil
		}
	}

	var quote quoteResponse
	if err := a.client.Do(ctx, "GET", "/v1/marketdata/"+info.ID+"/quote", nil, &quote); err != nil {
		return decimal.Zero, broker.Wrap(err, "finam: get last quote")
	}
	if quote.Last.IsZero() {
		return decimal.Zero, broker.New(broker.ErrNoPriceData, "finam: no price data for "+info.ID)
	}
	return quote.Last, nil
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
	// Finam exposes no max-lots primitive; fall back to the
	// margin-per-lot bound (Open Question (a)).
	return broker.CalculatePositionSize(balance, lastPrice, info.LotSize, info.MarginPerLot(dir), nil, leveragePercent, reserveCapital), nil
}

type placeOrderRequest struct {
	AccountID     string          `json:"account_id"`
	Symbol        string          `json:"symbol"`
	Quantity      int64           `json:"quantity"`
	Side          string          `json:"side"`
	Type          string          `json:"type"`
	StopPrice     decimal.Decimal `json:"stop_price,omitempty"`
	StopCondition string          `json:"stop_condition,omitempty"`
}

type placeOrderResponse struct {
	OrderID string `json:"order_id"`
}

func sideOf(dir broker.Direction) string {
	if dir == broker.DirectionSell {
		return "sell"
	}
	return "buy"
}

func (a *Adapter) PlaceMarketOrder(ctx context.Context, info *broker.InstrumentInfo, dir broker.Direction, qty int64) (string, error) {
	var resp placeOrderResponse
	req := placeOrderRequest{AccountID: a.cfg.AccountID, Symbol: info.ID, Quantity: qty, Side: sideOf(dir), Type: "market"}
	if err := a.client.Do(ctx, "POST", "/v1/orders", req, &resp); err != nil {
		return "", broker.Wrap(err, "finam: place market order")
	}
	return resp.OrderID, nil
}

func (a *Adapter) PlaceStopLossOrder(ctx context.Context, info *broker.InstrumentInfo, dir broker.Direction, qty int64, stopPrice decimal.Decimal) (string, error) {
	condition := "last_up"
	if dir == broker.DirectionSell {
		condition = "last_down"
	}
	var resp placeOrderResponse
	req := placeOrderRequest{AccountID: a.cfg.AccountID, Symbol: info.ID, Quantity: qty, Side: sideOf(dir), Type: "stop", StopPrice: stopPrice, StopCondition: condition}
	if err := a.client.Do(ctx, "POST", "/v1/orders", req, &resp); err != nil {
		return "", broker.Wrap(err, "finam: place stop-loss order")
	}
	return resp.OrderID, nil
}

func (a *Adapter) PlaceTakeProfitOrder(ctx context.Context, info *broker.InstrumentInfo, dir broker.Direction, qty int64, targetPrice decimal.Decimal) (string, error) {
	condition := "last_down"
	if dir == broker.DirectionSell {
		condition = "last_up"
	}
	var resp placeOrderResponse
	req := placeOrderRequest{AccountID: a.cfg.AccountID, Symbol: info.ID, Quantity: qty, Side: sideOf(dir), Type: "stop", StopPrice: targetPrice, StopCondition: condition}
	if err := a.client.Do(ctx, "POST", "/v1/orders", req, &resp); err != nil {
		return "", broker.Wrap(err, "finam: place take-profit order")
	}
	return resp.OrderID, nil
}

func (a *Adapter) CancelStopOrders(ctx context.Context, orders []broker.StopOrder) error {
	for _, o := range orders {
		path := fmt.Sprintf("/v1/orders/%s?account_id=%s", o.OrderID, a.cfg.AccountID)
		if err := a.client.Do(ctx, "DELETE", path, nil, nil); err != nil {
			return broker.Wrap(err, "finam: cancel order "+o.OrderID)
		}
	}
	return nil
}

type orderEntry struct {
	OrderID       string          `json:"order_id"`
	Status        string          `json:"status"`
	Symbol        string          `json:"symbol"`
	Type          string          `json:"type"`
	Side          string          `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	StopPrice     decimal.Decimal `json:"stop_price"`
	StopCondition string          `json:"stop_condition"`
}

type ordersResponse struct {
	Orders []orderEntry `json:"orders"`
}

func (a *Adapter) GetCurrentStopOrders(ctx context.Context, info *broker.InstrumentInfo) ([]broker.StopOrder, error) {
	var resp ordersResponse
	if err := a.client.Do(ctx, "GET", "/v1/orders?account_id="+a.cfg.AccountID, nil, &resp); err != nil {
		return nil, broker.Wrap(err, "finam: get orders")
	}

	var stops []broker.StopOrder
	for _, o := range resp.Orders {
		if o.Status != "watching" || o.Type != "stop" || o.Symbol != info.ID {
			continue
		}
		orderType := broker.StopOrderTakeProfit
		if (o.StopCondition == "last_down" && o.Side == "sell") || (o.StopCondition == "last_up" && o.Side == "buy") {
			orderType = broker.StopOrderStopLoss
		}
		dir := broker.DirectionBuy
		if o.Side == "sell" {
			dir = broker.DirectionSell
		}
		stopPrice := o.StopPrice
		stops = append(stops, broker.StopOrder{
			OrderID:   o.OrderID,
			OrderType: orderType,
			Direction: dir,
			Quantity:  o.Quantity.IntPart(),
			StopPrice: &stopPrice,
		})
	}
	return stops, nil
}

type tradeEntry struct {
	OrderID   string          `json:"order_id"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"`
}

type tradesResponse struct {
	Trades []tradeEntry `json:"trades"`
}

func (a *Adapter) PullEnsureOrdersResult(ctx context.Context, orders []broker.EnsureOrder, info *broker.InstrumentInfo) ([]broker.EnsureOrder, error) {
	now := time.Now()
	start := now.Add(-24 * time.Hour).Unix()
	end := now.Add(24 * time.Hour).Unix()

	var trades tradesResponse
	path := fmt.Sprintf("/v1/accounts/%s/trades?start=%d&end=%d", a.cfg.AccountID, start, end)
	if err := a.client.Do(ctx, "GET", path, nil, &trades); err != nil {
		return nil, broker.Wrap(err, "finam: get trades")
	}

	byOrderID := make(map[string]tradeEntry, len(trades.Trades))
	for _, t := range trades.Trades {
		byOrderID[t.OrderID] = t
	}

	result := make([]broker.EnsureOrder, len(orders))
	copy(result, orders)
	for i, o := range result {
		if o.Type != broker.OrderTypeBuy && o.Type != broker.OrderTypeSell {
			continue
		}
		t, ok := byOrderID[o.OrderID]
		if !ok {
			return nil, broker.New(broker.ErrOrderTradeNotFound, "finam: order "+o.OrderID+" not found in trades")
		}
		result[i].Fill = &broker.Fill{Date: time.Unix(t.Timestamp, 0).UTC(), Price: t.Price}
	}
	return result, nil
}
