package tinvest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signaldispatcher/internal/broker"
	"signaldispatcher/internal/brokerhttp"
	"signaldispatcher/internal/pricefeed"
	ourws "signaldispatcher/internal/websocket"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestAdapter(t *testing.T, mux *http.ServeMux) *Adapter {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	client := brokerhttp.NewClient(srv.URL, brokerhttp.NewBearerAuth("test-token"), brokerhttp.WithMaxRetries(0))
	return newWithClient(Config{Token: "test-token", AccountID: "ACC1"}, client)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestGetInstrumentInfo_AppliesBasicAssetSizeForFutures(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/instruments/FUTSI", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, instrumentResponse{FIGI: "FUTSI", Name: "SI Future", Type: "futures", Currency: "RUB", Lot: dec("1"), BasicAssetSize: dec("1000"), MinPriceIncrement: dec("1")})
	})
	a := newTestAdapter(t, mux)

	info, err := a.GetInstrumentInfo(context.Background(), "FUTSI")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.True(t, info.LotSize.Equal(dec("1000")))
}

func TestGetInstrumentInfo_RejectsUnsupportedType(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/instruments/WEIRD", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, instrumentResponse{FIGI: "WEIRD", Type: "derivative_exotic"})
	})
	a := newTestAdapter(t, mux)

	_, err := a.GetInstrumentInfo(context.Background(), "WEIRD")
	require.Error(t, err)
	assert.Equal(t, broker.ErrUnsupportedInstrumentType, broker.CodeOf(err))
}

func TestGetInstrumentInfo_404IsAbsentNotError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/instruments/GHOST", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"not_found","message":"no such instrument"}`))
	})
	a := newTestAdapter(t, mux)

	info, err := a.GetInstrumentInfo(context.Background(), "GHOST")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestCalculatePositionSize_PrefersMarginMaxLots(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/accounts/ACC1/portfolio", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, portfolioResponse{})
	})
	mux.HandleFunc("/v1/accounts/ACC1/positions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, positionsResponse{Money: []moneyEntry{{Currency: "RUB", Amount: dec("100000")}}})
	})
	mux.HandleFunc("/v1/marketdata/last-prices", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, lastPricesResponse{LastPrices: []lastPriceEntry{{FIGI: "SBER", Price: dec("250")}}})
	})
	marginLots := int64(7)
	mux.HandleFunc("/v1/orders/max-lots", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, maxLotsResponse{BuyMaxLots: 100, BuyMarginMaxLots: &marginLots})
	})
	a := newTestAdapter(t, mux)

	qty, err := a.CalculatePositionSize(context.Background(), &broker.InstrumentInfo{ID: "SBER", Currency: "RUB", LotSize: dec("1")}, dec("100"), decimal.Zero, broker.DirectionBuy)
	require.NoError(t, err)
	assert.LessOrEqual(t, qty, int64(7))
}

func TestGetCurrentStopOrders_ClassifiesStopLossVsTakeProfit(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/accounts/ACC1/stop-orders", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, stopOrdersResponse{StopOrders: []stopOrderEntry{
			{StopOrderID: "s1", FIGI: "SBER", StopOrderType: "stop_loss", Direction: "sell", LotsRequested: dec("2"), StopPrice: dec("240")},
			{StopOrderID: "s2", FIGI: "SBER", StopOrderType: "take_profit", Direction: "sell", LotsRequested: dec("2"), StopPrice: dec("270")},
			{StopOrderID: "s3", FIGI: "OTHER", StopOrderType: "stop_loss", Direction: "sell", LotsRequested: dec("2"), StopPrice: dec("240")},
		}})
	})
	a := newTestAdapter(t, mux)

	stops, err := a.GetCurrentStopOrders(context.Background(), &broker.InstrumentInfo{ID: "SBER"})
	require.NoError(t, err)
	require.Len(t, stops, 2)
	assert.Equal(t, broker.StopOrderStopLoss, stops[0].OrderType)
	assert.Equal(t, broker.StopOrderTakeProfit, stops[1].OrderType)
}

func TestPullEnsureOrdersResult_HydratesFill(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/accounts/ACC1/orders/ord-1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, orderStateResponse{AveragePositionPrice: dec("251.75")})
	})
	a := newTestAdapter(t, mux)

	result, err := a.PullEnsureOrdersResult(context.Background(), []broker.EnsureOrder{{Type: broker.OrderTypeSell, OrderID: "ord-1"}}, &broker.InstrumentInfo{ID: "SBER"})
	require.NoError(t, err)
	require.NotNil(t, result[0].Fill)
	assert.True(t, result[0].Fill.Price.Equal(dec("251.75")))
}

func TestPullEnsureOrdersResult_404IsOrderTradeNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/accounts/ACC1/orders/ord-missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"not_found","message":"no such order"}`))
	})
	a := newTestAdapter(t, mux)

	_, err := a.PullEnsureOrdersResult(context.Background(), []broker.EnsureOrder{{Type: broker.OrderTypeBuy, OrderID: "ord-missing"}}, &broker.InstrumentInfo{ID: "SBER"})
	require.Error(t, err)
	assert.Equal(t, broker.ErrOrderTradeNotFound, broker.CodeOf(err))
}

func TestGetLastPrice_PrefersFreshPriceFeedOverREST(t *testing.T) {
	upgrader := gorillaws.Upgrader{}
	quoteServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var req ourws.SubscriptionRequest
		conn.ReadJSON(&req)
		conn.WriteJSON(ourws.SubscriptionResponse{Result: nil, ID: req.ID})
		conn.WriteJSON(ourws.StreamMessage{
			Stream: req.Params[0],
			Data:   json.RawMessage(`{"e":"quote","s":"SBER","c":"271.4"}`),
		})
		time.Sleep(50 * time.Millisecond)
	}))
	defer quoteServer.Close()
	wsURL := "ws" + quoteServer.URL[len("http"):]

	feed := pricefeed.NewCache(wsURL, []string{"SBER"}, zerolog.Nop())
	defer feed.Close()
	require.NoError(t, feed.Start(context.Background()))
	require.Eventually(t, func() bool {
		_, fresh := feed.Get("SBER")
		return fresh
	}, time.Second, 10*time.Millisecond)

	restCalled := false
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/marketdata/last-prices", func(w http.ResponseWriter, r *http.Request) {
		restCalled = true
		writeJSON(w, lastPricesResponse{LastPrices: []lastPriceEntry{{FIGI: "SBER", Price: dec("999")}}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	client := brokerhttp.NewClient(srv.URL, brokerhttp.NewBearerAuth("test-token"), brokerhttp.WithMaxRetries(0))
	a := newWithClient(Config{Token: "test-token", AccountID: "ACC1"}, client, WithPriceFeed(feed))

	price, err := a.GetLastPrice(context.Background(), &broker.InstrumentInfo{ID: "SBER"})
	require.NoError(t, err)
	assert.True(t, price.Equal(dec("271.4")))
	assert.False(t, restCalled, "GetLastPrice should not fall back to REST when the price feed has a fresh quote")
}

func TestGetLastPrice_FallsBackToRESTWithoutPriceFeed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/marketdata/last-prices", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, lastPricesResponse{LastPrices: []lastPriceEntry{{FIGI: "SBER", Price: dec("271.4")}}})
	})
	a := newTestAdapter(t, mux)

	price, err := a.GetLastPrice(context.Background(), &broker.InstrumentInfo{ID: "SBER"})
	require.NoError(t, err)
	assert.True(t, price.Equal(dec("271.4")))
}
