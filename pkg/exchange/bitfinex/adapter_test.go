package bitfinex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exbridge/pkg/core"
	"exbridge/pkg/exchange"
)

func newTestAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := core.DefaultConfig(core.VenueBitfinex).
		WithCredential(&core.Credential{
			Venue:     core.VenueBitfinex,
			APIKey:    "testApiKey",
			APISecret: "testSecretKey",
		})
	cfg.MaxRetries = 0

	a, err := New(cfg, exchange.WithBaseURL(srv.URL))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNewRejectsSandbox(t *testing.T) {
	cfg := core.DefaultConfig(core.VenueBitfinex)
	cfg.Sandbox = true

	_, err := New(cfg)
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))
}

func TestErrorFrameClassified(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`["error", 10100, "apikey: invalid"]`))
	}))

	_, err := a.GetBalance(context.Background(), "")
	require.Error(t, err)
	assert.True(t, core.IsAuthentication(err))

	var verr *core.Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "10100", verr.Code)
	assert.Contains(t, verr.Message, "apikey")
}

func TestTestConnectionMaintenance(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[0]`))
	}))

	err := a.TestConnection(context.Background())
	require.Error(t, err)
	assert.True(t, core.IsConnectivity(err))
}

func TestGetCurrentPrice(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/ticker/tBTCUSD", r.URL.Path)
		_, _ = w.Write([]byte(`[41999.0, 12.5, 42001.0, 8.1, -120.5, -0.0029, 42000.5, 2301.4, 42500.0, 41500.0]`))
	}))

	price, err := a.GetCurrentPrice(context.Background(), "BTC/USD")
	require.NoError(t, err)
	assert.Equal(t, "42000.5", price.Text('f'))
}

func TestGetBalance(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/auth/r/wallets", r.URL.Path)
		assert.Equal(t, "testApiKey", r.Header.Get("bfx-apikey"))
		assert.NotEmpty(t, r.Header.Get("bfx-signature"))
		_, _ = w.Write([]byte(`[
			["exchange", "BTC", 1.5, 0, 1.2],
			["margin", "BTC", 9, 0, 9]
		]`))
	}))

	all, err := a.GetBalance(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	btc := all.Get("BTC")
	assert.Equal(t, "1.2", btc.Free.Text('f'))

	named, err := a.GetBalance(context.Background(), "ETH")
	require.NoError(t, err)
	eth := named.Get("ETH")
	assert.True(t, eth.Free.IsZero(), "named lookup zero-fills missing assets")
}

func TestCreateOrderLimitSell(t *testing.T) {
	var submitted map[string]any
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/auth/w/order/submit", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&submitted))
		_, _ = w.Write([]byte(`[1700000001000, "on-req", null, null,
			[[12345, null, 777, "tBTCUSD", 1700000000000, 1700000000000,
			  -0.5, -0.5, "EXCHANGE LIMIT", null, null, null, null,
			  "ACTIVE", null, null, 43000, 0, 0, 0]],
			null, "SUCCESS", "Submitting exchange limit sell order"]`))
	}))

	amount, _, err := apd.NewFromString("0.5")
	require.NoError(t, err)
	price, _, err := apd.NewFromString("43000")
	require.NoError(t, err)

	order, err := a.CreateOrder(context.Background(), &exchange.OrderRequest{
		Pair:          "BTC/USD",
		Side:          core.SideSell,
		Type:          core.TypeLimit,
		Amount:        *amount,
		Price:         price,
		ClientOrderID: "777",
	})
	require.NoError(t, err)

	assert.Equal(t, "EXCHANGE LIMIT", submitted["type"])
	assert.Equal(t, "tBTCUSD", submitted["symbol"])
	assert.Equal(t, "-0.5", submitted["amount"], "sells ship a negative amount")
	assert.Equal(t, "43000", submitted["price"])
	assert.Equal(t, float64(777), submitted["cid"])

	assert.Equal(t, "12345", order.ID)
	assert.Equal(t, "777", order.ClientOrderID)
	assert.Equal(t, core.SideSell, order.Side)
	assert.Equal(t, core.StatusOpen, order.Status)
}

func TestCreateOrderRejectsNonNumericClientID(t *testing.T) {
	var hits atomic.Int64
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))

	amount, _, err := apd.NewFromString("0.5")
	require.NoError(t, err)

	_, err = a.CreateOrder(context.Background(), &exchange.OrderRequest{
		Pair:          "BTC/USD",
		Side:          core.SideBuy,
		Type:          core.TypeMarket,
		Amount:        *amount,
		ClientOrderID: "mine-1",
	})
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))
	assert.Zero(t, hits.Load())
}

func TestCreateOrderSurfacesNotificationError(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[1700000001000, "on-req", null, null, null, null, "ERROR", "Invalid order: not enough exchange balance"]`))
	}))

	amount, _, err := apd.NewFromString("0.5")
	require.NoError(t, err)

	_, err = a.CreateOrder(context.Background(), &exchange.OrderRequest{
		Pair:   "BTC/USD",
		Side:   core.SideBuy,
		Type:   core.TypeMarket,
		Amount: *amount,
	})
	require.Error(t, err)
	assert.True(t, core.IsProtocol(err))
	assert.Contains(t, err.Error(), "not enough exchange balance")
}

func TestGetOrderStatusFallsBackToHistory(t *testing.T) {
	var paths []string
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/v2/auth/r/orders" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte(`[[12345, null, 0, "tBTCUSD", 1700000000000, 1700000001000,
			0, -0.5, "EXCHANGE LIMIT", null, null, null, null,
			"EXECUTED @ 43000.0(-0.5)", null, null, 43000, 43000, 0, 0]]`))
	}))

	order, err := a.GetOrderStatus(context.Background(), "12345", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"/v2/auth/r/orders", "/v2/auth/r/orders/hist"}, paths)
	assert.Equal(t, core.StatusFilled, order.Status)
	assert.Equal(t, "0.5", order.Filled.Text('f'))
}

func TestGetKlinesRequestsAscending(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/candles/trade:1h:tBTCUSD/hist", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("sort"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`[
			[1700000000000, 42000.1, 42005.5, 42010.0, 41990.0, 3.2],
			[1700003600000, 42005.5, 42018.2, 42020.0, 42000.0, 1.1]
		]`))
	}))

	klines, err := a.GetKlines(context.Background(), "BTC/USD", "1h", 2)
	require.NoError(t, err)
	require.Len(t, klines, 2)
	assert.True(t, klines[0].OpenTime.Before(klines[1].OpenTime))

	_, err = a.GetKlines(context.Background(), "BTC/USD", "7m", 2)
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))
}

func TestGetOrderBookTrimsDepth(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/book/tBTCUSD/P0", r.URL.Path)
		assert.Equal(t, "25", r.URL.Query().Get("len"))
		_, _ = w.Write([]byte(`[
			[42000.0, 2, 1.5],
			[41999.5, 1, 2.0],
			[42000.9, 1, -0.7]
		]`))
	}))

	book, err := a.GetOrderBook(context.Background(), "BTC/USD", 1)
	require.NoError(t, err)
	require.Len(t, book.Bids, 1)
	require.Len(t, book.Asks, 1)
	assert.Equal(t, "42000", book.Bids[0].Price.Text('f'))
}

func TestGetTradeHistory(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/auth/r/trades/tBTCUSD/hist", r.URL.Path)
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`[
			[555, "tBTCUSD", 1700000000000, 12345, 0.2, 42000.5, "EXCHANGE LIMIT", 42000.5, 1, -0.0004, "BTC"],
			[556, "tBTCUSD", 1700000100000, 12346, -0.1, 42010.0, "EXCHANGE LIMIT", 42010.0, 0, -8.4, "USD"]
		]`))
	}))

	trades, err := a.GetTradeHistory(context.Background(), "BTC/USD", 0)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "556", trades[0].ID, "newest first")
	assert.Equal(t, core.SideSell, trades[0].Side)
	assert.Equal(t, "8.4", trades[0].Fee.Text('f'))
}

func TestLoadExchangeInfo(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/conf/pub:info:pair", r.URL.Path)
		_, _ = w.Write([]byte(`[[
			["BTCUSD", [null, null, null, "0.0002", "2000.0", null, null, null, null, null]],
			["BTCUST", [null, null, null, "0.0002", "2000.0", null, null, null, null, null]]
		]]`))
	}))

	require.NoError(t, a.LoadExchangeInfo(context.Background()))

	info, ok := a.catalogue.Get("BTC/USDT")
	require.True(t, ok)
	assert.Equal(t, "tBTCUST", info.Symbol)
	assert.Equal(t, "0.0002", info.LotSize.Text('f'))
}
