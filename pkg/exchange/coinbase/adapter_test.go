package coinbase

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exbridge/internal/ws"
	"exbridge/pkg/core"
	"exbridge/pkg/exchange"
)

func newTestAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := core.DefaultConfig(core.VenueCoinbase).
		WithCredential(&core.Credential{
			Venue:      core.VenueCoinbase,
			APIKey:     "testApiKey",
			APISecret:  testSecret,
			Passphrase: "myPassphrase",
		})
	cfg.MaxRetries = 0

	a, err := New(cfg, exchange.WithBaseURL(srv.URL))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestErrorMessageSurfaced(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message": "invalid signature"}`))
	}))

	_, err := a.GetBalance(context.Background(), "")
	require.Error(t, err)
	assert.True(t, core.IsAuthentication(err))
	assert.Contains(t, err.Error(), "invalid signature")
}

func TestGetCurrentPrice(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/products/BTC-USD/ticker", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"trade_id": 1, "price": "42000.5", "bid": "42000.1",
			"ask": "42000.9", "volume": "1234", "time": "2023-11-14T22:13:20Z"
		}`))
	}))

	price, err := a.GetCurrentPrice(context.Background(), "BTC/USD")
	require.NoError(t, err)
	assert.Equal(t, "42000.5", price.Text('f'))
}

func TestCreateOrderStopLimit(t *testing.T) {
	var body map[string]string
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NotEmpty(t, r.Header.Get("CB-ACCESS-SIGN"))
		assert.Equal(t, "myPassphrase", r.Header.Get("CB-ACCESS-PASSPHRASE"))
		require.NoError(t, sonic.ConfigDefault.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{
			"id": "o-9", "product_id": "BTC-USD", "side": "sell", "type": "limit",
			"price": "41000", "size": "0.5", "stop": "loss", "stop_price": "41500",
			"status": "active", "created_at": "2023-11-14T22:13:20Z"
		}`))
	}))

	amount, _, err := apd.NewFromString("0.5")
	require.NoError(t, err)
	price, _, err := apd.NewFromString("41000")
	require.NoError(t, err)
	stop, _, err := apd.NewFromString("41500")
	require.NoError(t, err)

	order, err := a.CreateOrder(context.Background(), &exchange.OrderRequest{
		Pair:      "BTC/USD",
		Side:      core.SideSell,
		Type:      core.TypeStopLimit,
		Amount:    *amount,
		Price:     price,
		StopPrice: stop,
	})
	require.NoError(t, err)

	assert.Equal(t, "limit", body["type"])
	assert.Equal(t, "loss", body["stop"])
	assert.Equal(t, "41500", body["stop_price"])
	assert.Equal(t, "41000", body["price"])
	assert.NotEmpty(t, body["client_oid"])
	assert.Equal(t, "o-9", order.ID)
	assert.Equal(t, core.StatusOpen, order.Status)
}

func TestCreateOrderValidatesBeforeNetwork(t *testing.T) {
	var hits atomic.Int64
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))

	amount, _, err := apd.NewFromString("0.5")
	require.NoError(t, err)

	_, err = a.CreateOrder(context.Background(), &exchange.OrderRequest{
		Pair:   "BTC/USD",
		Side:   core.SideSell,
		Type:   core.TypeStopLoss,
		Amount: *amount,
	})
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))
	assert.Zero(t, hits.Load())
}

func TestGetBalanceFiltering(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts", r.URL.Path)
		_, _ = w.Write([]byte(`[
			{"currency": "BTC", "balance": "1.5", "hold": "0.5", "available": "1.0"},
			{"currency": "USD", "balance": "0", "hold": "0", "available": "0"}
		]`))
	}))

	balances, err := a.GetBalance(context.Background(), "")
	require.NoError(t, err)

	// The zero-balance row is dropped from the full listing.
	require.Len(t, balances, 1)
	btc := balances.Get("BTC")
	free := btc.Free
	locked := btc.Locked
	assert.Equal(t, "1.0", free.Text('f'))
	assert.Equal(t, "0.5", locked.Text('f'))

	missing, err := a.GetBalance(context.Background(), "eth")
	require.NoError(t, err)
	require.Contains(t, missing, "ETH")
	assert.True(t, missing["ETH"].IsZero())
}

func TestGetOrderBookTrimsDepth(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/products/BTC-USD/book", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("level"))
		_, _ = w.Write([]byte(`{
			"sequence": 7,
			"bids": [["42000.1", "0.5", 3], ["42000.0", "1.5", 1]],
			"asks": [["42000.9", "1.2", 1], ["42001.0", "2.0", 2]]
		}`))
	}))

	book, err := a.GetOrderBook(context.Background(), "BTC/USD", 1)
	require.NoError(t, err)
	require.Len(t, book.Bids, 1)
	require.Len(t, book.Asks, 1)
	assert.Equal(t, "BTC/USD", book.Pair)
}

func TestGetKlines(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/products/BTC-USD/candles", r.URL.Path)
		assert.Equal(t, "3600", r.URL.Query().Get("granularity"))
		_, _ = w.Write([]byte(`[
			[1700007200, 41990, 42030, 42010, 42020, 3],
			[1700003600, 41980, 42015, 42000, 42010, 2],
			[1700000000, 41970, 42005, 41990, 42000, 1]
		]`))
	}))

	klines, err := a.GetKlines(context.Background(), "BTC/USD", "1h", 2)
	require.NoError(t, err)
	require.Len(t, klines, 2)
	assert.Equal(t, int64(1700003600), klines[0].OpenTime.Unix())

	_, err = a.GetKlines(context.Background(), "BTC/USD", "7m", 2)
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))
}

func TestGetOpenOrders(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/orders")
		assert.Contains(t, r.URL.RawQuery, "status=open")
		assert.Contains(t, r.URL.RawQuery, "product_id=BTC-USD")
		_, _ = w.Write([]byte(`[{
			"id": "o-3", "product_id": "BTC-USD", "side": "buy", "type": "limit",
			"price": "41000", "size": "1", "status": "open",
			"created_at": "2023-11-14T22:13:20Z"
		}]`))
	}))

	orders, err := a.GetOpenOrders(context.Background(), "BTC/USD")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "o-3", orders[0].ID)
	assert.Equal(t, core.StatusOpen, orders[0].Status)
}

func TestDecodeBookAssemblesDeltas(t *testing.T) {
	a := newTestAdapter(t, http.NotFoundHandler())
	key := ws.Key{Pair: "BTC/USD", Stream: core.StreamOrderBook}

	snapshot := []byte(`{
		"type": "snapshot", "product_id": "BTC-USD",
		"bids": [["42000.1", "0.5"], ["42000.0", "1.5"]],
		"asks": [["42000.9", "1.2"]]
	}`)
	book, ok := a.decodeBook(key, snapshot)
	require.True(t, ok)
	require.Len(t, book.Bids, 2)
	require.Len(t, book.Asks, 1)

	update := []byte(`{
		"type": "l2update", "product_id": "BTC-USD",
		"changes": [["buy", "42000.1", "0"], ["sell", "42001.0", "2.0"]],
		"time": "2023-11-14T22:13:20Z"
	}`)
	book, ok = a.decodeBook(key, update)
	require.True(t, ok)

	// The zeroed bid is gone and the new ask is in, best first.
	require.Len(t, book.Bids, 1)
	top := book.Bids[0].Price
	assert.Equal(t, "42000.0", top.Text('f'))
	require.Len(t, book.Asks, 2)
	best := book.Asks[0].Price
	assert.Equal(t, "42000.9", best.Text('f'))
}
