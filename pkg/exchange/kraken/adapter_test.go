package kraken

import (
	"context"
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

	cfg := core.DefaultConfig(core.VenueKraken).
		WithCredential(&core.Credential{
			Venue:     core.VenueKraken,
			APIKey:    "testApiKey",
			APISecret: testSecret,
		})
	cfg.MaxRetries = 0

	a, err := New(cfg, exchange.WithBaseURL(srv.URL))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNewRejectsSandbox(t *testing.T) {
	cfg := core.DefaultConfig(core.VenueKraken)
	cfg.Sandbox = true

	_, err := New(cfg)
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))
}

func TestEnvelopeErrorOnSuccessStatus(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Failures arrive with HTTP 200 and a populated error list.
		_, _ = w.Write([]byte(`{"error": ["EAPI:Invalid key"]}`))
	}))

	_, err := a.GetBalance(context.Background(), "")
	require.Error(t, err)
	assert.True(t, core.IsAuthentication(err))

	var verr *core.Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "EAPI:Invalid key", verr.Code)
}

func TestGetCurrentPrice(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/0/public/Ticker", r.URL.Path)
		assert.Equal(t, "XBTUSD", r.URL.Query().Get("pair"))
		_, _ = w.Write([]byte(`{"error": [], "result": {"XXBTZUSD": {
			"a": ["42001.0", "1", "1.000"],
			"b": ["42000.0", "2", "2.000"],
			"c": ["42000.5", "0.01"],
			"v": ["10.5", "240.8"],
			"h": ["42100.0", "42500.0"],
			"l": ["41800.0", "41500.0"]
		}}}`))
	}))

	price, err := a.GetCurrentPrice(context.Background(), "BTC/USD")
	require.NoError(t, err)
	assert.Equal(t, "42000.5", price.Text('f'))
}

func TestCreateOrderStopLimitForm(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/0/private/AddOrder", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "XBTUSD", r.PostForm.Get("pair"))
		assert.Equal(t, "buy", r.PostForm.Get("type"))
		assert.Equal(t, "stop-loss-limit", r.PostForm.Get("ordertype"))
		assert.Equal(t, "0.5", r.PostForm.Get("volume"))
		assert.Equal(t, "41000.0", r.PostForm.Get("price"), "trigger rides in price")
		assert.Equal(t, "40990.0", r.PostForm.Get("price2"), "limit rides in price2")
		assert.Equal(t, "mine-1", r.PostForm.Get("cl_ord_id"))
		assert.NotEmpty(t, r.PostForm.Get("nonce"))
		assert.Equal(t, "testApiKey", r.Header.Get("API-Key"))
		assert.NotEmpty(t, r.Header.Get("API-Sign"))
		_, _ = w.Write([]byte(`{"error": [], "result": {"txid": ["OABC-123"]}}`))
	})
	mux.HandleFunc("/0/private/QueryOrders", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error": [], "result": {"OABC-123": {
			"status": "open", "opentm": 1700000000.0,
			"descr": {"pair": "XBTUSD", "type": "buy", "ordertype": "stop-loss-limit", "price": "41000.0"},
			"vol": "0.5", "vol_exec": "0", "price": "0", "cl_ord_id": "mine-1"
		}}}`))
	})
	a := newTestAdapter(t, mux)

	amount, _, err := apd.NewFromString("0.5")
	require.NoError(t, err)
	price, _, err := apd.NewFromString("40990.0")
	require.NoError(t, err)
	stop, _, err := apd.NewFromString("41000.0")
	require.NoError(t, err)

	order, err := a.CreateOrder(context.Background(), &exchange.OrderRequest{
		Pair:          "BTC/USD",
		Side:          core.SideBuy,
		Type:          core.TypeStopLimit,
		Amount:        *amount,
		Price:         price,
		StopPrice:     stop,
		ClientOrderID: "mine-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "OABC-123", order.ID)
	assert.Equal(t, "mine-1", order.ClientOrderID)
	assert.Equal(t, core.StatusOpen, order.Status)
	assert.Equal(t, "BTC/USD", order.Pair)
}

func TestCreateOrderFallsBackWhenStatusLookupFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/0/private/AddOrder", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error": [], "result": {"txid": ["OXYZ-9"]}}`))
	})
	mux.HandleFunc("/0/private/QueryOrders", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error": ["EOrder:Unknown order"]}`))
	})
	a := newTestAdapter(t, mux)

	amount, _, err := apd.NewFromString("0.1")
	require.NoError(t, err)

	order, err := a.CreateOrder(context.Background(), &exchange.OrderRequest{
		Pair:   "BTC/USD",
		Side:   core.SideSell,
		Type:   core.TypeMarket,
		Amount: *amount,
	})
	require.NoError(t, err)
	assert.Equal(t, "OXYZ-9", order.ID)
	assert.Equal(t, core.StatusPending, order.Status)
}

func TestGetOrderStatusNotFound(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error": [], "result": {}}`))
	}))

	_, err := a.GetOrderStatus(context.Background(), "ONOPE-1", "")
	require.Error(t, err)
	assert.True(t, core.IsProtocol(err))
}

func TestGetKlinesSkipsCursor(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/0/public/OHLC", r.URL.Path)
		assert.Equal(t, "60", r.URL.Query().Get("interval"))
		_, _ = w.Write([]byte(`{"error": [], "result": {
			"last": 1700003600,
			"XXBTZUSD": [
				[1700000000, "42000.1", "42010.0", "41990.0", "42005.5", "42002.0", "3.2", 18],
				[1700003600, "42005.5", "42020.0", "42000.0", "42018.2", "42010.0", "1.1", 7]
			]
		}}`))
	}))

	klines, err := a.GetKlines(context.Background(), "BTC/USD", "1h", 1)
	require.NoError(t, err)
	require.Len(t, klines, 1)
	assert.Equal(t, int64(1700003600), klines[0].OpenTime.Unix())

	_, err = a.GetKlines(context.Background(), "BTC/USD", "7m", 1)
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))
}

func TestGetOrderBook(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/0/public/Depth", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("count"), "non-positive depth falls back to the default")
		_, _ = w.Write([]byte(`{"error": [], "result": {"XXBTZUSD": {
			"bids": [["42000.0", "1.5", 1700000000]],
			"asks": [["42000.9", "0.7", 1700000001]]
		}}}`))
	}))

	book, err := a.GetOrderBook(context.Background(), "BTC/USD", 0)
	require.NoError(t, err)
	require.Len(t, book.Bids, 1)
	require.Len(t, book.Asks, 1)
	assert.Equal(t, "42000.0", book.Bids[0].Price.Text('f'))
	assert.Equal(t, "0.7", book.Asks[0].Amount.Text('f'))
}

func TestGetOrderBookDegradesOnDecodeFailure(t *testing.T) {
	var hits atomic.Int64
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"error": [], "result": "garbage`))
	}))

	book, err := a.GetOrderBook(context.Background(), "BTC/USD", 10)
	require.NoError(t, err)
	assert.Empty(t, book.Bids)
	assert.Empty(t, book.Asks)
	assert.Equal(t, int64(2), hits.Load(), "one retry before degrading")
}

func TestGetOpenOrdersFiltersPairAndSorts(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/0/private/OpenOrders", r.URL.Path)
		_, _ = w.Write([]byte(`{"error": [], "result": {"open": {
			"OAAA-1": {"status": "open", "opentm": 1700000200.0,
				"descr": {"pair": "XBTUSD", "type": "buy", "ordertype": "limit", "price": "42000.0"},
				"vol": "0.5", "vol_exec": "0"},
			"OBBB-2": {"status": "open", "opentm": 1700000100.0,
				"descr": {"pair": "XBTUSD", "type": "sell", "ordertype": "limit", "price": "43000.0"},
				"vol": "0.2", "vol_exec": "0"},
			"OCCC-3": {"status": "open", "opentm": 1700000150.0,
				"descr": {"pair": "ETHUSD", "type": "buy", "ordertype": "limit", "price": "2200.0"},
				"vol": "1.0", "vol_exec": "0"}
		}}}`))
	}))

	orders, err := a.GetOpenOrders(context.Background(), "BTC/USD")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "OBBB-2", orders[0].ID, "oldest first")
	assert.Equal(t, "OAAA-1", orders[1].ID)
}

func TestGetTradeHistoryFiltersAndSorts(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/0/private/TradesHistory", r.URL.Path)
		_, _ = w.Write([]byte(`{"error": [], "result": {"trades": {
			"TAAA-1": {"ordertxid": "OAAA-1", "pair": "XXBTZUSD", "time": 1700000100.5,
				"type": "buy", "price": "42000.0", "vol": "0.1", "fee": "0.5"},
			"TBBB-2": {"ordertxid": "OBBB-2", "pair": "XXBTZUSD", "time": 1700000200.5,
				"type": "sell", "price": "42010.0", "vol": "0.2", "fee": "0.6"},
			"TCCC-3": {"ordertxid": "OCCC-3", "pair": "XETHZUSD", "time": 1700000300.5,
				"type": "buy", "price": "2200.0", "vol": "1.0", "fee": "0.2"}
		}}}`))
	}))

	trades, err := a.GetTradeHistory(context.Background(), "BTC/USD", 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "TBBB-2", trades[0].ID, "newest first")
	assert.Equal(t, core.SideSell, trades[0].Side)
	assert.Equal(t, "OAAA-1", trades[1].OrderID)
}
