package bybit

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

	"exbridge/pkg/core"
	"exbridge/pkg/exchange"
)

func newTestAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := core.DefaultConfig(core.VenueBybit).
		WithCredential(&core.Credential{
			Venue:     core.VenueBybit,
			APIKey:    "testApiKey",
			APISecret: "testSecretKey",
		})
	cfg.MaxRetries = 0

	a, err := New(cfg, exchange.WithBaseURL(srv.URL))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestEnvelopeErrorOnSuccessStatus(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The venue reports failures with HTTP 200 and a nonzero retCode.
		_, _ = w.Write([]byte(`{"retCode": 10004, "retMsg": "error sign!", "result": {}}`))
	}))

	_, err := a.GetCurrentPrice(context.Background(), "BTC/USDT")
	require.Error(t, err)
	assert.True(t, core.IsAuthentication(err))

	var verr *core.Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "10004", verr.Code)
}

func TestGetCurrentPrice(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/market/tickers", r.URL.Path)
		assert.Equal(t, "spot", r.URL.Query().Get("category"))
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`{
			"retCode": 0, "retMsg": "OK", "time": 1700000000000,
			"result": {"list": [{
				"symbol": "BTCUSDT", "lastPrice": "42000.5",
				"bid1Price": "42000.1", "ask1Price": "42000.9",
				"highPrice24h": "42500", "lowPrice24h": "41000", "volume24h": "1234.5"
			}]}
		}`))
	}))

	price, err := a.GetCurrentPrice(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "42000.5", price.Text('f'))
}

func TestCreateOrderValidatesBeforeNetwork(t *testing.T) {
	var hits atomic.Int64
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))

	amount, _, err := apd.NewFromString("0.5")
	require.NoError(t, err)

	_, err = a.CreateOrder(context.Background(), &exchange.OrderRequest{
		Pair: "BTC/USDT", Side: core.SideSell, Type: core.TypeStopLimit, Amount: *amount,
	})
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))
	assert.Zero(t, hits.Load())
}

func TestCreateOrderFetchesRestingState(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v5/order/create":
			assert.Equal(t, http.MethodPost, r.Method)
			assert.NotEmpty(t, r.Header.Get("X-BAPI-SIGN"))

			var body map[string]string
			require.NoError(t, sonic.ConfigDefault.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "spot", body["category"])
			assert.Equal(t, "BTCUSDT", body["symbol"])
			assert.Equal(t, "Buy", body["side"])
			assert.Equal(t, "Limit", body["orderType"])
			assert.Equal(t, "0.5", body["qty"])
			assert.Equal(t, "42000.5", body["price"])
			assert.Equal(t, "GTC", body["timeInForce"])

			_, _ = w.Write([]byte(`{"retCode": 0, "retMsg": "OK",
				"result": {"orderId": "order-1", "orderLinkId": ""}}`))
		case "/v5/order/realtime":
			assert.Equal(t, "order-1", r.URL.Query().Get("orderId"))
			_, _ = w.Write([]byte(`{"retCode": 0, "retMsg": "OK", "result": {"list": [{
				"orderId": "order-1", "symbol": "BTCUSDT", "side": "Buy",
				"orderType": "Limit", "price": "42000.5", "qty": "0.5",
				"cumExecQty": "0", "avgPrice": "0", "orderStatus": "New",
				"createdTime": "1700000000000"
			}]}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	amount, _, err := apd.NewFromString("0.5")
	require.NoError(t, err)
	price, _, err := apd.NewFromString("42000.5")
	require.NoError(t, err)

	order, err := a.CreateOrder(context.Background(), &exchange.OrderRequest{
		Pair: "BTC/USDT", Side: core.SideBuy, Type: core.TypeLimit,
		Amount: *amount, Price: price,
	})
	require.NoError(t, err)
	assert.Equal(t, "order-1", order.ID)
	assert.Equal(t, core.StatusOpen, order.Status)
	assert.Equal(t, "BTC/USDT", order.Pair)
}

func TestGetOrderStatusFallsBackToHistory(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v5/order/realtime":
			_, _ = w.Write([]byte(`{"retCode": 0, "retMsg": "OK", "result": {"list": []}}`))
		case "/v5/order/history":
			_, _ = w.Write([]byte(`{"retCode": 0, "retMsg": "OK", "result": {"list": [{
				"orderId": "order-9", "symbol": "BTCUSDT", "side": "Sell",
				"orderType": "Limit", "price": "42000.5", "qty": "1",
				"cumExecQty": "1", "avgPrice": "42000.5", "orderStatus": "Filled",
				"updatedTime": "1700000000000"
			}]}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	order, err := a.GetOrderStatus(context.Background(), "order-9", "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, core.StatusFilled, order.Status)
	assert.True(t, order.Status.IsTerminal())
}

func TestGetBalance(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/account/wallet-balance", r.URL.Path)
		assert.Equal(t, "UNIFIED", r.URL.Query().Get("accountType"))
		_, _ = w.Write([]byte(`{"retCode": 0, "retMsg": "OK", "result": {"list": [{
			"coin": [
				{"coin": "BTC", "walletBalance": "1.5", "locked": "0.5"},
				{"coin": "ZERO", "walletBalance": "0", "locked": "0"}
			]
		}]}}`))
	}))

	balances, err := a.GetBalance(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, balances, 1)
	btc := balances.Get("BTC")
	assert.Equal(t, "1.0", btc.Free.Text('f'))
	assert.Equal(t, "0.5", btc.Locked.Text('f'))
	assert.Equal(t, "1.5", btc.Total.Text('f'))
}

func TestGetKlinesOldestFirst(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "60", r.URL.Query().Get("interval"))
		// The venue returns newest first.
		_, _ = w.Write([]byte(`{"retCode": 0, "retMsg": "OK", "result": {"list": [
			["1700003600000", "42050", "42200", "42000", "42150", "8.1", "340000"],
			["1700000000000", "42000", "42100", "41900", "42050", "12.5", "525000"]
		]}}`))
	}))

	klines, err := a.GetKlines(context.Background(), "BTC/USDT", "1h", 2)
	require.NoError(t, err)
	require.Len(t, klines, 2)
	assert.True(t, klines[0].OpenTime.Before(klines[1].OpenTime))
	assert.Equal(t, "42000", klines[0].Open.Text('f'))
}
