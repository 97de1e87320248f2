package binance

import (
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exbridge/pkg/core"
	"exbridge/pkg/exchange"
)

func newTestNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	cat := exchange.NewCatalogue()
	cat.Replace([]core.SymbolInfo{
		{Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT"},
		{Symbol: "ETHBTC", Base: "ETH", Quote: "BTC"},
	})
	return NewNormalizer(cat)
}

func TestNormalizerSymbol(t *testing.T) {
	n := newTestNormalizer(t)

	tests := []struct {
		pair string
		want string
	}{
		{"BTC/USDT", "BTCUSDT"},
		{"btc-usdt", "BTCUSDT"},
		{"ETH_BTC", "ETHBTC"},
	}
	for _, tt := range tests {
		got, err := n.Symbol(tt.pair)
		require.NoError(t, err, tt.pair)
		assert.Equal(t, tt.want, got)
	}

	_, err := n.Symbol("")
	assert.Error(t, err)
}

func TestNormalizerPairRoundTrip(t *testing.T) {
	n := newTestNormalizer(t)

	for _, pair := range []string{"BTC/USDT", "ETH/BTC"} {
		symbol, err := n.Symbol(pair)
		require.NoError(t, err)
		assert.Equal(t, pair, n.Pair(symbol))
	}

	// Unknown symbols fall back to the suffix heuristic.
	assert.Equal(t, "SOL/USDT", n.Pair("SOLUSDT"))
}

func TestNormalizerStatus(t *testing.T) {
	n := newTestNormalizer(t)

	tests := []struct {
		raw  string
		want core.OrderStatus
	}{
		{"NEW", core.StatusOpen},
		{"PARTIALLY_FILLED", core.StatusPartiallyFilled},
		{"FILLED", core.StatusFilled},
		{"CANCELED", core.StatusCanceled},
		{"PENDING_CANCEL", core.StatusOpen},
		{"REJECTED", core.StatusCanceled},
		{"EXPIRED", core.StatusExpired},
		{"EXPIRED_IN_MATCH", core.StatusExpired},
		{"SOMETHING_NEW", core.StatusUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, n.Status(tt.raw), tt.raw)
	}
}

func TestNormalizerOrder(t *testing.T) {
	n := newTestNormalizer(t)

	payload := []byte(`{
		"symbol": "BTCUSDT",
		"orderId": 123456,
		"clientOrderId": "my-order-1",
		"price": "42000.50",
		"origQty": "0.5",
		"executedQty": "0.2",
		"cummulativeQuoteQty": "8400.10",
		"status": "PARTIALLY_FILLED",
		"type": "LIMIT",
		"side": "BUY",
		"updateTime": 1700000000000
	}`)
	var raw binanceOrder
	require.NoError(t, sonic.Unmarshal(payload, &raw))

	order := n.order(&raw, payload)
	assert.Equal(t, "123456", order.ID)
	assert.Equal(t, "my-order-1", order.ClientOrderID)
	assert.Equal(t, "BTC/USDT", order.Pair)
	assert.Equal(t, core.SideBuy, order.Side)
	assert.Equal(t, core.TypeLimit, order.Type)
	assert.Equal(t, core.StatusPartiallyFilled, order.Status)
	assert.Equal(t, "42000.50", order.Price.Text('f'))
	assert.Equal(t, "0.5", order.Amount.Text('f'))
	assert.Equal(t, "0.2", order.Filled.Text('f'))
	assert.Equal(t, "42000.5", order.AveragePrice.Text('f'))
	assert.JSONEq(t, string(payload), string(order.Raw))
}

func TestNormalizerBalancesSkipZero(t *testing.T) {
	n := newTestNormalizer(t)

	var raw binanceAccount
	require.NoError(t, sonic.Unmarshal([]byte(`{
		"balances": [
			{"asset": "BTC", "free": "0.5", "locked": "0.1"},
			{"asset": "ETH", "free": "0", "locked": "0"},
			{"asset": "USDT", "free": "0", "locked": "25.0"}
		]
	}`), &raw))

	balances := n.balances(&raw)
	assert.Len(t, balances, 2)
	btc := balances.Get("BTC")
	assert.Equal(t, "0.6", btc.Total.Text('f'))
	usdt := balances.Get("USDT")
	assert.Equal(t, "25.0", usdt.Locked.Text('f'))
	_, hasETH := balances["ETH"]
	assert.False(t, hasETH)
}

func TestNormalizerKlines(t *testing.T) {
	n := newTestNormalizer(t)

	var raw [][]any
	require.NoError(t, sonic.Unmarshal([]byte(`[
		[1700000000000, "42000.1", "42100.0", "41900.5", "42050.2", "12.5", 1700000059999, "x", 1, "y", "z", "0"],
		[1700000060000, "42050.2"]
	]`), &raw))

	klines := n.klines("BTC/USDT", raw)
	require.Len(t, klines, 1, "short rows are skipped")
	k := klines[0]
	assert.Equal(t, "BTC/USDT", k.Pair)
	assert.Equal(t, int64(1700000000000), k.OpenTime.UnixMilli())
	assert.Equal(t, "42000.1", k.Open.Text('f'))
	assert.Equal(t, "42050.2", k.Close.Text('f'))
	assert.Equal(t, "12.5", k.Volume.Text('f'))
}

func TestNormalizerSymbols(t *testing.T) {
	n := newTestNormalizer(t)

	var raw binanceExchangeInfo
	require.NoError(t, sonic.Unmarshal([]byte(`{
		"symbols": [
			{
				"symbol": "BTCUSDT", "status": "TRADING",
				"baseAsset": "BTC", "quoteAsset": "USDT",
				"filters": [
					{"filterType": "PRICE_FILTER", "tickSize": "0.01000000"},
					{"filterType": "LOT_SIZE", "stepSize": "0.00010000"},
					{"filterType": "NOTIONAL", "minNotional": "5.00000000"}
				]
			},
			{"symbol": "DELISTED", "status": "BREAK", "baseAsset": "OLD", "quoteAsset": "USDT"}
		]
	}`), &raw))

	infos := n.symbols(&raw)
	require.Len(t, infos, 1)
	info := infos[0]
	assert.Equal(t, "BTC/USDT", info.Pair())
	assert.Equal(t, 2, info.PriceDecimals)
	assert.Equal(t, 4, info.AmountDecimals)
	assert.Equal(t, "5.00000000", info.MinNotional.Text('f'))
}
