package kucoin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exbridge/pkg/core"
	"exbridge/pkg/exchange"
)

func newTestNormalizer() *Normalizer {
	return NewNormalizer(exchange.NewCatalogue())
}

func TestNormalizerSymbol(t *testing.T) {
	n := newTestNormalizer()

	tests := []struct {
		pair string
		want string
	}{
		{"BTC/USDT", "BTC-USDT"},
		{"btc-usdt", "BTC-USDT"},
		{"ETH_BTC", "ETH-BTC"},
	}
	for _, tt := range tests {
		got, err := n.Symbol(tt.pair)
		require.NoError(t, err, tt.pair)
		assert.Equal(t, tt.want, got, tt.pair)
	}

	_, err := n.Symbol("BTCUSDT")
	assert.Error(t, err)
}

func TestNormalizerPairRoundTrip(t *testing.T) {
	n := newTestNormalizer()
	assert.Equal(t, "BTC/USDT", n.Pair("BTC-USDT"))
	assert.Equal(t, "ETH/BTC", n.Pair("eth-btc"))
}

func TestNormalizerInterval(t *testing.T) {
	n := newTestNormalizer()

	tests := []struct {
		in   string
		want string
	}{
		{"1m", "1min"},
		{"1h", "1hour"},
		{"1d", "1day"},
		{"1w", "1week"},
	}
	for _, tt := range tests {
		got, err := n.Interval(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := n.Interval("1M")
	assert.Error(t, err)
}

func TestNormalizerStatusFromBooleans(t *testing.T) {
	n := newTestNormalizer()

	tests := []struct {
		name string
		raw  kucoinOrder
		want core.OrderStatus
	}{
		{
			name: "canceled wins over everything",
			raw:  kucoinOrder{CancelExist: true, IsActive: false},
			want: core.StatusCanceled,
		},
		{
			name: "active with no fills is open",
			raw:  kucoinOrder{IsActive: true},
			want: core.StatusOpen,
		},
		{
			name: "active with fills is partially filled",
			raw:  kucoinOrder{IsActive: true, DealSize: exchange.Dec("0.1")},
			want: core.StatusPartiallyFilled,
		},
		{
			name: "done with full deal size is filled",
			raw:  kucoinOrder{Size: exchange.Dec("0.5"), DealSize: exchange.Dec("0.5")},
			want: core.StatusFilled,
		},
		{
			name: "funds-sized market order with deal funds is filled",
			raw:  kucoinOrder{DealFunds: exchange.Dec("100")},
			want: core.StatusFilled,
		},
		{
			name: "done with nothing dealt is unknown",
			raw:  kucoinOrder{},
			want: core.StatusUnknown,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, n.Status(&tt.raw))
		})
	}
}

func TestNormalizerBalancesTradeAccountsOnly(t *testing.T) {
	n := newTestNormalizer()

	accounts := []kucoinAccount{
		{Currency: "btc", Type: "trade", Balance: exchange.Dec("1.5"), Available: exchange.Dec("1.0"), Holds: exchange.Dec("0.5")},
		{Currency: "BTC", Type: "main", Balance: exchange.Dec("9"), Available: exchange.Dec("9")},
		{Currency: "USDT", Type: "trade", Balance: exchange.Dec("250"), Available: exchange.Dec("250")},
	}
	balances := n.balances(accounts)

	require.Len(t, balances, 2)
	btc := balances.Get("BTC")
	free := btc.Free
	locked := btc.Locked
	assert.Equal(t, "1.0", free.Text('f'))
	assert.Equal(t, "0.5", locked.Text('f'))
}

func TestNormalizerKlinesOldestFirst(t *testing.T) {
	n := newTestNormalizer()

	rows := [][]string{
		{"1700000120", "42010", "42020", "42030", "42000", "3"},
		{"1700000060", "42000", "42010", "42015", "41990", "2"},
		{"bad", "x", "x", "x", "x", "x"},
		{"1700000000", "41990", "42000", "42005", "41980", "1"},
	}
	klines := n.klines("BTC/USDT", rows)

	require.Len(t, klines, 3)
	assert.Equal(t, int64(1700000000), klines[0].OpenTime.Unix())
	assert.Equal(t, int64(1700000120), klines[2].OpenTime.Unix())
	open := klines[0].Open
	assert.Equal(t, "41990", open.Text('f'))
}

func TestNormalizerSymbolsSkipDisabled(t *testing.T) {
	n := newTestNormalizer()

	rows := []kucoinSymbol{
		{Symbol: "BTC-USDT", BaseCurrency: "BTC", QuoteCurrency: "USDT", PriceIncrement: "0.1", BaseIncrement: "0.00000001", MinFunds: "0.1", EnableTrading: true},
		{Symbol: "OLD-USDT", BaseCurrency: "OLD", QuoteCurrency: "USDT", EnableTrading: false},
	}
	infos := n.symbols(rows)

	require.Len(t, infos, 1)
	assert.Equal(t, "BTC-USDT", infos[0].Symbol)
	assert.Equal(t, 1, infos[0].PriceDecimals)
	assert.Equal(t, 8, infos[0].AmountDecimals)
}

func TestNanosString(t *testing.T) {
	assert.Equal(t, int64(1700000000000000000), nanosString("1700000000000000000"))
	assert.Zero(t, nanosString("16410569970000x"))
	assert.Zero(t, nanosString(""))
}
