package kraken

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

func TestSymbolPrefersCatalogueSpelling(t *testing.T) {
	catalogue := exchange.NewCatalogue()
	n := NewNormalizer(catalogue)

	sym, err := n.Symbol("BTC/USD")
	require.NoError(t, err)
	assert.Equal(t, "XBTUSD", sym, "altname fallback before the catalogue loads")

	catalogue.Replace([]core.SymbolInfo{{Symbol: "XXBTZUSD", Base: "BTC", Quote: "USD"}})
	sym, err = n.Symbol("btc-usd")
	require.NoError(t, err)
	assert.Equal(t, "XXBTZUSD", sym)
}

func TestWSName(t *testing.T) {
	n := newTestNormalizer()
	for pair, want := range map[string]string{
		"BTC/USD":  "XBT/USD",
		"ETH/USDT": "ETH/USDT",
		"DOGE/EUR": "XDG/EUR",
	} {
		got, err := n.WSName(pair)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestPairParsesAllSpellings(t *testing.T) {
	n := newTestNormalizer()
	for symbol, want := range map[string]string{
		"XXBTZUSD": "BTC/USD",
		"XBT/USD":  "BTC/USD",
		"XBTUSDT":  "BTC/USDT",
		"ETHUSD":   "ETH/USD",
		"XDGUSD":   "DOGE/USD",
		"xbtusd":   "BTC/USD",
	} {
		assert.Equal(t, want, n.Pair(symbol), symbol)
	}
}

func TestInterval(t *testing.T) {
	n := newTestNormalizer()
	v, err := n.Interval("4h")
	require.NoError(t, err)
	assert.Equal(t, "240", v)

	_, err = n.Interval("7m")
	assert.Error(t, err)
}

func TestStatus(t *testing.T) {
	n := newTestNormalizer()
	cases := []struct {
		status  string
		volExec string
		want    core.OrderStatus
	}{
		{"pending", "0", core.StatusPending},
		{"open", "0", core.StatusOpen},
		{"open", "0.3", core.StatusPartiallyFilled},
		{"closed", "0.5", core.StatusFilled},
		{"canceled", "0", core.StatusCanceled},
		{"expired", "0", core.StatusExpired},
		{"weird", "0", core.StatusUnknown},
	}
	for _, tc := range cases {
		raw := &krakenOrder{Status: tc.status, VolExec: exchange.Dec(tc.volExec)}
		assert.Equal(t, tc.want, n.Status(raw), "%s/%s", tc.status, tc.volExec)
	}
}

func TestBalancesSkipSubBalances(t *testing.T) {
	n := newTestNormalizer()
	all := n.balances(map[string]string{
		"XXBT":   "1.5",
		"ZUSD":   "100.0",
		"XXBT.S": "2.0",
		"XETH.F": "0.25",
		"SOL":    "0",
	})

	btc := all.Get("BTC")
	assert.Equal(t, "1.5", btc.Free.Text('f'))
	assert.True(t, btc.Locked.IsZero())

	usd := all.Get("USD")
	assert.Equal(t, "100.0", usd.Free.Text('f'))

	_, staked := all["BTC.S"]
	assert.False(t, staked)
	assert.NotContains(t, all, "SOL", "zero balances are dropped")
}

func TestKlinesSkipBadRows(t *testing.T) {
	n := newTestNormalizer()
	rows := [][]any{
		{float64(1700000000), "42000.1", "42010.0", "41990.0", "42005.5", "42002.0", "3.2", float64(18)},
		{"not-a-time", "1", "2", "3", "4", "5", "6", float64(0)},
		{float64(1700000060), "42005.5", "42020.0", "42000.0", "42018.2", "42010.0", "1.1", float64(7)},
	}
	klines := n.klines("BTC/USD", rows)
	require.Len(t, klines, 2)
	assert.Equal(t, int64(1700000000), klines[0].OpenTime.Unix())
	assert.Equal(t, "42005.5", klines[0].Close.Text('f'))
	assert.Equal(t, "1.1", klines[1].Volume.Text('f'))
}

func TestOrderMapping(t *testing.T) {
	n := newTestNormalizer()
	raw := &krakenOrder{
		Status:   "open",
		OpenTime: 1700000000.25,
		Descr: krakenOrderDescr{
			Pair:      "XBTUSD",
			Type:      "sell",
			OrderType: "stop-loss-limit",
			Price:     exchange.Dec("42000.5"),
		},
		Volume:    exchange.Dec("0.5"),
		VolExec:   exchange.Dec("0.1"),
		AvgPrice:  exchange.Dec("42001.0"),
		ClientOID: "mine-1",
	}
	order := n.order("OABC-123", raw, []byte(`{}`))

	assert.Equal(t, "OABC-123", order.ID)
	assert.Equal(t, "mine-1", order.ClientOrderID)
	assert.Equal(t, "BTC/USD", order.Pair)
	assert.Equal(t, core.SideSell, order.Side)
	assert.Equal(t, core.TypeStopLimit, order.Type)
	assert.Equal(t, core.StatusPartiallyFilled, order.Status)
	assert.Equal(t, int64(1700000000), order.Timestamp.Unix())
	assert.Equal(t, int64(250000000), int64(order.Timestamp.Nanosecond()))
}

func TestSymbolsSkipOffline(t *testing.T) {
	n := newTestNormalizer()
	infos := n.symbols(map[string]krakenPair{
		"XXBTZUSD": {
			Altname: "XBTUSD", WSName: "XBT/USD",
			Base: "XXBT", Quote: "ZUSD",
			PairDecimals: 1, LotDecimals: 8,
			OrderMin: "0.0001", CostMin: "0.5", TickSize: "0.1",
			Status: "online",
		},
		"DELISTED": {Base: "XFOO", Quote: "ZUSD", Status: "cancel_only"},
	})
	require.Len(t, infos, 1)
	assert.Equal(t, "XXBTZUSD", infos[0].Symbol)
	assert.Equal(t, "BTC", infos[0].Base)
	assert.Equal(t, "USD", infos[0].Quote)
	assert.Equal(t, 1, infos[0].PriceDecimals)
	assert.Equal(t, 8, infos[0].AmountDecimals)
}

func TestTickerArrays(t *testing.T) {
	n := newTestNormalizer()
	raw := &krakenTicker{
		Ask:    []string{"42001.0", "1", "1.000"},
		Bid:    []string{"42000.0", "2", "2.000"},
		Closed: []string{"42000.5", "0.01"},
		Volume: []string{"10.5", "240.8"},
		High:   []string{"42100.0", "42500.0"},
		Low:    []string{"41800.0", "41500.0"},
	}
	tk := n.ticker("BTC/USD", raw)
	assert.Equal(t, "42001.0", tk.Ask.Text('f'))
	assert.Equal(t, "42000.0", tk.Bid.Text('f'))
	assert.Equal(t, "42000.5", tk.Last.Text('f'))
	assert.Equal(t, "42500.0", tk.High.Text('f'))
	assert.Equal(t, "240.8", tk.Volume.Text('f'))
	assert.False(t, tk.Timestamp.IsZero())
}

func TestAssetAliases(t *testing.T) {
	assert.Equal(t, "BTC", AssetFromKraken("XXBT"))
	assert.Equal(t, "BTC", AssetFromKraken("xbt"))
	assert.Equal(t, "SOL", AssetFromKraken("SOL"))
	assert.Equal(t, "XBT", AssetToKraken("btc"))
	assert.Equal(t, "ETH", AssetToKraken("ETH"))
}
