package kraken

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exbridge/internal/ws"
	"exbridge/pkg/core"
)

func newStreamAdapter(t *testing.T) *Adapter {
	t.Helper()
	return newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
}

func TestRouteArrayFrames(t *testing.T) {
	spec := newStreamAdapter(t).streamSpec()

	topic, _, ok := spec.Route([]byte(`[42, {"c": ["42000.5", "0.01"]}, "ticker", "XBT/USD"]`))
	require.True(t, ok)
	assert.Equal(t, "ticker|XBT/USD", topic)

	// Depth-suffixed channel names collapse to the base name.
	topic, _, ok = spec.Route([]byte(`[5, {"a": [["42000.9", "0.7", "1700000000.1"]]}, "book-10", "XBT/USD"]`))
	require.True(t, ok)
	assert.Equal(t, "book|XBT/USD", topic)

	_, _, ok = spec.Route([]byte(`{"event": "heartbeat"}`))
	assert.False(t, ok)

	_, _, ok = spec.Route([]byte(`{"event": "subscriptionStatus", "status": "subscribed"}`))
	assert.False(t, ok)
}

func TestStreamTopics(t *testing.T) {
	spec := newStreamAdapter(t).streamSpec()

	topic, err := spec.Topic(ws.Key{Pair: "BTC/USD", Stream: core.StreamTrades})
	require.NoError(t, err)
	assert.Equal(t, "trade|XBT/USD", topic)
}

func TestDecodeTicker(t *testing.T) {
	a := newStreamAdapter(t)
	key := ws.Key{Pair: "BTC/USD", Stream: core.StreamTicker}

	frame := []byte(`[42, {
		"a": ["42001.0", "1", "1.000"],
		"b": ["42000.0", "2", "2.000"],
		"c": ["42000.5", "0.01"],
		"v": ["10.5", "240.8"],
		"h": ["42100.0", "42500.0"],
		"l": ["41800.0", "41500.0"]
	}, "ticker", "XBT/USD"]`)

	ticker, ok := a.decodeTicker(key, frame)
	require.True(t, ok)
	assert.Equal(t, "BTC/USD", ticker.Pair)
	assert.Equal(t, "42000.5", ticker.Last.Text('f'))
	assert.Equal(t, "42500.0", ticker.High.Text('f'))
}

func TestDecodeTradeTakesLastOfBatch(t *testing.T) {
	a := newStreamAdapter(t)
	key := ws.Key{Pair: "BTC/USD", Stream: core.StreamTrades}

	frame := []byte(`[37, [
		["42000.1", "0.1", "1700000000.100000", "b", "l", ""],
		["42000.2", "0.3", "1700000000.200000", "s", "m", ""]
	], "trade", "XBT/USD"]`)

	trade, ok := a.decodeTrade(key, frame)
	require.True(t, ok)
	assert.Equal(t, core.SideSell, trade.Side)
	assert.Equal(t, "42000.2", trade.Price.Text('f'))
	assert.Equal(t, "0.3", trade.Amount.Text('f'))
	assert.Equal(t, int64(1700000000), trade.Timestamp.Unix())
}

func TestDecodeBookAssemblesDeltas(t *testing.T) {
	a := newStreamAdapter(t)
	key := ws.Key{Pair: "BTC/USD", Stream: core.StreamOrderBook}

	snapshot := []byte(`[5, {
		"as": [["42000.9", "0.7", "1700000000.1"], ["42001.0", "1.2", "1700000000.1"]],
		"bs": [["42000.0", "1.5", "1700000000.1"], ["41999.5", "2.0", "1700000000.1"]]
	}, "book-10", "XBT/USD"]`)
	book, ok := a.decodeBook(key, snapshot)
	require.True(t, ok)
	require.Len(t, book.Bids, 2)
	assert.Equal(t, "42000.0", book.Bids[0].Price.Text('f'))

	// An update frame carries ask and bid payloads as separate objects.
	update := []byte(`[5,
		{"a": [["42000.9", "0.0000", "1700000001.1"]]},
		{"b": [["42000.5", "0.4", "1700000001.2"]]},
		"book-10", "XBT/USD"]`)
	book, ok = a.decodeBook(key, update)
	require.True(t, ok)
	require.Len(t, book.Asks, 1)
	assert.Equal(t, "42001.0", book.Asks[0].Price.Text('f'), "zeroed level removed")
	require.Len(t, book.Bids, 3)
	assert.Equal(t, "42000.5", book.Bids[0].Price.Text('f'), "new best bid applied")
}
