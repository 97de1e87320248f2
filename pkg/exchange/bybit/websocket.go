package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/apd/v3"

	"exbridge/internal/ws"
	"exbridge/pkg/core"
	"exbridge/pkg/exchange"
)

const (
	streamURL        = "wss://stream.bybit.com/v5/public/spot"
	sandboxStreamURL = "wss://stream-testnet.bybit.com/v5/public/spot"
)

// wsCommand is the op frame for subscribe, unsubscribe, and ping.
type wsCommand struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

// wsEnvelope wraps every data frame.
type wsEnvelope struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	Ts    int64           `json:"ts"`
	Data  json.RawMessage `json:"data"`
}

// wsTrade is one row of the public trade stream.
type wsTrade struct {
	Time   int64       `json:"T"`
	Symbol string      `json:"s"`
	Side   string      `json:"S"`
	Volume apd.Decimal `json:"v"`
	Price  apd.Decimal `json:"p"`
	ID     string      `json:"i"`
}

// streamSpec wires the v5 public spot stream into the hub.
func (a *Adapter) streamSpec() exchange.StreamSpec {
	url := streamURL
	if a.rt.Config.Sandbox {
		url = sandboxStreamURL
	}
	return exchange.StreamSpec{
		Venue: core.VenueBybit,
		URL:   func(context.Context) (string, error) { return url, nil },
		Topic: func(key ws.Key) (string, error) {
			symbol, err := a.normalizer.Symbol(key.Pair)
			if err != nil {
				return "", err
			}
			switch key.Stream {
			case core.StreamTicker:
				return "tickers." + symbol, nil
			case core.StreamTrades:
				return "publicTrade." + symbol, nil
			case core.StreamOrderBook:
				return "orderbook.50." + symbol, nil
			default:
				return "", fmt.Errorf("unsupported stream %q", key.Stream)
			}
		},
		Subscribe: func(conn *ws.Conn, topics []string) error {
			return conn.SendJSON(wsCommand{Op: "subscribe", Args: topics})
		},
		Unsubscribe: func(conn *ws.Conn, topics []string) error {
			return conn.SendJSON(wsCommand{Op: "unsubscribe", Args: topics})
		},
		Route: func(frame []byte) (string, []byte, bool) {
			var env wsEnvelope
			if err := sonic.Unmarshal(frame, &env); err != nil || env.Topic == "" {
				// Op acks and pongs carry no topic.
				return "", nil, false
			}
			// Decoders need the envelope's timestamp, so the whole frame
			// travels with the topic.
			return env.Topic, frame, true
		},
		// The venue expects a JSON ping at least every 20 seconds.
		Ping: func(conn *ws.Conn) error {
			return conn.SendJSON(wsCommand{Op: "ping"})
		},
		PingInterval: 20 * time.Second,
	}
}

func (a *Adapter) decodeTicker(key ws.Key, frame []byte) (core.Ticker, bool) {
	var env wsEnvelope
	if err := sonic.Unmarshal(frame, &env); err != nil {
		return core.Ticker{}, false
	}
	var raw bybitTicker
	if err := sonic.Unmarshal(env.Data, &raw); err != nil || raw.Symbol == "" {
		return core.Ticker{}, false
	}
	t := a.normalizer.ticker(&raw, time.UnixMilli(env.Ts))
	t.Pair = key.Pair
	return t, true
}

func (a *Adapter) decodeTrade(key ws.Key, frame []byte) (core.Trade, bool) {
	var env wsEnvelope
	if err := sonic.Unmarshal(frame, &env); err != nil {
		return core.Trade{}, false
	}
	var rows []wsTrade
	if err := sonic.Unmarshal(env.Data, &rows); err != nil || len(rows) == 0 {
		return core.Trade{}, false
	}
	// The stream batches fills; the most recent one closes the batch.
	raw := rows[len(rows)-1]
	side := core.SideBuy
	if raw.Side == "Sell" {
		side = core.SideSell
	}
	return core.Trade{
		ID:        raw.ID,
		Pair:      key.Pair,
		Side:      side,
		Price:     raw.Price,
		Amount:    raw.Volume,
		Timestamp: time.UnixMilli(raw.Time),
	}, true
}

func (a *Adapter) decodeBook(key ws.Key, frame []byte) (core.OrderBook, bool) {
	var env wsEnvelope
	if err := sonic.Unmarshal(frame, &env); err != nil {
		return core.OrderBook{}, false
	}
	var raw bybitBook
	if err := sonic.Unmarshal(env.Data, &raw); err != nil {
		return core.OrderBook{}, false
	}
	raw.Ts = env.Ts
	book := a.normalizer.book(key.Pair, &raw)
	return *book, true
}
