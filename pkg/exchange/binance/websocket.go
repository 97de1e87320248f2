package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/apd/v3"

	"exbridge/internal/ws"
	"exbridge/pkg/core"
	"exbridge/pkg/exchange"
)

const (
	streamURL        = "wss://stream.binance.com:9443/stream"
	sandboxStreamURL = "wss://testnet.binance.vision/stream"
)

// wsCommand is the subscribe/unsubscribe frame.
type wsCommand struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// wsEnvelope is the combined-stream wrapper around every data frame.
type wsEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// wsTicker is the 24hrTicker stream payload.
type wsTicker struct {
	EventTime int64       `json:"E"`
	Symbol    string      `json:"s"`
	Last      apd.Decimal `json:"c"`
	Bid       apd.Decimal `json:"b"`
	Ask       apd.Decimal `json:"a"`
	High      apd.Decimal `json:"h"`
	Low       apd.Decimal `json:"l"`
	Volume    apd.Decimal `json:"v"`
}

// wsTrade is the trade stream payload.
type wsTrade struct {
	TradeID      int64       `json:"t"`
	Symbol       string      `json:"s"`
	Price        apd.Decimal `json:"p"`
	Quantity     apd.Decimal `json:"q"`
	BuyerIsMaker bool        `json:"m"`
	TradeTime    int64       `json:"T"`
}

var wsRequestID atomic.Int64

// streamSpec wires the venue's combined-stream vocabulary into the hub.
func (a *Adapter) streamSpec() exchange.StreamSpec {
	url := streamURL
	if a.rt.Config.Sandbox {
		url = sandboxStreamURL
	}
	return exchange.StreamSpec{
		Venue: core.VenueBinance,
		URL: func(context.Context) (string, error) { return url, nil },
		Topic: func(key ws.Key) (string, error) {
			symbol, err := a.normalizer.Symbol(key.Pair)
			if err != nil {
				return "", err
			}
			s := strings.ToLower(symbol)
			switch key.Stream {
			case core.StreamTicker:
				return s + "@ticker", nil
			case core.StreamTrades:
				return s + "@trade", nil
			case core.StreamOrderBook:
				return s + "@depth20@100ms", nil
			default:
				return "", fmt.Errorf("unsupported stream %q", key.Stream)
			}
		},
		Subscribe: func(conn *ws.Conn, topics []string) error {
			return conn.SendJSON(wsCommand{Method: "SUBSCRIBE", Params: topics, ID: wsRequestID.Add(1)})
		},
		Unsubscribe: func(conn *ws.Conn, topics []string) error {
			return conn.SendJSON(wsCommand{Method: "UNSUBSCRIBE", Params: topics, ID: wsRequestID.Add(1)})
		},
		Route: func(frame []byte) (string, []byte, bool) {
			var env wsEnvelope
			if err := sonic.Unmarshal(frame, &env); err != nil || env.Stream == "" {
				// Command acks carry no stream field.
				return "", nil, false
			}
			return env.Stream, env.Data, true
		},
		// The venue pings first; the protocol-level pong in the connection
		// layer answers it. A 3 minute client ping guards idle streams.
		PingInterval: 3 * time.Minute,
	}
}

func (a *Adapter) decodeTicker(key ws.Key, frame []byte) (core.Ticker, bool) {
	var raw wsTicker
	if err := sonic.Unmarshal(frame, &raw); err != nil || raw.Symbol == "" {
		return core.Ticker{}, false
	}
	return core.Ticker{
		Pair:      key.Pair,
		Bid:       raw.Bid,
		Ask:       raw.Ask,
		Last:      raw.Last,
		High:      raw.High,
		Low:       raw.Low,
		Volume:    raw.Volume,
		Timestamp: time.UnixMilli(raw.EventTime),
	}, true
}

func (a *Adapter) decodeTrade(key ws.Key, frame []byte) (core.Trade, bool) {
	var raw wsTrade
	if err := sonic.Unmarshal(frame, &raw); err != nil || raw.Symbol == "" {
		return core.Trade{}, false
	}
	side := core.SideBuy
	if raw.BuyerIsMaker {
		// The taker sold into the bid.
		side = core.SideSell
	}
	return core.Trade{
		ID:        fmt.Sprintf("%d", raw.TradeID),
		Pair:      key.Pair,
		Side:      side,
		Price:     raw.Price,
		Amount:    raw.Quantity,
		Timestamp: time.UnixMilli(raw.TradeTime),
	}, true
}

func (a *Adapter) decodeBook(key ws.Key, frame []byte) (core.OrderBook, bool) {
	var raw binanceDepth
	if err := sonic.Unmarshal(frame, &raw); err != nil {
		return core.OrderBook{}, false
	}
	book := a.normalizer.book(key.Pair, &raw)
	return *book, true
}
