package bitfinex

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"exbridge/internal/ws"
	"exbridge/pkg/core"
	"exbridge/pkg/exchange"
)

const streamURL = "wss://api-pub.bitfinex.com/ws/2"

const bookDepth = 25

type wsEvent struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	ChanID  int64  `json:"chanId"`
	Symbol  string `json:"symbol"`
}

type wsSubscribe struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
	Prec    string `json:"prec,omitempty"`
	Freq    string `json:"freq,omitempty"`
	Len     string `json:"len,omitempty"`
}

type wsUnsubscribe struct {
	Event  string `json:"event"`
	ChanID int64  `json:"chanId"`
}

type wsPing struct {
	Event string `json:"event"`
	CID   int64  `json:"cid"`
}

func (a *Adapter) streamSpec() exchange.StreamSpec {
	return exchange.StreamSpec{
		Venue: core.VenueBitfinex,
		URL: func(context.Context) (string, error) {
			return streamURL, nil
		},
		Topic: func(key ws.Key) (string, error) {
			symbol, err := a.normalizer.Symbol(key.Pair)
			if err != nil {
				return "", err
			}
			switch key.Stream {
			case core.StreamTicker:
				return "ticker:" + symbol, nil
			case core.StreamTrades:
				return "trades:" + symbol, nil
			case core.StreamOrderBook:
				return "book:" + symbol, nil
			default:
				return "", fmt.Errorf("stream %q not supported", key.Stream)
			}
		},
		Subscribe: func(conn *ws.Conn, topics []string) error {
			for _, topic := range topics {
				channel, symbol, ok := strings.Cut(topic, ":")
				if !ok {
					continue
				}
				cmd := wsSubscribe{Event: "subscribe", Channel: channel, Symbol: symbol}
				if channel == "book" {
					cmd.Prec = "P0"
					cmd.Freq = "F0"
					cmd.Len = strconv.Itoa(bookDepth)
				}
				if err := conn.SendJSON(cmd); err != nil {
					return err
				}
			}
			return nil
		},
		Unsubscribe: func(conn *ws.Conn, topics []string) error {
			for _, topic := range topics {
				id, ok := a.dropChannel(topic)
				if !ok {
					continue
				}
				if err := conn.SendJSON(wsUnsubscribe{Event: "unsubscribe", ChanID: id}); err != nil {
					return err
				}
			}
			return nil
		},
		// Channel ids are learned from subscribed acks; until the ack lands,
		// data frames for that channel cannot be attributed and are dropped.
		Route: func(frame []byte) (string, []byte, bool) {
			var elems []json.RawMessage
			if err := sonic.Unmarshal(frame, &elems); err != nil || len(elems) < 2 {
				a.handleEvent(frame)
				return "", nil, false
			}
			var id int64
			if err := sonic.Unmarshal(elems[0], &id); err != nil {
				return "", nil, false
			}
			a.chanMu.Lock()
			topic, known := a.chanTopics[id]
			a.chanMu.Unlock()
			if !known {
				return "", nil, false
			}
			return topic, frame, true
		},
		Ping: func(conn *ws.Conn) error {
			return conn.SendJSON(wsPing{Event: "ping", CID: time.Now().Unix()})
		},
		PingInterval: 15 * time.Second,
	}
}

func (a *Adapter) handleEvent(frame []byte) {
	var ev wsEvent
	if err := sonic.Unmarshal(frame, &ev); err != nil {
		return
	}
	switch ev.Event {
	case "subscribed":
		a.chanMu.Lock()
		a.chanTopics[ev.ChanID] = ev.Channel + ":" + ev.Symbol
		a.chanMu.Unlock()
	case "unsubscribed":
		a.chanMu.Lock()
		delete(a.chanTopics, ev.ChanID)
		a.chanMu.Unlock()
	}
}

// dropChannel removes and returns the channel id registered for a topic.
func (a *Adapter) dropChannel(topic string) (int64, bool) {
	a.chanMu.Lock()
	defer a.chanMu.Unlock()
	for id, t := range a.chanTopics {
		if t == topic {
			delete(a.chanTopics, id)
			return id, true
		}
	}
	return 0, false
}

func (a *Adapter) decodeTicker(key ws.Key, frame []byte) (core.Ticker, bool) {
	elems := frameElems(frame)
	if elems == nil {
		return core.Ticker{}, false
	}
	var row []any
	if err := sonic.Unmarshal(elems[1], &row); err != nil {
		return core.Ticker{}, false
	}
	return a.normalizer.ticker(key.Pair, row)
}

// decodeTrade handles both the snapshot ([chanId, [rows...]]) and the
// execution update ([chanId, "te", row]). The matching "tu" update repeats
// the execution with fee detail and is dropped to avoid duplicates.
func (a *Adapter) decodeTrade(key ws.Key, frame []byte) (core.Trade, bool) {
	elems := frameElems(frame)
	if elems == nil {
		return core.Trade{}, false
	}
	var row []any
	if len(elems) >= 3 {
		var kind string
		if err := sonic.Unmarshal(elems[1], &kind); err != nil || kind != "te" {
			return core.Trade{}, false
		}
		if err := sonic.Unmarshal(elems[2], &row); err != nil {
			return core.Trade{}, false
		}
	} else {
		var rows [][]any
		if err := sonic.Unmarshal(elems[1], &rows); err != nil || len(rows) == 0 {
			return core.Trade{}, false
		}
		row = rows[0]
	}
	// Stream rows are [id, mts, amount, price].
	if len(row) < 4 {
		return core.Trade{}, false
	}
	amount := numDec(row[2])
	side := core.SideBuy
	if amount.Negative {
		side = core.SideSell
	}
	amount.Abs(&amount)
	return core.Trade{
		ID:        strconv.FormatInt(intAt(row, 0), 10),
		Pair:      key.Pair,
		Side:      side,
		Price:     numDec(row[3]),
		Amount:    amount,
		Timestamp: time.UnixMilli(intAt(row, 1)),
	}, true
}

// decodeBook folds snapshot and delta frames into a local book. A zero count
// removes the level; the amount's sign picks the side.
func (a *Adapter) decodeBook(key ws.Key, frame []byte) (core.OrderBook, bool) {
	elems := frameElems(frame)
	if elems == nil {
		return core.OrderBook{}, false
	}
	keeper := a.books.Get(key.Pair)

	var rows [][]any
	if err := sonic.Unmarshal(elems[1], &rows); err == nil {
		keeper.Reset()
		for _, row := range rows {
			applyLevel(keeper, row)
		}
		return keeper.Snapshot(time.Now().UTC()), true
	}
	var row []any
	if err := sonic.Unmarshal(elems[1], &row); err != nil {
		return core.OrderBook{}, false
	}
	if !applyLevel(keeper, row) {
		return core.OrderBook{}, false
	}
	return keeper.Snapshot(time.Now().UTC()), true
}

func applyLevel(keeper *exchange.BookKeeper, row []any) bool {
	if len(row) < 3 {
		return false
	}
	price := numStr(row[0])
	if price == "" {
		return false
	}
	count := intAt(row, 1)
	amount := numDec(row[2])
	bid := !amount.Negative
	if count == 0 {
		// Removal markers carry amount 1 for bids, -1 for asks.
		amount.SetInt64(0)
		keeper.Apply(bid, price, amount)
		return true
	}
	amount.Abs(&amount)
	keeper.Apply(bid, price, amount)
	return true
}

func frameElems(frame []byte) []json.RawMessage {
	var elems []json.RawMessage
	if err := sonic.Unmarshal(frame, &elems); err != nil || len(elems) < 2 {
		return nil
	}
	// Heartbeats arrive as [chanId, "hb"].
	var hb string
	if len(elems) == 2 && sonic.Unmarshal(elems[1], &hb) == nil && hb == "hb" {
		return nil
	}
	return elems
}
