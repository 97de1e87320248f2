package kraken

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

const streamURL = "wss://ws.kraken.com"

const bookDepth = 10

type wsSubscription struct {
	Name  string `json:"name"`
	Depth int    `json:"depth,omitempty"`
}

type wsCommand struct {
	Event        string          `json:"event"`
	Pair         []string        `json:"pair,omitempty"`
	Subscription *wsSubscription `json:"subscription,omitempty"`
}

// wsBookPayload covers both the snapshot (as/bs) and update (a/b) shapes.
type wsBookPayload struct {
	AskSnapshot [][]any `json:"as"`
	BidSnapshot [][]any `json:"bs"`
	Asks        [][]any `json:"a"`
	Bids        [][]any `json:"b"`
}

func (a *Adapter) streamSpec() exchange.StreamSpec {
	return exchange.StreamSpec{
		Venue: core.VenueKraken,
		URL: func(context.Context) (string, error) {
			return streamURL, nil
		},
		Topic: func(key ws.Key) (string, error) {
			wsname, err := a.normalizer.WSName(key.Pair)
			if err != nil {
				return "", err
			}
			switch key.Stream {
			case core.StreamTicker:
				return "ticker|" + wsname, nil
			case core.StreamTrades:
				return "trade|" + wsname, nil
			case core.StreamOrderBook:
				return "book|" + wsname, nil
			default:
				return "", fmt.Errorf("stream %q not supported", key.Stream)
			}
		},
		Subscribe: func(conn *ws.Conn, topics []string) error {
			return sendCommands(conn, "subscribe", topics)
		},
		Unsubscribe: func(conn *ws.Conn, topics []string) error {
			return sendCommands(conn, "unsubscribe", topics)
		},
		// Data frames are arrays [channelID, payload..., channelName, pair];
		// everything event-shaped (heartbeats, acks, status) is an object and
		// fails the array parse.
		Route: func(frame []byte) (string, []byte, bool) {
			var elems []json.RawMessage
			if err := sonic.Unmarshal(frame, &elems); err != nil || len(elems) < 4 {
				return "", nil, false
			}
			var channel, pair string
			if err := sonic.Unmarshal(elems[len(elems)-2], &channel); err != nil {
				return "", nil, false
			}
			if err := sonic.Unmarshal(elems[len(elems)-1], &pair); err != nil {
				return "", nil, false
			}
			// Book channels carry their depth in the name ("book-10").
			if i := strings.IndexByte(channel, '-'); i >= 0 {
				channel = channel[:i]
			}
			return channel + "|" + pair, frame, true
		},
		Ping: func(conn *ws.Conn) error {
			return conn.SendJSON(wsCommand{Event: "ping"})
		},
		PingInterval: 30 * time.Second,
	}
}

func sendCommands(conn *ws.Conn, action string, topics []string) error {
	// One frame per channel name, pairs batched.
	byName := make(map[string][]string)
	for _, topic := range topics {
		name, pair, ok := strings.Cut(topic, "|")
		if !ok {
			continue
		}
		byName[name] = append(byName[name], pair)
	}
	for name, pairs := range byName {
		sub := &wsSubscription{Name: name}
		if name == "book" {
			sub.Depth = bookDepth
		}
		if err := conn.SendJSON(wsCommand{Event: action, Pair: pairs, Subscription: sub}); err != nil {
			return err
		}
	}
	return nil
}

func frameElems(frame []byte) []json.RawMessage {
	var elems []json.RawMessage
	if err := sonic.Unmarshal(frame, &elems); err != nil || len(elems) < 4 {
		return nil
	}
	return elems
}

func (a *Adapter) decodeTicker(key ws.Key, frame []byte) (core.Ticker, bool) {
	elems := frameElems(frame)
	if elems == nil {
		return core.Ticker{}, false
	}
	var raw krakenTicker
	if err := sonic.Unmarshal(elems[1], &raw); err != nil {
		return core.Ticker{}, false
	}
	return a.normalizer.ticker(key.Pair, &raw), true
}

// decodeTrade takes the last execution of a batch. Rows are
// [price, volume, time, side, ordertype, misc] with a fractional-second
// timestamp and "b"/"s" side codes.
func (a *Adapter) decodeTrade(key ws.Key, frame []byte) (core.Trade, bool) {
	elems := frameElems(frame)
	if elems == nil {
		return core.Trade{}, false
	}
	var rows [][]any
	if err := sonic.Unmarshal(elems[1], &rows); err != nil || len(rows) == 0 {
		return core.Trade{}, false
	}
	row := rows[len(rows)-1]
	if len(row) < 4 {
		return core.Trade{}, false
	}
	price, _ := row[0].(string)
	volume, _ := row[1].(string)
	tsRaw, _ := row[2].(string)
	sideCode, _ := row[3].(string)

	side := core.SideBuy
	if sideCode == "s" {
		side = core.SideSell
	}
	var ts time.Time
	if sec, err := strconv.ParseFloat(tsRaw, 64); err == nil {
		ts = time.Unix(0, int64(sec*1e9))
	}
	return core.Trade{
		Pair:      key.Pair,
		Side:      side,
		Price:     exchange.Dec(price),
		Amount:    exchange.Dec(volume),
		Timestamp: ts,
	}, true
}

// decodeBook folds snapshot and delta payloads into a local book and emits a
// full snapshot per frame. Update frames may carry separate ask and bid
// objects between the channel id and name.
func (a *Adapter) decodeBook(key ws.Key, frame []byte) (core.OrderBook, bool) {
	elems := frameElems(frame)
	if elems == nil {
		return core.OrderBook{}, false
	}
	keeper := a.books.Get(key.Pair)
	touched := false
	for _, elem := range elems[1 : len(elems)-2] {
		var payload wsBookPayload
		if err := sonic.Unmarshal(elem, &payload); err != nil {
			continue
		}
		if len(payload.BidSnapshot) > 0 || len(payload.AskSnapshot) > 0 {
			keeper.Reset()
			applyLevels(keeper, true, payload.BidSnapshot)
			applyLevels(keeper, false, payload.AskSnapshot)
			touched = true
		}
		if len(payload.Bids) > 0 || len(payload.Asks) > 0 {
			applyLevels(keeper, true, payload.Bids)
			applyLevels(keeper, false, payload.Asks)
			touched = true
		}
	}
	if !touched {
		return core.OrderBook{}, false
	}
	return keeper.Snapshot(time.Now().UTC()), true
}

func applyLevels(keeper *exchange.BookKeeper, bid bool, rows [][]any) {
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		price, ok := row[0].(string)
		if !ok {
			continue
		}
		volume, ok := row[1].(string)
		if !ok {
			continue
		}
		keeper.Apply(bid, price, exchange.Dec(volume))
	}
}
