package coinbase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/apd/v3"

	"exbridge/internal/ws"
	"exbridge/pkg/core"
	"exbridge/pkg/exchange"
)

const (
	streamURL        = "wss://ws-feed.exchange.coinbase.com"
	sandboxStreamURL = "wss://ws-feed-public.sandbox.exchange.coinbase.com"
)

const bookDepth = 50

type wsCommand struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

// wsFrame covers every feed message; which fields are set depends on type.
type wsFrame struct {
	Type      string      `json:"type"`
	ProductID string      `json:"product_id"`
	Price     apd.Decimal `json:"price"`
	BestBid   apd.Decimal `json:"best_bid"`
	BestAsk   apd.Decimal `json:"best_ask"`
	Size      apd.Decimal `json:"size"`
	Side      string      `json:"side"`
	TradeID   int64       `json:"trade_id"`
	Time      time.Time   `json:"time"`
	Bids      [][]any     `json:"bids"`
	Asks      [][]any     `json:"asks"`
	Changes   [][3]string `json:"changes"`
}

// channelOf folds the feed's message types back onto the channel they were
// subscribed under.
func channelOf(msgType string) string {
	switch msgType {
	case "ticker":
		return "ticker"
	case "match", "last_match":
		return "matches"
	case "snapshot", "l2update":
		return "level2_batch"
	default:
		return ""
	}
}

func (a *Adapter) streamSpec() exchange.StreamSpec {
	url := streamURL
	if a.rt.Config.Sandbox {
		url = sandboxStreamURL
	}
	return exchange.StreamSpec{
		Venue: core.VenueCoinbase,
		URL: func(context.Context) (string, error) {
			return url, nil
		},
		Topic: func(key ws.Key) (string, error) {
			product, err := a.normalizer.Symbol(key.Pair)
			if err != nil {
				return "", err
			}
			switch key.Stream {
			case core.StreamTicker:
				return "ticker:" + product, nil
			case core.StreamTrades:
				return "matches:" + product, nil
			case core.StreamOrderBook:
				return "level2_batch:" + product, nil
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
		Route: func(frame []byte) (string, []byte, bool) {
			var env wsFrame
			if err := sonic.Unmarshal(frame, &env); err != nil {
				return "", nil, false
			}
			channel := channelOf(env.Type)
			if channel == "" || env.ProductID == "" {
				// Subscription acks, heartbeats, and errors.
				return "", nil, false
			}
			return channel + ":" + env.ProductID, frame, true
		},
	}
}

// sendCommands groups topics by channel so each frame carries one channel and
// its products.
func sendCommands(conn *ws.Conn, action string, topics []string) error {
	byChannel := make(map[string][]string)
	for _, topic := range topics {
		channel, product, ok := strings.Cut(topic, ":")
		if !ok {
			continue
		}
		byChannel[channel] = append(byChannel[channel], product)
	}
	for channel, products := range byChannel {
		cmd := wsCommand{Type: action, ProductIDs: products, Channels: []string{channel}}
		if err := conn.SendJSON(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) decodeTicker(key ws.Key, frame []byte) (core.Ticker, bool) {
	var raw wsFrame
	if err := sonic.Unmarshal(frame, &raw); err != nil {
		return core.Ticker{}, false
	}
	return core.Ticker{
		Pair:      key.Pair,
		Last:      raw.Price,
		Bid:       raw.BestBid,
		Ask:       raw.BestAsk,
		Timestamp: raw.Time,
	}, true
}

func (a *Adapter) decodeTrade(key ws.Key, frame []byte) (core.Trade, bool) {
	var raw wsFrame
	if err := sonic.Unmarshal(frame, &raw); err != nil {
		return core.Trade{}, false
	}
	// The reported side is the maker's; the taker drove the trade.
	side := core.SideSell
	if raw.Side == "sell" {
		side = core.SideBuy
	}
	return core.Trade{
		ID:        fmt.Sprintf("%d", raw.TradeID),
		Pair:      key.Pair,
		Side:      side,
		Price:     raw.Price,
		Amount:    raw.Size,
		Timestamp: raw.Time,
	}, true
}

// decodeBook folds level2 snapshots and deltas into a local book and emits a
// full snapshot per frame.
func (a *Adapter) decodeBook(key ws.Key, frame []byte) (core.OrderBook, bool) {
	var raw wsFrame
	if err := sonic.Unmarshal(frame, &raw); err != nil {
		return core.OrderBook{}, false
	}
	keeper := a.books.Get(key.Pair)
	switch raw.Type {
	case "snapshot":
		keeper.Reset()
		applyLevels(keeper, true, raw.Bids)
		applyLevels(keeper, false, raw.Asks)
	case "l2update":
		for _, change := range raw.Changes {
			keeper.Apply(change[0] == "buy", change[1], exchange.Dec(change[2]))
		}
	default:
		return core.OrderBook{}, false
	}
	ts := raw.Time
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return keeper.Snapshot(ts), true
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
		size, ok := row[1].(string)
		if !ok {
			continue
		}
		keeper.Apply(bid, price, exchange.Dec(size))
	}
}
