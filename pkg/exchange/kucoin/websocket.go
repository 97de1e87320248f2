package kucoin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"

	"exbridge/internal/rest"
	"exbridge/internal/ws"
	"exbridge/pkg/core"
	"exbridge/pkg/exchange"
)

// bulletCacheKey caches the websocket token handed out by the bullet
// endpoint so reconnects within the cache TTL skip the extra round trip.
const bulletCacheKey = "ws:bullet"

type bulletServer struct {
	Endpoint     string `json:"endpoint"`
	Protocol     string `json:"protocol"`
	PingInterval int64  `json:"pingInterval"`
}

type bullet struct {
	Token           string         `json:"token"`
	InstanceServers []bulletServer `json:"instanceServers"`
}

type wsCommand struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Topic          string `json:"topic,omitempty"`
	PrivateChannel bool   `json:"privateChannel,omitempty"`
	Response       bool   `json:"response,omitempty"`
}

type wsEnvelope struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Subject string          `json:"subject"`
	Data    json.RawMessage `json:"data"`
}

type wsTicker struct {
	Price   apd.Decimal `json:"price"`
	BestBid apd.Decimal `json:"bestBid"`
	BestAsk apd.Decimal `json:"bestAsk"`
	Size    apd.Decimal `json:"size"`
	Time    int64       `json:"time"`
}

type wsMatch struct {
	TradeID string      `json:"tradeId"`
	Side    string      `json:"side"`
	Price   apd.Decimal `json:"price"`
	Size    apd.Decimal `json:"size"`
	Time    string      `json:"time"`
}

type wsBook struct {
	Timestamp int64       `json:"timestamp"`
	Bids      [][2]string `json:"bids"`
	Asks      [][2]string `json:"asks"`
}

// bulletEndpoint resolves the websocket URL. The token comes from the
// bullet-public endpoint and is cached across reconnects until it expires.
func (a *Adapter) bulletEndpoint(ctx context.Context) (string, error) {
	v, err := a.rt.Cached(bulletCacheKey, func() (any, error) {
		var out response[bullet]
		err := a.rt.REST.Do(ctx, &rest.Call{
			Method: http.MethodPost,
			Path:   "/api/v1/bullet-public",
			Out:    &out,
		})
		if err != nil {
			return nil, err
		}
		if out.Data.Token == "" || len(out.Data.InstanceServers) == 0 {
			return nil, core.NewError(core.VenueKucoin, core.KindProtocol, "bullet response missing token or servers")
		}
		return out.Data, nil
	})
	if err != nil {
		return "", err
	}
	b := v.(bullet)
	return fmt.Sprintf("%s?token=%s&connectId=%s", b.InstanceServers[0].Endpoint, b.Token, uuid.NewString()), nil
}

func (a *Adapter) streamSpec() exchange.StreamSpec {
	return exchange.StreamSpec{
		Venue: core.VenueKucoin,
		URL:   a.bulletEndpoint,
		Topic: func(key ws.Key) (string, error) {
			symbol, err := a.normalizer.Symbol(key.Pair)
			if err != nil {
				return "", err
			}
			switch key.Stream {
			case core.StreamTicker:
				return "/market/ticker:" + symbol, nil
			case core.StreamTrades:
				return "/market/match:" + symbol, nil
			case core.StreamOrderBook:
				return "/spotMarket/level2Depth50:" + symbol, nil
			default:
				return "", fmt.Errorf("stream %q not supported", key.Stream)
			}
		},
		Subscribe: func(conn *ws.Conn, topics []string) error {
			for _, topic := range topics {
				cmd := wsCommand{ID: uuid.NewString(), Type: "subscribe", Topic: topic, Response: true}
				if err := conn.SendJSON(cmd); err != nil {
					// A stale bullet token surfaces here; force a fresh
					// one on the next session.
					a.rt.InvalidateCache(bulletCacheKey)
					return err
				}
			}
			return nil
		},
		Unsubscribe: func(conn *ws.Conn, topics []string) error {
			for _, topic := range topics {
				cmd := wsCommand{ID: uuid.NewString(), Type: "unsubscribe", Topic: topic}
				if err := conn.SendJSON(cmd); err != nil {
					return err
				}
			}
			return nil
		},
		Route: func(frame []byte) (string, []byte, bool) {
			var env wsEnvelope
			if err := sonic.Unmarshal(frame, &env); err != nil {
				return "", nil, false
			}
			// Welcome, ack, and pong frames carry no topic.
			if env.Type != "message" || env.Topic == "" {
				return "", nil, false
			}
			return env.Topic, env.Data, true
		},
		Ping: func(conn *ws.Conn) error {
			return conn.SendJSON(wsCommand{ID: uuid.NewString(), Type: "ping"})
		},
		PingInterval: 15 * time.Second,
	}
}

func (a *Adapter) decodeTicker(key ws.Key, data []byte) (core.Ticker, bool) {
	var raw wsTicker
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return core.Ticker{}, false
	}
	return core.Ticker{
		Pair:      key.Pair,
		Last:      raw.Price,
		Bid:       raw.BestBid,
		Ask:       raw.BestAsk,
		Timestamp: time.UnixMilli(raw.Time),
	}, true
}

func (a *Adapter) decodeTrade(key ws.Key, data []byte) (core.Trade, bool) {
	var raw wsMatch
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return core.Trade{}, false
	}
	side := core.SideBuy
	if raw.Side == "sell" {
		side = core.SideSell
	}
	return core.Trade{
		ID:        raw.TradeID,
		Pair:      key.Pair,
		Side:      side,
		Price:     raw.Price,
		Amount:    raw.Size,
		Timestamp: time.Unix(0, nanosString(raw.Time)),
	}, true
}

func (a *Adapter) decodeBook(key ws.Key, data []byte) (core.OrderBook, bool) {
	var raw wsBook
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return core.OrderBook{}, false
	}
	book := a.normalizer.book(key.Pair, &kucoinBook{
		Time: raw.Timestamp,
		Bids: raw.Bids,
		Asks: raw.Asks,
	})
	return *book, true
}

// nanosString parses a nanosecond epoch carried as a decimal string,
// returning zero on anything else.
func nanosString(s string) int64 {
	var n int64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int64(r-'0')
	}
	return n
}
