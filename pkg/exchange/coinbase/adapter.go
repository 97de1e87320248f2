// Package coinbase implements the venue adapter for Coinbase Exchange.
package coinbase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"

	"exbridge/internal/rest"
	"exbridge/internal/ws"
	"exbridge/pkg/core"
	"exbridge/pkg/exchange"
)

const (
	baseURL        = "https://api.exchange.coinbase.com"
	sandboxBaseURL = "https://api-public.sandbox.exchange.coinbase.com"
)

// Adapter implements the exchange contract for Coinbase Exchange.
type Adapter struct {
	rt         *exchange.Runtime
	normalizer *Normalizer
	catalogue  *exchange.Catalogue
	hub        *exchange.StreamHub
	books      *exchange.BookSet
}

// New creates a Coinbase adapter from the config. A credential must carry the
// API passphrase alongside the key pair.
func New(cfg *core.Config, opts ...exchange.Option) (*Adapter, error) {
	o := exchange.ApplyOptions(opts...)

	var signer rest.Signer
	if cfg.Credential != nil {
		signer = newSigner(cfg.Credential)
	}
	base := baseURL
	if cfg.Sandbox {
		base = sandboxBaseURL
	}
	if o.BaseURL != "" {
		base = o.BaseURL
	}

	rt, err := exchange.NewRuntime(cfg, base, signer, parseError, o.Logger)
	if err != nil {
		return nil, err
	}

	catalogue := exchange.NewCatalogue()
	a := &Adapter{
		rt:         rt,
		normalizer: NewNormalizer(catalogue),
		catalogue:  catalogue,
		books:      exchange.NewBookSet(bookDepth),
	}
	a.hub = exchange.NewStreamHub(a.streamSpec(), rt.Streams, o.Logger)
	return a, nil
}

// parseError reads the flat {"message"} payload that accompanies every
// failing status.
func parseError(status int, body []byte) *core.Error {
	if status >= 200 && status < 300 {
		return nil
	}
	var env apiError
	if err := sonic.Unmarshal(body, &env); err != nil || env.Message == "" {
		return nil
	}
	kind := core.KindProtocol
	switch {
	case status == 401 || status == 403:
		kind = core.KindAuthentication
	case status == 429:
		kind = core.KindRateLimit
	case status >= 500:
		kind = core.KindConnectivity
	}
	return core.NewHTTPError(core.VenueCoinbase, kind, status, "", env.Message)
}

// Venue identifies this adapter.
func (a *Adapter) Venue() core.Venue { return core.VenueCoinbase }

// TestConnection probes the public time endpoint.
func (a *Adapter) TestConnection(ctx context.Context) error {
	return a.rt.REST.Do(ctx, &rest.Call{Method: http.MethodGet, Path: "/time"})
}

// LoadExchangeInfo refreshes the product catalogue.
func (a *Adapter) LoadExchangeInfo(ctx context.Context) error {
	var products []cbProduct
	err := a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodGet,
		Path:   "/products",
		Out:    &products,
	})
	if err != nil {
		return err
	}
	a.catalogue.Replace(a.normalizer.symbols(products))
	return nil
}

// GetBalance folds the trading accounts into asset balances.
func (a *Adapter) GetBalance(ctx context.Context, currency string) (core.Balances, error) {
	var accounts []cbAccount
	err := a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodGet,
		Path:   "/accounts",
		Auth:   true,
		Out:    &accounts,
	})
	if err != nil {
		return nil, err
	}
	all := a.normalizer.balances(accounts)
	if currency == "" {
		return all, nil
	}
	asset := strings.ToUpper(currency)
	return core.Balances{asset: all.Get(asset)}, nil
}

// GetCurrentPrice returns the last traded price for the product.
func (a *Adapter) GetCurrentPrice(ctx context.Context, pair string) (apd.Decimal, error) {
	product, err := a.normalizer.Symbol(pair)
	if err != nil {
		return apd.Decimal{}, core.WrapError(core.VenueCoinbase, core.KindValidation, "bad pair", err)
	}
	var raw cbTicker
	err = a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodGet,
		Path:   "/products/" + product + "/ticker",
		Out:    &raw,
	})
	if err != nil {
		return apd.Decimal{}, err
	}
	return raw.Price, nil
}

// GetOrderBook returns the aggregated level2 book, trimmed to depth levels.
func (a *Adapter) GetOrderBook(ctx context.Context, pair string, depth int) (*core.OrderBook, error) {
	product, err := a.normalizer.Symbol(pair)
	if err != nil {
		return nil, core.WrapError(core.VenueCoinbase, core.KindValidation, "bad pair", err)
	}
	canonical, _ := core.NormalizePair(pair)

	book, err := exchange.Soft(a.rt.Logger, func() (*core.OrderBook, error) {
		var raw cbBook
		err := a.rt.REST.Do(ctx, &rest.Call{
			Method: http.MethodGet,
			Path:   "/products/" + product + "/book",
			Query:  url.Values{"level": {"2"}},
			Out:    &raw,
		})
		if err != nil {
			return nil, err
		}
		return a.normalizer.book(canonical, &raw), nil
	})
	if err != nil {
		return nil, err
	}
	if book == nil {
		return &core.OrderBook{Pair: canonical}, nil
	}
	if depth > 0 {
		if len(book.Bids) > depth {
			book.Bids = book.Bids[:depth]
		}
		if len(book.Asks) > depth {
			book.Asks = book.Asks[:depth]
		}
	}
	return book, nil
}

// GetKlines returns up to limit candles, oldest first.
func (a *Adapter) GetKlines(ctx context.Context, pair, interval string, limit int) ([]core.Kline, error) {
	product, err := a.normalizer.Symbol(pair)
	if err != nil {
		return nil, core.WrapError(core.VenueCoinbase, core.KindValidation, "bad pair", err)
	}
	granularity, err := a.normalizer.Granularity(interval)
	if err != nil {
		return nil, core.WrapError(core.VenueCoinbase, core.KindValidation, "bad interval", err)
	}
	seconds, _ := strconv.Atoi(granularity)
	canonical, _ := core.NormalizePair(pair)

	klines, err := exchange.Soft(a.rt.Logger, func() ([]core.Kline, error) {
		var raw [][]float64
		err := a.rt.REST.Do(ctx, &rest.Call{
			Method: http.MethodGet,
			Path:   "/products/" + product + "/candles",
			Query:  url.Values{"granularity": {granularity}},
			Out:    &raw,
		})
		if err != nil {
			return nil, err
		}
		return a.normalizer.klines(canonical, raw, time.Duration(seconds)*time.Second), nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(klines) > limit {
		klines = klines[len(klines)-limit:]
	}
	return klines, nil
}

// CreateOrder places an order. Stops ride the stop/stop_price fields on top
// of a market or limit order.
func (a *Adapter) CreateOrder(ctx context.Context, req *exchange.OrderRequest) (*core.Order, error) {
	if err := req.Validate(core.VenueCoinbase); err != nil {
		return nil, err
	}
	product, err := a.normalizer.Symbol(req.Pair)
	if err != nil {
		return nil, core.WrapError(core.VenueCoinbase, core.KindValidation, "bad pair", err)
	}

	clientOID := req.ClientOrderID
	if clientOID == "" {
		clientOID = uuid.NewString()
	}
	body := map[string]string{
		"client_oid": clientOID,
		"product_id": product,
		"side":       req.Side.String(),
		"size":       req.Amount.Text('f'),
	}
	switch req.Type {
	case core.TypeMarket:
		body["type"] = "market"
	case core.TypeLimit:
		body["type"] = "limit"
		body["price"] = req.Price.Text('f')
	case core.TypeStopLoss:
		body["type"] = "market"
		body["stop"] = "loss"
		body["stop_price"] = req.StopPrice.Text('f')
	case core.TypeStopLimit:
		body["type"] = "limit"
		body["price"] = req.Price.Text('f')
		body["stop"] = "loss"
		body["stop_price"] = req.StopPrice.Text('f')
	}

	var out json.RawMessage
	err = a.rt.REST.Do(ctx, &rest.Call{
		Method:   http.MethodPost,
		Path:     "/orders",
		JSONBody: body,
		Auth:     true,
		Out:      &out,
	})
	if err != nil {
		return nil, err
	}
	var raw cbOrder
	if err := sonic.Unmarshal(out, &raw); err != nil {
		return nil, core.WrapError(core.VenueCoinbase, core.KindDecode, "decode order", err)
	}
	order := a.normalizer.order(&raw, out)
	if order.ClientOrderID == "" {
		order.ClientOrderID = clientOID
	}
	return order, nil
}

// CancelOrder cancels one open order.
func (a *Adapter) CancelOrder(ctx context.Context, orderID, _ string) error {
	return a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodDelete,
		Path:   "/orders/" + orderID,
		Auth:   true,
	})
}

// GetOrderStatus fetches one order.
func (a *Adapter) GetOrderStatus(ctx context.Context, orderID, _ string) (*core.Order, error) {
	var out json.RawMessage
	err := a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodGet,
		Path:   "/orders/" + orderID,
		Auth:   true,
		Out:    &out,
	})
	if err != nil {
		return nil, err
	}
	var raw cbOrder
	if err := sonic.Unmarshal(out, &raw); err != nil {
		return nil, core.WrapError(core.VenueCoinbase, core.KindDecode, "decode order", err)
	}
	return a.normalizer.order(&raw, out), nil
}

// GetOpenOrders lists open orders, optionally for one product.
func (a *Adapter) GetOpenOrders(ctx context.Context, pair string) ([]core.Order, error) {
	q := url.Values{"status": {"open"}}
	if pair != "" {
		product, err := a.normalizer.Symbol(pair)
		if err != nil {
			return nil, core.WrapError(core.VenueCoinbase, core.KindValidation, "bad pair", err)
		}
		q.Set("product_id", product)
	}
	var raw []cbOrder
	err := a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodGet,
		Path:   "/orders",
		Query:  q,
		Auth:   true,
		Out:    &raw,
	})
	if err != nil {
		return nil, err
	}
	orders := make([]core.Order, 0, len(raw))
	for i := range raw {
		orders = append(orders, *a.normalizer.order(&raw[i], nil))
	}
	return orders, nil
}

// GetTradeHistory lists recent fills for a product.
func (a *Adapter) GetTradeHistory(ctx context.Context, pair string, limit int) ([]core.Trade, error) {
	product, err := a.normalizer.Symbol(pair)
	if err != nil {
		return nil, core.WrapError(core.VenueCoinbase, core.KindValidation, "bad pair", err)
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var raw []cbFill
	err = a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodGet,
		Path:   "/fills",
		Query:  url.Values{"product_id": {product}, "limit": {strconv.Itoa(limit)}},
		Auth:   true,
		Out:    &raw,
	})
	if err != nil {
		return nil, err
	}
	trades := make([]core.Trade, 0, len(raw))
	for i := range raw {
		trades = append(trades, a.normalizer.trade(&raw[i]))
	}
	return trades, nil
}

// SubscribeTicker streams ticker updates for a pair.
func (a *Adapter) SubscribeTicker(ctx context.Context, pair string) (<-chan core.Ticker, error) {
	return subscribe(ctx, a, pair, core.StreamTicker, a.decodeTicker)
}

// SubscribeTrades streams public matches for a pair.
func (a *Adapter) SubscribeTrades(ctx context.Context, pair string) (<-chan core.Trade, error) {
	return subscribe(ctx, a, pair, core.StreamTrades, a.decodeTrade)
}

// SubscribeOrderBook streams assembled order book snapshots for a pair.
func (a *Adapter) SubscribeOrderBook(ctx context.Context, pair string) (<-chan core.OrderBook, error) {
	return subscribe(ctx, a, pair, core.StreamOrderBook, a.decodeBook)
}

func subscribe[T any](ctx context.Context, a *Adapter, pair string, stream core.StreamType, decode func(ws.Key, []byte) (T, bool)) (<-chan T, error) {
	canonical, err := core.NormalizePair(pair)
	if err != nil {
		return nil, core.WrapError(core.VenueCoinbase, core.KindValidation, "bad pair", err)
	}
	key := ws.Key{Pair: canonical, Stream: stream}
	sub, err := a.hub.Subscribe(ctx, key)
	if err != nil {
		return nil, err
	}
	return exchange.Pump(ctx, sub, func(frame []byte) (T, bool) {
		return decode(key, frame)
	}), nil
}

// Unsubscribe tears down one stream subscription.
func (a *Adapter) Unsubscribe(pair string, stream core.StreamType) bool {
	canonical, err := core.NormalizePair(pair)
	if err != nil {
		return false
	}
	if stream == core.StreamOrderBook {
		a.books.Drop(canonical)
	}
	return a.hub.Unsubscribe(ws.Key{Pair: canonical, Stream: stream})
}

// StreamStats reports stream activity for this adapter.
func (a *Adapter) StreamStats() exchange.StreamStats {
	st := a.rt.Streams.Stats()
	return exchange.StreamStats{
		ActiveSubscriptions: st.Active,
		FramesDelivered:     st.Delivered,
		FramesDropped:       st.Dropped,
		Connected:           a.hub.Connected(),
	}
}

// Close releases the stream connection and the REST client.
func (a *Adapter) Close() error {
	a.hub.Close()
	return a.rt.Close()
}
