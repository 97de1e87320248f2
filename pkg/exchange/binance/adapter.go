// Package binance implements the venue adapter for Binance spot markets.
package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/apd/v3"

	"exbridge/internal/rest"
	"exbridge/internal/ws"
	"exbridge/pkg/core"
	"exbridge/pkg/exchange"
)

const (
	baseURL        = "https://api.binance.com"
	sandboxBaseURL = "https://testnet.binance.vision"
)

// Adapter implements the exchange contract for Binance.
type Adapter struct {
	rt         *exchange.Runtime
	normalizer *Normalizer
	catalogue  *exchange.Catalogue
	hub        *exchange.StreamHub
}

// New creates a Binance adapter from the config. Sandbox mode targets the
// spot testnet.
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
	}
	a.hub = exchange.NewStreamHub(a.streamSpec(), rt.Streams, o.Logger)
	return a, nil
}

// parseError decodes the venue's {"code","msg"} envelope. Successful statuses
// never carry it.
func parseError(status int, body []byte) *core.Error {
	if status >= 200 && status < 300 {
		return nil
	}
	var env binanceError
	if err := sonic.Unmarshal(body, &env); err != nil || env.Code == 0 {
		return nil
	}
	kind := core.KindProtocol
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusTeapot || env.Code == -1003:
		kind = core.KindRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden,
		env.Code == -1022, env.Code == -2014, env.Code == -2015:
		kind = core.KindAuthentication
	case status >= 500:
		kind = core.KindConnectivity
	}
	return core.NewHTTPError(core.VenueBinance, kind, status, strconv.Itoa(env.Code), env.Msg)
}

// Venue identifies this adapter.
func (a *Adapter) Venue() core.Venue { return core.VenueBinance }

// TestConnection probes the public ping endpoint.
func (a *Adapter) TestConnection(ctx context.Context) error {
	return a.rt.REST.Do(ctx, &rest.Call{Method: http.MethodGet, Path: "/api/v3/ping"})
}

// LoadExchangeInfo refreshes the symbol catalogue.
func (a *Adapter) LoadExchangeInfo(ctx context.Context) error {
	var raw binanceExchangeInfo
	err := a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodGet,
		Path:   "/api/v3/exchangeInfo",
		Weight: 20,
		Out:    &raw,
	})
	if err != nil {
		return err
	}
	a.catalogue.Replace(a.normalizer.symbols(&raw))
	return nil
}

func (a *Adapter) ensureCatalogue(ctx context.Context) error {
	if a.catalogue.Loaded() {
		return nil
	}
	return a.LoadExchangeInfo(ctx)
}

// GetBalance returns nonzero balances, or the single asset when currency is
// set.
func (a *Adapter) GetBalance(ctx context.Context, currency string) (core.Balances, error) {
	var raw binanceAccount
	err := a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodGet,
		Path:   "/api/v3/account",
		Auth:   true,
		Weight: 20,
		Out:    &raw,
	})
	if err != nil {
		return nil, err
	}
	all := a.normalizer.balances(&raw)
	if currency == "" {
		return all, nil
	}
	asset := strings.ToUpper(currency)
	return core.Balances{asset: all.Get(asset)}, nil
}

// GetCurrentPrice returns the last traded price.
func (a *Adapter) GetCurrentPrice(ctx context.Context, pair string) (apd.Decimal, error) {
	symbol, err := a.normalizer.Symbol(pair)
	if err != nil {
		return apd.Decimal{}, core.WrapError(core.VenueBinance, core.KindValidation, "bad pair", err)
	}
	var raw binancePrice
	err = a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodGet,
		Path:   "/api/v3/ticker/price",
		Query:  url.Values{"symbol": {symbol}},
		Out:    &raw,
	})
	if err != nil {
		return apd.Decimal{}, err
	}
	return raw.Price, nil
}

// GetOrderBook returns up to depth levels per side.
func (a *Adapter) GetOrderBook(ctx context.Context, pair string, depth int) (*core.OrderBook, error) {
	symbol, err := a.normalizer.Symbol(pair)
	if err != nil {
		return nil, core.WrapError(core.VenueBinance, core.KindValidation, "bad pair", err)
	}
	if depth <= 0 {
		depth = 100
	}
	canonical, _ := core.NormalizePair(pair)

	book, err := exchange.Soft(a.rt.Logger, func() (*core.OrderBook, error) {
		var raw binanceDepth
		err := a.rt.REST.Do(ctx, &rest.Call{
			Method: http.MethodGet,
			Path:   "/api/v3/depth",
			Query:  url.Values{"symbol": {symbol}, "limit": {strconv.Itoa(depth)}},
			Weight: 5,
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
		book = &core.OrderBook{Pair: canonical}
	}
	return book, nil
}

// GetKlines returns up to limit candles, oldest first.
func (a *Adapter) GetKlines(ctx context.Context, pair, interval string, limit int) ([]core.Kline, error) {
	symbol, err := a.normalizer.Symbol(pair)
	if err != nil {
		return nil, core.WrapError(core.VenueBinance, core.KindValidation, "bad pair", err)
	}
	iv, err := a.normalizer.Interval(interval)
	if err != nil {
		return nil, core.WrapError(core.VenueBinance, core.KindValidation, "bad interval", err)
	}
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	canonical, _ := core.NormalizePair(pair)

	return exchange.Soft(a.rt.Logger, func() ([]core.Kline, error) {
		var raw [][]any
		err := a.rt.REST.Do(ctx, &rest.Call{
			Method: http.MethodGet,
			Path:   "/api/v3/klines",
			Query: url.Values{
				"symbol": {symbol}, "interval": {iv}, "limit": {strconv.Itoa(limit)},
			},
			Weight: 2,
			Out:    &raw,
		})
		if err != nil {
			return nil, err
		}
		return a.normalizer.klines(canonical, raw), nil
	})
}

// CreateOrder places an order. Validation failures surface before any
// network traffic.
func (a *Adapter) CreateOrder(ctx context.Context, req *exchange.OrderRequest) (*core.Order, error) {
	if err := req.Validate(core.VenueBinance); err != nil {
		return nil, err
	}
	symbol, err := a.normalizer.Symbol(req.Pair)
	if err != nil {
		return nil, core.WrapError(core.VenueBinance, core.KindValidation, "bad pair", err)
	}
	typ, err := a.normalizer.OrderType(req.Type)
	if err != nil {
		return nil, core.WrapError(core.VenueBinance, core.KindValidation, "bad order type", err)
	}
	if err := a.ensureCatalogue(ctx); err != nil {
		return nil, err
	}

	q := url.Values{
		"symbol":   {symbol},
		"side":     {strings.ToUpper(req.Side.String())},
		"type":     {typ},
		"quantity": {req.Amount.Text('f')},
	}
	if req.Type.Resting() {
		q.Set("price", req.Price.Text('f'))
		q.Set("timeInForce", "GTC")
	}
	if req.StopPrice != nil {
		q.Set("stopPrice", req.StopPrice.Text('f'))
	}
	if req.ClientOrderID != "" {
		q.Set("newClientOrderId", req.ClientOrderID)
	}

	var raw json.RawMessage
	err = a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodPost,
		Path:   "/api/v3/order",
		Query:  q,
		Auth:   true,
		Out:    &raw,
	})
	if err != nil {
		return nil, err
	}
	var bo binanceOrder
	if err := sonic.Unmarshal(raw, &bo); err != nil {
		return nil, core.WrapError(core.VenueBinance, core.KindDecode, "decode order", err)
	}
	return a.normalizer.order(&bo, raw), nil
}

// CancelOrder cancels one open order.
func (a *Adapter) CancelOrder(ctx context.Context, orderID, pair string) error {
	symbol, err := a.normalizer.Symbol(pair)
	if err != nil {
		return core.WrapError(core.VenueBinance, core.KindValidation, "bad pair", err)
	}
	return a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodDelete,
		Path:   "/api/v3/order",
		Query:  url.Values{"symbol": {symbol}, "orderId": {orderID}},
		Auth:   true,
	})
}

// GetOrderStatus fetches a single order.
func (a *Adapter) GetOrderStatus(ctx context.Context, orderID, pair string) (*core.Order, error) {
	symbol, err := a.normalizer.Symbol(pair)
	if err != nil {
		return nil, core.WrapError(core.VenueBinance, core.KindValidation, "bad pair", err)
	}
	var raw json.RawMessage
	err = a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodGet,
		Path:   "/api/v3/order",
		Query:  url.Values{"symbol": {symbol}, "orderId": {orderID}},
		Auth:   true,
		Weight: 4,
		Out:    &raw,
	})
	if err != nil {
		return nil, err
	}
	var bo binanceOrder
	if err := sonic.Unmarshal(raw, &bo); err != nil {
		return nil, core.WrapError(core.VenueBinance, core.KindDecode, "decode order", err)
	}
	return a.normalizer.order(&bo, raw), nil
}

// GetOpenOrders lists open orders, optionally for one pair.
func (a *Adapter) GetOpenOrders(ctx context.Context, pair string) ([]core.Order, error) {
	q := url.Values{}
	weight := 80
	if pair != "" {
		symbol, err := a.normalizer.Symbol(pair)
		if err != nil {
			return nil, core.WrapError(core.VenueBinance, core.KindValidation, "bad pair", err)
		}
		q.Set("symbol", symbol)
		weight = 6
	}
	var raws []binanceOrder
	err := a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodGet,
		Path:   "/api/v3/openOrders",
		Query:  q,
		Auth:   true,
		Weight: weight,
		Out:    &raws,
	})
	if err != nil {
		return nil, err
	}
	out := make([]core.Order, 0, len(raws))
	for i := range raws {
		out = append(out, *a.normalizer.order(&raws[i], nil))
	}
	return out, nil
}

// GetTradeHistory lists recent fills for a pair.
func (a *Adapter) GetTradeHistory(ctx context.Context, pair string, limit int) ([]core.Trade, error) {
	symbol, err := a.normalizer.Symbol(pair)
	if err != nil {
		return nil, core.WrapError(core.VenueBinance, core.KindValidation, "bad pair", err)
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var raws []binanceTrade
	err = a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodGet,
		Path:   "/api/v3/myTrades",
		Query:  url.Values{"symbol": {symbol}, "limit": {strconv.Itoa(limit)}},
		Auth:   true,
		Weight: 20,
		Out:    &raws,
	})
	if err != nil {
		return nil, err
	}
	out := make([]core.Trade, 0, len(raws))
	for i := range raws {
		out = append(out, a.normalizer.trade(&raws[i]))
	}
	return out, nil
}

// SubscribeTicker streams ticker updates for a pair.
func (a *Adapter) SubscribeTicker(ctx context.Context, pair string) (<-chan core.Ticker, error) {
	return subscribe(ctx, a, pair, core.StreamTicker, a.decodeTicker)
}

// SubscribeTrades streams public trades for a pair.
func (a *Adapter) SubscribeTrades(ctx context.Context, pair string) (<-chan core.Trade, error) {
	return subscribe(ctx, a, pair, core.StreamTrades, a.decodeTrade)
}

// SubscribeOrderBook streams order book snapshots for a pair.
func (a *Adapter) SubscribeOrderBook(ctx context.Context, pair string) (<-chan core.OrderBook, error) {
	return subscribe(ctx, a, pair, core.StreamOrderBook, a.decodeBook)
}

func subscribe[T any](ctx context.Context, a *Adapter, pair string, stream core.StreamType, decode func(ws.Key, []byte) (T, bool)) (<-chan T, error) {
	canonical, err := core.NormalizePair(pair)
	if err != nil {
		return nil, core.WrapError(core.VenueBinance, core.KindValidation, "bad pair", err)
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
