// Package kucoin implements the venue adapter for KuCoin spot markets.
package kucoin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"

	"exbridge/internal/rest"
	"exbridge/internal/ws"
	"exbridge/pkg/core"
	"exbridge/pkg/exchange"
)

const (
	baseURL        = "https://api.kucoin.com"
	sandboxBaseURL = "https://openapi-sandbox.kucoin.com"

	codeOK = "200000"
)

// response is the envelope around every payload.
type response[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

// Adapter implements the exchange contract for KuCoin.
type Adapter struct {
	rt         *exchange.Runtime
	normalizer *Normalizer
	catalogue  *exchange.Catalogue
	hub        *exchange.StreamHub
}

// New creates a KuCoin adapter from the config. A credential must carry the
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
	}
	a.hub = exchange.NewStreamHub(a.streamSpec(), rt.Streams, o.Logger)
	return a, nil
}

// parseError claims the venue's {"code","msg"} envelope regardless of HTTP
// status.
func parseError(status int, body []byte) *core.Error {
	var env envelope
	if err := sonic.Unmarshal(body, &env); err != nil || env.Code == "" || env.Code == codeOK {
		return nil
	}
	kind := core.KindProtocol
	switch env.Code {
	case "400001", "400002", "400003", "400004", "400005", "400006", "411100":
		kind = core.KindAuthentication
	case "429000":
		kind = core.KindRateLimit
	}
	if status >= 500 {
		kind = core.KindConnectivity
	}
	return core.NewHTTPError(core.VenueKucoin, kind, status, env.Code, env.Msg)
}

// Venue identifies this adapter.
func (a *Adapter) Venue() core.Venue { return core.VenueKucoin }

// TestConnection probes the public timestamp endpoint.
func (a *Adapter) TestConnection(ctx context.Context) error {
	return a.rt.REST.Do(ctx, &rest.Call{Method: http.MethodGet, Path: "/api/v1/timestamp"})
}

// LoadExchangeInfo refreshes the symbol catalogue.
func (a *Adapter) LoadExchangeInfo(ctx context.Context) error {
	var out response[[]kucoinSymbol]
	err := a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodGet,
		Path:   "/api/v2/symbols",
		Out:    &out,
	})
	if err != nil {
		return err
	}
	a.catalogue.Replace(a.normalizer.symbols(out.Data))
	return nil
}

// GetBalance folds the trade accounts into asset balances.
func (a *Adapter) GetBalance(ctx context.Context, currency string) (core.Balances, error) {
	q := url.Values{"type": {"trade"}}
	if currency != "" {
		q.Set("currency", strings.ToUpper(currency))
	}
	var out response[[]kucoinAccount]
	err := a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodGet,
		Path:   "/api/v1/accounts",
		Query:  q,
		Auth:   true,
		Out:    &out,
	})
	if err != nil {
		return nil, err
	}
	all := a.normalizer.balances(out.Data)
	if currency == "" {
		return all, nil
	}
	asset := strings.ToUpper(currency)
	return core.Balances{asset: all.Get(asset)}, nil
}

// GetCurrentPrice returns the last traded price from the level1 endpoint.
func (a *Adapter) GetCurrentPrice(ctx context.Context, pair string) (apd.Decimal, error) {
	symbol, err := a.normalizer.Symbol(pair)
	if err != nil {
		return apd.Decimal{}, core.WrapError(core.VenueKucoin, core.KindValidation, "bad pair", err)
	}
	var out response[kucoinLevel1]
	err = a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodGet,
		Path:   "/api/v1/market/orderbook/level1",
		Query:  url.Values{"symbol": {symbol}},
		Out:    &out,
	})
	if err != nil {
		return apd.Decimal{}, err
	}
	return out.Data.Price, nil
}

// GetOrderBook returns the aggregated level2 book. Depth is capped at the
// venue's published snapshot sizes.
func (a *Adapter) GetOrderBook(ctx context.Context, pair string, depth int) (*core.OrderBook, error) {
	symbol, err := a.normalizer.Symbol(pair)
	if err != nil {
		return nil, core.WrapError(core.VenueKucoin, core.KindValidation, "bad pair", err)
	}
	path := "/api/v1/market/orderbook/level2_100"
	if depth > 0 && depth <= 20 {
		path = "/api/v1/market/orderbook/level2_20"
	}
	canonical, _ := core.NormalizePair(pair)

	book, err := exchange.Soft(a.rt.Logger, func() (*core.OrderBook, error) {
		var out response[kucoinBook]
		err := a.rt.REST.Do(ctx, &rest.Call{
			Method: http.MethodGet,
			Path:   path,
			Query:  url.Values{"symbol": {symbol}},
			Out:    &out,
		})
		if err != nil {
			return nil, err
		}
		return a.normalizer.book(canonical, &out.Data), nil
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
		return nil, core.WrapError(core.VenueKucoin, core.KindValidation, "bad pair", err)
	}
	iv, err := a.normalizer.Interval(interval)
	if err != nil {
		return nil, core.WrapError(core.VenueKucoin, core.KindValidation, "bad interval", err)
	}
	canonical, _ := core.NormalizePair(pair)

	klines, err := exchange.Soft(a.rt.Logger, func() ([]core.Kline, error) {
		var out response[[][]string]
		err := a.rt.REST.Do(ctx, &rest.Call{
			Method: http.MethodGet,
			Path:   "/api/v1/market/candles",
			Query:  url.Values{"symbol": {symbol}, "type": {iv}},
			Out:    &out,
		})
		if err != nil {
			return nil, err
		}
		return a.normalizer.klines(canonical, out.Data), nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(klines) > limit {
		klines = klines[len(klines)-limit:]
	}
	return klines, nil
}

// CreateOrder places an order. Market buys are funds-sized at the venue, so
// the quote amount is resolved from the current price within the call.
func (a *Adapter) CreateOrder(ctx context.Context, req *exchange.OrderRequest) (*core.Order, error) {
	if err := req.Validate(core.VenueKucoin); err != nil {
		return nil, err
	}
	symbol, err := a.normalizer.Symbol(req.Pair)
	if err != nil {
		return nil, core.WrapError(core.VenueKucoin, core.KindValidation, "bad pair", err)
	}
	if req.Type == core.TypeStopLoss || req.Type == core.TypeStopLimit {
		return nil, core.NewError(core.VenueKucoin, core.KindValidation,
			"stop orders are not supported on the spot order endpoint")
	}

	clientOid := req.ClientOrderID
	if clientOid == "" {
		clientOid = uuid.NewString()
	}
	body := map[string]string{
		"clientOid": clientOid,
		"symbol":    symbol,
		"side":      req.Side.String(),
		"type":      req.Type.String(),
	}
	switch {
	case req.Type == core.TypeMarket && req.Side == core.SideBuy:
		funds, err := a.resolveFunds(ctx, req)
		if err != nil {
			return nil, err
		}
		body["funds"] = funds.Text('f')
	default:
		body["size"] = req.Amount.Text('f')
	}
	if req.Type.Resting() {
		body["price"] = req.Price.Text('f')
	}

	type created struct {
		OrderID string `json:"orderId"`
	}
	var out response[created]
	err = a.rt.REST.Do(ctx, &rest.Call{
		Method:   http.MethodPost,
		Path:     "/api/v1/orders",
		JSONBody: body,
		Auth:     true,
		Out:      &out,
	})
	if err != nil {
		return nil, err
	}

	order, err := a.GetOrderStatus(ctx, out.Data.OrderID, req.Pair)
	if err == nil {
		return order, nil
	}
	canonical, _ := core.NormalizePair(req.Pair)
	return &core.Order{
		ID:            out.Data.OrderID,
		ClientOrderID: clientOid,
		Pair:          canonical,
		Side:          req.Side,
		Type:          req.Type,
		Amount:        req.Amount,
		Status:        core.StatusPending,
	}, nil
}

// resolveFunds converts a base amount into quote funds at the price supplied
// on the request, or the live price when none was given. The slippage window
// is a single REST round trip.
func (a *Adapter) resolveFunds(ctx context.Context, req *exchange.OrderRequest) (apd.Decimal, error) {
	price := req.Price
	if price == nil {
		last, err := a.GetCurrentPrice(ctx, req.Pair)
		if err != nil {
			return apd.Decimal{}, err
		}
		if last.IsZero() {
			return apd.Decimal{}, core.NewError(core.VenueKucoin, core.KindProtocol,
				"no price available to size market buy")
		}
		price = &last
	}
	var funds apd.Decimal
	_, err := apd.BaseContext.WithPrecision(20).Mul(&funds, &req.Amount, price)
	if err != nil {
		return apd.Decimal{}, core.WrapError(core.VenueKucoin, core.KindValidation, "size market buy", err)
	}
	return funds, nil
}

// CancelOrder cancels one open order.
func (a *Adapter) CancelOrder(ctx context.Context, orderID, _ string) error {
	var out response[json.RawMessage]
	return a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodDelete,
		Path:   "/api/v1/orders/" + orderID,
		Auth:   true,
		Out:    &out,
	})
}

// GetOrderStatus fetches one order.
func (a *Adapter) GetOrderStatus(ctx context.Context, orderID, _ string) (*core.Order, error) {
	var out response[json.RawMessage]
	err := a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodGet,
		Path:   "/api/v1/orders/" + orderID,
		Auth:   true,
		Out:    &out,
	})
	if err != nil {
		return nil, err
	}
	var ko kucoinOrder
	if err := sonic.Unmarshal(out.Data, &ko); err != nil {
		return nil, core.WrapError(core.VenueKucoin, core.KindDecode, "decode order", err)
	}
	return a.normalizer.order(&ko, out.Data), nil
}

// GetOpenOrders lists active orders, optionally for one pair.
func (a *Adapter) GetOpenOrders(ctx context.Context, pair string) ([]core.Order, error) {
	q := url.Values{"status": {"active"}}
	if pair != "" {
		symbol, err := a.normalizer.Symbol(pair)
		if err != nil {
			return nil, core.WrapError(core.VenueKucoin, core.KindValidation, "bad pair", err)
		}
		q.Set("symbol", symbol)
	}
	type page struct {
		Items []kucoinOrder `json:"items"`
	}
	var out response[page]
	err := a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodGet,
		Path:   "/api/v1/orders",
		Query:  q,
		Auth:   true,
		Out:    &out,
	})
	if err != nil {
		return nil, err
	}
	orders := make([]core.Order, 0, len(out.Data.Items))
	for i := range out.Data.Items {
		orders = append(orders, *a.normalizer.order(&out.Data.Items[i], nil))
	}
	return orders, nil
}

// GetTradeHistory lists recent fills for a pair.
func (a *Adapter) GetTradeHistory(ctx context.Context, pair string, limit int) ([]core.Trade, error) {
	symbol, err := a.normalizer.Symbol(pair)
	if err != nil {
		return nil, core.WrapError(core.VenueKucoin, core.KindValidation, "bad pair", err)
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	type page struct {
		Items []kucoinFill `json:"items"`
	}
	var out response[page]
	err = a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodGet,
		Path:   "/api/v1/fills",
		Query:  url.Values{"symbol": {symbol}, "pageSize": {strconv.Itoa(limit)}},
		Auth:   true,
		Out:    &out,
	})
	if err != nil {
		return nil, err
	}
	trades := make([]core.Trade, 0, len(out.Data.Items))
	for i := range out.Data.Items {
		trades = append(trades, a.normalizer.trade(&out.Data.Items[i]))
	}
	return trades, nil
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
		return nil, core.WrapError(core.VenueKucoin, core.KindValidation, "bad pair", err)
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

// Close releases the stream connection, the bullet token, and the REST
// client.
func (a *Adapter) Close() error {
	a.hub.Close()
	a.rt.InvalidateCache(bulletCacheKey)
	return a.rt.Close()
}
