// Package bybit implements the venue adapter for Bybit v5 spot markets.
package bybit

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

	"exbridge/internal/rest"
	"exbridge/internal/ws"
	"exbridge/pkg/core"
	"exbridge/pkg/exchange"
)

const (
	baseURL        = "https://api.bybit.com"
	sandboxBaseURL = "https://api-testnet.bybit.com"

	category = "spot"
)

// response is the v5 envelope around every payload.
type response[T any] struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  T      `json:"result"`
	Time    int64  `json:"time"`
}

// listResult is the common {list: [...]} result shape.
type listResult[T any] struct {
	List []T `json:"list"`
}

// Adapter implements the exchange contract for Bybit.
type Adapter struct {
	rt         *exchange.Runtime
	normalizer *Normalizer
	catalogue  *exchange.Catalogue
	hub        *exchange.StreamHub
}

// New creates a Bybit adapter from the config. Sandbox mode targets the
// testnet.
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

// parseError claims the v5 envelope. The venue reports most failures with a
// 200 status and a nonzero retCode, so the parser runs on success statuses
// too.
func parseError(status int, body []byte) *core.Error {
	var env envelope
	if err := sonic.Unmarshal(body, &env); err != nil || env.RetCode == 0 {
		return nil
	}
	kind := core.KindProtocol
	switch env.RetCode {
	case 10003, 10004, 10005, 10010, 33004:
		kind = core.KindAuthentication
	case 10006, 10018:
		kind = core.KindRateLimit
	}
	if status >= 500 {
		kind = core.KindConnectivity
	}
	return core.NewHTTPError(core.VenueBybit, kind, status, strconv.Itoa(env.RetCode), env.RetMsg)
}

// Venue identifies this adapter.
func (a *Adapter) Venue() core.Venue { return core.VenueBybit }

// TestConnection probes the public server-time endpoint.
func (a *Adapter) TestConnection(ctx context.Context) error {
	return a.rt.REST.Do(ctx, &rest.Call{Method: http.MethodGet, Path: "/v5/market/time"})
}

// LoadExchangeInfo refreshes the symbol catalogue.
func (a *Adapter) LoadExchangeInfo(ctx context.Context) error {
	var out response[listResult[bybitInstrument]]
	err := a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodGet,
		Path:   "/v5/market/instruments-info",
		Query:  url.Values{"category": {category}, "limit": {"1000"}},
		Out:    &out,
	})
	if err != nil {
		return err
	}
	a.catalogue.Replace(a.normalizer.symbols(out.Result.List))
	return nil
}

// GetBalance reads the unified wallet. With a currency it returns that single
// asset, zero-filled when the venue reports nothing.
func (a *Adapter) GetBalance(ctx context.Context, currency string) (core.Balances, error) {
	type account struct {
		Coin []bybitCoin `json:"coin"`
	}
	var out response[listResult[account]]
	err := a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodGet,
		Path:   "/v5/account/wallet-balance",
		Query:  url.Values{"accountType": {"UNIFIED"}},
		Auth:   true,
		Out:    &out,
	})
	if err != nil {
		return nil, err
	}
	var coins []bybitCoin
	if len(out.Result.List) > 0 {
		coins = out.Result.List[0].Coin
	}
	all := a.normalizer.balances(coins)
	if currency == "" {
		return all, nil
	}
	asset := strings.ToUpper(currency)
	return core.Balances{asset: all.Get(asset)}, nil
}

// GetCurrentPrice returns the last traded price.
func (a *Adapter) GetCurrentPrice(ctx context.Context, pair string) (apd.Decimal, error) {
	t, err := a.fetchTicker(ctx, pair)
	if err != nil {
		return apd.Decimal{}, err
	}
	return t.Last, nil
}

func (a *Adapter) fetchTicker(ctx context.Context, pair string) (core.Ticker, error) {
	symbol, err := a.normalizer.Symbol(pair)
	if err != nil {
		return core.Ticker{}, core.WrapError(core.VenueBybit, core.KindValidation, "bad pair", err)
	}
	var out response[listResult[bybitTicker]]
	err = a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodGet,
		Path:   "/v5/market/tickers",
		Query:  url.Values{"category": {category}, "symbol": {symbol}},
		Out:    &out,
	})
	if err != nil {
		return core.Ticker{}, err
	}
	if len(out.Result.List) == 0 {
		return core.Ticker{}, core.NewError(core.VenueBybit, core.KindProtocol, "empty ticker list for "+symbol)
	}
	return a.normalizer.ticker(&out.Result.List[0], millisInt(out.Time)), nil
}

// GetOrderBook returns up to depth levels per side.
func (a *Adapter) GetOrderBook(ctx context.Context, pair string, depth int) (*core.OrderBook, error) {
	symbol, err := a.normalizer.Symbol(pair)
	if err != nil {
		return nil, core.WrapError(core.VenueBybit, core.KindValidation, "bad pair", err)
	}
	if depth <= 0 || depth > 200 {
		depth = 50
	}
	canonical, _ := core.NormalizePair(pair)

	book, err := exchange.Soft(a.rt.Logger, func() (*core.OrderBook, error) {
		var out response[bybitBook]
		err := a.rt.REST.Do(ctx, &rest.Call{
			Method: http.MethodGet,
			Path:   "/v5/market/orderbook",
			Query: url.Values{
				"category": {category}, "symbol": {symbol}, "limit": {strconv.Itoa(depth)},
			},
			Out: &out,
		})
		if err != nil {
			return nil, err
		}
		return a.normalizer.book(canonical, &out.Result), nil
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
		return nil, core.WrapError(core.VenueBybit, core.KindValidation, "bad pair", err)
	}
	iv, err := a.normalizer.Interval(interval)
	if err != nil {
		return nil, core.WrapError(core.VenueBybit, core.KindValidation, "bad interval", err)
	}
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	canonical, _ := core.NormalizePair(pair)

	return exchange.Soft(a.rt.Logger, func() ([]core.Kline, error) {
		var out response[listResult[[]string]]
		err := a.rt.REST.Do(ctx, &rest.Call{
			Method: http.MethodGet,
			Path:   "/v5/market/kline",
			Query: url.Values{
				"category": {category}, "symbol": {symbol},
				"interval": {iv}, "limit": {strconv.Itoa(limit)},
			},
			Out: &out,
		})
		if err != nil {
			return nil, err
		}
		return a.normalizer.klines(canonical, out.Result.List), nil
	})
}

// CreateOrder places an order. Stop types ride a trigger price on top of the
// venue's Market/Limit types.
func (a *Adapter) CreateOrder(ctx context.Context, req *exchange.OrderRequest) (*core.Order, error) {
	if err := req.Validate(core.VenueBybit); err != nil {
		return nil, err
	}
	symbol, err := a.normalizer.Symbol(req.Pair)
	if err != nil {
		return nil, core.WrapError(core.VenueBybit, core.KindValidation, "bad pair", err)
	}
	typ, err := a.normalizer.OrderType(req.Type)
	if err != nil {
		return nil, core.WrapError(core.VenueBybit, core.KindValidation, "bad order type", err)
	}

	body := map[string]string{
		"category":  category,
		"symbol":    symbol,
		"side":      sideName(req.Side),
		"orderType": typ,
		"qty":       req.Amount.Text('f'),
	}
	if req.Type == core.TypeMarket || req.Type == core.TypeStopLoss {
		// Spot market orders size in quote by default.
		body["marketUnit"] = "baseCoin"
	}
	if req.Type.Resting() {
		body["price"] = req.Price.Text('f')
		body["timeInForce"] = "GTC"
	}
	if req.StopPrice != nil {
		body["triggerPrice"] = req.StopPrice.Text('f')
		body["orderFilter"] = "StopOrder"
	}
	if req.ClientOrderID != "" {
		body["orderLinkId"] = req.ClientOrderID
	}

	type created struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	var out response[created]
	err = a.rt.REST.Do(ctx, &rest.Call{
		Method:   http.MethodPost,
		Path:     "/v5/order/create",
		JSONBody: body,
		Auth:     true,
		Out:      &out,
	})
	if err != nil {
		return nil, err
	}

	// The create ack carries only identifiers; fetch the resting state.
	order, err := a.GetOrderStatus(ctx, out.Result.OrderID, req.Pair)
	if err == nil {
		return order, nil
	}
	canonical, _ := core.NormalizePair(req.Pair)
	return &core.Order{
		ID:            out.Result.OrderID,
		ClientOrderID: out.Result.OrderLinkID,
		Pair:          canonical,
		Side:          req.Side,
		Type:          req.Type,
		Amount:        req.Amount,
		Status:        core.StatusPending,
	}, nil
}

// CancelOrder cancels one open order.
func (a *Adapter) CancelOrder(ctx context.Context, orderID, pair string) error {
	symbol, err := a.normalizer.Symbol(pair)
	if err != nil {
		return core.WrapError(core.VenueBybit, core.KindValidation, "bad pair", err)
	}
	var out response[json.RawMessage]
	return a.rt.REST.Do(ctx, &rest.Call{
		Method:   http.MethodPost,
		Path:     "/v5/order/cancel",
		JSONBody: map[string]string{"category": category, "symbol": symbol, "orderId": orderID},
		Auth:     true,
		Out:      &out,
	})
}

// GetOrderStatus fetches one order, falling back to history once it leaves
// the realtime window.
func (a *Adapter) GetOrderStatus(ctx context.Context, orderID, pair string) (*core.Order, error) {
	symbol, err := a.normalizer.Symbol(pair)
	if err != nil {
		return nil, core.WrapError(core.VenueBybit, core.KindValidation, "bad pair", err)
	}
	for _, path := range []string{"/v5/order/realtime", "/v5/order/history"} {
		var out response[listResult[json.RawMessage]]
		err := a.rt.REST.Do(ctx, &rest.Call{
			Method: http.MethodGet,
			Path:   path,
			Query: url.Values{
				"category": {category}, "symbol": {symbol}, "orderId": {orderID},
			},
			Auth: true,
			Out:  &out,
		})
		if err != nil {
			return nil, err
		}
		if len(out.Result.List) == 0 {
			continue
		}
		raw := out.Result.List[0]
		var bo bybitOrder
		if err := sonic.Unmarshal(raw, &bo); err != nil {
			return nil, core.WrapError(core.VenueBybit, core.KindDecode, "decode order", err)
		}
		return a.normalizer.order(&bo, raw), nil
	}
	return nil, core.NewError(core.VenueBybit, core.KindProtocol, "order "+orderID+" not found")
}

// GetOpenOrders lists open orders, optionally for one pair.
func (a *Adapter) GetOpenOrders(ctx context.Context, pair string) ([]core.Order, error) {
	q := url.Values{"category": {category}, "openOnly": {"0"}}
	if pair != "" {
		symbol, err := a.normalizer.Symbol(pair)
		if err != nil {
			return nil, core.WrapError(core.VenueBybit, core.KindValidation, "bad pair", err)
		}
		q.Set("symbol", symbol)
	}
	var out response[listResult[bybitOrder]]
	err := a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodGet,
		Path:   "/v5/order/realtime",
		Query:  q,
		Auth:   true,
		Out:    &out,
	})
	if err != nil {
		return nil, err
	}
	orders := make([]core.Order, 0, len(out.Result.List))
	for i := range out.Result.List {
		orders = append(orders, *a.normalizer.order(&out.Result.List[i], nil))
	}
	return orders, nil
}

// GetTradeHistory lists recent fills for a pair.
func (a *Adapter) GetTradeHistory(ctx context.Context, pair string, limit int) ([]core.Trade, error) {
	symbol, err := a.normalizer.Symbol(pair)
	if err != nil {
		return nil, core.WrapError(core.VenueBybit, core.KindValidation, "bad pair", err)
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var out response[listResult[bybitExecution]]
	err = a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodGet,
		Path:   "/v5/execution/list",
		Query: url.Values{
			"category": {category}, "symbol": {symbol}, "limit": {strconv.Itoa(limit)},
		},
		Auth: true,
		Out:  &out,
	})
	if err != nil {
		return nil, err
	}
	trades := make([]core.Trade, 0, len(out.Result.List))
	for i := range out.Result.List {
		trades = append(trades, a.normalizer.trade(&out.Result.List[i]))
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

// SubscribeOrderBook streams order book updates for a pair.
func (a *Adapter) SubscribeOrderBook(ctx context.Context, pair string) (<-chan core.OrderBook, error) {
	return subscribe(ctx, a, pair, core.StreamOrderBook, a.decodeBook)
}

func subscribe[T any](ctx context.Context, a *Adapter, pair string, stream core.StreamType, decode func(ws.Key, []byte) (T, bool)) (<-chan T, error) {
	canonical, err := core.NormalizePair(pair)
	if err != nil {
		return nil, core.WrapError(core.VenueBybit, core.KindValidation, "bad pair", err)
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

func sideName(s core.Side) string {
	if s == core.SideSell {
		return "Sell"
	}
	return "Buy"
}

func millisInt(ms int64) (t time.Time) {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
