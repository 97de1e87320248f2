package bitfinex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/apd/v3"

	"exbridge/internal/rest"
	"exbridge/internal/ws"
	"exbridge/pkg/core"
	"exbridge/pkg/exchange"
)

// The v2 REST API serves public and authenticated endpoints from one host.
const baseURL = "https://api.bitfinex.com"

// Adapter implements the exchange contract for Bitfinex.
type Adapter struct {
	rt         *exchange.Runtime
	normalizer *Normalizer
	catalogue  *exchange.Catalogue
	hub        *exchange.StreamHub
	books      *exchange.BookSet

	// Stream channel ids are assigned by the venue per subscription and only
	// learned from the subscribed ack.
	chanMu     sync.Mutex
	chanTopics map[int64]string
}

// New creates a Bitfinex adapter from the config. Paper trading runs on the
// production host against TEST symbols, so a sandbox config is rejected.
func New(cfg *core.Config, opts ...exchange.Option) (*Adapter, error) {
	o := exchange.ApplyOptions(opts...)

	if cfg != nil && cfg.Sandbox {
		return nil, core.NewError(core.VenueBitfinex, core.KindValidation, "venue has no sandbox environment")
	}

	var signer rest.Signer
	if cfg.Credential != nil {
		signer = newSigner(cfg.Credential)
	}
	base := baseURL
	if o.BaseURL != "" {
		base = o.BaseURL
	}

	rt, err := exchange.NewRuntime(cfg, base, signer, parseError, o.Logger)
	if err != nil {
		return nil, err
	}

	a := &Adapter{
		rt:         rt,
		normalizer: NewNormalizer(),
		catalogue:  exchange.NewCatalogue(),
		books:      exchange.NewBookSet(bookDepth),
		chanTopics: make(map[int64]string),
	}
	a.hub = exchange.NewStreamHub(a.streamSpec(), rt.Streams, o.Logger)
	return a, nil
}

// parseError claims error frames, which arrive as ["error", code, "message"].
func parseError(status int, body []byte) *core.Error {
	var frame []json.RawMessage
	if err := sonic.Unmarshal(body, &frame); err != nil || len(frame) < 3 {
		return nil
	}
	var marker string
	if err := sonic.Unmarshal(frame[0], &marker); err != nil || marker != "error" {
		return nil
	}
	var code int64
	_ = sonic.Unmarshal(frame[1], &code)
	var msg string
	_ = sonic.Unmarshal(frame[2], &msg)

	kind := core.KindProtocol
	switch {
	case code == 10100 || code == 10111 || code == 10112 || code == 10113 || code == 10114:
		// apikey: invalid / nonce: small / signature errors.
		kind = core.KindAuthentication
	case code == 11010 || status == 429:
		kind = core.KindRateLimit
	case status >= 500 || code == 20060:
		// 20060: maintenance.
		kind = core.KindConnectivity
	}
	return core.NewHTTPError(core.VenueBitfinex, kind, status, strconv.FormatInt(code, 10), msg)
}

// Venue identifies this adapter.
func (a *Adapter) Venue() core.Venue { return core.VenueBitfinex }

// TestConnection probes platform status; 1 means operative.
func (a *Adapter) TestConnection(ctx context.Context) error {
	var out []int
	err := a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodGet,
		Path:   "/v2/platform/status",
		Out:    &out,
	})
	if err != nil {
		return err
	}
	if len(out) == 0 || out[0] != 1 {
		return core.NewError(core.VenueBitfinex, core.KindConnectivity, "platform in maintenance")
	}
	return nil
}

// LoadExchangeInfo refreshes the pair catalogue from the pair config.
func (a *Adapter) LoadExchangeInfo(ctx context.Context) error {
	var out [][][]json.RawMessage
	err := a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodGet,
		Path:   "/v2/conf/pub:info:pair",
		Out:    &out,
	})
	if err != nil {
		return err
	}
	if len(out) == 0 {
		return core.NewError(core.VenueBitfinex, core.KindProtocol, "empty pair config")
	}
	a.catalogue.Replace(a.normalizer.symbols(out[0]))
	return nil
}

// GetBalance folds exchange-wallet rows into asset records.
func (a *Adapter) GetBalance(ctx context.Context, currency string) (core.Balances, error) {
	var out [][]any
	err := a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodPost,
		Path:   "/v2/auth/r/wallets",
		Auth:   true,
		Out:    &out,
	})
	if err != nil {
		return nil, err
	}
	all := a.normalizer.wallets(out)
	if currency == "" {
		return all, nil
	}
	asset := AssetFromVenue(currency)
	return core.Balances{asset: all.Get(asset)}, nil
}

// GetCurrentPrice returns the last traded price from the public ticker.
func (a *Adapter) GetCurrentPrice(ctx context.Context, pair string) (apd.Decimal, error) {
	symbol, err := a.normalizer.Symbol(pair)
	if err != nil {
		return apd.Decimal{}, core.WrapError(core.VenueBitfinex, core.KindValidation, "bad pair", err)
	}
	var out []any
	err = a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodGet,
		Path:   "/v2/ticker/" + symbol,
		Out:    &out,
	})
	if err != nil {
		return apd.Decimal{}, err
	}
	canonical, _ := core.NormalizePair(pair)
	ticker, ok := a.normalizer.ticker(canonical, out)
	if !ok {
		return apd.Decimal{}, core.NewError(core.VenueBitfinex, core.KindProtocol, "short ticker payload for "+symbol)
	}
	return ticker.Last, nil
}

// GetOrderBook returns a raw-precision depth snapshot.
func (a *Adapter) GetOrderBook(ctx context.Context, pair string, depth int) (*core.OrderBook, error) {
	symbol, err := a.normalizer.Symbol(pair)
	if err != nil {
		return nil, core.WrapError(core.VenueBitfinex, core.KindValidation, "bad pair", err)
	}
	if depth <= 0 {
		depth = 25
	}
	// The venue serves fixed page sizes only.
	page := 25
	if depth > 25 {
		page = 100
	}
	canonical, _ := core.NormalizePair(pair)

	book, err := exchange.Soft(a.rt.Logger, func() (*core.OrderBook, error) {
		var out [][]any
		err := a.rt.REST.Do(ctx, &rest.Call{
			Method: http.MethodGet,
			Path:   "/v2/book/" + symbol + "/P0",
			Query:  url.Values{"len": {strconv.Itoa(page)}},
			Out:    &out,
		})
		if err != nil {
			return nil, err
		}
		return a.normalizer.book(canonical, out), nil
	})
	if err != nil {
		return nil, err
	}
	if book == nil {
		book = &core.OrderBook{Pair: canonical}
	}
	if len(book.Bids) > depth {
		book.Bids = book.Bids[:depth]
	}
	if len(book.Asks) > depth {
		book.Asks = book.Asks[:depth]
	}
	return book, nil
}

// GetKlines returns up to limit candles, oldest first.
func (a *Adapter) GetKlines(ctx context.Context, pair, interval string, limit int) ([]core.Kline, error) {
	symbol, err := a.normalizer.Symbol(pair)
	if err != nil {
		return nil, core.WrapError(core.VenueBitfinex, core.KindValidation, "bad pair", err)
	}
	tf, span, err := a.normalizer.Timeframe(interval)
	if err != nil {
		return nil, core.WrapError(core.VenueBitfinex, core.KindValidation, "bad interval", err)
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	canonical, _ := core.NormalizePair(pair)

	return exchange.Soft(a.rt.Logger, func() ([]core.Kline, error) {
		var out [][]any
		err := a.rt.REST.Do(ctx, &rest.Call{
			Method: http.MethodGet,
			Path:   "/v2/candles/trade:" + tf + ":" + symbol + "/hist",
			Query: url.Values{
				"limit": {strconv.Itoa(limit)},
				"sort":  {"1"},
			},
			Out: &out,
		})
		if err != nil {
			return nil, err
		}
		return a.normalizer.klines(canonical, span, out), nil
	})
}

// CreateOrder places an exchange-wallet order. The side rides in the sign of
// the amount; stop orders put the trigger in price and, for stop-limits, the
// limit in price_aux_limit.
func (a *Adapter) CreateOrder(ctx context.Context, req *exchange.OrderRequest) (*core.Order, error) {
	if err := req.Validate(core.VenueBitfinex); err != nil {
		return nil, err
	}
	symbol, err := a.normalizer.Symbol(req.Pair)
	if err != nil {
		return nil, core.WrapError(core.VenueBitfinex, core.KindValidation, "bad pair", err)
	}
	orderType, err := a.normalizer.OrderType(req.Type)
	if err != nil {
		return nil, core.WrapError(core.VenueBitfinex, core.KindValidation, "bad order type", err)
	}

	amount := req.Amount
	if req.Side == core.SideSell {
		amount.Neg(&amount)
	}
	body := map[string]any{
		"type":   orderType,
		"symbol": symbol,
		"amount": amount.Text('f'),
	}
	switch req.Type {
	case core.TypeLimit:
		body["price"] = req.Price.Text('f')
	case core.TypeStopLoss:
		body["price"] = req.StopPrice.Text('f')
	case core.TypeStopLimit:
		body["price"] = req.StopPrice.Text('f')
		body["price_aux_limit"] = req.Price.Text('f')
	}
	if req.ClientOrderID != "" {
		cid, err := strconv.ParseInt(req.ClientOrderID, 10, 64)
		if err != nil {
			return nil, core.NewError(core.VenueBitfinex, core.KindValidation, "client order id must be numeric")
		}
		body["cid"] = cid
	}

	var out []json.RawMessage
	err = a.rt.REST.Do(ctx, &rest.Call{
		Method:   http.MethodPost,
		Path:     "/v2/auth/w/order/submit",
		JSONBody: body,
		Auth:     true,
		Out:      &out,
	})
	if err != nil {
		return nil, err
	}
	rows, err := notificationOrders(out)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, core.NewError(core.VenueBitfinex, core.KindProtocol, "order accepted without payload")
	}
	order, ok := a.normalizer.order(rows[0])
	if !ok {
		return nil, core.NewError(core.VenueBitfinex, core.KindProtocol, "short order payload")
	}
	return order, nil
}

// notificationOrders unwraps a write notification
// [mts, type, messageID, null, [orders...], code, status, text].
func notificationOrders(frame []json.RawMessage) ([][]any, error) {
	if len(frame) < 8 {
		return nil, core.NewError(core.VenueBitfinex, core.KindProtocol, "short notification")
	}
	var status string
	_ = sonic.Unmarshal(frame[6], &status)
	if status == "ERROR" || status == "FAILURE" {
		var text string
		_ = sonic.Unmarshal(frame[7], &text)
		return nil, core.NewError(core.VenueBitfinex, core.KindProtocol, text)
	}
	var rows [][]any
	if err := sonic.Unmarshal(frame[4], &rows); err != nil {
		// Cancel notifications carry a single order array instead of a list.
		var row []any
		if err := sonic.Unmarshal(frame[4], &row); err != nil {
			return nil, core.WrapError(core.VenueBitfinex, core.KindDecode, "decode notification", err)
		}
		rows = [][]any{row}
	}
	return rows, nil
}

// CancelOrder cancels one open order by id.
func (a *Adapter) CancelOrder(ctx context.Context, orderID, _ string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return core.NewError(core.VenueBitfinex, core.KindValidation, "order id must be numeric")
	}
	var out []json.RawMessage
	err = a.rt.REST.Do(ctx, &rest.Call{
		Method:   http.MethodPost,
		Path:     "/v2/auth/w/order/cancel",
		JSONBody: map[string]any{"id": id},
		Auth:     true,
		Out:      &out,
	})
	if err != nil {
		return err
	}
	_, err = notificationOrders(out)
	return err
}

// GetOrderStatus fetches one order, looking in the active set first and the
// history when it has already left the book.
func (a *Adapter) GetOrderStatus(ctx context.Context, orderID, _ string) (*core.Order, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, core.NewError(core.VenueBitfinex, core.KindValidation, "order id must be numeric")
	}
	for _, path := range []string{"/v2/auth/r/orders", "/v2/auth/r/orders/hist"} {
		var out [][]any
		err := a.rt.REST.Do(ctx, &rest.Call{
			Method:   http.MethodPost,
			Path:     path,
			JSONBody: map[string]any{"id": []int64{id}},
			Auth:     true,
			Out:      &out,
		})
		if err != nil {
			return nil, err
		}
		if len(out) > 0 {
			if order, ok := a.normalizer.order(out[0]); ok {
				return order, nil
			}
		}
	}
	return nil, core.NewError(core.VenueBitfinex, core.KindProtocol, "order "+orderID+" not found")
}

// GetOpenOrders lists active orders, optionally narrowed to one pair.
func (a *Adapter) GetOpenOrders(ctx context.Context, pair string) ([]core.Order, error) {
	path := "/v2/auth/r/orders"
	if pair != "" {
		symbol, err := a.normalizer.Symbol(pair)
		if err != nil {
			return nil, core.WrapError(core.VenueBitfinex, core.KindValidation, "bad pair", err)
		}
		path += "/" + symbol
	}
	var out [][]any
	err := a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodPost,
		Path:   path,
		Auth:   true,
		Out:    &out,
	})
	if err != nil {
		return nil, err
	}
	orders := make([]core.Order, 0, len(out))
	for _, row := range out {
		if order, ok := a.normalizer.order(row); ok {
			orders = append(orders, *order)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].Timestamp.Before(orders[j].Timestamp)
	})
	return orders, nil
}

// GetTradeHistory lists recent fills for a pair, newest first.
func (a *Adapter) GetTradeHistory(ctx context.Context, pair string, limit int) ([]core.Trade, error) {
	symbol, err := a.normalizer.Symbol(pair)
	if err != nil {
		return nil, core.WrapError(core.VenueBitfinex, core.KindValidation, "bad pair", err)
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var out [][]any
	err = a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodPost,
		Path:   "/v2/auth/r/trades/" + symbol + "/hist",
		Query:  url.Values{"limit": {strconv.Itoa(limit)}},
		Auth:   true,
		Out:    &out,
	})
	if err != nil {
		return nil, err
	}
	trades := make([]core.Trade, 0, len(out))
	for _, row := range out {
		if trade, ok := a.normalizer.trade(row); ok {
			trades = append(trades, trade)
		}
	}
	sort.Slice(trades, func(i, j int) bool {
		return trades[i].Timestamp.After(trades[j].Timestamp)
	})
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

// SubscribeOrderBook streams assembled order book snapshots for a pair.
func (a *Adapter) SubscribeOrderBook(ctx context.Context, pair string) (<-chan core.OrderBook, error) {
	return subscribe(ctx, a, pair, core.StreamOrderBook, a.decodeBook)
}

func subscribe[T any](ctx context.Context, a *Adapter, pair string, stream core.StreamType, decode func(ws.Key, []byte) (T, bool)) (<-chan T, error) {
	canonical, err := core.NormalizePair(pair)
	if err != nil {
		return nil, core.WrapError(core.VenueBitfinex, core.KindValidation, "bad pair", err)
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
