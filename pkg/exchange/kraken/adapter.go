package kraken

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/apd/v3"

	"exbridge/internal/rest"
	"exbridge/internal/ws"
	"exbridge/pkg/core"
	"exbridge/pkg/exchange"
)

const baseURL = "https://api.kraken.com"

// response is the envelope around every payload. A populated error list means
// failure regardless of HTTP status.
type response[T any] struct {
	Error  []string `json:"error"`
	Result T        `json:"result"`
}

// Adapter implements the exchange contract for Kraken.
type Adapter struct {
	rt         *exchange.Runtime
	normalizer *Normalizer
	catalogue  *exchange.Catalogue
	hub        *exchange.StreamHub
	books      *exchange.BookSet
}

// New creates a Kraken adapter from the config. Kraken runs no public
// sandbox, so a sandbox config is rejected rather than silently pointed at
// production.
func New(cfg *core.Config, opts ...exchange.Option) (*Adapter, error) {
	o := exchange.ApplyOptions(opts...)

	if cfg != nil && cfg.Sandbox {
		return nil, core.NewError(core.VenueKraken, core.KindValidation, "venue has no sandbox environment")
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

// parseError claims responses whose error list is populated. Kraken reports
// most failures with HTTP 200.
func parseError(status int, body []byte) *core.Error {
	var env response[json.RawMessage]
	if err := sonic.Unmarshal(body, &env); err != nil || len(env.Error) == 0 {
		return nil
	}
	first := env.Error[0]
	kind := core.KindProtocol
	switch {
	case strings.Contains(first, "Rate limit") || strings.Contains(first, "Too many requests"):
		kind = core.KindRateLimit
	case strings.HasPrefix(first, "EAPI:") || strings.HasPrefix(first, "EAuth:"):
		kind = core.KindAuthentication
	case strings.HasPrefix(first, "EService:"):
		kind = core.KindConnectivity
	}
	if status >= 500 {
		kind = core.KindConnectivity
	}
	return core.NewHTTPError(core.VenueKraken, kind, status, first, strings.Join(env.Error, "; "))
}

// Venue identifies this adapter.
func (a *Adapter) Venue() core.Venue { return core.VenueKraken }

// TestConnection probes the public time endpoint.
func (a *Adapter) TestConnection(ctx context.Context) error {
	return a.rt.REST.Do(ctx, &rest.Call{Method: http.MethodGet, Path: "/0/public/Time"})
}

// LoadExchangeInfo refreshes the pair catalogue.
func (a *Adapter) LoadExchangeInfo(ctx context.Context) error {
	var out response[map[string]krakenPair]
	err := a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodGet,
		Path:   "/0/public/AssetPairs",
		Out:    &out,
	})
	if err != nil {
		return err
	}
	a.catalogue.Replace(a.normalizer.symbols(out.Result))
	return nil
}

// GetBalance folds the balance map into asset records.
func (a *Adapter) GetBalance(ctx context.Context, currency string) (core.Balances, error) {
	var out response[map[string]string]
	err := a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodPost,
		Path:   "/0/private/Balance",
		Auth:   true,
		Out:    &out,
	})
	if err != nil {
		return nil, err
	}
	all := a.normalizer.balances(out.Result)
	if currency == "" {
		return all, nil
	}
	asset := strings.ToUpper(currency)
	return core.Balances{asset: all.Get(asset)}, nil
}

// GetCurrentPrice returns the last traded price from the public ticker.
func (a *Adapter) GetCurrentPrice(ctx context.Context, pair string) (apd.Decimal, error) {
	ticker, err := a.fetchTicker(ctx, pair)
	if err != nil {
		return apd.Decimal{}, err
	}
	return ticker.Last, nil
}

func (a *Adapter) fetchTicker(ctx context.Context, pair string) (*core.Ticker, error) {
	symbol, err := a.normalizer.Symbol(pair)
	if err != nil {
		return nil, core.WrapError(core.VenueKraken, core.KindValidation, "bad pair", err)
	}
	var out response[map[string]krakenTicker]
	err = a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodGet,
		Path:   "/0/public/Ticker",
		Query:  url.Values{"pair": {symbol}},
		Out:    &out,
	})
	if err != nil {
		return nil, err
	}
	canonical, _ := core.NormalizePair(pair)
	for _, raw := range out.Result {
		t := a.normalizer.ticker(canonical, &raw)
		return &t, nil
	}
	return nil, core.NewError(core.VenueKraken, core.KindProtocol, "ticker result empty for "+symbol)
}

// GetOrderBook returns the public depth snapshot.
func (a *Adapter) GetOrderBook(ctx context.Context, pair string, depth int) (*core.OrderBook, error) {
	symbol, err := a.normalizer.Symbol(pair)
	if err != nil {
		return nil, core.WrapError(core.VenueKraken, core.KindValidation, "bad pair", err)
	}
	if depth <= 0 || depth > 500 {
		depth = 100
	}
	canonical, _ := core.NormalizePair(pair)

	type depthSide struct {
		Bids [][]any `json:"bids"`
		Asks [][]any `json:"asks"`
	}
	book, err := exchange.Soft(a.rt.Logger, func() (*core.OrderBook, error) {
		var out response[map[string]depthSide]
		err := a.rt.REST.Do(ctx, &rest.Call{
			Method: http.MethodGet,
			Path:   "/0/public/Depth",
			Query:  url.Values{"pair": {symbol}, "count": {strconv.Itoa(depth)}},
			Out:    &out,
		})
		if err != nil {
			return nil, err
		}
		for _, side := range out.Result {
			return a.normalizer.book(canonical, side.Bids, side.Asks), nil
		}
		return &core.OrderBook{Pair: canonical}, nil
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
		return nil, core.WrapError(core.VenueKraken, core.KindValidation, "bad pair", err)
	}
	iv, err := a.normalizer.Interval(interval)
	if err != nil {
		return nil, core.WrapError(core.VenueKraken, core.KindValidation, "bad interval", err)
	}
	canonical, _ := core.NormalizePair(pair)

	klines, err := exchange.Soft(a.rt.Logger, func() ([]core.Kline, error) {
		// The result carries the rows under the pair's key next to a "last"
		// cursor, so the row array is found by shape rather than by name.
		var out response[map[string]json.RawMessage]
		err := a.rt.REST.Do(ctx, &rest.Call{
			Method: http.MethodGet,
			Path:   "/0/public/OHLC",
			Query:  url.Values{"pair": {symbol}, "interval": {iv}},
			Out:    &out,
		})
		if err != nil {
			return nil, err
		}
		for key, raw := range out.Result {
			if key == "last" {
				continue
			}
			var rows [][]any
			if err := sonic.Unmarshal(raw, &rows); err != nil {
				return nil, core.WrapError(core.VenueKraken, core.KindDecode, "decode candles", err)
			}
			return a.normalizer.klines(canonical, rows), nil
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(klines) > limit {
		klines = klines[len(klines)-limit:]
	}
	return klines, nil
}

// CreateOrder places an order. Stop orders use the venue's trigger fields:
// price carries the trigger, price2 the limit.
func (a *Adapter) CreateOrder(ctx context.Context, req *exchange.OrderRequest) (*core.Order, error) {
	if err := req.Validate(core.VenueKraken); err != nil {
		return nil, err
	}
	symbol, err := a.normalizer.Symbol(req.Pair)
	if err != nil {
		return nil, core.WrapError(core.VenueKraken, core.KindValidation, "bad pair", err)
	}
	orderType, err := a.normalizer.OrderType(req.Type)
	if err != nil {
		return nil, core.WrapError(core.VenueKraken, core.KindValidation, "bad order type", err)
	}

	form := url.Values{
		"pair":      {symbol},
		"type":      {req.Side.String()},
		"ordertype": {orderType},
		"volume":    {req.Amount.Text('f')},
	}
	switch req.Type {
	case core.TypeLimit:
		form.Set("price", req.Price.Text('f'))
	case core.TypeStopLoss:
		form.Set("price", req.StopPrice.Text('f'))
	case core.TypeStopLimit:
		form.Set("price", req.StopPrice.Text('f'))
		form.Set("price2", req.Price.Text('f'))
	}
	if req.ClientOrderID != "" {
		form.Set("cl_ord_id", req.ClientOrderID)
	}

	type added struct {
		TxID []string `json:"txid"`
	}
	var out response[added]
	err = a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodPost,
		Path:   "/0/private/AddOrder",
		Form:   form,
		Auth:   true,
		Out:    &out,
	})
	if err != nil {
		return nil, err
	}
	if len(out.Result.TxID) == 0 {
		return nil, core.NewError(core.VenueKraken, core.KindProtocol, "order accepted without transaction id")
	}
	txid := out.Result.TxID[0]

	order, err := a.GetOrderStatus(ctx, txid, req.Pair)
	if err == nil {
		return order, nil
	}
	canonical, _ := core.NormalizePair(req.Pair)
	return &core.Order{
		ID:            txid,
		ClientOrderID: req.ClientOrderID,
		Pair:          canonical,
		Side:          req.Side,
		Type:          req.Type,
		Amount:        req.Amount,
		Status:        core.StatusPending,
	}, nil
}

// CancelOrder cancels one open order.
func (a *Adapter) CancelOrder(ctx context.Context, orderID, _ string) error {
	var out response[json.RawMessage]
	return a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodPost,
		Path:   "/0/private/CancelOrder",
		Form:   url.Values{"txid": {orderID}},
		Auth:   true,
		Out:    &out,
	})
}

// GetOrderStatus fetches one order by transaction id.
func (a *Adapter) GetOrderStatus(ctx context.Context, orderID, _ string) (*core.Order, error) {
	var out response[map[string]json.RawMessage]
	err := a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodPost,
		Path:   "/0/private/QueryOrders",
		Form:   url.Values{"txid": {orderID}},
		Auth:   true,
		Out:    &out,
	})
	if err != nil {
		return nil, err
	}
	raw, ok := out.Result[orderID]
	if !ok {
		return nil, core.NewError(core.VenueKraken, core.KindProtocol, "order "+orderID+" not found")
	}
	var ko krakenOrder
	if err := sonic.Unmarshal(raw, &ko); err != nil {
		return nil, core.WrapError(core.VenueKraken, core.KindDecode, "decode order", err)
	}
	return a.normalizer.order(orderID, &ko, raw), nil
}

// GetOpenOrders lists open orders, optionally narrowed to one pair.
func (a *Adapter) GetOpenOrders(ctx context.Context, pair string) ([]core.Order, error) {
	canonical := ""
	if pair != "" {
		var err error
		canonical, err = core.NormalizePair(pair)
		if err != nil {
			return nil, core.WrapError(core.VenueKraken, core.KindValidation, "bad pair", err)
		}
	}
	type open struct {
		Open map[string]krakenOrder `json:"open"`
	}
	var out response[open]
	err := a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodPost,
		Path:   "/0/private/OpenOrders",
		Auth:   true,
		Out:    &out,
	})
	if err != nil {
		return nil, err
	}
	orders := make([]core.Order, 0, len(out.Result.Open))
	for txid := range out.Result.Open {
		raw := out.Result.Open[txid]
		order := a.normalizer.order(txid, &raw, nil)
		if canonical != "" && order.Pair != canonical {
			continue
		}
		orders = append(orders, *order)
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].Timestamp.Before(orders[j].Timestamp)
	})
	return orders, nil
}

// GetTradeHistory lists recent fills, newest first.
func (a *Adapter) GetTradeHistory(ctx context.Context, pair string, limit int) ([]core.Trade, error) {
	canonical, err := core.NormalizePair(pair)
	if err != nil {
		return nil, core.WrapError(core.VenueKraken, core.KindValidation, "bad pair", err)
	}
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	type history struct {
		Trades map[string]krakenTrade `json:"trades"`
	}
	var out response[history]
	err = a.rt.REST.Do(ctx, &rest.Call{
		Method: http.MethodPost,
		Path:   "/0/private/TradesHistory",
		Auth:   true,
		Out:    &out,
	})
	if err != nil {
		return nil, err
	}
	trades := make([]core.Trade, 0, len(out.Result.Trades))
	for tid := range out.Result.Trades {
		raw := out.Result.Trades[tid]
		trade := a.normalizer.trade(tid, &raw)
		if trade.Pair != canonical {
			continue
		}
		trades = append(trades, trade)
	}
	sort.Slice(trades, func(i, j int) bool {
		return trades[i].Timestamp.After(trades[j].Timestamp)
	})
	if len(trades) > limit {
		trades = trades[:limit]
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

// SubscribeOrderBook streams assembled order book snapshots for a pair.
func (a *Adapter) SubscribeOrderBook(ctx context.Context, pair string) (<-chan core.OrderBook, error) {
	return subscribe(ctx, a, pair, core.StreamOrderBook, a.decodeBook)
}

func subscribe[T any](ctx context.Context, a *Adapter, pair string, stream core.StreamType, decode func(ws.Key, []byte) (T, bool)) (<-chan T, error) {
	canonical, err := core.NormalizePair(pair)
	if err != nil {
		return nil, core.WrapError(core.VenueKraken, core.KindValidation, "bad pair", err)
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
