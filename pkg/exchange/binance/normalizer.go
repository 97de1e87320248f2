package binance

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"

	"exbridge/pkg/core"
	"exbridge/pkg/exchange"
)

// binanceTicker is the raw 24hr ticker payload.
type binanceTicker struct {
	Symbol    string      `json:"symbol"`
	LastPrice apd.Decimal `json:"lastPrice"`
	BidPrice  apd.Decimal `json:"bidPrice"`
	AskPrice  apd.Decimal `json:"askPrice"`
	HighPrice apd.Decimal `json:"highPrice"`
	LowPrice  apd.Decimal `json:"lowPrice"`
	Volume    apd.Decimal `json:"volume"`
	CloseTime int64       `json:"closeTime"`
}

// binancePrice is the raw last-price payload.
type binancePrice struct {
	Symbol string      `json:"symbol"`
	Price  apd.Decimal `json:"price"`
}

// binanceOrder is the raw order payload shared by the order endpoints.
type binanceOrder struct {
	Symbol             string      `json:"symbol"`
	OrderID            int64       `json:"orderId"`
	ClientOrderID      string      `json:"clientOrderId"`
	Price              apd.Decimal `json:"price"`
	OrigQty            apd.Decimal `json:"origQty"`
	ExecutedQty        apd.Decimal `json:"executedQty"`
	CumulativeQuoteQty apd.Decimal `json:"cummulativeQuoteQty"`
	Status             string      `json:"status"`
	Type               string      `json:"type"`
	Side               string      `json:"side"`
	Time               int64       `json:"time"`
	TransactTime       int64       `json:"transactTime"`
	UpdateTime         int64       `json:"updateTime"`
}

// binanceBalance is one asset row in the account payload.
type binanceBalance struct {
	Asset  string      `json:"asset"`
	Free   apd.Decimal `json:"free"`
	Locked apd.Decimal `json:"locked"`
}

// binanceAccount is the raw account payload.
type binanceAccount struct {
	Balances []binanceBalance `json:"balances"`
}

// binanceDepth is the raw order book payload.
type binanceDepth struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// binanceTrade is one row of the account trade list.
type binanceTrade struct {
	ID              int64       `json:"id"`
	OrderID         int64       `json:"orderId"`
	Symbol          string      `json:"symbol"`
	Price           apd.Decimal `json:"price"`
	Qty             apd.Decimal `json:"qty"`
	Commission      apd.Decimal `json:"commission"`
	CommissionAsset string      `json:"commissionAsset"`
	Time            int64       `json:"time"`
	IsBuyer         bool        `json:"isBuyer"`
}

// binanceSymbolFilter is one entry in a symbol's filter list.
type binanceSymbolFilter struct {
	FilterType  string `json:"filterType"`
	TickSize    string `json:"tickSize"`
	StepSize    string `json:"stepSize"`
	MinNotional string `json:"minNotional"`
}

// binanceSymbol is one symbol in the exchangeInfo payload.
type binanceSymbol struct {
	Symbol     string                `json:"symbol"`
	Status     string                `json:"status"`
	BaseAsset  string                `json:"baseAsset"`
	QuoteAsset string                `json:"quoteAsset"`
	Filters    []binanceSymbolFilter `json:"filters"`
}

// binanceExchangeInfo is the raw catalogue payload.
type binanceExchangeInfo struct {
	Symbols []binanceSymbol `json:"symbols"`
}

// binanceError is the venue's error envelope.
type binanceError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Supported kline intervals, as the venue spells them.
var binanceIntervals = map[string]struct{}{
	"1m": {}, "3m": {}, "5m": {}, "15m": {}, "30m": {},
	"1h": {}, "2h": {}, "4h": {}, "6h": {}, "8h": {}, "12h": {},
	"1d": {}, "3d": {}, "1w": {}, "1M": {},
}

var statusMap = map[string]core.OrderStatus{
	"NEW":              core.StatusOpen,
	"PARTIALLY_FILLED": core.StatusPartiallyFilled,
	"FILLED":           core.StatusFilled,
	"CANCELED":         core.StatusCanceled,
	"PENDING_CANCEL":   core.StatusOpen,
	"REJECTED":         core.StatusCanceled,
	"EXPIRED":          core.StatusExpired,
	"EXPIRED_IN_MATCH": core.StatusExpired,
}

var orderTypeMap = map[core.OrderType]string{
	core.TypeMarket:    "MARKET",
	core.TypeLimit:     "LIMIT",
	core.TypeStopLoss:  "STOP_LOSS",
	core.TypeStopLimit: "STOP_LOSS_LIMIT",
}

var orderTypeReverse = map[string]core.OrderType{
	"MARKET":          core.TypeMarket,
	"LIMIT":           core.TypeLimit,
	"STOP_LOSS":       core.TypeStopLoss,
	"STOP_LOSS_LIMIT": core.TypeStopLimit,
}

// Normalizer translates between canonical pairs and Binance symbols and maps
// raw payloads into the common types.
type Normalizer struct {
	catalogue *exchange.Catalogue
}

// NewNormalizer creates a Normalizer backed by the symbol catalogue.
func NewNormalizer(catalogue *exchange.Catalogue) *Normalizer {
	return &Normalizer{catalogue: catalogue}
}

// Symbol converts a canonical pair into the venue symbol ("BTC/USDT" to
// "BTCUSDT").
func (n *Normalizer) Symbol(pair string) (string, error) {
	p, err := core.NormalizePair(pair)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(p, "/", ""), nil
}

// Pair converts a venue symbol back into the canonical pair, preferring the
// catalogue over the suffix heuristic.
func (n *Normalizer) Pair(symbol string) string {
	s := strings.ToUpper(symbol)
	if n.catalogue != nil {
		if base, quote, ok := core.SplitSymbol(s); ok {
			if info, found := n.catalogue.Get(core.JoinPair(base, quote)); found {
				return info.Pair()
			}
		}
	}
	if base, quote, ok := core.SplitSymbol(s); ok {
		return core.JoinPair(base, quote)
	}
	return s
}

// Interval validates a kline interval against the venue vocabulary.
func (n *Normalizer) Interval(interval string) (string, error) {
	if _, ok := binanceIntervals[interval]; !ok {
		return "", fmt.Errorf("unsupported interval %q", interval)
	}
	return interval, nil
}

// Status maps a venue order status into the common vocabulary.
func (n *Normalizer) Status(raw string) core.OrderStatus {
	if st, ok := statusMap[strings.ToUpper(raw)]; ok {
		return st
	}
	return core.StatusUnknown
}

// OrderType maps the common order type to the venue spelling.
func (n *Normalizer) OrderType(t core.OrderType) (string, error) {
	if s, ok := orderTypeMap[t]; ok {
		return s, nil
	}
	return "", fmt.Errorf("unsupported order type %q", t)
}

func (n *Normalizer) ticker(raw *binanceTicker) core.Ticker {
	return core.Ticker{
		Pair:      n.Pair(raw.Symbol),
		Bid:       raw.BidPrice,
		Ask:       raw.AskPrice,
		Last:      raw.LastPrice,
		High:      raw.HighPrice,
		Low:       raw.LowPrice,
		Volume:    raw.Volume,
		Timestamp: time.UnixMilli(raw.CloseTime),
	}
}

func (n *Normalizer) order(raw *binanceOrder, rawPayload []byte) *core.Order {
	ts := raw.UpdateTime
	if ts == 0 {
		ts = raw.TransactTime
	}
	if ts == 0 {
		ts = raw.Time
	}
	side := core.SideBuy
	if strings.EqualFold(raw.Side, "SELL") {
		side = core.SideSell
	}
	typ, ok := orderTypeReverse[strings.ToUpper(raw.Type)]
	if !ok {
		typ = core.TypeLimit
	}

	var avg apd.Decimal
	if !raw.ExecutedQty.IsZero() {
		_, _ = apd.BaseContext.WithPrecision(20).Quo(&avg, &raw.CumulativeQuoteQty, &raw.ExecutedQty)
	}

	return &core.Order{
		ID:            fmt.Sprintf("%d", raw.OrderID),
		ClientOrderID: raw.ClientOrderID,
		Pair:          n.Pair(raw.Symbol),
		Side:          side,
		Type:          typ,
		Price:         raw.Price,
		Amount:        raw.OrigQty,
		Filled:        raw.ExecutedQty,
		AveragePrice:  avg,
		Status:        n.Status(raw.Status),
		Timestamp:     time.UnixMilli(ts),
		Raw:           rawPayload,
	}
}

func (n *Normalizer) balances(raw *binanceAccount) core.Balances {
	out := make(core.Balances, len(raw.Balances))
	for _, b := range raw.Balances {
		out.Add(core.NewBalance(strings.ToUpper(b.Asset), b.Free, b.Locked))
	}
	return out
}

func (n *Normalizer) book(pair string, raw *binanceDepth) *core.OrderBook {
	book := &core.OrderBook{
		Pair:      pair,
		Bids:      make([]core.BookLevel, 0, len(raw.Bids)),
		Asks:      make([]core.BookLevel, 0, len(raw.Asks)),
		Timestamp: time.Now().UTC(),
	}
	for _, lvl := range raw.Bids {
		book.Bids = append(book.Bids, core.BookLevel{Price: exchange.Dec(lvl[0]), Amount: exchange.Dec(lvl[1])})
	}
	for _, lvl := range raw.Asks {
		book.Asks = append(book.Asks, core.BookLevel{Price: exchange.Dec(lvl[0]), Amount: exchange.Dec(lvl[1])})
	}
	return book
}

// klines maps the venue's positional candle arrays. Rows short of the six
// leading fields are skipped rather than failing the batch.
func (n *Normalizer) klines(pair string, raw [][]any) []core.Kline {
	out := make([]core.Kline, 0, len(raw))
	for _, row := range raw {
		if len(row) < 7 {
			continue
		}
		out = append(out, core.Kline{
			Pair:      pair,
			OpenTime:  time.UnixMilli(anyInt64(row[0])),
			Open:      exchange.Dec(anyString(row[1])),
			High:      exchange.Dec(anyString(row[2])),
			Low:       exchange.Dec(anyString(row[3])),
			Close:     exchange.Dec(anyString(row[4])),
			Volume:    exchange.Dec(anyString(row[5])),
			CloseTime: time.UnixMilli(anyInt64(row[6])),
		})
	}
	return out
}

func (n *Normalizer) trade(raw *binanceTrade) core.Trade {
	side := core.SideSell
	if raw.IsBuyer {
		side = core.SideBuy
	}
	return core.Trade{
		ID:        fmt.Sprintf("%d", raw.ID),
		OrderID:   fmt.Sprintf("%d", raw.OrderID),
		Pair:      n.Pair(raw.Symbol),
		Side:      side,
		Price:     raw.Price,
		Amount:    raw.Qty,
		Fee:       raw.Commission,
		FeeAsset:  raw.CommissionAsset,
		Timestamp: time.UnixMilli(raw.Time),
	}
}

// symbols maps the exchangeInfo payload into catalogue entries, keeping only
// symbols open for trading.
func (n *Normalizer) symbols(raw *binanceExchangeInfo) []core.SymbolInfo {
	out := make([]core.SymbolInfo, 0, len(raw.Symbols))
	for _, s := range raw.Symbols {
		if !strings.EqualFold(s.Status, "TRADING") {
			continue
		}
		info := core.SymbolInfo{
			Symbol: s.Symbol,
			Base:   strings.ToUpper(s.BaseAsset),
			Quote:  strings.ToUpper(s.QuoteAsset),
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				info.TickSize = exchange.Dec(f.TickSize)
				info.PriceDecimals = decimalsOf(f.TickSize)
			case "LOT_SIZE":
				info.LotSize = exchange.Dec(f.StepSize)
				info.AmountDecimals = decimalsOf(f.StepSize)
			case "NOTIONAL", "MIN_NOTIONAL":
				info.MinNotional = exchange.Dec(f.MinNotional)
			}
		}
		out = append(out, info)
	}
	return out
}

// decimalsOf counts significant decimal places in a step string like
// "0.00100000".
func decimalsOf(step string) int {
	s := strings.TrimRight(step, "0")
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}

func anyInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	}
	return 0
}

func anyString(v any) string {
	s, _ := v.(string)
	return s
}
