package kucoin

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"

	"exbridge/pkg/core"
	"exbridge/pkg/exchange"
)

// envelope wraps every response; code "200000" is success.
type envelope struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// kucoinLevel1 is the best bid/ask payload.
type kucoinLevel1 struct {
	Time    int64       `json:"time"`
	Price   apd.Decimal `json:"price"`
	BestBid apd.Decimal `json:"bestBid"`
	BestAsk apd.Decimal `json:"bestAsk"`
}

// kucoinOrder is the raw order payload.
type kucoinOrder struct {
	ID          string      `json:"id"`
	Symbol      string      `json:"symbol"`
	Side        string      `json:"side"`
	Type        string      `json:"type"`
	Price       apd.Decimal `json:"price"`
	Size        apd.Decimal `json:"size"`
	Funds       apd.Decimal `json:"funds"`
	DealSize    apd.Decimal `json:"dealSize"`
	DealFunds   apd.Decimal `json:"dealFunds"`
	ClientOid   string      `json:"clientOid"`
	IsActive    bool        `json:"isActive"`
	CancelExist bool        `json:"cancelExist"`
	CreatedAt   int64       `json:"createdAt"`
}

// kucoinAccount is one row of the accounts list.
type kucoinAccount struct {
	Currency  string      `json:"currency"`
	Type      string      `json:"type"`
	Balance   apd.Decimal `json:"balance"`
	Available apd.Decimal `json:"available"`
	Holds     apd.Decimal `json:"holds"`
}

// kucoinBook is the level2 order book payload.
type kucoinBook struct {
	Time int64       `json:"time"`
	Bids [][2]string `json:"bids"`
	Asks [][2]string `json:"asks"`
}

// kucoinFill is one row of the fills list.
type kucoinFill struct {
	TradeID     string      `json:"tradeId"`
	OrderID     string      `json:"orderId"`
	Symbol      string      `json:"symbol"`
	Side        string      `json:"side"`
	Price       apd.Decimal `json:"price"`
	Size        apd.Decimal `json:"size"`
	Fee         apd.Decimal `json:"fee"`
	FeeCurrency string      `json:"feeCurrency"`
	CreatedAt   int64       `json:"createdAt"`
}

// kucoinSymbol is one row of the symbols list.
type kucoinSymbol struct {
	Symbol         string `json:"symbol"`
	BaseCurrency   string `json:"baseCurrency"`
	QuoteCurrency  string `json:"quoteCurrency"`
	PriceIncrement string `json:"priceIncrement"`
	BaseIncrement  string `json:"baseIncrement"`
	MinFunds       string `json:"minFunds"`
	EnableTrading  bool   `json:"enableTrading"`
}

// Canonical interval to the venue's candle type vocabulary.
var kucoinIntervals = map[string]string{
	"1m": "1min", "3m": "3min", "5m": "5min", "15m": "15min", "30m": "30min",
	"1h": "1hour", "2h": "2hour", "4h": "4hour", "6h": "6hour",
	"8h": "8hour", "12h": "12hour", "1d": "1day", "1w": "1week",
}

// Normalizer translates between canonical pairs and KuCoin's dash-delimited
// symbols and maps raw payloads into the common types.
type Normalizer struct {
	catalogue *exchange.Catalogue
}

func NewNormalizer(catalogue *exchange.Catalogue) *Normalizer {
	return &Normalizer{catalogue: catalogue}
}

// Symbol converts a canonical pair to the venue symbol ("BTC/USDT" to
// "BTC-USDT").
func (n *Normalizer) Symbol(pair string) (string, error) {
	p, err := core.NormalizePair(pair)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(p, "/", "-"), nil
}

// Pair converts a venue symbol back into the canonical pair.
func (n *Normalizer) Pair(symbol string) string {
	p, err := core.NormalizePair(symbol)
	if err != nil {
		return strings.ToUpper(symbol)
	}
	return p
}

// Interval maps a canonical interval to the venue vocabulary.
func (n *Normalizer) Interval(interval string) (string, error) {
	if v, ok := kucoinIntervals[interval]; ok {
		return v, nil
	}
	return "", fmt.Errorf("unsupported interval %q", interval)
}

// Status derives the common status from the venue's boolean order state.
func (n *Normalizer) Status(raw *kucoinOrder) core.OrderStatus {
	switch {
	case raw.CancelExist:
		return core.StatusCanceled
	case raw.IsActive && raw.DealSize.IsZero():
		return core.StatusOpen
	case raw.IsActive:
		return core.StatusPartiallyFilled
	case !raw.Size.IsZero() && raw.DealSize.Cmp(&raw.Size) >= 0:
		return core.StatusFilled
	case !raw.DealFunds.IsZero() || !raw.DealSize.IsZero():
		// Funds-sized market orders report no size; a done order with fills
		// is filled.
		return core.StatusFilled
	}
	return core.StatusUnknown
}

func (n *Normalizer) order(raw *kucoinOrder, rawPayload []byte) *core.Order {
	side := core.SideBuy
	if strings.EqualFold(raw.Side, "sell") {
		side = core.SideSell
	}
	typ := core.TypeLimit
	if strings.EqualFold(raw.Type, "market") {
		typ = core.TypeMarket
	}

	var avg apd.Decimal
	if !raw.DealSize.IsZero() {
		_, _ = apd.BaseContext.WithPrecision(20).Quo(&avg, &raw.DealFunds, &raw.DealSize)
	}

	return &core.Order{
		ID:            raw.ID,
		ClientOrderID: raw.ClientOid,
		Pair:          n.Pair(raw.Symbol),
		Side:          side,
		Type:          typ,
		Price:         raw.Price,
		Amount:        raw.Size,
		Filled:        raw.DealSize,
		AveragePrice:  avg,
		Status:        n.Status(raw),
		Timestamp:     time.UnixMilli(raw.CreatedAt),
		Raw:           rawPayload,
	}
}

// balances folds the trade accounts into asset records.
func (n *Normalizer) balances(accounts []kucoinAccount) core.Balances {
	out := make(core.Balances, len(accounts))
	for _, acc := range accounts {
		if !strings.EqualFold(acc.Type, "trade") {
			continue
		}
		out.Add(core.NewBalance(strings.ToUpper(acc.Currency), acc.Available, acc.Holds))
	}
	return out
}

func (n *Normalizer) book(pair string, raw *kucoinBook) *core.OrderBook {
	book := &core.OrderBook{
		Pair:      pair,
		Bids:      make([]core.BookLevel, 0, len(raw.Bids)),
		Asks:      make([]core.BookLevel, 0, len(raw.Asks)),
		Timestamp: time.UnixMilli(raw.Time),
	}
	for _, lvl := range raw.Bids {
		book.Bids = append(book.Bids, core.BookLevel{Price: exchange.Dec(lvl[0]), Amount: exchange.Dec(lvl[1])})
	}
	for _, lvl := range raw.Asks {
		book.Asks = append(book.Asks, core.BookLevel{Price: exchange.Dec(lvl[0]), Amount: exchange.Dec(lvl[1])})
	}
	return book
}

// klines maps the venue's candle rows, which arrive newest first with
// second-resolution timestamps, into oldest-first order. Row layout is
// [time, open, close, high, low, volume, turnover].
func (n *Normalizer) klines(pair string, raw [][]string) []core.Kline {
	out := make([]core.Kline, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		row := raw[i]
		if len(row) < 6 {
			continue
		}
		sec, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		out = append(out, core.Kline{
			Pair:     pair,
			OpenTime: time.Unix(sec, 0),
			Open:     exchange.Dec(row[1]),
			Close:    exchange.Dec(row[2]),
			High:     exchange.Dec(row[3]),
			Low:      exchange.Dec(row[4]),
			Volume:   exchange.Dec(row[5]),
		})
	}
	return out
}

func (n *Normalizer) trade(raw *kucoinFill) core.Trade {
	side := core.SideBuy
	if strings.EqualFold(raw.Side, "sell") {
		side = core.SideSell
	}
	return core.Trade{
		ID:        raw.TradeID,
		OrderID:   raw.OrderID,
		Pair:      n.Pair(raw.Symbol),
		Side:      side,
		Price:     raw.Price,
		Amount:    raw.Size,
		Fee:       raw.Fee,
		FeeAsset:  raw.FeeCurrency,
		Timestamp: time.UnixMilli(raw.CreatedAt),
	}
}

func (n *Normalizer) symbols(rows []kucoinSymbol) []core.SymbolInfo {
	out := make([]core.SymbolInfo, 0, len(rows))
	for _, s := range rows {
		if !s.EnableTrading {
			continue
		}
		out = append(out, core.SymbolInfo{
			Symbol:         s.Symbol,
			Base:           strings.ToUpper(s.BaseCurrency),
			Quote:          strings.ToUpper(s.QuoteCurrency),
			TickSize:       exchange.Dec(s.PriceIncrement),
			LotSize:        exchange.Dec(s.BaseIncrement),
			MinNotional:    exchange.Dec(s.MinFunds),
			PriceDecimals:  decimalsOf(s.PriceIncrement),
			AmountDecimals: decimalsOf(s.BaseIncrement),
		})
	}
	return out
}

func decimalsOf(step string) int {
	s := strings.TrimRight(step, "0")
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}
