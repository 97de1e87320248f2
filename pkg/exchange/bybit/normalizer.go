package bybit

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"

	"exbridge/pkg/core"
	"exbridge/pkg/exchange"
)

// envelope wraps every v5 response. A nonzero retCode is an error even when
// the HTTP status is 200.
type envelope struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
}

// bybitTicker is one row of the market tickers list.
type bybitTicker struct {
	Symbol       string      `json:"symbol"`
	LastPrice    apd.Decimal `json:"lastPrice"`
	Bid1Price    apd.Decimal `json:"bid1Price"`
	Ask1Price    apd.Decimal `json:"ask1Price"`
	HighPrice24H apd.Decimal `json:"highPrice24h"`
	LowPrice24H  apd.Decimal `json:"lowPrice24h"`
	Volume24H    apd.Decimal `json:"volume24h"`
}

// bybitOrder is one row of the order list endpoints.
type bybitOrder struct {
	OrderID     string      `json:"orderId"`
	OrderLinkID string      `json:"orderLinkId"`
	Symbol      string      `json:"symbol"`
	Side        string      `json:"side"`
	OrderType   string      `json:"orderType"`
	Price       apd.Decimal `json:"price"`
	Qty         apd.Decimal `json:"qty"`
	CumExecQty  apd.Decimal `json:"cumExecQty"`
	AvgPrice    apd.Decimal `json:"avgPrice"`
	OrderStatus string      `json:"orderStatus"`
	UpdatedTime string      `json:"updatedTime"`
	CreatedTime string      `json:"createdTime"`
}

// bybitCoin is one asset row of the wallet balance payload.
type bybitCoin struct {
	Coin          string      `json:"coin"`
	WalletBalance apd.Decimal `json:"walletBalance"`
	Locked        apd.Decimal `json:"locked"`
}

// bybitBook is the raw order book payload.
type bybitBook struct {
	Symbol string      `json:"s"`
	Bids   [][2]string `json:"b"`
	Asks   [][2]string `json:"a"`
	Ts     int64       `json:"ts"`
}

// bybitExecution is one fill row of the execution list.
type bybitExecution struct {
	ExecID      string      `json:"execId"`
	OrderID     string      `json:"orderId"`
	Symbol      string      `json:"symbol"`
	Side        string      `json:"side"`
	ExecPrice   apd.Decimal `json:"execPrice"`
	ExecQty     apd.Decimal `json:"execQty"`
	ExecFee     apd.Decimal `json:"execFee"`
	FeeCurrency string      `json:"feeCurrency"`
	ExecTime    string      `json:"execTime"`
}

// bybitInstrument is one row of the instruments-info list.
type bybitInstrument struct {
	Symbol      string `json:"symbol"`
	Status      string `json:"status"`
	BaseCoin    string `json:"baseCoin"`
	QuoteCoin   string `json:"quoteCoin"`
	PriceFilter struct {
		TickSize string `json:"tickSize"`
	} `json:"priceFilter"`
	LotSizeFilter struct {
		BasePrecision string `json:"basePrecision"`
		MinOrderQty   string `json:"minOrderQty"`
		MinOrderAmt   string `json:"minOrderAmt"`
	} `json:"lotSizeFilter"`
}

// Canonical interval to the venue's kline vocabulary.
var bybitIntervals = map[string]string{
	"1m": "1", "3m": "3", "5m": "5", "15m": "15", "30m": "30",
	"1h": "60", "2h": "120", "4h": "240", "6h": "360", "12h": "720",
	"1d": "D", "1w": "W", "1M": "M",
}

var statusMap = map[string]core.OrderStatus{
	"Created":                 core.StatusPending,
	"New":                     core.StatusOpen,
	"PartiallyFilled":         core.StatusPartiallyFilled,
	"Filled":                  core.StatusFilled,
	"Cancelled":               core.StatusCanceled,
	"PartiallyFilledCanceled": core.StatusCanceled,
	"Rejected":                core.StatusCanceled,
	"Deactivated":             core.StatusCanceled,
	"Triggered":               core.StatusOpen,
	"Untriggered":             core.StatusPending,
}

// Normalizer translates between canonical pairs and Bybit symbols and maps
// raw payloads into the common types.
type Normalizer struct {
	catalogue *exchange.Catalogue
}

func NewNormalizer(catalogue *exchange.Catalogue) *Normalizer {
	return &Normalizer{catalogue: catalogue}
}

// Symbol converts a canonical pair to the venue symbol.
func (n *Normalizer) Symbol(pair string) (string, error) {
	p, err := core.NormalizePair(pair)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(p, "/", ""), nil
}

// Pair converts a venue symbol back into the canonical pair.
func (n *Normalizer) Pair(symbol string) string {
	s := strings.ToUpper(symbol)
	if base, quote, ok := core.SplitSymbol(s); ok {
		return core.JoinPair(base, quote)
	}
	return s
}

// Interval maps a canonical interval to the venue vocabulary.
func (n *Normalizer) Interval(interval string) (string, error) {
	if v, ok := bybitIntervals[interval]; ok {
		return v, nil
	}
	return "", fmt.Errorf("unsupported interval %q", interval)
}

// Status maps a venue order status into the common vocabulary.
func (n *Normalizer) Status(raw string) core.OrderStatus {
	if st, ok := statusMap[raw]; ok {
		return st
	}
	return core.StatusUnknown
}

// OrderType maps the common order type to the venue spelling. Stop variants
// ride the Limit/Market types with a trigger price attached.
func (n *Normalizer) OrderType(t core.OrderType) (string, error) {
	switch t {
	case core.TypeMarket, core.TypeStopLoss:
		return "Market", nil
	case core.TypeLimit, core.TypeStopLimit:
		return "Limit", nil
	}
	return "", fmt.Errorf("unsupported order type %q", t)
}

func (n *Normalizer) ticker(raw *bybitTicker, ts time.Time) core.Ticker {
	return core.Ticker{
		Pair:      n.Pair(raw.Symbol),
		Bid:       raw.Bid1Price,
		Ask:       raw.Ask1Price,
		Last:      raw.LastPrice,
		High:      raw.HighPrice24H,
		Low:       raw.LowPrice24H,
		Volume:    raw.Volume24H,
		Timestamp: ts,
	}
}

func (n *Normalizer) order(raw *bybitOrder, rawPayload []byte) *core.Order {
	side := core.SideBuy
	if strings.EqualFold(raw.Side, "Sell") {
		side = core.SideSell
	}
	typ := core.TypeLimit
	if strings.EqualFold(raw.OrderType, "Market") {
		typ = core.TypeMarket
	}
	ts := raw.UpdatedTime
	if ts == "" {
		ts = raw.CreatedTime
	}
	return &core.Order{
		ID:            raw.OrderID,
		ClientOrderID: raw.OrderLinkID,
		Pair:          n.Pair(raw.Symbol),
		Side:          side,
		Type:          typ,
		Price:         raw.Price,
		Amount:        raw.Qty,
		Filled:        raw.CumExecQty,
		AveragePrice:  raw.AvgPrice,
		Status:        n.Status(raw.OrderStatus),
		Timestamp:     millisString(ts),
		Raw:           rawPayload,
	}
}

func (n *Normalizer) balances(coins []bybitCoin) core.Balances {
	out := make(core.Balances, len(coins))
	for _, c := range coins {
		var free apd.Decimal
		_, _ = apd.BaseContext.Sub(&free, &c.WalletBalance, &c.Locked)
		out.Add(core.NewBalance(strings.ToUpper(c.Coin), free, c.Locked))
	}
	return out
}

func (n *Normalizer) book(pair string, raw *bybitBook) *core.OrderBook {
	book := &core.OrderBook{
		Pair:      pair,
		Bids:      make([]core.BookLevel, 0, len(raw.Bids)),
		Asks:      make([]core.BookLevel, 0, len(raw.Asks)),
		Timestamp: time.UnixMilli(raw.Ts),
	}
	for _, lvl := range raw.Bids {
		book.Bids = append(book.Bids, core.BookLevel{Price: exchange.Dec(lvl[0]), Amount: exchange.Dec(lvl[1])})
	}
	for _, lvl := range raw.Asks {
		book.Asks = append(book.Asks, core.BookLevel{Price: exchange.Dec(lvl[0]), Amount: exchange.Dec(lvl[1])})
	}
	return book
}

// klines maps the venue's positional candle rows, which arrive newest first,
// into oldest-first order.
func (n *Normalizer) klines(pair string, raw [][]string) []core.Kline {
	out := make([]core.Kline, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		row := raw[i]
		if len(row) < 6 {
			continue
		}
		out = append(out, core.Kline{
			Pair:     pair,
			OpenTime: millisString(row[0]),
			Open:     exchange.Dec(row[1]),
			High:     exchange.Dec(row[2]),
			Low:      exchange.Dec(row[3]),
			Close:    exchange.Dec(row[4]),
			Volume:   exchange.Dec(row[5]),
		})
	}
	return out
}

func (n *Normalizer) trade(raw *bybitExecution) core.Trade {
	side := core.SideBuy
	if strings.EqualFold(raw.Side, "Sell") {
		side = core.SideSell
	}
	return core.Trade{
		ID:        raw.ExecID,
		OrderID:   raw.OrderID,
		Pair:      n.Pair(raw.Symbol),
		Side:      side,
		Price:     raw.ExecPrice,
		Amount:    raw.ExecQty,
		Fee:       raw.ExecFee,
		FeeAsset:  raw.FeeCurrency,
		Timestamp: millisString(raw.ExecTime),
	}
}

func (n *Normalizer) symbols(instruments []bybitInstrument) []core.SymbolInfo {
	out := make([]core.SymbolInfo, 0, len(instruments))
	for _, in := range instruments {
		if !strings.EqualFold(in.Status, "Trading") {
			continue
		}
		out = append(out, core.SymbolInfo{
			Symbol:         in.Symbol,
			Base:           strings.ToUpper(in.BaseCoin),
			Quote:          strings.ToUpper(in.QuoteCoin),
			TickSize:       exchange.Dec(in.PriceFilter.TickSize),
			LotSize:        exchange.Dec(in.LotSizeFilter.BasePrecision),
			MinNotional:    exchange.Dec(in.LotSizeFilter.MinOrderAmt),
			PriceDecimals:  decimalsOf(in.PriceFilter.TickSize),
			AmountDecimals: decimalsOf(in.LotSizeFilter.BasePrecision),
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

// millisString parses the venue's millisecond-epoch strings.
func millisString(s string) time.Time {
	var ms int64
	for _, r := range s {
		if r < '0' || r > '9' {
			return time.Time{}
		}
		ms = ms*10 + int64(r-'0')
	}
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
