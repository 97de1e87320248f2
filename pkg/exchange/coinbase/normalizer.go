package coinbase

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"

	"exbridge/pkg/core"
	"exbridge/pkg/exchange"
)

// apiError is the flat error payload returned with a failing status.
type apiError struct {
	Message string `json:"message"`
}

// cbTicker is the product ticker payload.
type cbTicker struct {
	TradeID int64       `json:"trade_id"`
	Price   apd.Decimal `json:"price"`
	Bid     apd.Decimal `json:"bid"`
	Ask     apd.Decimal `json:"ask"`
	Volume  apd.Decimal `json:"volume"`
	Time    time.Time   `json:"time"`
}

// cbOrder is the raw order payload.
type cbOrder struct {
	ID            string      `json:"id"`
	ClientOID     string      `json:"client_oid"`
	ProductID     string      `json:"product_id"`
	Side          string      `json:"side"`
	Type          string      `json:"type"`
	Price         apd.Decimal `json:"price"`
	Size          apd.Decimal `json:"size"`
	Funds         apd.Decimal `json:"funds"`
	FilledSize    apd.Decimal `json:"filled_size"`
	ExecutedValue apd.Decimal `json:"executed_value"`
	Status        string      `json:"status"`
	DoneReason    string      `json:"done_reason"`
	CreatedAt     time.Time   `json:"created_at"`
}

// cbAccount is one row of the accounts list.
type cbAccount struct {
	Currency  string      `json:"currency"`
	Balance   apd.Decimal `json:"balance"`
	Hold      apd.Decimal `json:"hold"`
	Available apd.Decimal `json:"available"`
}

// cbBook is the level2 book payload. Levels carry a third element, the order
// count, which is dropped.
type cbBook struct {
	Sequence int64   `json:"sequence"`
	Bids     [][]any `json:"bids"`
	Asks     [][]any `json:"asks"`
}

// cbFill is one row of the fills list.
type cbFill struct {
	TradeID   int64       `json:"trade_id"`
	ProductID string      `json:"product_id"`
	OrderID   string      `json:"order_id"`
	Side      string      `json:"side"`
	Price     apd.Decimal `json:"price"`
	Size      apd.Decimal `json:"size"`
	Fee       apd.Decimal `json:"fee"`
	CreatedAt time.Time   `json:"created_at"`
}

// cbProduct is one row of the products list.
type cbProduct struct {
	ID              string `json:"id"`
	BaseCurrency    string `json:"base_currency"`
	QuoteCurrency   string `json:"quote_currency"`
	QuoteIncrement  string `json:"quote_increment"`
	BaseIncrement   string `json:"base_increment"`
	MinMarketFunds  string `json:"min_market_funds"`
	Status          string `json:"status"`
	TradingDisabled bool   `json:"trading_disabled"`
}

// Candle granularity is expressed in seconds.
var cbGranularities = map[string]string{
	"1m": "60", "5m": "300", "15m": "900",
	"1h": "3600", "6h": "21600", "1d": "86400",
}

var statusMap = map[string]core.OrderStatus{
	"pending":  core.StatusPending,
	"open":     core.StatusOpen,
	"active":   core.StatusOpen,
	"received": core.StatusOpen,
}

// Normalizer translates between canonical pairs and Coinbase product ids and
// maps raw payloads into the common types.
type Normalizer struct {
	catalogue *exchange.Catalogue
}

func NewNormalizer(catalogue *exchange.Catalogue) *Normalizer {
	return &Normalizer{catalogue: catalogue}
}

// Symbol converts a canonical pair to the product id ("BTC/USD" to
// "BTC-USD").
func (n *Normalizer) Symbol(pair string) (string, error) {
	p, err := core.NormalizePair(pair)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(p, "/", "-"), nil
}

// Pair converts a product id back into the canonical pair.
func (n *Normalizer) Pair(productID string) string {
	p, err := core.NormalizePair(productID)
	if err != nil {
		return strings.ToUpper(productID)
	}
	return p
}

// Granularity maps a canonical interval to the venue's candle granularity.
func (n *Normalizer) Granularity(interval string) (string, error) {
	if v, ok := cbGranularities[interval]; ok {
		return v, nil
	}
	return "", fmt.Errorf("unsupported interval %q", interval)
}

// Status maps the venue's order lifecycle to the common status. A done order
// resolves through its done_reason.
func (n *Normalizer) Status(raw *cbOrder) core.OrderStatus {
	if raw.Status == "done" {
		switch raw.DoneReason {
		case "filled":
			return core.StatusFilled
		case "canceled", "cancelled", "rejected":
			return core.StatusCanceled
		}
		return core.StatusUnknown
	}
	s, ok := statusMap[raw.Status]
	if !ok {
		return core.StatusUnknown
	}
	if s == core.StatusOpen && !raw.FilledSize.IsZero() {
		return core.StatusPartiallyFilled
	}
	return s
}

func (n *Normalizer) order(raw *cbOrder, rawPayload []byte) *core.Order {
	side := core.SideBuy
	if strings.EqualFold(raw.Side, "sell") {
		side = core.SideSell
	}
	typ := core.TypeLimit
	if strings.EqualFold(raw.Type, "market") {
		typ = core.TypeMarket
	}

	var avg apd.Decimal
	if !raw.FilledSize.IsZero() {
		_, _ = apd.BaseContext.WithPrecision(20).Quo(&avg, &raw.ExecutedValue, &raw.FilledSize)
	}

	return &core.Order{
		ID:            raw.ID,
		ClientOrderID: raw.ClientOID,
		Pair:          n.Pair(raw.ProductID),
		Side:          side,
		Type:          typ,
		Price:         raw.Price,
		Amount:        raw.Size,
		Filled:        raw.FilledSize,
		AveragePrice:  avg,
		Status:        n.Status(raw),
		Timestamp:     raw.CreatedAt,
		Raw:           rawPayload,
	}
}

func (n *Normalizer) balances(accounts []cbAccount) core.Balances {
	out := make(core.Balances, len(accounts))
	for _, acc := range accounts {
		out.Add(core.NewBalance(strings.ToUpper(acc.Currency), acc.Available, acc.Hold))
	}
	return out
}

func (n *Normalizer) book(pair string, raw *cbBook) *core.OrderBook {
	book := &core.OrderBook{
		Pair:      pair,
		Bids:      make([]core.BookLevel, 0, len(raw.Bids)),
		Asks:      make([]core.BookLevel, 0, len(raw.Asks)),
		Timestamp: time.Now().UTC(),
	}
	for _, lvl := range raw.Bids {
		if l, ok := bookLevel(lvl); ok {
			book.Bids = append(book.Bids, l)
		}
	}
	for _, lvl := range raw.Asks {
		if l, ok := bookLevel(lvl); ok {
			book.Asks = append(book.Asks, l)
		}
	}
	return book
}

// bookLevel reads [price, size, num_orders]; price and size arrive as
// strings.
func bookLevel(row []any) (core.BookLevel, bool) {
	if len(row) < 2 {
		return core.BookLevel{}, false
	}
	price, ok := row[0].(string)
	if !ok {
		return core.BookLevel{}, false
	}
	size, ok := row[1].(string)
	if !ok {
		return core.BookLevel{}, false
	}
	return core.BookLevel{Price: exchange.Dec(price), Amount: exchange.Dec(size)}, true
}

// klines maps candle rows, which arrive newest first as
// [time, low, high, open, close, volume] with numeric fields, into
// oldest-first order.
func (n *Normalizer) klines(pair string, raw [][]float64, granularity time.Duration) []core.Kline {
	out := make([]core.Kline, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		row := raw[i]
		if len(row) < 6 {
			continue
		}
		open := time.Unix(int64(row[0]), 0)
		out = append(out, core.Kline{
			Pair:      pair,
			OpenTime:  open,
			CloseTime: open.Add(granularity),
			Low:       floatDec(row[1]),
			High:      floatDec(row[2]),
			Open:      floatDec(row[3]),
			Close:     floatDec(row[4]),
			Volume:    floatDec(row[5]),
		})
	}
	return out
}

func (n *Normalizer) trade(raw *cbFill) core.Trade {
	side := core.SideBuy
	if strings.EqualFold(raw.Side, "sell") {
		side = core.SideSell
	}
	return core.Trade{
		ID:        fmt.Sprintf("%d", raw.TradeID),
		OrderID:   raw.OrderID,
		Pair:      n.Pair(raw.ProductID),
		Side:      side,
		Price:     raw.Price,
		Amount:    raw.Size,
		Fee:       raw.Fee,
		Timestamp: raw.CreatedAt,
	}
}

func (n *Normalizer) symbols(rows []cbProduct) []core.SymbolInfo {
	out := make([]core.SymbolInfo, 0, len(rows))
	for _, p := range rows {
		if p.TradingDisabled || !strings.EqualFold(p.Status, "online") {
			continue
		}
		out = append(out, core.SymbolInfo{
			Symbol:         p.ID,
			Base:           strings.ToUpper(p.BaseCurrency),
			Quote:          strings.ToUpper(p.QuoteCurrency),
			TickSize:       exchange.Dec(p.QuoteIncrement),
			LotSize:        exchange.Dec(p.BaseIncrement),
			MinNotional:    exchange.Dec(p.MinMarketFunds),
			PriceDecimals:  decimalsOf(p.QuoteIncrement),
			AmountDecimals: decimalsOf(p.BaseIncrement),
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

func floatDec(f float64) apd.Decimal {
	var d apd.Decimal
	_, _ = d.SetFloat64(f)
	return d
}
