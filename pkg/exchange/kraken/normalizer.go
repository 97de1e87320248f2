package kraken

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"

	"exbridge/pkg/core"
	"exbridge/pkg/exchange"
)

// krakenTicker is one value of the public Ticker result map. Fields are
// arrays: c is [last, lot volume], a and b are [price, whole lot, lot], v, h
// and l are [today, last 24h].
type krakenTicker struct {
	Ask    []string `json:"a"`
	Bid    []string `json:"b"`
	Closed []string `json:"c"`
	Volume []string `json:"v"`
	High   []string `json:"h"`
	Low    []string `json:"l"`
}

// krakenOrderDescr is the descr block of an order.
type krakenOrderDescr struct {
	Pair      string      `json:"pair"`
	Type      string      `json:"type"`
	OrderType string      `json:"ordertype"`
	Price     apd.Decimal `json:"price"`
}

// krakenOrder is one value of the open/closed orders result maps.
type krakenOrder struct {
	Status    string           `json:"status"`
	OpenTime  float64          `json:"opentm"`
	Descr     krakenOrderDescr `json:"descr"`
	Volume    apd.Decimal      `json:"vol"`
	VolExec   apd.Decimal      `json:"vol_exec"`
	AvgPrice  apd.Decimal      `json:"price"`
	UserRef   int64            `json:"userref"`
	ClientOID string           `json:"cl_ord_id"`
}

// krakenTrade is one value of the trades history result map.
type krakenTrade struct {
	OrderTxID string      `json:"ordertxid"`
	Pair      string      `json:"pair"`
	Time      float64     `json:"time"`
	Type      string      `json:"type"`
	Price     apd.Decimal `json:"price"`
	Volume    apd.Decimal `json:"vol"`
	Fee       apd.Decimal `json:"fee"`
}

// krakenPair is one value of the public AssetPairs result map.
type krakenPair struct {
	Altname      string `json:"altname"`
	WSName       string `json:"wsname"`
	Base         string `json:"base"`
	Quote        string `json:"quote"`
	PairDecimals int    `json:"pair_decimals"`
	LotDecimals  int    `json:"lot_decimals"`
	OrderMin     string `json:"ordermin"`
	CostMin      string `json:"costmin"`
	TickSize     string `json:"tick_size"`
	Status       string `json:"status"`
}

// Canonical interval to the venue's interval parameter, in minutes.
var krakenIntervals = map[string]string{
	"1m": "1", "5m": "5", "15m": "15", "30m": "30",
	"1h": "60", "4h": "240", "1d": "1440", "1w": "10080",
}

var statusMap = map[string]core.OrderStatus{
	"pending":  core.StatusPending,
	"open":     core.StatusOpen,
	"closed":   core.StatusFilled,
	"canceled": core.StatusCanceled,
	"expired":  core.StatusExpired,
}

var orderTypeMap = map[core.OrderType]string{
	core.TypeMarket:    "market",
	core.TypeLimit:     "limit",
	core.TypeStopLoss:  "stop-loss",
	core.TypeStopLimit: "stop-loss-limit",
}

// Kraken's legacy asset codes and their common spellings.
var assetFromKraken = map[string]string{
	"XBT": "BTC", "XXBT": "BTC",
	"XDG": "DOGE", "XXDG": "DOGE",
	"XETH": "ETH", "XXRP": "XRP", "XLTC": "LTC",
	"XXLM": "XLM", "XXMR": "XMR", "XZEC": "ZEC", "XMLN": "MLN",
	"ZUSD": "USD", "ZEUR": "EUR", "ZGBP": "GBP",
	"ZJPY": "JPY", "ZCAD": "CAD", "ZAUD": "AUD",
}

var assetToKraken = map[string]string{
	"BTC":  "XBT",
	"DOGE": "XDG",
}

// quoteSuffixes supports splitting altnames without catalogue help, longest
// spelling first so "XBTUSDT" does not split as XBTUSD+T.
var quoteSuffixes = []string{
	"USDT", "USDC", "XBT", "ETH", "USD", "EUR", "GBP", "JPY", "CAD", "CHF", "AUD",
}

// AssetFromKraken maps a venue asset code to its common spelling.
func AssetFromKraken(code string) string {
	code = strings.ToUpper(code)
	if a, ok := assetFromKraken[code]; ok {
		return a
	}
	return code
}

// AssetToKraken maps a common asset spelling to the venue's code.
func AssetToKraken(asset string) string {
	asset = strings.ToUpper(asset)
	if a, ok := assetToKraken[asset]; ok {
		return a
	}
	return asset
}

// Normalizer translates between canonical pairs and Kraken's several symbol
// spellings (legacy XXBTZUSD, altname XBTUSD, wsname XBT/USD) and maps raw
// payloads into the common types.
type Normalizer struct {
	catalogue *exchange.Catalogue
}

func NewNormalizer(catalogue *exchange.Catalogue) *Normalizer {
	return &Normalizer{catalogue: catalogue}
}

// Symbol converts a canonical pair to the venue's altname ("BTC/USD" to
// "XBTUSD"). The catalogue's native spelling wins when loaded.
func (n *Normalizer) Symbol(pair string) (string, error) {
	p, err := core.NormalizePair(pair)
	if err != nil {
		return "", err
	}
	if info, ok := n.catalogue.Get(p); ok {
		return info.Symbol, nil
	}
	base, quote, err := core.SplitPair(p)
	if err != nil {
		return "", err
	}
	return AssetToKraken(base) + AssetToKraken(quote), nil
}

// WSName converts a canonical pair to the stream spelling ("BTC/USD" to
// "XBT/USD").
func (n *Normalizer) WSName(pair string) (string, error) {
	p, err := core.NormalizePair(pair)
	if err != nil {
		return "", err
	}
	base, quote, err := core.SplitPair(p)
	if err != nil {
		return "", err
	}
	return AssetToKraken(base) + "/" + AssetToKraken(quote), nil
}

// Pair converts any of the venue's symbol spellings back into the canonical
// pair.
func (n *Normalizer) Pair(symbol string) string {
	s := strings.ToUpper(symbol)
	if base, quote, ok := strings.Cut(s, "/"); ok {
		return AssetFromKraken(base) + "/" + AssetFromKraken(quote)
	}
	// Legacy 8-char spelling: X<base>Z<quote>.
	if len(s) == 8 && s[0] == 'X' && s[4] == 'Z' {
		return AssetFromKraken("X"+s[1:4]) + "/" + AssetFromKraken("Z"+s[5:])
	}
	for _, suffix := range quoteSuffixes {
		if len(s) > len(suffix) && strings.HasSuffix(s, suffix) {
			return AssetFromKraken(s[:len(s)-len(suffix)]) + "/" + AssetFromKraken(suffix)
		}
	}
	return s
}

// Interval maps a canonical interval to the venue's minutes parameter.
func (n *Normalizer) Interval(interval string) (string, error) {
	if v, ok := krakenIntervals[interval]; ok {
		return v, nil
	}
	return "", fmt.Errorf("unsupported interval %q", interval)
}

// Status maps the venue's order state to the common status.
func (n *Normalizer) Status(raw *krakenOrder) core.OrderStatus {
	s, ok := statusMap[raw.Status]
	if !ok {
		return core.StatusUnknown
	}
	if s == core.StatusOpen && !raw.VolExec.IsZero() {
		return core.StatusPartiallyFilled
	}
	return s
}

// OrderType maps the common order type to the venue vocabulary.
func (n *Normalizer) OrderType(t core.OrderType) (string, error) {
	if v, ok := orderTypeMap[t]; ok {
		return v, nil
	}
	return "", fmt.Errorf("unsupported order type %q", t)
}

func (n *Normalizer) ticker(pair string, raw *krakenTicker) core.Ticker {
	return core.Ticker{
		Pair:      pair,
		Bid:       first(raw.Bid),
		Ask:       first(raw.Ask),
		Last:      first(raw.Closed),
		High:      second(raw.High),
		Low:       second(raw.Low),
		Volume:    second(raw.Volume),
		Timestamp: time.Now().UTC(),
	}
}

func (n *Normalizer) order(txid string, raw *krakenOrder, rawPayload []byte) *core.Order {
	side := core.SideBuy
	if raw.Descr.Type == "sell" {
		side = core.SideSell
	}
	typ := core.TypeLimit
	switch raw.Descr.OrderType {
	case "market":
		typ = core.TypeMarket
	case "stop-loss":
		typ = core.TypeStopLoss
	case "stop-loss-limit":
		typ = core.TypeStopLimit
	}

	sec, frac := math.Modf(raw.OpenTime)

	return &core.Order{
		ID:            txid,
		ClientOrderID: raw.ClientOID,
		Pair:          n.Pair(raw.Descr.Pair),
		Side:          side,
		Type:          typ,
		Price:         raw.Descr.Price,
		Amount:        raw.Volume,
		Filled:        raw.VolExec,
		AveragePrice:  raw.AvgPrice,
		Status:        n.Status(raw),
		Timestamp:     time.Unix(int64(sec), int64(frac*1e9)),
		Raw:           rawPayload,
	}
}

// balances folds the Balance result map into asset records. Kraken reports a
// single total per asset; funds on open orders are not broken out, so the
// whole amount lands in Free. Suffixed sub-balances (staking ".S", opt-in
// rewards ".F") are skipped.
func (n *Normalizer) balances(raw map[string]string) core.Balances {
	out := make(core.Balances, len(raw))
	for code, amount := range raw {
		if strings.ContainsRune(code, '.') {
			continue
		}
		var zero apd.Decimal
		out.Add(core.NewBalance(AssetFromKraken(code), exchange.Dec(amount), zero))
	}
	return out
}

// book maps Depth rows, which arrive as [price, volume, timestamp] with
// string prices and volumes.
func (n *Normalizer) book(pair string, bids, asks [][]any) *core.OrderBook {
	out := &core.OrderBook{
		Pair:      pair,
		Bids:      make([]core.BookLevel, 0, len(bids)),
		Asks:      make([]core.BookLevel, 0, len(asks)),
		Timestamp: time.Now().UTC(),
	}
	for _, row := range bids {
		if lvl, ok := depthLevel(row); ok {
			out.Bids = append(out.Bids, lvl)
		}
	}
	for _, row := range asks {
		if lvl, ok := depthLevel(row); ok {
			out.Asks = append(out.Asks, lvl)
		}
	}
	return out
}

func depthLevel(row []any) (core.BookLevel, bool) {
	if len(row) < 2 {
		return core.BookLevel{}, false
	}
	price, ok := row[0].(string)
	if !ok {
		return core.BookLevel{}, false
	}
	volume, ok := row[1].(string)
	if !ok {
		return core.BookLevel{}, false
	}
	return core.BookLevel{Price: exchange.Dec(price), Amount: exchange.Dec(volume)}, true
}

// klines maps OHLC rows [time, open, high, low, close, vwap, volume, count].
// Kraken already returns them oldest first.
func (n *Normalizer) klines(pair string, raw [][]any) []core.Kline {
	out := make([]core.Kline, 0, len(raw))
	for _, row := range raw {
		if len(row) < 7 {
			continue
		}
		sec, ok := row[0].(float64)
		if !ok {
			continue
		}
		out = append(out, core.Kline{
			Pair:     pair,
			OpenTime: time.Unix(int64(sec), 0),
			Open:     anyDec(row[1]),
			High:     anyDec(row[2]),
			Low:      anyDec(row[3]),
			Close:    anyDec(row[4]),
			Volume:   anyDec(row[6]),
		})
	}
	return out
}

func (n *Normalizer) trade(tid string, raw *krakenTrade) core.Trade {
	side := core.SideBuy
	if raw.Type == "sell" {
		side = core.SideSell
	}
	sec, frac := math.Modf(raw.Time)
	return core.Trade{
		ID:        tid,
		OrderID:   raw.OrderTxID,
		Pair:      n.Pair(raw.Pair),
		Side:      side,
		Price:     raw.Price,
		Amount:    raw.Volume,
		Fee:       raw.Fee,
		Timestamp: time.Unix(int64(sec), int64(frac*1e9)),
	}
}

func (n *Normalizer) symbols(raw map[string]krakenPair) []core.SymbolInfo {
	out := make([]core.SymbolInfo, 0, len(raw))
	for name, p := range raw {
		if p.Status != "" && p.Status != "online" {
			continue
		}
		out = append(out, core.SymbolInfo{
			Symbol:         name,
			Base:           AssetFromKraken(p.Base),
			Quote:          AssetFromKraken(p.Quote),
			TickSize:       exchange.Dec(p.TickSize),
			MinNotional:    exchange.Dec(p.CostMin),
			LotSize:        exchange.Dec(p.OrderMin),
			PriceDecimals:  p.PairDecimals,
			AmountDecimals: p.LotDecimals,
		})
	}
	return out
}

func first(vals []string) apd.Decimal {
	if len(vals) == 0 {
		var zero apd.Decimal
		return zero
	}
	return exchange.Dec(vals[0])
}

func second(vals []string) apd.Decimal {
	if len(vals) < 2 {
		return first(vals)
	}
	return exchange.Dec(vals[1])
}

func anyDec(v any) apd.Decimal {
	s, ok := v.(string)
	if !ok {
		var zero apd.Decimal
		return zero
	}
	return exchange.Dec(s)
}
