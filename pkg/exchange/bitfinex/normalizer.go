package bitfinex

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/apd/v3"

	"exbridge/pkg/core"
	"exbridge/pkg/exchange"
)

// Bitfinex spells some assets its own way on the wire.
var assetToVenue = map[string]string{
	"USDT": "UST",
	"USDC": "UDC",
	"TUSD": "TSD",
}

var assetFromVenue = map[string]string{
	"UST": "USDT",
	"UDC": "USDC",
	"TSD": "TUSD",
}

// Canonical interval to the venue's timeframe token, with the candle span for
// deriving close times.
var timeframes = map[string]struct {
	tf   string
	span time.Duration
}{
	"1m":  {"1m", time.Minute},
	"5m":  {"5m", 5 * time.Minute},
	"15m": {"15m", 15 * time.Minute},
	"30m": {"30m", 30 * time.Minute},
	"1h":  {"1h", time.Hour},
	"3h":  {"3h", 3 * time.Hour},
	"6h":  {"6h", 6 * time.Hour},
	"12h": {"12h", 12 * time.Hour},
	"1d":  {"1D", 24 * time.Hour},
	"1w":  {"1W", 7 * 24 * time.Hour},
}

var orderTypeMap = map[core.OrderType]string{
	core.TypeMarket:    "EXCHANGE MARKET",
	core.TypeLimit:     "EXCHANGE LIMIT",
	core.TypeStopLoss:  "EXCHANGE STOP",
	core.TypeStopLimit: "EXCHANGE STOP LIMIT",
}

// AssetToVenue maps a common asset spelling to the venue's code.
func AssetToVenue(asset string) string {
	asset = strings.ToUpper(asset)
	if a, ok := assetToVenue[asset]; ok {
		return a
	}
	return asset
}

// AssetFromVenue maps a venue asset code to its common spelling.
func AssetFromVenue(code string) string {
	code = strings.ToUpper(code)
	if a, ok := assetFromVenue[code]; ok {
		return a
	}
	return code
}

// Normalizer translates between canonical pairs and Bitfinex's t-prefixed
// symbols and maps the venue's array payloads into the common types.
type Normalizer struct{}

func NewNormalizer() *Normalizer { return &Normalizer{} }

// Symbol converts a canonical pair to the trading symbol ("BTC/USDT" to
// "tBTCUST"). Assets longer than three characters use the colon form.
func (n *Normalizer) Symbol(pair string) (string, error) {
	p, err := core.NormalizePair(pair)
	if err != nil {
		return "", err
	}
	base, quote, err := core.SplitPair(p)
	if err != nil {
		return "", err
	}
	base, quote = AssetToVenue(base), AssetToVenue(quote)
	if len(base) > 3 || len(quote) > 3 {
		return "t" + base + ":" + quote, nil
	}
	return "t" + base + quote, nil
}

// Pair converts a venue symbol back into the canonical pair.
func (n *Normalizer) Pair(symbol string) string {
	s := strings.ToUpper(symbol)
	if len(s) > 1 && (s[0] == 'T' || s[0] == 'F') && strings.ContainsAny(s[1:], ":") {
		s = s[1:]
	} else if len(s) == 7 && (s[0] == 'T' || s[0] == 'F') {
		s = s[1:]
	}
	if base, quote, ok := strings.Cut(s, ":"); ok {
		return AssetFromVenue(base) + "/" + AssetFromVenue(quote)
	}
	if len(s) == 6 {
		return AssetFromVenue(s[:3]) + "/" + AssetFromVenue(s[3:])
	}
	return s
}

// Timeframe maps a canonical interval to the venue token and candle span.
func (n *Normalizer) Timeframe(interval string) (string, time.Duration, error) {
	if v, ok := timeframes[interval]; ok {
		return v.tf, v.span, nil
	}
	return "", 0, fmt.Errorf("unsupported interval %q", interval)
}

// OrderType maps the common order type to the exchange-wallet vocabulary.
func (n *Normalizer) OrderType(t core.OrderType) (string, error) {
	if v, ok := orderTypeMap[t]; ok {
		return v, nil
	}
	return "", fmt.Errorf("unsupported order type %q", t)
}

// Status maps the venue's free-text order status. Terminal states arrive
// decorated, e.g. "EXECUTED @ 42000.5(0.5)".
func (n *Normalizer) Status(raw string) core.OrderStatus {
	switch {
	case strings.HasPrefix(raw, "ACTIVE"):
		return core.StatusOpen
	case strings.HasPrefix(raw, "PARTIALLY FILLED"):
		return core.StatusPartiallyFilled
	case strings.HasPrefix(raw, "EXECUTED"):
		return core.StatusFilled
	case strings.Contains(raw, "CANCELED"):
		return core.StatusCanceled
	default:
		return core.StatusUnknown
	}
}

// ticker maps the ten-element ticker array
// [bid, bidSize, ask, askSize, change, changeRel, last, volume, high, low].
func (n *Normalizer) ticker(pair string, row []any) (core.Ticker, bool) {
	if len(row) < 10 {
		return core.Ticker{}, false
	}
	return core.Ticker{
		Pair:      pair,
		Bid:       numDec(row[0]),
		Ask:       numDec(row[2]),
		Last:      numDec(row[6]),
		Volume:    numDec(row[7]),
		High:      numDec(row[8]),
		Low:       numDec(row[9]),
		Timestamp: time.Now().UTC(),
	}, true
}

// order maps the order array. Sign of the original amount carries the side;
// for stop-limit orders the limit price rides in the aux field.
func (n *Normalizer) order(row []any) (*core.Order, bool) {
	if len(row) < 20 {
		return nil, false
	}
	amountLeft := numDec(row[6])
	amountOrig := numDec(row[7])

	side := core.SideBuy
	if amountOrig.Negative {
		side = core.SideSell
	}
	amountLeft.Abs(&amountLeft)
	amountOrig.Abs(&amountOrig)

	var filled apd.Decimal
	_, _ = decCtx.Sub(&filled, &amountOrig, &amountLeft)

	typeRaw := strAt(row, 8)
	typ := core.TypeLimit
	switch {
	case strings.Contains(typeRaw, "STOP LIMIT"):
		typ = core.TypeStopLimit
	case strings.Contains(typeRaw, "STOP"):
		typ = core.TypeStopLoss
	case strings.Contains(typeRaw, "MARKET"):
		typ = core.TypeMarket
	}

	price := numDec(row[16])
	if typ == core.TypeStopLimit {
		price = numDec(row[19])
	}

	var clientID string
	if cid := intAt(row, 2); cid != 0 {
		clientID = strconv.FormatInt(cid, 10)
	}

	raw, _ := sonic.Marshal(row)
	return &core.Order{
		ID:            strconv.FormatInt(intAt(row, 0), 10),
		ClientOrderID: clientID,
		Pair:          n.Pair(strAt(row, 3)),
		Side:          side,
		Type:          typ,
		Price:         price,
		Amount:        amountOrig,
		Filled:        filled,
		AveragePrice:  numDec(row[17]),
		Status:        n.Status(strAt(row, 13)),
		Timestamp:     time.UnixMilli(intAt(row, 4)),
		Raw:           raw,
	}, true
}

// wallets folds wallet rows [type, currency, balance, unsettled, available]
// into asset records, keeping the exchange wallet only.
func (n *Normalizer) wallets(rows [][]any) core.Balances {
	out := make(core.Balances, len(rows))
	for _, row := range rows {
		if len(row) < 3 || strAt(row, 0) != "exchange" {
			continue
		}
		total := numDec(row[2])
		free := total
		if len(row) > 4 && row[4] != nil {
			free = numDec(row[4])
		}
		var locked apd.Decimal
		_, _ = decCtx.Sub(&locked, &total, &free)
		out.Add(core.NewBalance(AssetFromVenue(strAt(row, 1)), free, locked))
	}
	return out
}

// book maps raw P0 levels [price, count, amount]. Positive amounts are bids.
func (n *Normalizer) book(pair string, rows [][]any) *core.OrderBook {
	out := &core.OrderBook{Pair: pair, Timestamp: time.Now().UTC()}
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		amount := numDec(row[2])
		lvl := core.BookLevel{Price: numDec(row[0])}
		if amount.Negative {
			amount.Abs(&amount)
			lvl.Amount = amount
			out.Asks = append(out.Asks, lvl)
		} else {
			lvl.Amount = amount
			out.Bids = append(out.Bids, lvl)
		}
	}
	return out
}

// klines maps candle rows [mts, open, close, high, low, volume].
func (n *Normalizer) klines(pair string, span time.Duration, rows [][]any) []core.Kline {
	out := make([]core.Kline, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		open := time.UnixMilli(intAt(row, 0))
		out = append(out, core.Kline{
			Pair:      pair,
			OpenTime:  open,
			Open:      numDec(row[1]),
			Close:     numDec(row[2]),
			High:      numDec(row[3]),
			Low:       numDec(row[4]),
			Volume:    numDec(row[5]),
			CloseTime: open.Add(span),
		})
	}
	return out
}

// trade maps a fill row [id, symbol, mts, orderID, execAmount, execPrice,
// orderType, orderPrice, maker, fee, feeCurrency]. Fees arrive negative.
func (n *Normalizer) trade(row []any) (core.Trade, bool) {
	if len(row) < 6 {
		return core.Trade{}, false
	}
	amount := numDec(row[4])
	side := core.SideBuy
	if amount.Negative {
		side = core.SideSell
	}
	amount.Abs(&amount)

	var fee apd.Decimal
	feeAsset := ""
	if len(row) > 10 {
		fee = numDec(row[9])
		fee.Abs(&fee)
		feeAsset = AssetFromVenue(strAt(row, 10))
	}
	return core.Trade{
		ID:        strconv.FormatInt(intAt(row, 0), 10),
		OrderID:   strconv.FormatInt(intAt(row, 3), 10),
		Pair:      n.Pair(strAt(row, 1)),
		Side:      side,
		Price:     numDec(row[5]),
		Amount:    amount,
		Fee:       fee,
		FeeAsset:  feeAsset,
		Timestamp: time.UnixMilli(intAt(row, 2)),
	}, true
}

// symbols maps pub:info:pair entries [symbol, details] where details carries
// the minimum order size at index 3. Prices quote five significant digits.
func (n *Normalizer) symbols(entries [][]json.RawMessage) []core.SymbolInfo {
	out := make([]core.SymbolInfo, 0, len(entries))
	for _, entry := range entries {
		if len(entry) < 2 {
			continue
		}
		var sym string
		if err := sonic.Unmarshal(entry[0], &sym); err != nil || sym == "" {
			continue
		}
		var details []any
		if err := sonic.Unmarshal(entry[1], &details); err != nil {
			continue
		}
		pair := n.Pair(sym)
		base, quote, err := core.SplitPair(pair)
		if err != nil {
			continue
		}
		out = append(out, core.SymbolInfo{
			Symbol:         "t" + sym,
			Base:           base,
			Quote:          quote,
			LotSize:        numDec(at(details, 3)),
			PriceDecimals:  5,
			AmountDecimals: 8,
		})
	}
	return out
}

var decCtx = apd.BaseContext.WithPrecision(20)

func at(row []any, i int) any {
	if i >= len(row) {
		return nil
	}
	return row[i]
}

// numDec converts the venue's loosely typed array elements into decimals.
func numDec(v any) apd.Decimal {
	switch t := v.(type) {
	case string:
		return exchange.Dec(t)
	case float64:
		return exchange.Dec(strconv.FormatFloat(t, 'f', -1, 64))
	case json.Number:
		return exchange.Dec(t.String())
	default:
		var zero apd.Decimal
		return zero
	}
}

// numStr renders an array element as the venue printed it, for use as a book
// level key.
func numStr(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

func strAt(row []any, i int) string {
	s, _ := at(row, i).(string)
	return s
}

func intAt(row []any, i int) int64 {
	switch t := at(row, i).(type) {
	case float64:
		return int64(t)
	case json.Number:
		n, _ := t.Int64()
		return n
	default:
		return 0
	}
}
