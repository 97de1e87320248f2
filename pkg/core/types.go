package core

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// Side represents the direction of an order (buy or sell).
type Side int

// Order side constants define the direction of a trade.
const (
	// SideBuy indicates an order to purchase an asset.
	SideBuy Side = iota
	// SideSell indicates an order to sell an asset.
	SideSell
)

// String returns the string representation of the order side ("buy" or "sell").
func (s Side) String() string {
	return [...]string{"buy", "sell"}[s]
}

// MarshalJSON implements json.Marshaler for Side.
func (s Side) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for Side.
// It accepts both lowercase and uppercase spellings.
func (s *Side) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"buy"`, `"BUY"`:
		*s = SideBuy
	case `"sell"`, `"SELL"`:
		*s = SideSell
	}
	return nil
}

// OrderType represents how an order executes on a venue.
type OrderType int

// Order type constants define how an order is executed.
const (
	// TypeMarket executes immediately at the best available price.
	TypeMarket OrderType = iota
	// TypeLimit executes at a specified price or better.
	TypeLimit
	// TypeStopLoss triggers a market order when price reaches the stop price.
	TypeStopLoss
	// TypeStopLimit triggers a limit order when price reaches the stop price.
	TypeStopLimit
)

// String returns the string representation of the order type.
func (t OrderType) String() string {
	return [...]string{"market", "limit", "stop_loss", "stop_limit"}[t]
}

// Resting reports whether the order type implies an order resting on the book
// and therefore requires a price.
func (t OrderType) Resting() bool {
	return t == TypeLimit || t == TypeStopLimit
}

// MarshalJSON implements json.Marshaler for OrderType.
func (t OrderType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for OrderType.
func (t *OrderType) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"market"`, `"MARKET"`:
		*t = TypeMarket
	case `"limit"`, `"LIMIT"`:
		*t = TypeLimit
	case `"stop_loss"`, `"STOP_LOSS"`:
		*t = TypeStopLoss
	case `"stop_limit"`, `"STOP_LIMIT"`:
		*t = TypeStopLimit
	}
	return nil
}

// OrderStatus is the common status vocabulary every venue is mapped into.
type OrderStatus int

// Order status constants define the lifecycle state of an order.
const (
	// StatusPending indicates the order has been submitted but not yet acknowledged as resting.
	StatusPending OrderStatus = iota
	// StatusOpen indicates the order is resting on the book.
	StatusOpen
	// StatusPartiallyFilled indicates part of the order has executed.
	StatusPartiallyFilled
	// StatusFilled indicates the order has completely executed.
	StatusFilled
	// StatusCanceled indicates the order was canceled.
	StatusCanceled
	// StatusExpired indicates the order expired before filling.
	StatusExpired
	// StatusUnknown indicates the venue reported a status outside the common vocabulary.
	StatusUnknown
)

// String returns the string representation of the order status.
func (s OrderStatus) String() string {
	return [...]string{"pending", "open", "partially_filled", "filled", "canceled", "expired", "unknown"}[s]
}

// IsTerminal returns true if no further status transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusFilled || s == StatusCanceled || s == StatusExpired
}

// MarshalJSON implements json.Marshaler for OrderStatus.
func (s OrderStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// StreamType identifies a market-data stream kind for subscriptions.
type StreamType int

// Stream type constants for WebSocket subscriptions.
const (
	// StreamTicker delivers best bid/ask and last-trade updates.
	StreamTicker StreamType = iota
	// StreamTrades delivers individual public trades.
	StreamTrades
	// StreamOrderBook delivers order book snapshots or deltas.
	StreamOrderBook
	// StreamKline delivers candlestick updates.
	StreamKline
)

// String returns the string representation of the stream type.
func (t StreamType) String() string {
	return [...]string{"ticker", "trades", "orderbook", "kline"}[t]
}

// Ticker represents real-time market data for a trading pair.
type Ticker struct {
	// Pair is the canonical BASE/QUOTE identifier (e.g. "BTC/USDT").
	Pair string `json:"pair"`
	// Bid is the highest price a buyer is willing to pay.
	Bid apd.Decimal `json:"bid"`
	// Ask is the lowest price a seller is willing to accept.
	Ask apd.Decimal `json:"ask"`
	// Last is the price of the most recent trade.
	Last apd.Decimal `json:"last"`
	// High is the highest price in the last 24 hours.
	High apd.Decimal `json:"high"`
	// Low is the lowest price in the last 24 hours.
	Low apd.Decimal `json:"low"`
	// Volume is the total base-asset volume in the last 24 hours.
	Volume apd.Decimal `json:"volume"`
	// Timestamp is when this ticker data was generated.
	Timestamp time.Time `json:"timestamp"`
}

// Order represents a venue order normalized into canonical shape.
// Orders are immutable once returned; callers re-fetch for fresh state.
type Order struct {
	// ID is the venue-assigned order identifier.
	ID string `json:"id"`
	// ClientOrderID is the client-assigned order identifier, when supported.
	ClientOrderID string `json:"client_order_id,omitempty"`
	// Pair is the canonical trading pair for this order.
	Pair string `json:"pair"`
	// Side indicates whether this is a buy or sell order.
	Side Side `json:"side"`
	// Type defines how the order executes.
	Type OrderType `json:"type"`
	// Price is the limit price for resting orders.
	Price apd.Decimal `json:"price"`
	// Amount is the total order quantity in base asset.
	Amount apd.Decimal `json:"amount"`
	// Filled is the executed quantity.
	Filled apd.Decimal `json:"filled"`
	// AveragePrice is the volume-weighted execution price, when reported.
	AveragePrice apd.Decimal `json:"average_price"`
	// Status is the normalized order status.
	Status OrderStatus `json:"status"`
	// Timestamp is the venue's creation or last-update time.
	Timestamp time.Time `json:"timestamp"`
	// Raw retains the venue's original payload for audit and debugging.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Balance represents account balance for a single asset.
type Balance struct {
	// Asset is the currency or token symbol (e.g. "BTC").
	Asset string `json:"asset"`
	// Free is the balance available for trading.
	Free apd.Decimal `json:"free"`
	// Locked is the balance held by open orders.
	Locked apd.Decimal `json:"locked"`
	// Total is Free + Locked.
	Total apd.Decimal `json:"total"`
}

// NewBalance builds a Balance with Total derived from free and locked.
func NewBalance(asset string, free, locked apd.Decimal) Balance {
	var total apd.Decimal
	_, _ = apd.BaseContext.Add(&total, &free, &locked)
	return Balance{Asset: asset, Free: free, Locked: locked, Total: total}
}

// IsZero reports whether both free and locked are zero.
func (b Balance) IsZero() bool {
	return b.Free.IsZero() && b.Locked.IsZero()
}

// Balances maps asset symbol to its balance record. Adapters include only
// assets with a nonzero free or locked amount.
type Balances map[string]Balance

// Get returns the balance for the asset, or a zero-filled record if absent.
func (b Balances) Get(asset string) Balance {
	if bal, ok := b[asset]; ok {
		return bal
	}
	return Balance{Asset: asset}
}

// Add inserts the balance if it is nonzero.
func (b Balances) Add(bal Balance) {
	if bal.IsZero() {
		return
	}
	b[bal.Asset] = bal
}

// Trade represents a single executed trade.
type Trade struct {
	// ID is the venue-assigned trade identifier.
	ID string `json:"id"`
	// OrderID links this trade to its parent order, when known.
	OrderID string `json:"order_id,omitempty"`
	// Pair is the canonical trading pair.
	Pair string `json:"pair"`
	// Side indicates whether this was a buy or sell.
	Side Side `json:"side"`
	// Price is the execution price.
	Price apd.Decimal `json:"price"`
	// Amount is the executed quantity.
	Amount apd.Decimal `json:"amount"`
	// Fee is the trading fee charged, when reported.
	Fee apd.Decimal `json:"fee"`
	// FeeAsset is the currency the fee was charged in.
	FeeAsset string `json:"fee_asset,omitempty"`
	// Timestamp is when the trade executed.
	Timestamp time.Time `json:"timestamp"`
}

// Kline represents a candlestick/OHLCV data point.
type Kline struct {
	// Pair is the canonical trading pair.
	Pair string `json:"pair"`
	// OpenTime is the start of the candle period.
	OpenTime time.Time `json:"open_time"`
	// Open is the price at the start of the period.
	Open apd.Decimal `json:"open"`
	// High is the highest price during the period.
	High apd.Decimal `json:"high"`
	// Low is the lowest price during the period.
	Low apd.Decimal `json:"low"`
	// Close is the price at the end of the period.
	Close apd.Decimal `json:"close"`
	// Volume is the base-asset volume during the period.
	Volume apd.Decimal `json:"volume"`
	// CloseTime is the end of the candle period, when reported.
	CloseTime time.Time `json:"close_time"`
}

// BookLevel represents a single price level in the order book.
type BookLevel struct {
	// Price is the limit price for this level.
	Price apd.Decimal `json:"price"`
	// Amount is the total quantity available at this price.
	Amount apd.Decimal `json:"amount"`
}

// OrderBook represents an order book snapshot for a trading pair.
type OrderBook struct {
	// Pair is the canonical trading pair.
	Pair string `json:"pair"`
	// Bids are buy orders sorted by price descending.
	Bids []BookLevel `json:"bids"`
	// Asks are sell orders sorted by price ascending.
	Asks []BookLevel `json:"asks"`
	// Timestamp is when this snapshot was taken.
	Timestamp time.Time `json:"timestamp"`
}

// SymbolInfo describes one tradable symbol from a venue's catalogue.
type SymbolInfo struct {
	// Symbol is the venue's native spelling (e.g. "XXBTZUSD").
	Symbol string `json:"symbol"`
	// Base is the normalized base asset.
	Base string `json:"base"`
	// Quote is the normalized quote asset.
	Quote string `json:"quote"`
	// TickSize is the minimum price increment.
	TickSize apd.Decimal `json:"tick_size"`
	// LotSize is the minimum amount increment.
	LotSize apd.Decimal `json:"lot_size"`
	// MinNotional is the minimum order value in quote asset, when published.
	MinNotional apd.Decimal `json:"min_notional"`
	// PriceDecimals is the number of price decimal places.
	PriceDecimals int `json:"price_decimals"`
	// AmountDecimals is the number of amount decimal places.
	AmountDecimals int `json:"amount_decimals"`
}

// Pair returns the canonical BASE/QUOTE spelling for this symbol.
func (s SymbolInfo) Pair() string {
	return s.Base + "/" + s.Quote
}
