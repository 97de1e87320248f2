// Package exchange defines the uniform contract every venue adapter
// implements. Callers can swap venues without code changes beyond
// construction.
package exchange

import (
	"context"

	"github.com/cockroachdb/apd/v3"

	"exbridge/pkg/core"
)

// Adapter is the unified interface for interacting with an exchange. All
// venue implementations provide market data retrieval, account management,
// order lifecycle, and real-time data streaming.
type Adapter interface {
	// Venue identifies the exchange behind this adapter.
	Venue() core.Venue

	// TestConnection performs a cheap liveness probe against a public
	// endpoint. A failure is a Connectivity error, never a silent false.
	TestConnection(ctx context.Context) error

	// LoadExchangeInfo populates the symbol catalogue (tick size, lot size,
	// min notional) used by normalization and order formatting. Adapters
	// trigger it lazily before catalogue-dependent calls.
	LoadExchangeInfo(ctx context.Context) error

	// GetBalance returns all nonzero balances. With a currency, it returns a
	// single record, zero-filled when the venue reports nothing for it.
	GetBalance(ctx context.Context, currency string) (core.Balances, error)

	// GetCurrentPrice returns the last traded price for a pair.
	GetCurrentPrice(ctx context.Context, pair string) (apd.Decimal, error)

	// GetOrderBook returns up to depth levels per side.
	GetOrderBook(ctx context.Context, pair string, depth int) (*core.OrderBook, error)

	// GetKlines returns up to limit candles at the given interval, oldest
	// first. Interval is the canonical form ("1m", "1h", "1d"); adapters
	// translate to the venue's vocabulary.
	GetKlines(ctx context.Context, pair, interval string, limit int) ([]core.Kline, error)

	// CreateOrder places an order. Resting order types without a price fail
	// with a Validation error before any network I/O.
	CreateOrder(ctx context.Context, req *OrderRequest) (*core.Order, error)

	// CancelOrder cancels an open order.
	CancelOrder(ctx context.Context, orderID, pair string) error

	// GetOrderStatus fetches one order with its status normalized into the
	// common vocabulary.
	GetOrderStatus(ctx context.Context, orderID, pair string) (*core.Order, error)

	// GetOpenOrders lists open orders, optionally restricted to one pair.
	GetOpenOrders(ctx context.Context, pair string) ([]core.Order, error)

	// GetTradeHistory lists the account's recent fills for a pair.
	GetTradeHistory(ctx context.Context, pair string, limit int) ([]core.Trade, error)

	// SubscribeTicker streams ticker updates for a pair. Subscribing again
	// for the same pair replaces the previous subscription; the returned
	// channel closes on unsubscribe or connection loss.
	SubscribeTicker(ctx context.Context, pair string) (<-chan core.Ticker, error)

	// SubscribeTrades streams public trades for a pair.
	SubscribeTrades(ctx context.Context, pair string) (<-chan core.Trade, error)

	// SubscribeOrderBook streams order book updates for a pair.
	SubscribeOrderBook(ctx context.Context, pair string) (<-chan core.OrderBook, error)

	// Unsubscribe tears down the subscription for a pair and stream. It is
	// idempotent and returns false when no subscription existed. On a true
	// return the listener has exited and the key may be resubscribed.
	Unsubscribe(pair string, stream core.StreamType) bool

	// StreamStats reports subscription activity for this adapter instance.
	StreamStats() StreamStats

	// Close releases all connections and subscriptions.
	Close() error
}

// StreamStats is a snapshot of one adapter's WebSocket activity.
type StreamStats struct {
	// ActiveSubscriptions is the number of live (pair, stream) keys.
	ActiveSubscriptions int `json:"active_subscriptions"`
	// FramesDelivered counts frames routed to consumers.
	FramesDelivered int64 `json:"frames_delivered"`
	// FramesDropped counts frames discarded because a consumer lagged.
	FramesDropped int64 `json:"frames_dropped"`
	// Connected reports whether the stream connection is up.
	Connected bool `json:"connected"`
}

// OrderRequest contains the parameters for placing an order.
type OrderRequest struct {
	// Pair is the canonical BASE/QUOTE pair.
	Pair string
	// Side is the order direction.
	Side core.Side
	// Type is how the order executes.
	Type core.OrderType
	// Amount is the base-asset quantity.
	Amount apd.Decimal
	// Price is required for resting order types. For market buys on
	// funds-denominated venues a nil price is resolved from the current
	// ticker within the call.
	Price *apd.Decimal
	// StopPrice is the trigger price for stop order types.
	StopPrice *apd.Decimal
	// ClientOrderID is an optional caller-supplied idempotency key.
	ClientOrderID string
}

// Validate enforces the contract checks that run before any network call.
func (r *OrderRequest) Validate(venue core.Venue) error {
	if r.Pair == "" {
		return core.NewError(venue, core.KindValidation, "pair is required")
	}
	if _, _, err := core.SplitPair(r.Pair); err != nil {
		return core.NewError(venue, core.KindValidation, err.Error())
	}
	if r.Amount.Sign() <= 0 {
		return core.NewError(venue, core.KindValidation, "amount must be positive")
	}
	if r.Type.Resting() && r.Price == nil {
		return core.NewError(venue, core.KindValidation,
			r.Type.String()+" orders require a price")
	}
	if r.Price != nil && r.Price.Sign() <= 0 {
		return core.NewError(venue, core.KindValidation, "price must be positive")
	}
	if (r.Type == core.TypeStopLoss || r.Type == core.TypeStopLimit) && r.StopPrice == nil {
		return core.NewError(venue, core.KindValidation,
			r.Type.String()+" orders require a stop price")
	}
	return nil
}
