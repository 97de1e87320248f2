package core

import (
	"testing"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
)

func TestSide_String(t *testing.T) {
	tests := []struct {
		name string
		side Side
		want string
	}{
		{"buy", SideBuy, "buy"},
		{"sell", SideSell, "sell"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.side.String())
		})
	}
}

func TestOrderType_Resting(t *testing.T) {
	tests := []struct {
		name      string
		orderType OrderType
		want      bool
	}{
		{"market", TypeMarket, false},
		{"limit", TypeLimit, true},
		{"stop_loss", TypeStopLoss, false},
		{"stop_limit", TypeStopLimit, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.orderType.Resting())
		})
	}
}

func TestOrderStatus_String(t *testing.T) {
	tests := []struct {
		name   string
		status OrderStatus
		want   string
	}{
		{"pending", StatusPending, "pending"},
		{"open", StatusOpen, "open"},
		{"partially_filled", StatusPartiallyFilled, "partially_filled"},
		{"filled", StatusFilled, "filled"},
		{"canceled", StatusCanceled, "canceled"},
		{"expired", StatusExpired, "expired"},
		{"unknown", StatusUnknown, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func TestOrderStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		name   string
		status OrderStatus
		want   bool
	}{
		{"pending", StatusPending, false},
		{"open", StatusOpen, false},
		{"partially_filled", StatusPartiallyFilled, false},
		{"filled", StatusFilled, true},
		{"canceled", StatusCanceled, true},
		{"expired", StatusExpired, true},
		{"unknown", StatusUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.IsTerminal())
		})
	}
}

func mustDecimal(t *testing.T, s string) apd.Decimal {
	t.Helper()
	d, _, err := apd.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return *d
}

func TestNewBalance_ComputesTotal(t *testing.T) {
	b := NewBalance("BTC", mustDecimal(t, "1.5"), mustDecimal(t, "0.5"))

	assert.Equal(t, "BTC", b.Asset)
	assert.Equal(t, "2.0", b.Total.String())
	assert.False(t, b.IsZero())
}

func TestBalances_GetMissingAssetIsZeroFilled(t *testing.T) {
	bals := make(Balances)
	bals.Add(NewBalance("ETH", mustDecimal(t, "10"), mustDecimal(t, "0")))

	got := bals.Get("BTC")
	assert.Equal(t, "BTC", got.Asset)
	assert.True(t, got.IsZero())

	eth := bals.Get("ETH")
	assert.Equal(t, "10", eth.Free.String())
}

func TestBalances_AddSkipsZeroBalances(t *testing.T) {
	bals := make(Balances)
	bals.Add(NewBalance("DOGE", mustDecimal(t, "0"), mustDecimal(t, "0")))
	bals.Add(NewBalance("BTC", mustDecimal(t, "0.001"), mustDecimal(t, "0")))

	assert.Len(t, bals, 1)
	_, ok := bals["DOGE"]
	assert.False(t, ok)
}

func TestSymbolInfo_Pair(t *testing.T) {
	info := SymbolInfo{Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT"}
	assert.Equal(t, "BTC/USDT", info.Pair())
}
