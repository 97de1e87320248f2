package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVenue_String(t *testing.T) {
	tests := []struct {
		venue Venue
		want  string
	}{
		{VenueBinance, "binance"},
		{VenueBybit, "bybit"},
		{VenueKucoin, "kucoin"},
		{VenueCoinbase, "coinbase"},
		{VenueKraken, "kraken"},
		{VenueBitfinex, "bitfinex"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.venue.String())
			assert.True(t, tt.venue.Valid())
		})
	}
}

func TestParseVenue(t *testing.T) {
	v, err := ParseVenue("Kraken")
	require.NoError(t, err)
	assert.Equal(t, VenueKraken, v)

	v, err = ParseVenue("  binance ")
	require.NoError(t, err)
	assert.Equal(t, VenueBinance, v)

	_, err = ParseVenue("ftx")
	assert.Error(t, err)
}

func TestVenue_RequiresPassphrase(t *testing.T) {
	assert.True(t, VenueKucoin.RequiresPassphrase())
	assert.True(t, VenueCoinbase.RequiresPassphrase())
	assert.False(t, VenueBinance.RequiresPassphrase())
	assert.False(t, VenueKraken.RequiresPassphrase())
}

func TestVenue_JSONRoundTrip(t *testing.T) {
	for _, v := range Venues() {
		data, err := v.MarshalJSON()
		require.NoError(t, err)

		var got Venue
		require.NoError(t, got.UnmarshalJSON(data))
		assert.Equal(t, v, got)
	}
}
