package core

import (
	"fmt"
	"strings"
)

// Venue identifies a supported exchange.
type Venue int

// Supported venues.
const (
	// VenueBinance is the Binance spot exchange.
	VenueBinance Venue = iota
	// VenueBybit is the Bybit unified (spot) exchange.
	VenueBybit
	// VenueKucoin is the KuCoin spot exchange.
	VenueKucoin
	// VenueCoinbase is the Coinbase Exchange (Advanced Trade REST).
	VenueCoinbase
	// VenueKraken is the Kraken spot exchange.
	VenueKraken
	// VenueBitfinex is the Bitfinex exchange.
	VenueBitfinex

	venueCount
)

var venueNames = [...]string{
	"binance",
	"bybit",
	"kucoin",
	"coinbase",
	"kraken",
	"bitfinex",
}

// Venues returns every supported venue in declaration order.
func Venues() []Venue {
	vs := make([]Venue, venueCount)
	for i := range vs {
		vs[i] = Venue(i)
	}
	return vs
}

// String returns the lowercase venue identifier.
func (v Venue) String() string {
	if !v.Valid() {
		return fmt.Sprintf("venue(%d)", int(v))
	}
	return venueNames[v]
}

// Valid reports whether v names a supported venue.
func (v Venue) Valid() bool {
	return v >= 0 && v < venueCount
}

// RequiresPassphrase reports whether the venue requires a third credential
// beyond key and secret.
func (v Venue) RequiresPassphrase() bool {
	return v == VenueKucoin || v == VenueCoinbase
}

// ParseVenue resolves a case-insensitive venue name.
func ParseVenue(s string) (Venue, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range venueNames {
		if n == name {
			return Venue(i), nil
		}
	}
	return 0, fmt.Errorf("unknown venue %q", s)
}

// MarshalJSON implements json.Marshaler for Venue.
func (v Venue) MarshalJSON() ([]byte, error) {
	return []byte(`"` + v.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for Venue.
func (v *Venue) UnmarshalJSON(data []byte) error {
	name := strings.Trim(string(data), `"`)
	parsed, err := ParseVenue(name)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
