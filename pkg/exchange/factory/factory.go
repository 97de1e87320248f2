// Package factory constructs venue adapters behind the common contract, so
// callers pick an exchange by value instead of by import.
package factory

import (
	"exbridge/pkg/core"
	"exbridge/pkg/exchange"
	"exbridge/pkg/exchange/binance"
	"exbridge/pkg/exchange/bitfinex"
	"exbridge/pkg/exchange/bybit"
	"exbridge/pkg/exchange/coinbase"
	"exbridge/pkg/exchange/kraken"
	"exbridge/pkg/exchange/kucoin"
)

// Constructor builds one venue's adapter from a config.
type Constructor func(cfg *core.Config, opts ...exchange.Option) (exchange.Adapter, error)

var constructors = map[core.Venue]Constructor{
	core.VenueBinance: func(cfg *core.Config, opts ...exchange.Option) (exchange.Adapter, error) {
		return binance.New(cfg, opts...)
	},
	core.VenueBybit: func(cfg *core.Config, opts ...exchange.Option) (exchange.Adapter, error) {
		return bybit.New(cfg, opts...)
	},
	core.VenueKucoin: func(cfg *core.Config, opts ...exchange.Option) (exchange.Adapter, error) {
		return kucoin.New(cfg, opts...)
	},
	core.VenueCoinbase: func(cfg *core.Config, opts ...exchange.Option) (exchange.Adapter, error) {
		return coinbase.New(cfg, opts...)
	},
	core.VenueKraken: func(cfg *core.Config, opts ...exchange.Option) (exchange.Adapter, error) {
		return kraken.New(cfg, opts...)
	},
	core.VenueBitfinex: func(cfg *core.Config, opts ...exchange.Option) (exchange.Adapter, error) {
		return bitfinex.New(cfg, opts...)
	},
}

// New builds the adapter for cfg.Venue. A nil config is rejected rather than
// defaulted, since the venue choice has to come from somewhere.
func New(cfg *core.Config, opts ...exchange.Option) (exchange.Adapter, error) {
	if cfg == nil {
		return nil, core.NewError(core.VenueBinance, core.KindValidation, "config is required")
	}
	build, ok := constructors[cfg.Venue]
	if !ok {
		return nil, core.NewError(cfg.Venue, core.KindValidation, "unsupported venue")
	}
	return build(cfg, opts...)
}

// NewWithDefaults builds the adapter for venue with the venue-tuned default
// config and the given credential. A nil credential yields a public-only
// adapter.
func NewWithDefaults(venue core.Venue, cred *core.Credential, opts ...exchange.Option) (exchange.Adapter, error) {
	cfg := core.DefaultConfig(venue)
	if cred != nil {
		cfg = cfg.WithCredential(cred)
	}
	return New(cfg, opts...)
}

// Supported lists the venues this build can construct.
func Supported() []core.Venue {
	venues := make([]core.Venue, 0, len(constructors))
	for _, v := range core.Venues() {
		if _, ok := constructors[v]; ok {
			venues = append(venues, v)
		}
	}
	return venues
}
