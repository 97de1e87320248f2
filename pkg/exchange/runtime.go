package exchange

import (
	"context"
	"strings"
	"sync"

	"github.com/cockroachdb/apd/v3"
	"github.com/rs/zerolog"

	"exbridge/internal/cache"
	"exbridge/internal/circuitbreaker"
	"exbridge/internal/ratelimit"
	"exbridge/internal/rest"
	"exbridge/internal/ws"
	"exbridge/pkg/core"
)

// Options holds cross-venue adapter construction options.
type Options struct {
	Logger  zerolog.Logger
	BaseURL string
}

// Option mutates adapter construction options.
type Option func(*Options)

// WithLogger sets the adapter logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithBaseURL overrides the venue REST endpoint, mainly for pointing an
// adapter at a local test server.
func WithBaseURL(baseURL string) Option {
	return func(o *Options) { o.BaseURL = baseURL }
}

// ApplyOptions merges the options with defaults.
func ApplyOptions(opts ...Option) *Options {
	o := &Options{Logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Runtime bundles the transport plumbing every venue adapter runs on: the
// signed REST pipeline, the stream subscription registry, and the response
// cache. Venue packages fill in the venue-specific parts (signer, error
// parser, URLs) and get uniform throttling and breaking behavior.
type Runtime struct {
	Config  *core.Config
	REST    *rest.Client
	Streams *ws.Manager
	Cache   *cache.Cache
	Logger  zerolog.Logger
}

// NewRuntime validates the config and assembles the shared plumbing.
func NewRuntime(cfg *core.Config, baseURL string, signer rest.Signer, parser rest.ErrorParser, logger zerolog.Logger) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, core.WrapError(cfg.Venue, core.KindValidation, "invalid config", err)
	}

	var spacer *ratelimit.Spacer
	if cfg.MinRequestInterval > 0 {
		spacer = ratelimit.NewSpacer(cfg.MinRequestInterval)
	}
	var breaker *circuitbreaker.Breaker
	if cfg.CircuitBreakerEnabled {
		breaker = circuitbreaker.New(circuitbreaker.Config{
			FailThreshold:    cfg.CircuitBreakerFailThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Cooldown:         cfg.CircuitBreakerTimeout,
		})
	}
	var rc *cache.Cache
	if cfg.CacheEnabled {
		rc = cache.New(cfg.CacheTTL)
	}

	client := rest.NewClient(rest.Config{
		Venue:        cfg.Venue,
		BaseURL:      baseURL,
		Timeout:      cfg.Timeout,
		MaxRetries:   cfg.MaxRetries,
		RetryWaitMin: cfg.RetryWaitMin,
		RetryWaitMax: cfg.RetryWaitMax,
		Signer:       signer,
		ErrorParser:  parser,
		Limiter:      ratelimit.New(cfg.RateLimitRequests, cfg.RateLimitPeriod),
		Spacer:       spacer,
		Breaker:      breaker,
		Logger:       logger,
	})

	return &Runtime{
		Config:  cfg,
		REST:    client,
		Streams: ws.NewManager(cfg.Venue, 0, logger),
		Cache:   rc,
		Logger:  logger,
	}, nil
}

// Cached runs load through the response cache under key. With caching
// disabled it calls load directly.
func (r *Runtime) Cached(key string, load func() (any, error)) (any, error) {
	if r.Cache == nil {
		return load()
	}
	return r.Cache.GetOrLoad(key, 0, load)
}

// InvalidateCache drops one cached entry.
func (r *Runtime) InvalidateCache(key string) {
	if r.Cache != nil {
		r.Cache.Delete(key)
	}
}

// Close tears down the subscription registry and the REST client.
func (r *Runtime) Close() error {
	r.Streams.CloseAll()
	return r.REST.Close()
}

// Catalogue is a thread-safe symbol catalogue keyed by canonical pair.
type Catalogue struct {
	mu     sync.RWMutex
	byPair map[string]core.SymbolInfo
}

// NewCatalogue returns an empty catalogue.
func NewCatalogue() *Catalogue {
	return &Catalogue{byPair: make(map[string]core.SymbolInfo)}
}

// Replace swaps the whole catalogue for a fresh venue snapshot.
func (c *Catalogue) Replace(infos []core.SymbolInfo) {
	byPair := make(map[string]core.SymbolInfo, len(infos))
	for _, info := range infos {
		byPair[info.Pair()] = info
	}
	c.mu.Lock()
	c.byPair = byPair
	c.mu.Unlock()
}

// Get looks up a symbol by canonical pair.
func (c *Catalogue) Get(pair string) (core.SymbolInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.byPair[strings.ToUpper(pair)]
	return info, ok
}

// Loaded reports whether the catalogue has been populated.
func (c *Catalogue) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byPair) > 0
}

// Len returns the number of catalogued symbols.
func (c *Catalogue) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byPair)
}

// Pump turns a raw frame subscription into a typed event channel. Decode
// returns false for frames that do not produce an event (heartbeats, partial
// payloads); those are skipped. The returned channel closes when the
// subscription ends, and the consumer contract (drain until closed) is what
// lets Unsubscribe wait for a clean handoff.
func Pump[T any](ctx context.Context, sub *ws.Subscription, decode func([]byte) (T, bool)) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		defer sub.Finish()
		for frame := range sub.Frames() {
			ev, ok := decode(frame)
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Soft wraps a read-only market-data fetch: a decode failure gets one retry,
// and a second decode failure degrades to the zero value instead of failing
// the caller. Any other error passes through untouched.
func Soft[T any](logger zerolog.Logger, fetch func() (T, error)) (T, error) {
	v, err := fetch()
	if err == nil || !core.IsDecode(err) {
		return v, err
	}
	v, err = fetch()
	if err != nil && core.IsDecode(err) {
		logger.Warn().Err(err).Msg("degrading to empty result after decode failures")
		var zero T
		return zero, nil
	}
	return v, err
}

// ParseDecimal parses a venue decimal string. Empty input yields zero.
func ParseDecimal(s string) (apd.Decimal, error) {
	if s == "" {
		return apd.Decimal{}, nil
	}
	var d apd.Decimal
	if _, _, err := d.SetString(s); err != nil {
		return apd.Decimal{}, err
	}
	return d, nil
}

// Dec parses a venue decimal string, yielding zero on malformed input.
// Read-only market endpoints tolerate bad fields rather than failing the
// whole payload.
func Dec(s string) apd.Decimal {
	d, err := ParseDecimal(s)
	if err != nil {
		return apd.Decimal{}
	}
	return d
}
