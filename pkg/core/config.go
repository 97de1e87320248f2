package core

import (
	"errors"
	"time"
)

// Config contains all configuration options for one venue adapter.
// It includes authentication, networking, rate limiting, caching, and
// circuit breaker settings.
type Config struct {
	Venue      Venue       `json:"venue"`
	Sandbox    bool        `json:"sandbox"`
	Credential *Credential `json:"credential,omitempty"`

	// Timeout is the maximum duration for HTTP requests.
	Timeout      time.Duration `json:"timeout" validate:"min=1ms"`
	MaxRetries   int           `json:"max_retries" validate:"min=0"`
	RetryWaitMin time.Duration `json:"retry_wait_min" validate:"min=0"`
	RetryWaitMax time.Duration `json:"retry_wait_max" validate:"min=0"`

	// RateLimitRequests and RateLimitPeriod bound the weighted request budget.
	RateLimitRequests int           `json:"rate_limit_requests" validate:"min=1"`
	RateLimitPeriod   time.Duration `json:"rate_limit_period" validate:"min=1ms"`
	// MinRequestInterval spaces consecutive requests regardless of budget.
	// Zero disables spacing.
	MinRequestInterval time.Duration `json:"min_request_interval" validate:"min=0"`

	CacheEnabled bool          `json:"cache_enabled"`
	CacheTTL     time.Duration `json:"cache_ttl" validate:"min=0"`

	CircuitBreakerEnabled          bool          `json:"circuit_breaker_enabled"`
	CircuitBreakerFailThreshold    int           `json:"circuit_breaker_fail_threshold"`
	CircuitBreakerSuccessThreshold int           `json:"circuit_breaker_success_threshold"`
	CircuitBreakerTimeout          time.Duration `json:"circuit_breaker_timeout"`

	LogLevel string `json:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// DefaultConfig returns a Config initialized with defaults tuned to the venue.
// Shared defaults: 10s timeout, 3 retries, 100ms-1s retry wait, 1m catalogue
// cache TTL, circuit breaker with 5 failures/2 successes/30s timeout. The
// request budget and spacing differ per venue.
func DefaultConfig(venue Venue) *Config {
	c := &Config{
		Venue:        venue,
		Sandbox:      false,
		Timeout:      10 * time.Second,
		MaxRetries:   3,
		RetryWaitMin: 100 * time.Millisecond,
		RetryWaitMax: 1 * time.Second,

		CacheEnabled: true,
		CacheTTL:     time.Minute,

		CircuitBreakerEnabled:          true,
		CircuitBreakerFailThreshold:    5,
		CircuitBreakerSuccessThreshold: 2,
		CircuitBreakerTimeout:          30 * time.Second,

		LogLevel: "info",
	}
	switch venue {
	case VenueBinance:
		c.RateLimitRequests = 1200
		c.RateLimitPeriod = time.Minute
	case VenueBybit:
		c.RateLimitRequests = 600
		c.RateLimitPeriod = 5 * time.Second
	case VenueKucoin:
		c.RateLimitRequests = 100
		c.RateLimitPeriod = 10 * time.Second
	case VenueCoinbase:
		c.RateLimitRequests = 10
		c.RateLimitPeriod = time.Second
	case VenueKraken:
		// Kraken's private counter decays slowly; space calls instead of
		// relying on a large budget.
		c.RateLimitRequests = 15
		c.RateLimitPeriod = 45 * time.Second
		c.MinRequestInterval = 1 * time.Second
	case VenueBitfinex:
		c.RateLimitRequests = 90
		c.RateLimitPeriod = time.Minute
		c.MinRequestInterval = 250 * time.Millisecond
	default:
		c.RateLimitRequests = 60
		c.RateLimitPeriod = time.Minute
	}
	return c
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if !c.Venue.Valid() {
		return errors.New("unknown venue")
	}
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.CircuitBreakerEnabled {
		if c.CircuitBreakerFailThreshold <= 0 {
			return errors.New("CircuitBreakerFailThreshold must be positive when enabled")
		}
		if c.CircuitBreakerSuccessThreshold <= 0 {
			return errors.New("CircuitBreakerSuccessThreshold must be positive when enabled")
		}
		if c.CircuitBreakerTimeout <= 0 {
			return errors.New("CircuitBreakerTimeout must be positive when enabled")
		}
	}
	if c.Credential != nil {
		if err := c.Credential.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// WithCredential sets the API credential and returns the config for chaining.
func (c *Config) WithCredential(cred *Credential) *Config {
	c.Credential = cred
	return c
}

// WithSandbox enables or disables sandbox mode and returns the config for chaining.
func (c *Config) WithSandbox(sandbox bool) *Config {
	c.Sandbox = sandbox
	return c
}

// WithTimeout sets the request timeout and returns the config for chaining.
func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.Timeout = timeout
	return c
}

// WithRateLimit sets the rate limiting parameters and returns the config for chaining.
func (c *Config) WithRateLimit(requests int, period time.Duration) *Config {
	c.RateLimitRequests = requests
	c.RateLimitPeriod = period
	return c
}

// WithMinRequestInterval sets the spacing between consecutive requests and
// returns the config for chaining.
func (c *Config) WithMinRequestInterval(d time.Duration) *Config {
	c.MinRequestInterval = d
	return c
}

// WithCache enables or disables catalogue caching with the specified TTL and
// returns the config for chaining.
func (c *Config) WithCache(enabled bool, ttl time.Duration) *Config {
	c.CacheEnabled = enabled
	c.CacheTTL = ttl
	return c
}
