// Package rest is the shared signed-request pipeline all venue adapters
// dispatch through: spacing, weighted rate limiting, circuit breaking,
// signing, error classification, and decoding.
package rest

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
	"resty.dev/v3"

	"exbridge/internal/circuitbreaker"
	"exbridge/internal/masking"
	"exbridge/internal/metrics"
	"exbridge/internal/ratelimit"
	"exbridge/pkg/core"
)

// Call describes one REST request. Venue adapters fill a Call and hand it to
// Client.Do; the signer sees the call after the body is encoded, so what is
// signed is exactly what is sent.
type Call struct {
	// Method is the HTTP method.
	Method string
	// Path is the URL path relative to the client's base URL.
	Path string
	// Query holds URL query parameters. Signers may append to it.
	Query url.Values
	// Form holds form-encoded body parameters, for venues that post forms.
	Form url.Values
	// JSONBody is marshaled with sonic into the request body when non-nil.
	JSONBody any
	// Body is the encoded request body, populated from JSONBody or Form
	// before signing. Signers that carry auth material inside the body
	// re-encode it.
	Body []byte
	// Headers holds additional request headers. Signers append to it.
	Headers map[string]string
	// Auth marks the call as requiring a signature.
	Auth bool
	// Weight is the venue-assigned request weight, minimum one.
	Weight int
	// Out receives the decoded response body when non-nil.
	Out any
}

// Signer produces venue authentication material for a call. Implementations
// mutate c.Query or c.Headers; the pipeline guarantees c.Body and c.Query are
// final before Sign runs.
type Signer interface {
	Sign(c *Call) error
}

// ErrorParser inspects a non-2xx response body for the venue's error
// envelope. A nil return falls through to generic classification.
type ErrorParser func(status int, body []byte) *core.Error

// Config configures a Client.
type Config struct {
	Venue        core.Venue
	BaseURL      string
	Timeout      time.Duration
	MaxRetries   int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// Signer signs calls with Auth set. Nil means unauthenticated only.
	Signer Signer
	// ErrorParser decodes venue error envelopes. Nil uses generic mapping.
	ErrorParser ErrorParser

	Limiter *ratelimit.Limiter
	Spacer  *ratelimit.Spacer
	Breaker *circuitbreaker.Breaker

	Logger zerolog.Logger
}

// Client dispatches REST calls for one venue.
type Client struct {
	venue     core.Venue
	rc        *resty.Client
	signer    Signer
	errParser ErrorParser
	limiter   *ratelimit.Limiter
	spacer    *ratelimit.Spacer
	breaker   *circuitbreaker.Breaker
	logger    zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewClient creates a Client from the config. The zero logger disables
// logging rather than writing anywhere.
func NewClient(cfg Config) *Client {
	rc := resty.New()
	rc.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	rc.SetTimeout(cfg.Timeout)
	rc.SetRetryCount(cfg.MaxRetries)
	rc.SetRetryWaitTime(cfg.RetryWaitMin)
	rc.SetRetryMaxWaitTime(cfg.RetryWaitMax)
	rc.SetHeader("User-Agent", "exbridge/1.0")

	return &Client{
		venue:     cfg.Venue,
		rc:        rc,
		signer:    cfg.Signer,
		errParser: cfg.ErrorParser,
		limiter:   cfg.Limiter,
		spacer:    cfg.Spacer,
		breaker:   cfg.Breaker,
		logger:    cfg.Logger,
	}
}

// Close releases the client. Further calls return core.ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.rc.Close()
}

// Do runs the full dispatch pipeline for one call.
func (c *Client) Do(ctx context.Context, call *Call) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return core.WrapError(c.venue, core.KindConnectivity, "client closed", core.ErrClientClosed)
	}

	if err := c.prepare(call); err != nil {
		return err
	}

	if err := c.throttle(ctx, call.Weight); err != nil {
		return err
	}

	if c.breaker != nil && !c.breaker.Allow() {
		metrics.ErrorsTotal.WithLabelValues(c.venue.String(), core.KindConnectivity.String()).Inc()
		return core.WrapError(c.venue, core.KindConnectivity, "dispatch refused", core.ErrBreakerOpen)
	}

	err := c.dispatch(ctx, call)
	if c.breaker != nil {
		// Only infrastructure failures trip the breaker; a venue rejecting
		// an order is not a reason to stop talking to it.
		c.breaker.Record(!core.IsConnectivity(err))
	}
	return err
}

// prepare encodes the body and invokes the signer.
func (c *Client) prepare(call *Call) error {
	if call.Weight < 1 {
		call.Weight = 1
	}
	if call.Headers == nil {
		call.Headers = make(map[string]string)
	}
	if call.Query == nil {
		call.Query = url.Values{}
	}

	switch {
	case call.JSONBody != nil:
		body, err := sonic.Marshal(call.JSONBody)
		if err != nil {
			return core.WrapError(c.venue, core.KindValidation, "encode request body", err)
		}
		call.Body = body
		call.Headers["Content-Type"] = "application/json"
	case call.Form != nil:
		call.Body = []byte(call.Form.Encode())
		call.Headers["Content-Type"] = "application/x-www-form-urlencoded"
	}

	if call.Auth {
		if c.signer == nil {
			return core.WrapError(c.venue, core.KindAuthentication, "signed call without credentials", core.ErrNoCredentials)
		}
		if err := c.signer.Sign(call); err != nil {
			return core.WrapError(c.venue, core.KindAuthentication, "sign request", err)
		}
	}
	return nil
}

// throttle applies spacing then the weighted budget.
func (c *Client) throttle(ctx context.Context, weight int) error {
	if c.spacer != nil {
		if err := c.spacer.Wait(ctx); err != nil {
			return core.WrapError(c.venue, core.KindConnectivity, "request spacing interrupted", err)
		}
	}
	if c.limiter != nil {
		metrics.RateLimitWaits.WithLabelValues(c.venue.String()).Inc()
		if err := c.limiter.Wait(ctx, weight); err != nil {
			return core.WrapError(c.venue, core.KindConnectivity, "rate limit wait interrupted", err)
		}
	}
	return nil
}

func (c *Client) dispatch(ctx context.Context, call *Call) error {
	c.logger.Debug().
		Str("venue", c.venue.String()).
		Str("method", call.Method).
		Str("path", call.Path).
		Str("query", masking.MaskQuery(call.Query.Encode())).
		Interface("headers", masking.MaskHeaders(call.Headers)).
		Msg("rest request")

	start := time.Now()
	resp, err := c.send(ctx, call)
	elapsed := time.Since(start)

	metrics.RequestLatency.WithLabelValues(c.venue.String(), call.Path).
		Observe(float64(elapsed.Milliseconds()))

	if err != nil {
		metrics.RequestsTotal.WithLabelValues(c.venue.String(), call.Path, "error").Inc()
		metrics.ErrorsTotal.WithLabelValues(c.venue.String(), core.KindConnectivity.String()).Inc()
		return core.WrapError(c.venue, core.KindConnectivity, "request failed", err)
	}

	body := resp.Bytes()
	status := resp.StatusCode()

	c.logger.Debug().
		Str("venue", c.venue.String()).
		Str("path", call.Path).
		Int("status", status).
		Int("size", len(body)).
		Dur("elapsed", elapsed).
		Msg("rest response")

	if cerr := c.classify(status, body); cerr != nil {
		metrics.RequestsTotal.WithLabelValues(c.venue.String(), call.Path, "error").Inc()
		metrics.ErrorsTotal.WithLabelValues(c.venue.String(), cerr.Kind.String()).Inc()
		return cerr
	}

	metrics.RequestsTotal.WithLabelValues(c.venue.String(), call.Path, "ok").Inc()

	if call.Out == nil {
		return nil
	}
	if err := sonic.Unmarshal(body, call.Out); err != nil {
		metrics.ErrorsTotal.WithLabelValues(c.venue.String(), core.KindDecode.String()).Inc()
		return core.WrapError(c.venue, core.KindDecode,
			fmt.Sprintf("decode %s response", call.Path), err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, call *Call) (*resty.Response, error) {
	req := c.rc.R().SetContext(ctx)
	req.SetHeaders(call.Headers)
	if len(call.Query) > 0 {
		req.SetQueryParamsFromValues(call.Query)
	}
	if len(call.Body) > 0 {
		req.SetBody(call.Body)
	}
	return req.Execute(call.Method, call.Path)
}

// classify maps a response to a structured error. The venue parser runs
// first; whatever it does not claim falls to generic status mapping.
func (c *Client) classify(status int, body []byte) *core.Error {
	if c.errParser != nil {
		if err := c.errParser(status, body); err != nil {
			return err
		}
	}
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 429 || status == 418:
		return core.NewHTTPError(c.venue, core.KindRateLimit, status, "", "rate limited by venue")
	case status == 401 || status == 403:
		return core.NewHTTPError(c.venue, core.KindAuthentication, status, "", "authentication rejected")
	case status >= 500:
		return core.NewHTTPError(c.venue, core.KindConnectivity, status, "", "venue unavailable")
	default:
		return core.NewHTTPError(c.venue, core.KindProtocol, status, "", strings.TrimSpace(string(body)))
	}
}
