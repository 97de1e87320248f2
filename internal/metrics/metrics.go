// Package metrics exposes prometheus instrumentation for REST and WebSocket
// activity across all venues.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RequestsTotal counts REST requests by venue, endpoint, and outcome.
var RequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "exbridge",
		Subsystem: "rest",
		Name:      "requests_total",
		Help:      "Total number of REST requests",
	},
	[]string{"venue", "endpoint", "result"}, // result: ok, error
)

// RequestLatency measures REST round-trip latency in milliseconds.
var RequestLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "exbridge",
		Subsystem: "rest",
		Name:      "request_latency_ms",
		Help:      "REST request round-trip latency in milliseconds",
		Buckets:   []float64{10, 25, 50, 100, 200, 500, 1000, 2000, 5000},
	},
	[]string{"venue", "endpoint"},
)

// ErrorsTotal counts structured errors by venue and kind.
var ErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "exbridge",
		Subsystem: "rest",
		Name:      "errors_total",
		Help:      "Total number of request errors by kind",
	},
	[]string{"venue", "kind"},
)

// RateLimitWaits counts waits imposed by the local rate limiter.
var RateLimitWaits = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "exbridge",
		Subsystem: "ratelimit",
		Name:      "waits_total",
		Help:      "Total number of locally rate-limited dispatches",
	},
	[]string{"venue"},
)

// BreakerTransitions counts circuit breaker state changes.
var BreakerTransitions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "exbridge",
		Subsystem: "breaker",
		Name:      "transitions_total",
		Help:      "Total number of circuit breaker state transitions",
	},
	[]string{"venue", "to"},
)

// WSMessages counts WebSocket messages received by venue and stream.
var WSMessages = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "exbridge",
		Subsystem: "ws",
		Name:      "messages_total",
		Help:      "Total number of WebSocket messages received",
	},
	[]string{"venue", "stream"},
)

// WSReconnects counts WebSocket reconnect attempts.
var WSReconnects = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "exbridge",
		Subsystem: "ws",
		Name:      "reconnects_total",
		Help:      "Total number of WebSocket reconnect attempts",
	},
	[]string{"venue"},
)

// ActiveSubscriptions tracks live WebSocket subscriptions.
var ActiveSubscriptions = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "exbridge",
		Subsystem: "ws",
		Name:      "active_subscriptions",
		Help:      "Number of currently active WebSocket subscriptions",
	},
	[]string{"venue"},
)
