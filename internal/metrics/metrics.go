// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tripledger"

// ─── Ledger ────────────────────────────────────────────────────────────────

// LedgerMutations counts committed mutations by operation.
var LedgerMutations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "mutations_total",
	Help:      "Committed ledger mutations by operation.",
}, []string{"op"})

// LedgerRejections counts rejected requests by operation and error kind.
var LedgerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "rejections_total",
	Help:      "Ledger operations rejected by validation, membership or concurrency checks.",
}, []string{"op", "kind"})

// ─── Balances ──────────────────────────────────────────────────────────────

// BalanceCache counts balance cache lookups by result (hit or miss).
var BalanceCache = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "balance",
	Name:      "cache_lookups_total",
	Help:      "Balance cache lookups by result.",
}, []string{"result"})

// ─── Notifications ─────────────────────────────────────────────────────────

// NotificationsPublished counts events handed to the room transport.
var NotificationsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "notify",
	Name:      "published_total",
	Help:      "Realtime events broadcast by event type.",
}, []string{"type"})

// NotificationsDropped counts events dropped because the queue was full or closed.
var NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "notify",
	Name:      "dropped_total",
	Help:      "Realtime events dropped before broadcast.",
})

// NotificationsFailed counts broadcasts that returned an error.
var NotificationsFailed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "notify",
	Name:      "failed_total",
	Help:      "Realtime broadcasts that failed.",
})

// NotifyQueueDepth tracks events waiting for broadcast.
var NotifyQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "notify",
	Name:      "queue_depth",
	Help:      "Realtime events waiting to be broadcast.",
})

// ─── Realtime rooms ────────────────────────────────────────────────────────

// RealtimeSubscribers tracks connected SSE clients.
var RealtimeSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "realtime",
	Name:      "subscribers",
	Help:      "Connected realtime subscribers.",
})

// RelayGaps counts sequence gaps observed by the relay.
var RelayGaps = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "relay",
	Name:      "sequence_gaps_total",
	Help:      "Sequence gaps detected while relaying ledger events.",
})

// ─── AMQP ──────────────────────────────────────────────────────────────────

// CircuitBreakerState tracks the AMQP circuit breaker (0=closed, 1=open, 2=half-open).
var CircuitBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "amqp",
	Name:      "circuit_breaker_state",
	Help:      "AMQP circuit breaker state (0=closed, 1=open, 2=half-open).",
})

// AMQPReconnects counts successful reconnections.
var AMQPReconnects = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "amqp",
	Name:      "reconnects_total",
	Help:      "Successful AMQP reconnections.",
})

// ─── HTTP ──────────────────────────────────────────────────────────────────

// HTTPRequestDuration tracks request latency by route pattern.
var HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "http",
	Name:      "request_duration_seconds",
	Help:      "HTTP request latency by method, route and status class.",
	Buckets:   prometheus.DefBuckets,
}, []string{"method", "route", "status"})

// RateLimited counts requests rejected by the rate limiter.
var RateLimited = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "http",
	Name:      "rate_limited_total",
	Help:      "Requests rejected by the rate limiter.",
})
