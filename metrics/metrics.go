// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "choosing",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "choosing",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "route"},
	)

	outboundCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "choosing",
			Subsystem: "providers",
			Name:      "calls_total",
			Help:      "Outbound provider calls by provider and result.",
		},
		[]string{"provider", "result"},
	)

	outboundTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "choosing",
			Subsystem: "providers",
			Name:      "tokens_total",
			Help:      "LLM tokens consumed.",
		},
		[]string{"kind"},
	)

	sessionOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "choosing",
			Subsystem: "sessions",
			Name:      "outcomes_total",
			Help:      "Sessions reaching a terminal or tiebreak state.",
		},
		[]string{"outcome"},
	)

	wsClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "choosing",
			Subsystem: "realtime",
			Name:      "clients",
			Help:      "Currently connected websocket clients.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		outboundCalls,
		outboundTokens,
		sessionOutcomes,
		wsClients,
	)
}

// Handler exposes the registry for scraping
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one handled request
func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveProvider records one outbound call
func ObserveProvider(provider string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	outboundCalls.WithLabelValues(provider, result).Inc()
}

// AddTokens records LLM token consumption
func AddTokens(prompt, completion int) {
	outboundTokens.WithLabelValues("prompt").Add(float64(prompt))
	outboundTokens.WithLabelValues("completion").Add(float64(completion))
}

// SessionOutcome counts matched, tiebreak, decided, no_match and expired sessions
func SessionOutcome(outcome string) {
	sessionOutcomes.WithLabelValues(outcome).Inc()
}

func ClientConnected()    { wsClients.Inc() }
func ClientDisconnected() { wsClients.Dec() }
