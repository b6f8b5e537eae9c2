// Package metrics holds the Prometheus collectors for the refresh pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	sourceAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rebalance_sentinel",
			Subsystem: "pricefeed",
			Name:      "attempts_total",
			Help:      "Price source attempts by outcome.",
		},
		[]string{"source", "outcome"},
	)

	sourceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rebalance_sentinel",
			Subsystem: "pricefeed",
			Name:      "attempt_duration_seconds",
			Help:      "Duration of price source attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		},
		[]string{"source"},
	)

	quotesResolved = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rebalance_sentinel",
			Subsystem: "pricefeed",
			Name:      "quotes_resolved",
			Help:      "Quotes served by each tier in the last resolution.",
		},
		[]string{"tier"},
	)

	cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rebalance_sentinel",
			Subsystem: "refresh",
			Name:      "cycles_total",
			Help:      "Refresh cycles by trigger and outcome.",
		},
		[]string{"trigger", "outcome"},
	)

	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rebalance_sentinel",
			Subsystem: "refresh",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of refresh cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	portfolioValue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rebalance_sentinel",
			Subsystem: "portfolio",
			Name:      "total_value_usd",
			Help:      "Total portfolio value of the last settled snapshot.",
		},
	)

	maxDrift = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rebalance_sentinel",
			Subsystem: "portfolio",
			Name:      "max_drift_percent",
			Help:      "Largest per-asset drift of the last settled snapshot.",
		},
	)

	needsRebalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rebalance_sentinel",
			Subsystem: "portfolio",
			Name:      "needs_rebalance",
			Help:      "1 when the last settled snapshot exceeds the drift threshold.",
		},
	)
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rebalance_sentinel",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rebalance_sentinel",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	Registry.MustRegister(
		sourceAttempts,
		sourceDuration,
		quotesResolved,
		cycles,
		cycleDuration,
		portfolioValue,
		maxDrift,
		needsRebalance,
		httpRequests,
		httpDuration,
		prometheus.NewGoCollector(),
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordSourceAttempt records one tier attempt. outcome is "ok" or "error".
func RecordSourceAttempt(source, outcome string, d time.Duration) {
	sourceAttempts.WithLabelValues(source, outcome).Inc()
	sourceDuration.WithLabelValues(source).Observe(d.Seconds())
}

// SetQuotesResolved records how many quotes a tier served.
func SetQuotesResolved(tier string, n int) {
	quotesResolved.WithLabelValues(tier).Set(float64(n))
}

// RecordCycle records a finished refresh cycle. outcome is "settled", "stale" or "failed".
func RecordCycle(trigger, outcome string, d time.Duration) {
	cycles.WithLabelValues(trigger, outcome).Inc()
	cycleDuration.Observe(d.Seconds())
}

// SetPortfolio publishes the headline numbers of a committed snapshot.
func SetPortfolio(totalValue, worstDrift float64, rebalance bool) {
	portfolioValue.Set(totalValue)
	maxDrift.Set(worstDrift)
	if rebalance {
		needsRebalance.Set(1)
	} else {
		needsRebalance.Set(0)
	}
}

// RecordHTTPRequest records one served request. route is the matched pattern.
func RecordHTTPRequest(method, route string, status int, d time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(route).Observe(d.Seconds())
}
