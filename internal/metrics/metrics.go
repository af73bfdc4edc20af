// Package metrics exposes Prometheus collectors for the fetch service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Breaker state values exported through the breaker gauge.
const (
	BreakerClosed   = 0
	BreakerHalfOpen = 1
	BreakerOpen     = 2
)

var (
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchResultsTotal          *prometheus.CounterVec
	fetchDurationSeconds       prometheus.Histogram
	breakerState               prometheus.Gauge
	poolProxies                *prometheus.GaugeVec
	probesTotal                *prometheus.CounterVec
	rateLimitDelaysSeconds     prometheus.Histogram
	refreshesTotal             *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxyfetch_fetch_attempts_total",
				Help: "Total number of outbound fetch attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		fetchResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxyfetch_fetch_results_total",
				Help: "Total number of completed fetch calls, labeled by site and result.",
			},
			[]string{"site", "result"},
		)

		fetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "proxyfetch_fetch_duration_seconds",
				Help:    "Histogram of single attempt latencies.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
		)

		breakerState = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "proxyfetch_breaker_state",
				Help: "Circuit breaker state (0 closed, 1 half-open, 2 open).",
			},
		)

		poolProxies = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "proxyfetch_pool_proxies",
				Help: "Number of proxies in the pool, labeled by health.",
			},
			[]string{"health"},
		)

		probesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxyfetch_probes_total",
				Help: "Total number of proxy health probes, labeled by result.",
			},
			[]string{"result"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "proxyfetch_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations including jitter.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		)

		refreshesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxyfetch_refreshes_total",
				Help: "Total number of proxy list refreshes, labeled by result.",
			},
			[]string{"result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxyfetch_http_requests_total",
				Help: "Total number of control-plane HTTP requests, labeled by method, route and code.",
			},
			[]string{"method", "route", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "proxyfetch_http_request_duration_seconds",
				Help:    "Histogram of control-plane HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60, 300},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveFetchAttempt records one attempt and its latency.
func ObserveFetchAttempt(outcome string, duration time.Duration) {
	Init()
	fetchAttemptsTotal.WithLabelValues(outcome).Inc()
	fetchDurationSeconds.Observe(duration.Seconds())
}

// ObserveFetchResult records the terminal result of a fetch call.
func ObserveFetchResult(target, result string) {
	Init()
	fetchResultsTotal.WithLabelValues(SanitizeSite(target), result).Inc()
}

// SetBreakerState exports the current breaker state.
func SetBreakerState(state int) {
	Init()
	breakerState.Set(float64(state))
}

// SetPoolSize exports the pool size split by health.
func SetPoolSize(total, healthy int) {
	Init()
	poolProxies.WithLabelValues("all").Set(float64(total))
	poolProxies.WithLabelValues("healthy").Set(float64(healthy))
}

// ObserveProbe records the result of one proxy health probe.
func ObserveProbe(healthy bool) {
	Init()
	result := "unhealthy"
	if healthy {
		result = "healthy"
	}
	probesTotal.WithLabelValues(result).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.Observe(duration.Seconds())
}

// ObserveRefresh records the result of a proxy list refresh.
func ObserveRefresh(result string) {
	Init()
	refreshesTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
