// Package metrics exposes Prometheus collectors for the ingestion service.
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

var (
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchFallbacksTotal        *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	parseOutcomesTotal         *prometheus.CounterVec
	alertsTotal                *prometheus.CounterVec
	sourceRunsTotal            *prometheus.CounterVec
	sourceHealthState          *prometheus.GaugeVec
	notificationsTotal         *prometheus.CounterVec
	activeSources              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
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
				Name: "regalert_fetch_attempts_total",
				Help: "Upstream fetch calls, labeled by host and outcome.",
			},
			[]string{"host", "outcome"},
		)

		fetchFallbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regalert_fetch_fallbacks_total",
				Help: "RSS fallbacks taken after an endpoint exhausted its retries.",
			},
			[]string{"host"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regalert_fetch_bytes_total",
				Help: "Total number of payload bytes fetched, labeled by host.",
			},
			[]string{"host"},
		)

		parseOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regalert_parse_outcomes_total",
				Help: "Connector outcomes per source, labeled by kind (ok, empty, failed).",
			},
			[]string{"source", "kind"},
		)

		alertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regalert_alerts_total",
				Help: "Alert drafts handled, labeled by source and result.",
			},
			[]string{"source", "result"},
		)

		sourceRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regalert_source_runs_total",
				Help: "Per-source scheduler outcomes, labeled by final state.",
			},
			[]string{"state"},
		)

		sourceHealthState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "regalert_source_health_state",
				Help: "Source circuit state: 0 healthy, 1 degraded, 2 unhealthy.",
			},
			[]string{"source"},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regalert_notifications_total",
				Help: "Notifier deliveries, labeled by channel and status.",
			},
			[]string{"channel", "status"},
		)

		activeSources = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "regalert_active_sources",
				Help: "Number of sources currently being processed.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "regalert_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
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
	return promhttp.Handler()
}

// ObserveFetch records one upstream call and the bytes it returned.
func ObserveFetch(rawURL, outcome string, bytesFetched int) {
	Init()
	host := SanitizeHost(rawURL)
	fetchAttemptsTotal.WithLabelValues(host, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(host).Add(float64(bytesFetched))
	}
}

// ObserveFallback records an RSS fallback for the endpoint's host.
func ObserveFallback(rawURL string) {
	Init()
	fetchFallbacksTotal.WithLabelValues(SanitizeHost(rawURL)).Inc()
}

// ObserveOutcome records a connector outcome for a source.
func ObserveOutcome(source, kind string) {
	Init()
	parseOutcomesTotal.WithLabelValues(source, kind).Inc()
}

// ObserveAlert records how an alert draft was handled (inserted, duplicate, error).
func ObserveAlert(source, result string) {
	Init()
	alertsTotal.WithLabelValues(source, result).Inc()
}

// ObserveSourceRun records the final scheduler state of a source.
func ObserveSourceRun(state string) {
	Init()
	sourceRunsTotal.WithLabelValues(state).Inc()
}

// SetHealthState publishes the circuit state of a source.
func SetHealthState(source string, level int) {
	Init()
	sourceHealthState.WithLabelValues(source).Set(float64(level))
}

// ObserveNotification records a notifier delivery.
func ObserveNotification(channel, status string) {
	Init()
	notificationsTotal.WithLabelValues(channel, status).Inc()
}

// IncActiveSources increments the active sources gauge.
func IncActiveSources() {
	Init()
	activeSources.Inc()
}

// DecActiveSources decrements the active sources gauge.
func DecActiveSources() {
	Init()
	activeSources.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
