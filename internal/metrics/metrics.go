// Package metrics exposes Prometheus collectors for the crawler service.
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
	pagesTotal                 *prometheus.CounterVec
	bytesTotal                 *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	activeJobs                 prometheus.Gauge
	wsConnections              prometheus.Gauge
	wsMessagesTotal            *prometheus.CounterVec
	wsEvictionsTotal           prometheus.Counter
	documentBytes              prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docsynapse_pages_total",
				Help: "Total number of page fetches, labeled by site and outcome.",
			},
			[]string{"site", "status"},
		)

		bytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docsynapse_bytes_total",
				Help: "Total number of markup bytes captured, labeled by site.",
			},
			[]string{"site"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docsynapse_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		activeJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "docsynapse_active_jobs",
				Help: "Number of crawl jobs currently executing.",
			},
		)

		wsConnections = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "docsynapse_ws_connections",
				Help: "Number of connected progress observers.",
			},
		)

		wsMessagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docsynapse_ws_messages_total",
				Help: "Notifications delivered to observers, labeled by message type.",
			},
			[]string{"type"},
		)

		wsEvictionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "docsynapse_ws_evictions_total",
				Help: "Observers removed after a failed send.",
			},
		)

		documentBytes = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "docsynapse_document_bytes",
				Help:    "Size of generated documentation artifacts.",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
			},
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

// ObservePage records one fetch outcome ("fetched" or "skipped").
func ObservePage(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	pagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		bytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// IncActiveJobs increments the active jobs gauge.
func IncActiveJobs() {
	Init()
	activeJobs.Inc()
}

// DecActiveJobs decrements the active jobs gauge.
func DecActiveJobs() {
	Init()
	activeJobs.Dec()
}

// SetObservers sets the number of connected observers.
func SetObservers(n int) {
	Init()
	wsConnections.Set(float64(n))
}

// ObserveNotification counts a delivered notification of the given type.
func ObserveNotification(msgType string) {
	Init()
	wsMessagesTotal.WithLabelValues(msgType).Inc()
}

// ObserveEviction counts an observer dropped after a failed send.
func ObserveEviction() {
	Init()
	wsEvictionsTotal.Inc()
}

// ObserveDocument records the size of a generated artifact.
func ObserveDocument(size int64) {
	Init()
	documentBytes.Observe(float64(size))
}
