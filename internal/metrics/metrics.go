// Package metrics exposes Prometheus collectors for the rebuild service.
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
	crawlerPagesTotal             *prometheus.CounterVec
	crawlerBytesTotal             *prometheus.CounterVec
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	outboundAttemptsTotal         *prometheus.CounterVec
	orchestratorStepsTotal        *prometheus.CounterVec
	pipelineRunsTotal             *prometheus.CounterVec
	pipelineRunDurationSeconds    prometheus.Histogram
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of pages crawled, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of cleaned HTML bytes captured, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		outboundAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outbound_http_attempts_total",
				Help: "Outbound API attempts, labeled by host and outcome (ok, retry, error).",
			},
			[]string{"host", "outcome"},
		)

		orchestratorStepsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_steps_total",
				Help: "Remote orchestration steps, labeled by step and outcome (created, reused, succeeded, skipped, failed).",
			},
			[]string{"step", "outcome"},
		)

		pipelineRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_runs_total",
				Help: "Total number of rebuild runs, labeled by status.",
			},
			[]string{"status"},
		)

		pipelineRunDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pipeline_run_duration_seconds",
				Help:    "Histogram of end-to-end rebuild durations.",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
			},
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
	return promhttp.Handler()
}

// ObserveCrawl counts one visited page.
func ObserveCrawl(site string, status string, bytesCaptured int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesCaptured > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesCaptured))
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveOutboundAttempt counts one attempt of the resilient HTTP client.
func ObserveOutboundAttempt(rawURL, outcome string) {
	Init()
	outboundAttemptsTotal.WithLabelValues(SanitizeSite(rawURL), outcome).Inc()
}

// ObserveStep counts one orchestration step.
func ObserveStep(step, outcome string) {
	Init()
	orchestratorStepsTotal.WithLabelValues(step, outcome).Inc()
}

// ObservePipelineRun counts a finished run and its duration.
func ObservePipelineRun(status string, duration time.Duration) {
	Init()
	pipelineRunsTotal.WithLabelValues(status).Inc()
	pipelineRunDurationSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
