// Package metrics exposes Prometheus collectors for the console service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Poll outcomes recorded by ObservePoll.
const (
	PollOK    = "ok"
	PollError = "error"
)

var (
	consolePollsTotal          *prometheus.CounterVec
	consolePollDuration        prometheus.Histogram
	consoleMonitorsOpen        prometheus.Gauge
	consoleBackendCallsTotal   *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		consolePollsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_job_polls_total",
				Help: "Total number of job status fetches, labeled by job type and outcome.",
			},
			[]string{"job_type", "outcome"},
		)

		consolePollDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "console_job_poll_duration_seconds",
				Help:    "Latency of job status fetches.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		)

		consoleMonitorsOpen = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "console_monitors_open",
				Help: "Number of monitor sessions that currently hold a job.",
			},
		)

		consoleBackendCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_backend_calls_total",
				Help: "Total number of backend calls issued by monitors, labeled by operation and outcome.",
			},
			[]string{"operation", "outcome"},
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObservePoll records one job status fetch.
func ObservePoll(jobType, outcome string, duration time.Duration) {
	Init()
	if jobType == "" {
		jobType = "unknown"
	}
	consolePollsTotal.WithLabelValues(jobType, outcome).Inc()
	consolePollDuration.Observe(duration.Seconds())
}

// ObserveBackendCall records a create-job, job-errors or config-update call.
func ObserveBackendCall(operation string, err error) {
	Init()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	consoleBackendCallsTotal.WithLabelValues(operation, outcome).Inc()
}

// IncMonitorsOpen increments the open monitors gauge.
func IncMonitorsOpen() {
	Init()
	consoleMonitorsOpen.Inc()
}

// DecMonitorsOpen decrements the open monitors gauge.
func DecMonitorsOpen() {
	Init()
	consoleMonitorsOpen.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
