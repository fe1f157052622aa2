// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file exposes Prometheus instrumentation for HTTP traffic, plus domain
// counters for the consultation engine. Labels are chosen to keep
// cardinality bounded:
//
//   - method: HTTP method verb (GET/POST/…)
//   - path:   the registered Gin route (e.g. /api/v1/sessions/:id/symptoms);
//     falls back to the raw URL path when no route matched
//   - status: numeric status code as a string
//
// All collectors are safe for concurrent use.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// httpReqs counts requests by method, route path, and status code.
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	// httpLat records request duration in seconds by method and route path.
	// Status is intentionally omitted to keep histogram cardinality lower.
	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// httpInflight gauges the number of in-flight requests.
	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	// ConsultationsReported counts consultations that reached the terminal
	// REPORTED phase (one saved report each).
	ConsultationsReported = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "consultations_reported_total",
			Help: "Total number of consultations completed with a saved report.",
		},
	)

	// ReportSaveFailures counts report persistence failures surfaced to
	// callers after bounded retries.
	ReportSaveFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "report_save_failures_total",
			Help: "Total number of report saves that failed after all retries.",
		},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight,
		ConsultationsReported, ReportSaveFailures)
}

// Metrics returns a Gin middleware that records request count, latency, and
// in-flight concurrency for every request.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()

		c.Next()

		httpInflight.Dec()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		httpReqs.WithLabelValues(method, path, status).Inc()
		httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
