package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "parley"

// latency builds a native histogram of millisecond durations
func latency(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:                       namespace,
		Name:                            name,
		Help:                            help,
		NativeHistogramBucketFactor:     1.1,
		NativeHistogramMaxBucketNumber:  100,
		NativeHistogramMinResetDuration: time.Hour,
	}, labels)
}

func counter(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, labels)
}

// Repositories
var (
	DBOperations   = counter("db_operations_total", "Database operations by repository, operation and status", "repo", "operation", "status")
	DBDuration     = latency("db_operation_duration_ms", "Database operation duration in milliseconds", "repo", "operation")
	DBRowsAffected = latency("db_rows_affected", "Rows affected or returned by database operations", "repo", "operation")
	DBErrors       = counter("db_errors_total", "Database errors by repository, operation and error type", "repo", "operation", "error_type")
)

// Login resolution
var (
	IdentityResolutions        = counter("identity_resolutions_total", "External login resolutions by outcome", "outcome")
	IdentityResolutionDuration = latency("identity_resolution_duration_ms", "External login resolution duration in milliseconds, conflict retry included", "outcome")

	IdentityConflictRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "identity_conflict_retries_total",
		Help:      "Login resolutions retried after a concurrent identity binding",
	})
)

// HTTP
var (
	HTTPRequests = counter("http_requests_total", "HTTP requests by method, route and status", "method", "path", "status")
	HTTPDuration = latency("http_request_duration_ms", "HTTP request duration in milliseconds", "method", "path")

	HTTPActiveRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "http_active_requests",
		Help:      "HTTP requests currently being served",
	})
)
