package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"
)

func ms(d time.Duration) float64 { return float64(d.Milliseconds()) }

// RecordDBOperation records one repository call. Pass rows < 0 when no row
// count applies.
func RecordDBOperation(repo, operation string, duration time.Duration, rows int64, err error) {
	DBDuration.WithLabelValues(repo, operation).Observe(ms(duration))
	if rows >= 0 {
		DBRowsAffected.WithLabelValues(repo, operation).Observe(float64(rows))
	}

	status := "success"
	if err != nil {
		status = "error"
		DBErrors.WithLabelValues(repo, operation, classifyDBError(err)).Inc()
	}
	DBOperations.WithLabelValues(repo, operation, status).Inc()
}

func RecordIdentityResolution(outcome string, duration time.Duration) {
	IdentityResolutions.WithLabelValues(outcome).Inc()
	IdentityResolutionDuration.WithLabelValues(outcome).Observe(ms(duration))
}

// RecordHTTPRequest takes the route template as path so label cardinality stays bounded
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	HTTPRequests.WithLabelValues(method, path, status).Inc()
	HTTPDuration.WithLabelValues(method, path).Observe(ms(duration))
}

// pqErrorTypes maps PostgreSQL SQLSTATE classes onto error_type labels
var pqErrorTypes = map[pq.ErrorCode]string{
	"23505": "duplicate",
	"23503": "foreign_key",
	"40P01": "deadlock",
	"40001": "serialization",
	"57014": "timeout",
}

func classifyDBError(err error) string {
	if err == nil {
		return "none"
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "timeout"
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if t, ok := pqErrorTypes[pqErr.Code]; ok {
			return t
		}
		if pqErr.Code.Class() == "23" {
			return "constraint"
		}
		return "other"
	}

	// memory store and wrapped driver errors only carry text
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already bound") || strings.Contains(msg, "duplicate"):
		return "duplicate"
	case strings.Contains(msg, "not found") || strings.Contains(msg, "no rows"):
		return "not_found"
	case strings.Contains(msg, "connect"):
		return "connection"
	default:
		return "other"
	}
}
