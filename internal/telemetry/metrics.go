// Package telemetry provides application-level observability for the access gateway.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<SMP_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090.  The endpoint returns data in the Prometheus text exposition
// format (Content-Type: text/plain; version=0.0.4) and is intended to be scraped by
// a Prometheus server every 15–60 seconds.  It is NOT served by the Gin router and
// is therefore invisible to gateway clients.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Authentication attempt counters (by credential kind and outcome)
//   - Rate limit decision counters
//   - API key lifecycle counters and expiry notification counters
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/orgs/:org_id/api-keys)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments such as org or key IDs.  Auth and rate-limit metrics
// never carry identity labels for the same reason.
//
// # Usage
//
// Import the package for side effects so metrics are registered before the HTTP server
// starts listening:
//
//	import _ "github.com/smp-platform/access-gateway/internal/telemetry"
//
// Or import it directly and use an exported var:
//
//	telemetry.AuthAttemptsTotal.WithLabelValues("api_key", "success").Inc()
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template, and status code.
//
// HTTPRequestsTotal is a CounterVec with labels {method, path, status}.
// The path label holds the Gin route template (e.g. /api/v1/orgs/:org_id/members/:user_id),
// NOT the raw URL, to prevent unbounded cardinality.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - Throttled request share:           sum(rate(http_requests_total{status="429"}[5m])) / sum(rate(http_requests_total[5m]))
//
// HTTPRequestDuration is a HistogramVec with labels {method, path} and exponential-ish
// buckets from 5 ms to 30 s.  Use histogram_quantile to compute latency percentiles.
//
// Example PromQL queries:
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
//   - Average latency:                   rate(http_request_duration_seconds_sum[5m]) / rate(http_request_duration_seconds_count[5m])
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Authentication metrics, recorded by the identity-resolution middleware and the
// login handler.
//
// AuthAttemptsTotal is a CounterVec with labels {method, outcome}.  "method" is the
// credential kind presented ("password", "bearer", "api_key") and "outcome" is either
// "success" or "failure".  Identities are deliberately not labelled.
//
// Example PromQL queries:
//   - Failed login rate:        rate(auth_attempts_total{method="password",outcome="failure"}[5m])
//   - API key failure ratio:    sum(rate(auth_attempts_total{method="api_key",outcome="failure"}[15m])) / sum(rate(auth_attempts_total{method="api_key"}[15m]))
//
// A sustained spike in password failures is the classic credential-stuffing signal;
// pair it with the GCRA throttle counters below when tuning auth_rpm.
var AuthAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "auth_attempts_total",
		Help: "Total number of authentication attempts, by credential kind and outcome.",
	},
	[]string{"method", "outcome"},
)

// Rate limit metrics, recorded by the fixed-window identity limiter and the
// GCRA auth throttle.
//
// RateLimitDecisionsTotal is a CounterVec with label {outcome}:
//
//	"allowed"  – request admitted, counter incremented
//	"rejected" – request over capacity, 429 returned
//	"error"    – counter store unreachable, fail-open/fail-closed policy applied
//
// Example PromQL queries:
//   - Reject ratio:            sum(rate(rate_limit_decisions_total{outcome="rejected"}[5m])) / sum(rate(rate_limit_decisions_total[5m]))
//   - Store outage alert:      increase(rate_limit_decisions_total{outcome="error"}[5m]) > 0
var RateLimitDecisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rate_limit_decisions_total",
		Help: "Total number of rate limit decisions, by outcome (allowed, rejected, error).",
	},
	[]string{"outcome"},
)

// API key lifecycle metrics, recorded by the key management service.
//
// APIKeysIssuedTotal and APIKeysRevokedTotal are plain Counters (no labels).
// Issuance minus revocation over long windows approximates the active key population
// growth without querying the database.
//
// Example PromQL queries:
//   - Keys issued per day:   increase(api_keys_issued_total[24h])
//   - Revocation rate:       rate(api_keys_revoked_total[24h])
var (
	APIKeysIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "api_keys_issued_total",
			Help: "Total number of API keys issued.",
		},
	)

	APIKeysRevokedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "api_keys_revoked_total",
			Help: "Total number of API keys revoked.",
		},
	)
)

// APIKeyExpiryNotificationsSentTotal is a plain Counter (no labels) incremented once
// per email successfully delivered by the key expiry notifier background job.
// A stalled counter combined with api keys approaching expiry is a useful alert signal
// for SMTP delivery failures.
//
// Example PromQL queries:
//   - Rate of notifications sent:  rate(apikey_expiry_notifications_sent_total[24h])
var APIKeyExpiryNotificationsSentTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "apikey_expiry_notifications_sent_total",
		Help: "Total number of API key expiry warning emails successfully sent.",
	},
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool.  It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
//
// Example PromQL queries:
//   - Pool utilisation (%): db_open_connections / <SMP_DATABASE_MAX_CONNECTIONS> * 100
//   - Alert on near-exhaustion: db_open_connections > 20  (for max_connections=25)
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits cleanly when the database becomes unreachable (db.Ping fails),
// which happens automatically when the application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go:
//
//	telemetry.StartDBStatsCollector(database)
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
