// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ledger metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	QualifiedAccounts *prometheus.GaugeVec
	KeywordEntries    prometheus.Gauge
	EscrowFlow        *prometheus.CounterVec

	// Ranking metrics
	RankingRebuilds  *prometheus.CounterVec
	RankingCacheAge  prometheus.Gauge
	RankingPageReads *prometheus.CounterVec

	// Event metrics
	EventsPublished    *prometheus.CounterVec
	EventPublishErrors *prometheus.CounterVec
	EventQueueDepth    prometheus.Gauge
	EventQueueFull     prometheus.Counter
	StreamClients      prometheus.Gauge

	// HTTP metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastCommit    prometheus.Gauge
	UptimeSeconds prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "agent_market"
	}

	return &Metrics{
		// Ledger metrics
		OperationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Total number of ledger operations by operation and status",
		}, []string{"operation", "status"}),
		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Ledger operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		QualifiedAccounts: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "qualified_accounts",
			Help:      "Number of qualified accounts by role",
		}, []string{"role"}),
		KeywordEntries: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "keyword_entries",
			Help:      "Number of non-empty keyword index entries",
		}),
		EscrowFlow: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escrow",
			Name:      "flow_units_total",
			Help:      "Total base units moved through escrow by kind",
		}, []string{"kind"}),

		// Ranking metrics
		RankingRebuilds: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ranking",
			Name:      "rebuilds_total",
			Help:      "Total number of ranking rebuilds by trigger",
		}, []string{"trigger"}),
		RankingCacheAge: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ranking",
			Name:      "cache_age_seconds",
			Help:      "Age of the served ranking snapshot in seconds",
		}),
		RankingPageReads: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ranking",
			Name:      "page_reads_total",
			Help:      "Total number of ranking page reads by freshness",
		}, []string{"freshness"}),

		// Event metrics
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of events delivered by sink",
		}, []string{"sink"}),
		EventPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "publish_errors_total",
			Help:      "Total number of failed batch deliveries by sink",
		}, []string{"sink"}),
		EventQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "queue_depth",
			Help:      "Number of batches waiting for delivery",
		}),
		EventQueueFull: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "queue_full_total",
			Help:      "Times an emitter found the queue full and waited for the worker",
		}),
		StreamClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "clients",
			Help:      "Number of connected websocket clients",
		}),

		// HTTP metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of API requests by route, method and status code",
		}, []string{"route", "method", "code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastCommit: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_commit_timestamp",
			Help:      "Unix timestamp of the last committed ledger mutation",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordOperation records a ledger operation outcome.
func RecordOperation(operation string, started time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	} else {
		DefaultMetrics.LastCommit.Set(float64(time.Now().Unix()))
	}
	DefaultMetrics.OperationsTotal.WithLabelValues(operation, status).Inc()
	DefaultMetrics.OperationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// SetQualified sets the qualified account gauge for a role.
func SetQualified(role string, n int) {
	DefaultMetrics.QualifiedAccounts.WithLabelValues(role).Set(float64(n))
}

// SetKeywordEntries sets the keyword entry gauge.
func SetKeywordEntries(n int) {
	DefaultMetrics.KeywordEntries.Set(float64(n))
}

// RecordEscrowFlow adds base units to the escrow flow counter.
// Amounts beyond float precision are approximated.
func RecordEscrowFlow(kind string, units float64) {
	DefaultMetrics.EscrowFlow.WithLabelValues(kind).Add(units)
}

// RecordRankingRebuild records a ranking rebuild.
func RecordRankingRebuild(trigger string) {
	DefaultMetrics.RankingRebuilds.WithLabelValues(trigger).Inc()
	DefaultMetrics.RankingCacheAge.Set(0)
}

// RecordRankingRead records a ranking page read and the age of the served snapshot.
func RecordRankingRead(stale bool, ageSeconds int64) {
	freshness := "fresh"
	if stale {
		freshness = "stale"
	}
	DefaultMetrics.RankingPageReads.WithLabelValues(freshness).Inc()
	DefaultMetrics.RankingCacheAge.Set(float64(ageSeconds))
}

// RecordPublish records a batch delivery to an event sink.
func RecordPublish(sink string, events int, err error) {
	if err != nil {
		DefaultMetrics.EventPublishErrors.WithLabelValues(sink).Inc()
		return
	}
	DefaultMetrics.EventsPublished.WithLabelValues(sink).Add(float64(events))
}

// SetQueueDepth sets the event queue depth gauge.
func SetQueueDepth(n int) {
	DefaultMetrics.EventQueueDepth.Set(float64(n))
}

// RecordQueueFull counts an emit that had to wait for queue space.
func RecordQueueFull() {
	DefaultMetrics.EventQueueFull.Inc()
}

// SetStreamClients sets the websocket client gauge.
func SetStreamClients(n int) {
	DefaultMetrics.StreamClients.Set(float64(n))
}

// RecordHTTPRequest records one API request.
func RecordHTTPRequest(route, method string, code int, took time.Duration) {
	DefaultMetrics.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	DefaultMetrics.HTTPRequestDuration.WithLabelValues(route).Observe(took.Seconds())
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordUptime adds elapsed seconds to the uptime counter.
func RecordUptime(seconds float64) {
	DefaultMetrics.UptimeSeconds.Add(seconds)
}
