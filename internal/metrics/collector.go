// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds all Prometheus instruments for the engine.
type Collector struct {
	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// Dispatch metrics
	stepsDispatchedTotal *prometheus.CounterVec
	dispatchDuration     *prometheus.HistogramVec
	budgetDenialsTotal   *prometheus.CounterVec
	leaseConflictsTotal  *prometheus.CounterVec

	// Conversation metrics
	repliesIngestedTotal  *prometheus.CounterVec
	stateTransitionsTotal *prometheus.CounterVec
	ghostsDetectedTotal   *prometheus.CounterVec
	reEngagementsTotal    *prometheus.CounterVec
	meetingsBookedTotal   *prometheus.CounterVec

	// Acquisition metrics
	acquirePagesTotal    *prometheus.CounterVec
	leadsImportedTotal   *prometheus.CounterVec
	leadsRejectedTotal   *prometheus.CounterVec
	acquireErrorsTotal   *prometheus.CounterVec

	// Scheduler metrics
	tickDuration      *prometheus.HistogramVec
	leadsScannedTotal *prometheus.CounterVec

	// Cache metrics
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// Database metrics
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	logger *zap.Logger
	mu     sync.RWMutex
}

// NewCollector creates a metrics collector. Instruments register
// themselves with the default registry via promauto.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP metrics
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// Dispatch metrics
	c.stepsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_dispatched_total",
			Help:      "Total number of sequence steps dispatched",
		},
		[]string{"channel", "status"},
	)

	c.dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Channel dispatch duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"channel"},
	)

	c.budgetDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_denials_total",
			Help:      "Total number of sends denied by rate budgets",
		},
		[]string{"scope", "window"},
	)

	c.leaseConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lease_conflicts_total",
			Help:      "Total number of lead lease acquisition conflicts",
		},
		[]string{"source"},
	)

	// Conversation metrics
	c.repliesIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_ingested_total",
			Help:      "Total number of inbound replies ingested",
		},
		[]string{"channel", "intent"},
	)

	c.stateTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_transitions_total",
			Help:      "Total number of conversation state transitions",
		},
		[]string{"from_state", "to_state"},
	)

	c.ghostsDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ghosts_detected_total",
			Help:      "Total number of leads marked ghosted",
		},
		[]string{"tenant_id"},
	)

	c.reEngagementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "re_engagements_total",
			Help:      "Total number of re-engagement attempts",
		},
		[]string{"tenant_id"},
	)

	c.meetingsBookedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "meetings_booked_total",
			Help:      "Total number of meetings booked",
		},
		[]string{"tenant_id"},
	)

	// Acquisition metrics
	c.acquirePagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquire_pages_total",
			Help:      "Total number of acquisition provider pages fetched",
		},
		[]string{"provider", "status"},
	)

	c.leadsImportedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leads_imported_total",
			Help:      "Total number of leads imported from acquisition",
		},
		[]string{"provider"},
	)

	c.leadsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leads_rejected_total",
			Help:      "Total number of acquisition candidates rejected",
		},
		[]string{"provider", "reason"},
	)

	c.acquireErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquire_errors_total",
			Help:      "Total number of acquisition provider errors",
		},
		[]string{"provider"},
	)

	// Scheduler metrics
	c.tickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Scheduler tick duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"phase"},
	)

	c.leadsScannedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leads_scanned_total",
			Help:      "Total number of leads examined by the scheduler",
		},
		[]string{"phase"},
	)

	// Cache metrics
	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Database metrics
	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordHTTPRequest records an HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// RecordStepDispatched records a sequence step dispatch outcome.
func (c *Collector) RecordStepDispatched(channel, status string, duration time.Duration) {
	c.stepsDispatchedTotal.WithLabelValues(channel, status).Inc()
	c.dispatchDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// RecordBudgetDenial records a send denied by a rate budget.
// Scope is campaign or tenant, window is daily or hourly.
func (c *Collector) RecordBudgetDenial(scope, window string) {
	c.budgetDenialsTotal.WithLabelValues(scope, window).Inc()
}

// RecordLeaseConflict records a lead lease acquisition conflict.
func (c *Collector) RecordLeaseConflict(source string) {
	c.leaseConflictsTotal.WithLabelValues(source).Inc()
}

// RecordReplyIngested records an inbound reply.
func (c *Collector) RecordReplyIngested(channel, intent string) {
	c.repliesIngestedTotal.WithLabelValues(channel, intent).Inc()
}

// RecordStateTransition records a conversation state transition.
func (c *Collector) RecordStateTransition(fromState, toState string) {
	c.stateTransitionsTotal.WithLabelValues(fromState, toState).Inc()
}

// RecordGhostDetected records a lead marked ghosted.
func (c *Collector) RecordGhostDetected(tenantID string) {
	c.ghostsDetectedTotal.WithLabelValues(tenantID).Inc()
}

// RecordReEngagement records a re-engagement attempt.
func (c *Collector) RecordReEngagement(tenantID string) {
	c.reEngagementsTotal.WithLabelValues(tenantID).Inc()
}

// RecordMeetingBooked records a booked meeting.
func (c *Collector) RecordMeetingBooked(tenantID string) {
	c.meetingsBookedTotal.WithLabelValues(tenantID).Inc()
}

// RecordAcquirePage records a fetched acquisition page.
func (c *Collector) RecordAcquirePage(provider, status string) {
	c.acquirePagesTotal.WithLabelValues(provider, status).Inc()
}

// RecordLeadImported records an imported lead.
func (c *Collector) RecordLeadImported(provider string) {
	c.leadsImportedTotal.WithLabelValues(provider).Inc()
}

// RecordLeadRejected records a rejected acquisition candidate.
func (c *Collector) RecordLeadRejected(provider, reason string) {
	c.leadsRejectedTotal.WithLabelValues(provider, reason).Inc()
}

// RecordAcquireError records an acquisition provider error.
func (c *Collector) RecordAcquireError(provider string) {
	c.acquireErrorsTotal.WithLabelValues(provider).Inc()
}

// RecordTick records a scheduler phase duration and the number of
// leads it examined.
func (c *Collector) RecordTick(phase string, duration time.Duration, leadsScanned int) {
	c.tickDuration.WithLabelValues(phase).Observe(duration.Seconds())
	c.leadsScannedTotal.WithLabelValues(phase).Add(float64(leadsScanned))
}

// RecordCacheHit records a cache hit.
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss.
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordDBConnections records database connection gauges.
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery records a database query duration.
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// statusCode buckets an HTTP status code into a class label.
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
