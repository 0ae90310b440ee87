package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label value constants to prevent typos
const (
	// Cache read outcomes
	CacheHit           = "hit"
	CacheMiss          = "miss"
	CacheStaleFallback = "stale_fallback"
	CacheExpired       = "expired"
	CacheDemo          = "demo"

	// Cache categories
	CategoryFlexiList        = "flexi_list"
	CategoryFlexiStructure   = "flexi_structure"
	CategoryFlexiData        = "flexi_data"
	CategoryEvents           = "events"
	CategoryAttendance       = "attendance"
	CategorySharedAttendance = "shared_attendance"
	CategoryMembers          = "members"
	CategoryTerms            = "terms"
	CategoryRoles            = "roles"
	CategoryStartup          = "startup"

	// Queue results
	ResultSuccess = "success"
	ResultRetry   = "retry"
	ResultTimeout = "timeout"
	ResultFailure = "failure"
	ResultCleared = "cleared"

	// HTTP endpoints (control surface)
	EndpointOAuthLogin    = "oauth_login"
	EndpointOAuthCallback = "oauth_callback"
	EndpointSync          = "sync"
	EndpointCacheClear    = "cache_clear"
	EndpointFlexiUpdate   = "flexi_update"
	EndpointStatus        = "status"
	EndpointHealth        = "health"

	// OSM API operations
	OpGetUserRoles            = "get_user_roles"
	OpGetTerms                = "get_terms"
	OpGetStartupData          = "get_startup_data"
	OpGetMembers              = "get_members"
	OpGetEvents               = "get_events"
	OpGetEventAttendance      = "get_event_attendance"
	OpGetEventSummary         = "get_event_summary"
	OpGetEventSharingStatus   = "get_event_sharing_status"
	OpGetSharedAttendance     = "get_shared_event_attendance"
	OpGetFlexiRecords         = "get_flexi_records"
	OpGetFlexiStructure       = "get_flexi_structure"
	OpGetSingleFlexiRecord    = "get_single_flexi_record"
	OpUpdateFlexiRecord       = "update_flexi_record"
	OpMultiUpdateFlexiRecord  = "multi_update_flexi_record"

	// Sync step categories
	StepReference   = "reference"
	StepEvents      = "events"
	StepAttendance  = "attendance"
	StepFlexiRecord = "flexiRecords"

	// Database operations
	DBOpCacheGet      = "cache_get"
	DBOpCachePut      = "cache_put"
	DBOpCacheClear    = "cache_clear"
	DBOpUpsertSection = "upsert_section"
	DBOpUpsertMember  = "upsert_member"
	DBOpUpsertEvent   = "upsert_event"
	DBOpUpsertRow     = "upsert_row"
	DBOpQuery         = "query"
)

// HTTP Metrics (control surface)
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint", "status_code"},
	)
)

// Upstream API metrics
var (
	OSMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "osm_requests_total",
			Help: "Total number of OSM API requests by operation and outcome",
		},
		[]string{"operation", "result"},
	)

	OSMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "osm_request_duration_seconds",
			Help:    "OSM API request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	AuthFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "osm_auth_failures_total",
			Help: "Total number of 401/403 responses from OSM",
		},
	)

	BreakerTripped = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "osm_auth_breaker_tripped",
			Help: "Whether the auth circuit breaker is tripped (1) or not (0)",
		},
	)
)

// Queue metrics
var (
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "request_queue_depth",
			Help: "Number of requests waiting in the rate-limit queue",
		},
	)

	QueueRateLimited = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "request_queue_rate_limited",
			Help: "Whether the queue is currently sleeping on a rate limit (1) or not (0)",
		},
	)

	QueueEnqueueTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "request_queue_enqueue_total",
			Help: "Total number of requests enqueued",
		},
	)

	QueueDequeueTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "request_queue_dequeue_total",
			Help: "Total number of requests dequeued with outcome",
		},
		[]string{"result"},
	)

	QueueWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "request_queue_wait_seconds",
			Help:    "Time from enqueue to execution start",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 300},
		},
	)
)

// Cache metrics
var (
	CacheReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_reads_total",
			Help: "Cache reads by category and outcome",
		},
		[]string{"category", "outcome"},
	)

	CacheWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_writes_total",
			Help: "Cache writes by category",
		},
		[]string{"category"},
	)

	DBOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_operation_duration_seconds",
			Help:    "SQLite operation latency in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"operation"},
	)

	DBOperationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_operation_errors_total",
			Help: "SQLite operation errors",
		},
		[]string{"operation"},
	)
)

// Sync metrics
var (
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Total orchestrator runs by result",
		},
		[]string{"result"},
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_duration_seconds",
			Help:    "Wall-clock duration of a full sync cascade",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	SyncStepErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_step_errors_total",
			Help: "Step-level errors recorded during sync cascades",
		},
		[]string{"category"},
	)

	NetworkOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "network_online",
			Help: "Whether the backend is reachable (1) or not (0)",
		},
	)
)
