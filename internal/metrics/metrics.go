package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lock metrics
var (
	LockWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalog_lock_wait_seconds",
			Help:    "Time spent waiting to acquire the database access lock",
			Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
	)

	LockDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_lock_depth",
			Help: "Current recursion depth of the database access lock",
		},
	)

	UnlockScopesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_unlock_scopes_total",
			Help: "Total number of times the access lock was temporarily released",
		},
	)
)

// Backend metrics
var (
	BackendOpensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_backend_opens_total",
			Help: "Total number of backend open attempts by result",
		},
		[]string{"result"}, // "success", "retry", "failure"
	)

	BackendClosesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_backend_closes_total",
			Help: "Total number of backend closes",
		},
	)

	BackendStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "catalog_backend_status",
			Help: "Current backend status (1 for the active status, 0 otherwise)",
		},
		[]string{"status"},
	)

	ThreadConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_thread_connections",
			Help: "Number of live per-goroutine database connections",
		},
	)

	ThreadConnectionsRecreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_thread_connections_recreated_total",
			Help: "Total number of per-goroutine connections discarded because of a stale validity epoch",
		},
	)
)

// Query metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBTransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_db_transaction_duration_seconds",
			Help:    "Duration of physical database transactions",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"type"}, // "commit", "rollback"
	)

	ContentionRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_contention_retries_total",
			Help: "Total number of statements retried after a busy or locked error",
		},
	)

	EscalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_error_escalations_total",
			Help: "Total number of errors handed to the error policy",
		},
		[]string{"kind"}, // "connection", "user"
	)

	ConsultationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_error_consultations_total",
			Help: "Total number of error policy answers by verdict",
		},
		[]string{"verdict"}, // "continue", "abort"
	)
)

// Readiness and schema metrics
var (
	ReadinessChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_readiness_checks_total",
			Help: "Total number of readiness checks by result",
		},
		[]string{"result"}, // "ready", "fast_path", "failed"
	)

	DatabaseReady = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_database_ready",
			Help: "Whether the catalog database passed the readiness gate (1 = ready)",
		},
	)

	SchemaUpdateDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalog_schema_update_duration_seconds",
			Help:    "Duration of schema update runs",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		},
	)

	SchemaUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_schema_updates_total",
			Help: "Total number of schema update runs by result",
		},
		[]string{"result"}, // "success", "error", "abort"
	)

	SchemaVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_schema_version",
			Help: "Schema version of the open catalog database",
		},
	)
)

// Watch metrics
var (
	WatchMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_watch_messages_total",
			Help: "Total number of change notifications by direction",
		},
		[]string{"direction"}, // "sent", "received", "ignored"
	)
)

// Scanner metrics
var (
	ScannerRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_scanner_runs_total",
			Help: "Total number of collection rescans",
		},
	)

	ScannerLastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_scanner_last_run_timestamp",
			Help: "Timestamp of the last collection rescan",
		},
	)

	ScannerLastRunDuration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_scanner_last_run_duration_seconds",
			Help: "Duration of the last collection rescan in seconds",
		},
	)

	ScannerFilesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_scanner_files_processed_total",
			Help: "Total number of image files processed by the scanner",
		},
	)

	ScannerErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_scanner_errors_total",
			Help: "Total number of scanner errors",
		},
	)

	ScannerIsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_scanner_running",
			Help: "Whether a rescan is currently running (1 = running, 0 = idle)",
		},
	)

	CatalogImagesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_images",
			Help: "Number of images recorded in the catalog",
		},
	)

	CatalogAlbumRootsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_album_roots",
			Help: "Number of configured album roots",
		},
	)

	CatalogTagsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_tags",
			Help: "Number of tags recorded in the catalog",
		},
	)
)

// Filesystem metrics
var (
	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_filesystem_retry_attempts_total",
			Help: "Total number of filesystem retries after a stale file handle",
		},
		[]string{"operation", "root"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_filesystem_retry_failures_total",
			Help: "Total number of filesystem operations that failed after all retries",
		},
		[]string{"operation", "root"},
	)

	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_filesystem_stale_errors_total",
			Help: "Total number of stale file handle errors seen",
		},
		[]string{"operation", "root"},
	)
)

// HTTP metrics for the status server
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Application info
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "catalog_app_info",
			Help: "Application build information",
		},
		[]string{"version", "commit", "go_version"},
	)
)
