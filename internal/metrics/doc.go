// Package metrics provides Prometheus instrumentation for the catalog
// database layer.
//
// All metrics are prefixed with "catalog_" and registered on the default
// registry through promauto.
//
// # Metric Categories
//
// ## Lock Metrics
//
//   - LockWaitDuration: Histogram of time spent waiting for the access lock
//   - LockDepth: Gauge of the current recursion depth
//   - UnlockScopesTotal: Counter of temporary full releases
//
// ## Backend Metrics
//
//   - BackendOpensTotal: Counter of open attempts by result
//   - BackendClosesTotal: Counter of closes
//   - BackendStatus: Gauge set to 1 for the active status
//   - ThreadConnections: Gauge of live per-goroutine connections
//   - ThreadConnectionsRecreated: Counter of connections dropped for a stale epoch
//
// ## Query Metrics
//
//   - DBQueryTotal / DBQueryDuration: by operation and status
//   - DBTransactionDuration: physical transactions by outcome
//   - ContentionRetriesTotal: statements retried after busy/locked errors
//   - EscalationsTotal: errors handed to the error policy by kind
//   - ConsultationsTotal: error policy verdicts
//
// ## Readiness, Schema, Watch and Scanner Metrics
//
// ReadinessChecksTotal, DatabaseReady, SchemaUpdateDuration,
// SchemaUpdatesTotal, SchemaVersion, WatchMessagesTotal and the Scanner*
// family. The [Collector] periodically refreshes the catalog_images,
// catalog_album_roots and catalog_tags gauges from a [StatsProvider].
//
// # Usage
//
// Mount promhttp.Handler() on the metrics endpoint and call
// InitializeMetrics once at startup:
//
//	metrics.InitializeMetrics()
//	router.Handle("/metrics", promhttp.Handler())
//
// Example PromQL:
//
//	rate(catalog_contention_retries_total[5m])
//	histogram_quantile(0.95, sum(rate(catalog_lock_wait_seconds_bucket[5m])) by (le))
package metrics
