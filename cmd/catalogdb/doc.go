// Command catalogdb opens a media catalog database and keeps it usable.
//
// It configures the database parameters (YAML file, CATALOG_DB_*
// environment variables, then flags), runs the readiness gate which
// migrates the schema, and then executes one command:
//
//	catalogdb check
//	catalogdb status
//	catalogdb add-root ~/Pictures
//	catalogdb rescan
//	catalogdb --listen :8080 serve
//
// serve rescans every album root periodically and exposes /healthz,
// /livez, /readyz, a small JSON API under /api and Prometheus metrics on
// /metrics.
//
// Commands run on a worker goroutine. The main goroutine answers error
// consultations from the database layer: on a terminal the user is asked
// whether to retry, otherwise the affected queries are aborted.
package main
