// Package startup resolves the command line configuration and prints the
// startup and shutdown log sections.
//
// # Configuration
//
// [LoadConfig] layers three sources, later ones winning:
//
//   - the YAML configuration file (--config, CATALOG_CONFIG)
//   - CATALOG_DB_* environment variables, see package dbparams
//   - the --url and --database flags
//
// Other settings come from flags with an environment default:
//
//   - --listen / CATALOG_LISTEN: status server address (default: :8080)
//   - --role / CATALOG_ROLE: master or slave (default: master)
//   - --metrics / METRICS_ENABLED: expose /metrics (default: true)
//   - --rescan-interval / CATALOG_RESCAN_INTERVAL: Go duration (default: 1h)
//
// When nothing names a database, the catalog lives in ~/Pictures.
//
// # Build Information
//
// Build-time variables are injected via ldflags and exposed via [GetBuildInfo].
package startup
