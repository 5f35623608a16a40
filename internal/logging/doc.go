// Package logging provides a simple leveled logging interface for the
// media catalog database layer.
//
// It supports the following log levels:
//   - DEBUG: Verbose debugging information
//   - INFO: General operational messages
//   - WARN: Warning conditions
//   - ERROR: Error conditions
//   - FATAL: Fatal errors that terminate the application
//
// The log level is configured via the LOG_LEVEL environment variable (or
// DEBUG=true). Output is written through a zap logger; LOG_FORMAT=json
// switches from the console encoder to structured JSON.
package logging
