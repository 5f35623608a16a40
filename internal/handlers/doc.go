// Package handlers provides the HTTP handlers of the catalog status server:
// health probes, build information, album roots and rescan triggering.
package handlers
