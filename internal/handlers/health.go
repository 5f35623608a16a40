package handlers

import (
	"net/http"
	"runtime"
	"time"

	"media-catalog/internal/coredb"
	"media-catalog/internal/scanner"
	"media-catalog/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusStarting = "starting"
	statusDegraded = "degraded"
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status     string `json:"status"`
	Ready      bool   `json:"ready"`
	Version    string `json:"version"`
	Uptime     string `json:"uptime"`
	State      string `json:"state"`
	Engine     string `json:"engine"`
	DatabaseID string `json:"databaseId,omitempty"`
	LastError  string `json:"lastError,omitempty"`

	Scanner *scanner.Status `json:"scanner,omitempty"`

	GoVersion    string `json:"goVersion"`
	NumGoroutine int    `json:"numGoroutine"`
}

// HealthCheck reports the state of the catalog without touching the
// database.
func (h *Handlers) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	ready := h.core.State() == coredb.StateReady
	response := HealthResponse{
		Ready:        ready,
		Version:      startup.Version,
		Uptime:       time.Since(h.started).Round(time.Second).String(),
		State:        h.core.State().String(),
		Engine:       h.core.Parameters().Engine.String(),
		DatabaseID:   h.core.DatabaseID(),
		LastError:    h.core.LastError(),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
	}
	if h.scanner != nil {
		status := h.scanner.Status()
		response.Scanner = &status
	}

	switch {
	case h.core.MustAbort():
		response.Status = statusDegraded
	case ready:
		response.Status = statusHealthy
	default:
		response.Status = statusStarting
	}

	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	respond(w, code, response)
}

// LivenessCheck is a simple liveness probe (always returns 200 if server is running)
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	// For HEAD requests, only send headers (no body)
	if r.Method == http.MethodHead {
		respond(w, http.StatusOK, nil)
		return
	}
	respondStatus(w, http.StatusOK, "alive")
}

// ReadinessCheck runs the readiness gate, so a catalog that failed earlier
// is retried on every probe.
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if h.core.CheckReadyForUse(r.Context(), nil) {
		respondStatus(w, http.StatusOK, "ready")
		return
	}
	h.respondCatalogError(w, http.StatusServiceUnavailable, "not_ready")
}
