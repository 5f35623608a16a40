package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"media-catalog/internal/coredb"
	"media-catalog/internal/scanner"
)

type Handlers struct {
	// base is the context of background work started by a request.
	base    context.Context
	core    *coredb.Core
	scanner *scanner.Scanner
	started time.Time
}

// New creates handlers reading through core. sc may be nil, in which case
// rescans cannot be triggered. Rescans started by a request end with ctx.
func New(ctx context.Context, core *coredb.Core, sc *scanner.Scanner) *Handlers {
	return &Handlers{base: ctx, core: core, scanner: sc, started: time.Now()}
}

// Register adds every route to router.
func (h *Handlers) Register(router *mux.Router) {
	router.HandleFunc("/healthz", h.HealthCheck).Methods(http.MethodGet)
	router.HandleFunc("/livez", h.LivenessCheck).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/readyz", h.ReadinessCheck).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/version", h.GetVersion).Methods(http.MethodGet)
	api.HandleFunc("/roots", h.ListRoots).Methods(http.MethodGet)
	api.HandleFunc("/rescan", h.TriggerRescan).Methods(http.MethodPost)
}
