package handlers

import (
	"errors"
	"net/http"

	"media-catalog/internal/catalog"
	"media-catalog/internal/coredb"
	"media-catalog/internal/logging"
	"media-catalog/internal/scanner"
)

// RootResponse is one album root with its image count.
type RootResponse struct {
	catalog.AlbumRoot
	Images int64 `json:"images"`
}

// ListRoots returns every album root.
func (h *Handlers) ListRoots(w http.ResponseWriter, r *http.Request) {
	if !h.core.CheckReadyForUse(r.Context(), nil) {
		h.respondCatalogError(w, http.StatusServiceUnavailable, "catalog not ready")
		return
	}

	var response []RootResponse
	err := h.core.WithAccess(r.Context(), func(a *coredb.Access) error {
		roots, err := a.DB().AlbumRoots(r.Context())
		if err != nil {
			return err
		}
		response = make([]RootResponse, 0, len(roots))
		for _, root := range roots {
			n, err := a.DB().CountImages(r.Context(), root.ID)
			if err != nil {
				return err
			}
			response = append(response, RootResponse{AlbumRoot: root, Images: n})
		}
		return nil
	})
	if err != nil {
		logging.Error("Listing album roots failed: %v", err)
		h.respondCatalogError(w, http.StatusInternalServerError, "failed to list album roots")
		return
	}

	respond(w, http.StatusOK, response)
}

// TriggerRescan starts a rescan in the background.
func (h *Handlers) TriggerRescan(w http.ResponseWriter, _ *http.Request) {
	if h.scanner == nil {
		respondError(w, http.StatusNotImplemented, "rescans are disabled")
		return
	}
	if h.scanner.Status().Running {
		respondError(w, http.StatusConflict, scanner.ErrRunning.Error())
		return
	}

	go func() {
		// Detached from the request, which ends right away.
		if _, err := h.scanner.Run(h.base); err != nil && !errors.Is(err, scanner.ErrRunning) {
			logging.Error("Triggered rescan failed: %v", err)
		}
	}()
	respondStatus(w, http.StatusAccepted, "started")
}
