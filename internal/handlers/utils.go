package handlers

import (
	"encoding/json"
	"net/http"

	"media-catalog/internal/logging"
)

// ErrorResponse is the body of every failed request. Failures caused by
// the catalog carry its state and the last readiness error.
type ErrorResponse struct {
	Error     string `json:"error"`
	State     string `json:"state,omitempty"`
	LastError string `json:"lastError,omitempty"`
	MustAbort bool   `json:"mustAbort,omitempty"`
}

// respond writes v as a JSON body with the given status code. Encoding
// errors are only logged since the header is already out.
func respond(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Encoding %d response failed: %v", code, err)
	}
}

func respondError(w http.ResponseWriter, code int, message string) {
	respond(w, code, ErrorResponse{Error: message})
}

// respondCatalogError reports a failure together with the catalog state,
// so clients can tell a starting catalog from a broken one.
func (h *Handlers) respondCatalogError(w http.ResponseWriter, code int, message string) {
	respond(w, code, ErrorResponse{
		Error:     message,
		State:     h.core.State().String(),
		LastError: h.core.LastError(),
		MustAbort: h.core.MustAbort(),
	})
}

func respondStatus(w http.ResponseWriter, code int, status string) {
	respond(w, code, map[string]string{"status": status})
}
