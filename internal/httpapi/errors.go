package httpapi

import (
	"encoding/json"
	"net/http"

	"inferd/internal/backend"
	"inferd/internal/engine"
	"inferd/internal/experiment"
	"inferd/internal/router"
	"inferd/internal/server"
	"inferd/internal/version"
	"inferd/pkg/types"
)

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, kind, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Kind: kind, Code: status})
}

// writeError maps the serving error taxonomy to HTTP status codes. Every
// public operation fails with a structured kind + message, never an
// opaque 500 string.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case server.IsNotLoaded(err) || experiment.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
	case server.IsAlreadyLoaded(err):
		writeJSONError(w, http.StatusConflict, "already_loaded", err.Error())
	case engine.IsValidation(err) || experiment.IsValidation(err) ||
		version.IsValidation(err) || router.IsInvalidWeights(err):
		writeJSONError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case server.IsTimeout(err):
		writeJSONError(w, http.StatusGatewayTimeout, "timeout", err.Error())
	case backend.IsLoadFailed(err):
		writeJSONError(w, http.StatusBadGateway, "backend_load_failed", err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
