// Package handlers provides HTTP API handlers for webtuner.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/webtuner/webtuner/internal/catalog"
	"github.com/webtuner/webtuner/internal/manager"
	"github.com/webtuner/webtuner/internal/tuner"
)

// ErrorResponse is the stable error envelope for non-API routes. Internal
// detail never leaks; clients key off Kind.
type ErrorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// classify maps domain errors onto HTTP status and envelope kind.
func classify(err error) (status int, kind string) {
	switch {
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, tuner.ErrChannelNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, manager.ErrAllBusy):
		return http.StatusServiceUnavailable, "all_busy"
	case errors.Is(err, tuner.ErrTuneFailed):
		return http.StatusBadGateway, "tune_failed"
	case errors.Is(err, tuner.ErrCaptureFailed):
		return http.StatusBadGateway, "capture_failed"
	case errors.Is(err, tuner.ErrControlDisconnected):
		return http.StatusBadGateway, "control_disconnected"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeError renders the {kind, message} envelope.
func writeError(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Kind:    kind,
		Message: message,
	})
}
