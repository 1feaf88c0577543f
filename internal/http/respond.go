package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hysmio/deployments-dashboard/internal/domain"
	"github.com/hysmio/deployments-dashboard/internal/repository"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps a service error to its status code.
func (r *Router) writeServiceError(w http.ResponseWriter, req *http.Request, err error) {
	var invalid *domain.ValidationError
	switch {
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, invalid.Error())
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, context.Canceled) && req.Context().Err() != nil:
		r.logger.Info("request abandoned by client", "path", req.URL.Path)
	default:
		r.logger.Error("request failed", "path", req.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "an error occurred while processing the request",
			"details": err.Error(),
		})
	}
}
