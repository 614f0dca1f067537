package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"rag-engine/internal/auth"
	"rag-engine/internal/models"
)

// ErrorResponse is the JSON error envelope every handler returns
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// sendJSON writes a JSON response with the given status code
func sendJSON(w http.ResponseWriter, logger *log.Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil && logger != nil {
		logger.Printf("Failed to encode JSON: %v", err)
	}
}

// sendError writes a JSON error envelope with the given status code
func sendError(w http.ResponseWriter, logger *log.Logger, status int, message string) {
	sendJSON(w, logger, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Status:  status,
	})
}

// identityFrom returns the verified caller, or an AuthError when the request
// slipped past the middleware without one.
func identityFrom(r *http.Request) (string, error) {
	identity, ok := auth.FromContext(r.Context())
	if !ok || identity.UserID == "" {
		return "", models.NewAuthError("no verified identity on request", nil)
	}
	return identity.UserID, nil
}

// sendDomainError maps the error taxonomy onto HTTP statuses. Anything
// outside the taxonomy is a 500 with a redacted message; the real cause goes
// to the log only.
func sendDomainError(w http.ResponseWriter, logger *log.Logger, err error) {
	switch {
	case models.IsAuthError(err):
		sendError(w, logger, http.StatusUnauthorized, "authentication required")
	case models.IsForbidden(err):
		sendError(w, logger, http.StatusForbidden, err.Error())
	case models.IsNotFound(err):
		sendError(w, logger, http.StatusNotFound, err.Error())
	case models.IsValidation(err):
		sendError(w, logger, http.StatusBadRequest, err.Error())
	default:
		if logger != nil {
			logger.Printf("Internal error: %v", err)
		}
		sendError(w, logger, http.StatusInternalServerError, "internal error")
	}
}
