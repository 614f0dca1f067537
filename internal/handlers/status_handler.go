package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"rag-engine/internal/models"
)

// StatusReader reads pipeline status records
type StatusReader interface {
	Get(ctx context.Context, bucket, key string) (*models.StatusRecord, error)
}

// StatusHandler serves the polling read path of the status plane
type StatusHandler struct {
	status StatusReader
	logger *log.Logger
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(status StatusReader, logger *log.Logger) *StatusHandler {
	return &StatusHandler{status: status, logger: logger}
}

// Get returns the current pipeline status of a document
// @Summary Get document status
// @Description Returns the last reported pipeline state. Records expire 24h after their last update.
// @Tags status
// @Produce json
// @Param bucket path string true "Storage bucket"
// @Param key path string true "Object key"
// @Success 200 {object} models.StatusRecord
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/status/{bucket}/{key} [get]
func (h *StatusHandler) Get(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	bucket, key := vars["bucket"], vars["key"]
	if bucket == "" || key == "" {
		sendError(w, h.logger, http.StatusBadRequest, "bucket and key are required")
		return
	}

	record, err := h.status.Get(r.Context(), bucket, key)
	if err != nil {
		sendDomainError(w, h.logger, err)
		return
	}
	if record == nil {
		sendError(w, h.logger, http.StatusNotFound, "no status for "+models.StatusID(bucket, key))
		return
	}
	sendJSON(w, h.logger, http.StatusOK, record)
}
