package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"rag-engine/internal/models"
)

// IngestRunner is the intake surface of the ingestion orchestrator
type IngestRunner interface {
	ProcessBatch(ctx context.Context, records []models.UploadRecord) *models.BatchResult
}

// IngestHandler accepts object-store upload notification batches
type IngestHandler struct {
	ingest IngestRunner
	logger *log.Logger
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(ingest IngestRunner, logger *log.Logger) *IngestHandler {
	return &IngestHandler{ingest: ingest, logger: logger}
}

// NotificationBatch is the request body of the intake endpoint
type NotificationBatch struct {
	Records []models.UploadRecord `json:"records"`
}

// Notifications ingests one upload notification batch
// @Summary Ingest upload notifications
// @Description Validates, classifies and enqueues a batch of uploaded objects. One bad record never fails the batch.
// @Tags ingest
// @Accept json
// @Produce json
// @Param batch body NotificationBatch true "Upload notification batch"
// @Success 200 {object} models.BatchResult
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/ingest/notifications [post]
func (h *IngestHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	var batch NotificationBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		sendError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(batch.Records) == 0 {
		sendError(w, h.logger, http.StatusBadRequest, "records is required")
		return
	}

	result := h.ingest.ProcessBatch(r.Context(), batch.Records)
	sendJSON(w, h.logger, http.StatusOK, result)
}
