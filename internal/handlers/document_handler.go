package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"rag-engine/internal/models"
)

// DocumentReader reads and deletes registered documents
type DocumentReader interface {
	Get(ctx context.Context, documentID string) (*models.Document, error)
	ListByOwner(ctx context.Context, owner string, limit, offset int) ([]*models.Document, error)
	Delete(ctx context.Context, documentID string) error
}

// ChunkReindexer re-embeds the named chunks of a document
type ChunkReindexer interface {
	ReindexChunks(ctx context.Context, user, documentID string, chunkIDs []string) (*models.EmbeddingJob, error)
}

// StatusDropper removes the pipeline status of a deleted document
type StatusDropper interface {
	Delete(ctx context.Context, bucket, key string) error
}

// DocumentHandler handles HTTP requests for the document registry
type DocumentHandler struct {
	docs    DocumentReader
	access  AccessChecker
	reindex ChunkReindexer
	status  StatusDropper
	logger  *log.Logger
}

// NewDocumentHandler creates a new document handler
func NewDocumentHandler(docs DocumentReader, access AccessChecker, reindex ChunkReindexer, status StatusDropper, logger *log.Logger) *DocumentHandler {
	return &DocumentHandler{
		docs:    docs,
		access:  access,
		reindex: reindex,
		status:  status,
		logger:  logger,
	}
}

// Get returns one document
// @Summary Get document
// @Tags documents
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} models.Document
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/documents/{id} [get]
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["id"]
	user, err := identityFrom(r)
	if err != nil {
		sendDomainError(w, h.logger, err)
		return
	}

	allowed, err := h.access.Check(r.Context(), documentID, user, models.PermissionRead)
	if err != nil {
		sendDomainError(w, h.logger, err)
		return
	}
	if !allowed {
		sendDomainError(w, h.logger, models.NewForbiddenError(documentID, user, string(models.PermissionRead)))
		return
	}

	doc, err := h.docs.Get(r.Context(), documentID)
	if err != nil {
		sendDomainError(w, h.logger, err)
		return
	}
	sendJSON(w, h.logger, http.StatusOK, doc)
}

// List returns the caller's documents, newest first
// @Summary List documents
// @Tags documents
// @Produce json
// @Param limit query int false "Page size" default(50)
// @Param offset query int false "Page offset" default(0)
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/documents [get]
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	user, err := identityFrom(r)
	if err != nil {
		sendDomainError(w, h.logger, err)
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	docs, err := h.docs.ListByOwner(r.Context(), user, limit, offset)
	if err != nil {
		sendDomainError(w, h.logger, err)
		return
	}
	sendJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"documents": docs,
		"count":     len(docs),
		"limit":     limit,
		"offset":    offset,
	})
}

// Delete removes a document and everything derived from it
// @Summary Delete document
// @Description Removes the document, its chunks, page embeddings, index rows and access grants
// @Tags documents
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} map[string]string
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/documents/{id} [delete]
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["id"]
	user, err := identityFrom(r)
	if err != nil {
		sendDomainError(w, h.logger, err)
		return
	}

	doc, err := h.docs.Get(r.Context(), documentID)
	if err != nil {
		sendDomainError(w, h.logger, err)
		return
	}
	if doc.Owner != user {
		sendDomainError(w, h.logger, models.NewForbiddenError(documentID, user, string(models.PermissionOwner)))
		return
	}

	if err := h.docs.Delete(r.Context(), documentID); err != nil {
		sendDomainError(w, h.logger, err)
		return
	}
	if err := h.status.Delete(r.Context(), doc.StorageBucket, doc.StorageKey); err != nil {
		h.logger.Printf("[DOCUMENTS] failed to drop status for %s: %v", documentID, err)
	}

	sendJSON(w, h.logger, http.StatusOK, map[string]string{
		"status":      "deleted",
		"document_id": documentID,
	})
}

// ReindexRequest names the chunks to re-embed
type ReindexRequest struct {
	ChunkIDs []string `json:"chunk_ids"`
}

// Reindex re-embeds the named chunks of a document
// @Summary Reindex chunks
// @Description Deletes the named chunks and their index rows, then re-embeds and re-inserts them under a tracked job
// @Tags documents
// @Accept json
// @Produce json
// @Param id path string true "Document ID"
// @Param request body ReindexRequest true "Chunk IDs"
// @Success 200 {object} models.EmbeddingJob
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/documents/{id}/reindex [post]
func (h *DocumentHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["id"]
	user, err := identityFrom(r)
	if err != nil {
		sendDomainError(w, h.logger, err)
		return
	}

	var req ReindexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.ChunkIDs) == 0 {
		sendError(w, h.logger, http.StatusBadRequest, "chunk_ids is required")
		return
	}

	job, err := h.reindex.ReindexChunks(r.Context(), user, documentID, req.ChunkIDs)
	if err != nil {
		sendDomainError(w, h.logger, err)
		return
	}
	sendJSON(w, h.logger, http.StatusOK, job)
}

// queryInt parses an integer query parameter with a fallback
func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
