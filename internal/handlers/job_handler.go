package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"rag-engine/internal/models"
)

// JobLedger is the job tracking surface exposed over HTTP
type JobLedger interface {
	Init(ctx context.Context, user, documentID string, initial models.JobState) (*models.EmbeddingJob, error)
	Get(ctx context.Context, user, jobID string) (*models.EmbeddingJob, error)
	List(ctx context.Context, user string) ([]*models.EmbeddingJob, error)
	Stop(ctx context.Context, user, jobID string) (*models.EmbeddingJob, error)
	SetResult(ctx context.Context, user, jobID string, result map[string]interface{}, storeBlob bool) (*models.EmbeddingJob, error)
}

// JobHandler handles HTTP requests for the embedding job ledger
type JobHandler struct {
	jobs   JobLedger
	logger *log.Logger
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobs JobLedger, logger *log.Logger) *JobHandler {
	return &JobHandler{jobs: jobs, logger: logger}
}

// InitJobRequest creates a job ledger entry
type InitJobRequest struct {
	DocumentID string `json:"document_id"`
	State      string `json:"state"`
}

// Init creates a job ledger entry
// @Summary Create job
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body InitJobRequest true "Job request"
// @Success 200 {object} models.EmbeddingJob
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/jobs [post]
func (h *JobHandler) Init(w http.ResponseWriter, r *http.Request) {
	user, err := identityFrom(r)
	if err != nil {
		sendDomainError(w, h.logger, err)
		return
	}

	var req InitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	state := models.JobState(req.State)
	if state == "" {
		state = models.JobStateQueued
	}

	job, err := h.jobs.Init(r.Context(), user, req.DocumentID, state)
	if err != nil {
		sendDomainError(w, h.logger, err)
		return
	}
	sendJSON(w, h.logger, http.StatusOK, job)
}

// Get returns one job
// @Summary Get job
// @Tags jobs
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} models.EmbeddingJob
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/jobs/{id} [get]
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := identityFrom(r)
	if err != nil {
		sendDomainError(w, h.logger, err)
		return
	}

	job, err := h.jobs.Get(r.Context(), user, mux.Vars(r)["id"])
	if err != nil {
		sendDomainError(w, h.logger, err)
		return
	}
	sendJSON(w, h.logger, http.StatusOK, job)
}

// List returns the caller's jobs
// @Summary List jobs
// @Tags jobs
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/jobs [get]
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	user, err := identityFrom(r)
	if err != nil {
		sendDomainError(w, h.logger, err)
		return
	}

	jobs, err := h.jobs.List(r.Context(), user)
	if err != nil {
		sendDomainError(w, h.logger, err)
		return
	}
	sendJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// Stop requests cooperative cancellation of a running job
// @Summary Stop job
// @Description Flags the job stopped. Workers notice between chunks; work already persisted stays persisted.
// @Tags jobs
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} models.EmbeddingJob
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/jobs/{id}/stop [post]
func (h *JobHandler) Stop(w http.ResponseWriter, r *http.Request) {
	user, err := identityFrom(r)
	if err != nil {
		sendDomainError(w, h.logger, err)
		return
	}

	job, err := h.jobs.Stop(r.Context(), user, mux.Vars(r)["id"])
	if err != nil {
		sendDomainError(w, h.logger, err)
		return
	}
	sendJSON(w, h.logger, http.StatusOK, job)
}

// SetResultRequest records the outcome payload of a job
type SetResultRequest struct {
	Result    map[string]interface{} `json:"result"`
	StoreBlob bool                   `json:"store_blob"`
}

// SetResult records the job's outcome and marks it finished
// @Summary Set job result
// @Description Records the result payload. With store_blob the payload is written to the object store and the ledger keeps a reference.
// @Tags jobs
// @Accept json
// @Produce json
// @Param id path string true "Job ID"
// @Param request body SetResultRequest true "Result payload"
// @Success 200 {object} models.EmbeddingJob
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/jobs/{id}/result [post]
func (h *JobHandler) SetResult(w http.ResponseWriter, r *http.Request) {
	user, err := identityFrom(r)
	if err != nil {
		sendDomainError(w, h.logger, err)
		return
	}

	var req SetResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Result == nil {
		sendError(w, h.logger, http.StatusBadRequest, "result is required")
		return
	}

	job, err := h.jobs.SetResult(r.Context(), user, mux.Vars(r)["id"], req.Result, req.StoreBlob)
	if err != nil {
		sendDomainError(w, h.logger, err)
		return
	}
	sendJSON(w, h.logger, http.StatusOK, job)
}
