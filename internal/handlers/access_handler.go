package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"rag-engine/internal/models"
)

// AccessManager is the grant administration surface of the access service
type AccessManager interface {
	Grant(ctx context.Context, objectID, caller string, principals []string, level models.Permission, objectType, policy string) error
	Revoke(ctx context.Context, objectID, caller, principalID string) error
	Check(ctx context.Context, objectID, principalID string, required models.Permission) (bool, error)
	Simulate(ctx context.Context, objectIDs []string, principalID string, levels []models.Permission) (map[string]map[models.Permission]bool, error)
}

// AccessHandler handles HTTP requests for access grants
type AccessHandler struct {
	access AccessManager
	logger *log.Logger
}

// NewAccessHandler creates a new access handler
func NewAccessHandler(access AccessManager, logger *log.Logger) *AccessHandler {
	return &AccessHandler{access: access, logger: logger}
}

// GrantRequest shares an object with a set of principals
type GrantRequest struct {
	ObjectID   string   `json:"object_id"`
	Principals []string `json:"principals"`
	Level      string   `json:"level"`
	ObjectType string   `json:"object_type"`
	Policy     string   `json:"policy"`
}

// Grant shares an object with other principals
// @Summary Grant access
// @Description Grants the named principals a permission level on an object. Only the owner may grant.
// @Tags access
// @Accept json
// @Produce json
// @Param request body GrantRequest true "Grant request"
// @Success 200 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /api/v1/access/grants [post]
func (h *AccessHandler) Grant(w http.ResponseWriter, r *http.Request) {
	user, err := identityFrom(r)
	if err != nil {
		sendDomainError(w, h.logger, err)
		return
	}

	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ObjectID == "" {
		sendError(w, h.logger, http.StatusBadRequest, "object_id is required")
		return
	}
	if len(req.Principals) == 0 {
		sendError(w, h.logger, http.StatusBadRequest, "principals is required")
		return
	}

	err = h.access.Grant(r.Context(), req.ObjectID, user, req.Principals, models.Permission(req.Level), req.ObjectType, req.Policy)
	if err != nil {
		sendDomainError(w, h.logger, err)
		return
	}
	sendJSON(w, h.logger, http.StatusOK, map[string]string{
		"status":    "granted",
		"object_id": req.ObjectID,
	})
}

// RevokeRequest removes a principal's grant on an object
type RevokeRequest struct {
	ObjectID    string `json:"object_id"`
	PrincipalID string `json:"principal_id"`
}

// Revoke removes a principal's grant
// @Summary Revoke access
// @Tags access
// @Accept json
// @Produce json
// @Param request body RevokeRequest true "Revoke request"
// @Success 200 {object} map[string]string
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /api/v1/access/revoke [post]
func (h *AccessHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	user, err := identityFrom(r)
	if err != nil {
		sendDomainError(w, h.logger, err)
		return
	}

	var req RevokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ObjectID == "" || req.PrincipalID == "" {
		sendError(w, h.logger, http.StatusBadRequest, "object_id and principal_id are required")
		return
	}

	if err := h.access.Revoke(r.Context(), req.ObjectID, user, req.PrincipalID); err != nil {
		sendDomainError(w, h.logger, err)
		return
	}
	sendJSON(w, h.logger, http.StatusOK, map[string]string{
		"status":    "revoked",
		"object_id": req.ObjectID,
	})
}

// Check answers a single access question for the caller
// @Summary Check access
// @Tags access
// @Produce json
// @Param object_id query string true "Object ID"
// @Param level query string false "Permission level" default(read)
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/access/check [get]
func (h *AccessHandler) Check(w http.ResponseWriter, r *http.Request) {
	user, err := identityFrom(r)
	if err != nil {
		sendDomainError(w, h.logger, err)
		return
	}

	objectID := r.URL.Query().Get("object_id")
	if objectID == "" {
		sendError(w, h.logger, http.StatusBadRequest, "object_id is required")
		return
	}
	level := models.Permission(r.URL.Query().Get("level"))
	if level == "" {
		level = models.PermissionRead
	}

	allowed, err := h.access.Check(r.Context(), objectID, user, level)
	if err != nil {
		sendDomainError(w, h.logger, err)
		return
	}
	sendJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"object_id": objectID,
		"level":     level,
		"allowed":   allowed,
	})
}

// SimulateRequest evaluates a permission matrix without enforcement
type SimulateRequest struct {
	ObjectIDs   []string `json:"object_ids"`
	PrincipalID string   `json:"principal_id"`
	Levels      []string `json:"levels"`
}

// Simulate evaluates a matrix of objects and levels for a principal
// @Summary Simulate access
// @Description Answers, without enforcing, whether a principal would hold each level on each object
// @Tags access
// @Accept json
// @Produce json
// @Param request body SimulateRequest true "Simulation request"
// @Success 200 {object} map[string]map[string]bool
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/access/simulate [post]
func (h *AccessHandler) Simulate(w http.ResponseWriter, r *http.Request) {
	user, err := identityFrom(r)
	if err != nil {
		sendDomainError(w, h.logger, err)
		return
	}

	var req SimulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.ObjectIDs) == 0 {
		sendError(w, h.logger, http.StatusBadRequest, "object_ids is required")
		return
	}
	principal := req.PrincipalID
	if principal == "" {
		principal = user
	}
	levels := make([]models.Permission, 0, len(req.Levels))
	for _, l := range req.Levels {
		levels = append(levels, models.Permission(l))
	}
	if len(levels) == 0 {
		levels = []models.Permission{models.PermissionRead}
	}

	matrix, err := h.access.Simulate(r.Context(), req.ObjectIDs, principal, levels)
	if err != nil {
		sendDomainError(w, h.logger, err)
		return
	}
	sendJSON(w, h.logger, http.StatusOK, matrix)
}
