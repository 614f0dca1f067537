package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"rag-engine/internal/models"
	"rag-engine/internal/services"
)

// HybridSearcher runs dense + sparse fused retrieval
type HybridSearcher interface {
	Search(ctx context.Context, req *services.SearchRequest) (*services.SearchResponse, error)
	GetCacheStats() map[string]interface{}
}

// VisualSearcher runs late-interaction retrieval over page patches
type VisualSearcher interface {
	SearchPages(ctx context.Context, query, documentID string, topK int) ([]*models.PageResult, error)
	SearchCombined(ctx context.Context, req *services.CombinedSearchRequest) ([]*models.CombinedResult, error)
}

// AccessChecker answers visibility questions for retrieval scoping
type AccessChecker interface {
	Check(ctx context.Context, objectID, principalID string, required models.Permission) (bool, error)
}

// SearchHandler handles HTTP requests for retrieval operations
type SearchHandler struct {
	hybrid HybridSearcher
	visual VisualSearcher
	access AccessChecker
	logger *log.Logger
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(hybrid HybridSearcher, visual VisualSearcher, access AccessChecker, logger *log.Logger) *SearchHandler {
	return &SearchHandler{
		hybrid: hybrid,
		visual: visual,
		access: access,
		logger: logger,
	}
}

// checkVisibility enforces read access on a document-scoped query. Unscoped
// queries carry no object to check here; the repository restricts them to
// documents the caller owns or was granted.
func (h *SearchHandler) checkVisibility(r *http.Request, documentID, user string) error {
	if documentID == "" {
		return nil
	}
	allowed, err := h.access.Check(r.Context(), documentID, user, models.PermissionRead)
	if err != nil {
		return err
	}
	if !allowed {
		return models.NewForbiddenError(documentID, user, string(models.PermissionRead))
	}
	return nil
}

// Search runs hybrid dense + BM25 retrieval
// @Summary Hybrid search
// @Description Fuses dense vector similarity and BM25 over a document's chunks, weighted or by reciprocal rank
// @Tags search
// @Accept json
// @Produce json
// @Param query body services.SearchRequest true "Search request"
// @Success 200 {object} services.SearchResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /api/v1/search [post]
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req services.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := identityFrom(r)
	if err != nil {
		sendDomainError(w, h.logger, err)
		return
	}
	req.Principal = user

	if err := h.checkVisibility(r, req.DocumentID, user); err != nil {
		sendDomainError(w, h.logger, err)
		return
	}

	resp, err := h.hybrid.Search(r.Context(), &req)
	if err != nil {
		sendDomainError(w, h.logger, err)
		return
	}
	sendJSON(w, h.logger, http.StatusOK, resp)
}

// VisualSearchRequest asks for page or combined retrieval on a visual document
type VisualSearchRequest struct {
	Query       string  `json:"query"`
	DocumentID  string  `json:"document_id"`
	TopK        int     `json:"top_k"`
	Combined    bool    `json:"combined"`
	ChunkWeight float64 `json:"chunk_weight"`
	PageWeight  float64 `json:"page_weight"`
}

// VisualSearch runs late-interaction retrieval
// @Summary Visual search
// @Description Scores pages by late-interaction MaxSim; with combined=true merges the page and chunk channels
// @Tags search
// @Accept json
// @Produce json
// @Param query body VisualSearchRequest true "Visual search request"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /api/v1/search/visual [post]
func (h *SearchHandler) VisualSearch(w http.ResponseWriter, r *http.Request) {
	var req VisualSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DocumentID == "" {
		sendError(w, h.logger, http.StatusBadRequest, "document_id is required")
		return
	}

	user, err := identityFrom(r)
	if err != nil {
		sendDomainError(w, h.logger, err)
		return
	}
	if err := h.checkVisibility(r, req.DocumentID, user); err != nil {
		sendDomainError(w, h.logger, err)
		return
	}

	if req.Combined {
		results, err := h.visual.SearchCombined(r.Context(), &services.CombinedSearchRequest{
			Query:       req.Query,
			DocumentID:  req.DocumentID,
			TopK:        req.TopK,
			ChunkWeight: req.ChunkWeight,
			PageWeight:  req.PageWeight,
		})
		if err != nil {
			sendDomainError(w, h.logger, err)
			return
		}
		sendJSON(w, h.logger, http.StatusOK, map[string]interface{}{"results": results})
		return
	}

	pages, err := h.visual.SearchPages(r.Context(), req.Query, req.DocumentID, req.TopK)
	if err != nil {
		sendDomainError(w, h.logger, err)
		return
	}
	sendJSON(w, h.logger, http.StatusOK, map[string]interface{}{"results": pages})
}

// CacheStats reports hit/miss counts of the search cache
// @Summary Search cache stats
// @Tags search
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/search/cache [get]
func (h *SearchHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, h.logger, http.StatusOK, h.hybrid.GetCacheStats())
}
