package handlers

import (
	"log"
	"net/http"

	"rag-engine/internal/workers"
)

// WorkerStatsSource exposes per-worker counters
type WorkerStatsSource interface {
	GetAllStats() []workers.WorkerStats
}

// HubStatsSource exposes WebSocket fan-out counters
type HubStatsSource interface {
	Stats() map[string]interface{}
}

// StatsHandler serves the operator-facing counters of the runtime
type StatsHandler struct {
	pool   WorkerStatsSource
	hub    HubStatsSource
	search HybridSearcher
	logger *log.Logger
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(pool WorkerStatsSource, hub HubStatsSource, search HybridSearcher, logger *log.Logger) *StatsHandler {
	return &StatsHandler{
		pool:   pool,
		hub:    hub,
		search: search,
		logger: logger,
	}
}

// Workers returns stats of every registered worker
// @Summary Worker stats
// @Tags stats
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/workers/stats [get]
func (h *StatsHandler) Workers(w http.ResponseWriter, r *http.Request) {
	stats := h.pool.GetAllStats()
	sendJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"workers": stats,
		"count":   len(stats),
	})
}

// Runtime returns the aggregated runtime counters
// @Summary Runtime stats
// @Description Worker, WebSocket hub and search cache counters in one payload
// @Tags stats
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/stats [get]
func (h *StatsHandler) Runtime(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, h.logger, http.StatusOK, map[string]interface{}{
		"workers":      h.pool.GetAllStats(),
		"websocket":    h.hub.Stats(),
		"search_cache": h.search.GetCacheStats(),
	})
}
