package handlers

import (
	"context"
	"log"
	"net/http"
	"time"
)

// Pinger is a connectivity probe on one backing system
type Pinger interface {
	Ping(ctx context.Context) error
}

// BasicHandler serves the health, readiness and root endpoints
type BasicHandler struct {
	probes map[string]Pinger
	logger *log.Logger
}

// NewBasicHandler creates the health surface. probes maps a backend name to
// its connectivity check; readiness requires every probe to pass.
func NewBasicHandler(probes map[string]Pinger, logger *log.Logger) *BasicHandler {
	return &BasicHandler{probes: probes, logger: logger}
}

// Health reports process liveness
// @Summary Health check
// @Description Reports whether the server process is up
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *BasicHandler) Health(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, h.logger, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Server is healthy",
	})
}

// Ready reports whether every backing system answers
// @Summary Readiness check
// @Description Probes Postgres, Redis and the object store
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /ready [get]
func (h *BasicHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	results := make(map[string]string, len(h.probes))
	ready := true
	for name, probe := range h.probes {
		if err := probe.Ping(ctx); err != nil {
			results[name] = err.Error()
			ready = false
			continue
		}
		results[name] = "ok"
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	sendJSON(w, h.logger, status, map[string]interface{}{
		"ready":    ready,
		"backends": results,
	})
}

// Home describes the service
// @Summary Service info
// @Description Names the service and its API version
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router / [get]
func (h *BasicHandler) Home(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		sendError(w, h.logger, http.StatusNotFound, "not found")
		return
	}
	sendJSON(w, h.logger, http.StatusOK, map[string]string{
		"service": "rag-engine",
		"api":     "/api/v1",
		"docs":    "/swagger/index.html",
	})
}
