package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"rag-engine/internal/handlers"
)

// Handlers bundles every HTTP handler the router mounts
type Handlers struct {
	Basic    *handlers.BasicHandler
	Ingest   *handlers.IngestHandler
	Search   *handlers.SearchHandler
	Document *handlers.DocumentHandler
	Status   *handlers.StatusHandler
	Access   *handlers.AccessHandler
	Job      *handlers.JobHandler
	Stats    *handlers.StatsHandler

	// StatusSocket upgrades to the status fan-out WebSocket
	StatusSocket http.Handler
	// Metrics serves the Prometheus scrape endpoint
	Metrics http.Handler
	// Swagger serves the generated API docs
	Swagger http.Handler
}

// RegisterRoutes sets up all application routes. Everything under /api/v1 and
// the status WebSocket require a verified bearer token; health, readiness,
// metrics and docs stay open.
func RegisterRoutes(r *mux.Router, h *Handlers, authMW func(http.Handler) http.Handler) {
	// Health endpoints
	r.HandleFunc("/health", h.Basic.Health).Methods(http.MethodGet)
	r.HandleFunc("/ready", h.Basic.Ready).Methods(http.MethodGet)

	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics).Methods(http.MethodGet)
	}
	if h.Swagger != nil {
		r.PathPrefix("/swagger/").Handler(h.Swagger)
	}

	// Status fan-out. The WebSocket handshake cannot carry an Authorization
	// header from a browser, so the middleware also accepts ?token=.
	if h.StatusSocket != nil {
		r.Handle("/ws/status", authMW(h.StatusSocket))
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(mux.MiddlewareFunc(authMW))

	// Ingestion intake
	api.HandleFunc("/ingest/notifications", h.Ingest.Notifications).Methods(http.MethodPost)

	// Retrieval
	api.HandleFunc("/search", h.Search.Search).Methods(http.MethodPost)
	api.HandleFunc("/search/visual", h.Search.VisualSearch).Methods(http.MethodPost)
	api.HandleFunc("/search/cache", h.Search.CacheStats).Methods(http.MethodGet)

	// Document registry
	api.HandleFunc("/documents", h.Document.List).Methods(http.MethodGet)
	api.HandleFunc("/documents/{id}", h.Document.Get).Methods(http.MethodGet)
	api.HandleFunc("/documents/{id}", h.Document.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/documents/{id}/reindex", h.Document.Reindex).Methods(http.MethodPost)

	// Status plane (polling read path)
	api.HandleFunc("/status/{bucket}/{key:.+}", h.Status.Get).Methods(http.MethodGet)

	// Access grants
	api.HandleFunc("/access/grants", h.Access.Grant).Methods(http.MethodPost)
	api.HandleFunc("/access/revoke", h.Access.Revoke).Methods(http.MethodPost)
	api.HandleFunc("/access/check", h.Access.Check).Methods(http.MethodGet)
	api.HandleFunc("/access/simulate", h.Access.Simulate).Methods(http.MethodPost)

	// Embedding job ledger
	api.HandleFunc("/jobs", h.Job.Init).Methods(http.MethodPost)
	api.HandleFunc("/jobs", h.Job.List).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", h.Job.Get).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}/stop", h.Job.Stop).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}/result", h.Job.SetResult).Methods(http.MethodPost)

	// Runtime stats
	api.HandleFunc("/workers/stats", h.Stats.Workers).Methods(http.MethodGet)
	api.HandleFunc("/stats", h.Stats.Runtime).Methods(http.MethodGet)

	// Main routes
	r.HandleFunc("/", h.Basic.Home)
}
