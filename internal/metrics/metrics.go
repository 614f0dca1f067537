package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the ingestion and retrieval
// core. Register once at startup and share the instance.
type Metrics struct {
	DocumentsIngested *prometheus.CounterVec
	DocumentsFailed   *prometheus.CounterVec
	ChunksEmbedded    prometheus.Counter
	PagesEmbedded     prometheus.Counter
	EmbeddingLatency  prometheus.Histogram
	SearchLatency     *prometheus.HistogramVec
	SearchRequests    *prometheus.CounterVec
	QueueDepth        *prometheus.GaugeVec
	StatusUpdates     prometheus.Counter
	WebsocketClients  prometheus.Gauge
	SecretsSwept      prometheus.Counter
	JobsStopped       prometheus.Counter
}

// New creates and registers all collectors on the default registry
func New() *Metrics {
	return newWith(promauto.With(prometheus.DefaultRegisterer))
}

// NewWithRegistry creates the collectors on a private registry. Tests use
// this to avoid duplicate registration panics.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	return newWith(promauto.With(reg))
}

func newWith(factory promauto.Factory) *Metrics {
	return &Metrics{
		DocumentsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_documents_ingested_total",
			Help: "Documents that completed ingestion, labeled by lane",
		}, []string{"lane"}),
		DocumentsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_documents_failed_total",
			Help: "Documents that failed ingestion, labeled by stage",
		}, []string{"stage"}),
		ChunksEmbedded: factory.NewCounter(prometheus.CounterOpts{
			Name: "rag_chunks_embedded_total",
			Help: "Chunks written with a dense embedding",
		}),
		PagesEmbedded: factory.NewCounter(prometheus.CounterOpts{
			Name: "rag_pages_embedded_total",
			Help: "Visual pages written with a patch matrix",
		}),
		EmbeddingLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rag_embedding_call_seconds",
			Help:    "Latency of batched embedding API calls",
			Buckets: prometheus.DefBuckets,
		}),
		SearchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rag_search_seconds",
			Help:    "End to end retrieval latency, labeled by kind",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		SearchRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_search_requests_total",
			Help: "Retrieval requests, labeled by kind and outcome",
		}, []string{"kind", "outcome"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rag_lane_queue_depth",
			Help: "Messages ready in each lane queue",
		}, []string{"lane"}),
		StatusUpdates: factory.NewCounter(prometheus.CounterOpts{
			Name: "rag_status_updates_total",
			Help: "Status plane writes",
		}),
		WebsocketClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rag_websocket_clients",
			Help: "Connected status subscribers",
		}),
		SecretsSwept: factory.NewCounter(prometheus.CounterOpts{
			Name: "rag_secrets_swept_total",
			Help: "Orphaned secret parcels removed by the sweeper",
		}),
		JobsStopped: factory.NewCounter(prometheus.CounterOpts{
			Name: "rag_jobs_stopped_total",
			Help: "Embedding jobs cancelled cooperatively",
		}),
	}
}

// RecordDocumentIngested increments the per-lane ingest counter
func (m *Metrics) RecordDocumentIngested(lane string) {
	m.DocumentsIngested.WithLabelValues(lane).Inc()
}

// RecordDocumentFailed increments the per-stage failure counter
func (m *Metrics) RecordDocumentFailed(stage string) {
	m.DocumentsFailed.WithLabelValues(stage).Inc()
}

// RecordSearch observes one retrieval request
func (m *Metrics) RecordSearch(kind, outcome string, duration time.Duration) {
	m.SearchRequests.WithLabelValues(kind, outcome).Inc()
	m.SearchLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordEmbeddingCall observes one embedding API round trip
func (m *Metrics) RecordEmbeddingCall(duration time.Duration, chunks int) {
	m.EmbeddingLatency.Observe(duration.Seconds())
	m.ChunksEmbedded.Add(float64(chunks))
}

// SetQueueDepth records the current depth of a lane queue
func (m *Metrics) SetQueueDepth(lane string, depth int64) {
	m.QueueDepth.WithLabelValues(lane).Set(float64(depth))
}
