package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"rag-engine/internal/auth"
	"rag-engine/internal/db"
	"rag-engine/internal/events"
	"rag-engine/internal/handlers"
	"rag-engine/internal/metrics"
	"rag-engine/internal/models"
	"rag-engine/internal/queue"
	"rag-engine/internal/repositories"
	"rag-engine/internal/routes"
	"rag-engine/internal/services"
	"rag-engine/internal/services/processors"
	"rag-engine/internal/storage"
	"rag-engine/internal/workers"
	"rag-engine/internal/ws"
)

// Server bundles the HTTP surface and the background runtime: lane workers,
// the secret sweeper and the WebSocket hub.
type Server struct {
	httpServer *http.Server
	pool       *workers.WorkerPool
	hub        *ws.Hub
	postgres   *db.PostgresClient
	redis      *db.RedisClient
	logger     *log.Logger
}

// corsMiddleware adds CORS headers to all responses
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// New wires the full runtime: backing stores, repositories, services, lane
// workers and the HTTP router. It fails fast when a backing store is
// unreachable; the pipeline has no degraded mode.
func New(ctx context.Context) (*Server, error) {
	logger := log.New(os.Stdout, "[SERVER] ", log.LstdFlags)

	// Backing stores
	pgConfig := getPostgresConfig()
	logger.Printf("Connecting to Postgres: %s:%d/%s", pgConfig.Host, pgConfig.Port, pgConfig.Database)
	pg, err := db.NewPostgresClient(ctx, pgConfig)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}

	redisConfig := getRedisConfig()
	logger.Printf("Connecting to Redis: %s:%d (DB: %d)", redisConfig.Host, redisConfig.Port, redisConfig.DB)
	redisClient, err := db.NewRedisClient(redisConfig)
	if err != nil {
		pg.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	if err := redisClient.Ping(ctx); err != nil {
		pg.Close()
		redisClient.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	minioConfig := getMinioConfig()
	logger.Printf("Connecting to object store: %s", minioConfig.Endpoint)
	minioClient, err := db.NewMinioClient(minioConfig)
	if err != nil {
		pg.Close()
		redisClient.Close()
		return nil, fmt.Errorf("connecting to object store: %w", err)
	}

	store := storage.NewMinioStore(minioClient.GetClient())

	// Repositories
	docRepo := repositories.NewPostgresDocumentRepository(pg.Pool())
	chunkRepo := repositories.NewPostgresChunkRepository(pg.Pool())
	pageRepo := repositories.NewPostgresPageRepository(pg.Pool())
	bm25Repo := repositories.NewPostgresBM25Repository(pg.Pool())
	accessRepo := repositories.NewPostgresAccessRepository(pg.Pool())
	statusRepo := repositories.NewRedisStatusRepository(redisClient.GetClient())
	jobRepo := repositories.NewRedisJobRepository(redisClient.GetClient())
	secretRepo := repositories.NewRedisSecretRepository(redisClient.GetClient(), envOr("SECRETS_STAGE", "dev"))

	// Shared plumbing
	m := metrics.New()
	bus := events.NewBus()
	hub := ws.NewHub(bus, m, log.New(os.Stdout, "[WS] ", log.LstdFlags))
	laneQueue := queue.NewRedisQueue(redisClient.GetClient(), log.New(os.Stdout, "[QUEUE] ", log.LstdFlags))

	// Upstream clients
	embedClient := services.NewEmbedClient(envOr("EMBED_API_URL", "http://localhost:8100"))
	parserClient := services.NewParserClient(envOr("PARSER_API_URL", "http://localhost:8200"))
	visionService := services.NewVisionServiceWithOptions(
		envOr("VISION_API_URL", "http://localhost:11434"),
		envOr("VISION_MODEL", "llava"),
	)

	// Services
	statusService := services.NewStatusService(statusRepo, bus, m, nil)
	secretService := services.NewSecretService(secretRepo, statusRepo, m, nil)
	accessService := services.NewAccessService(accessRepo, nil)
	classifier := services.NewClassifier(nil)
	embedderService := services.NewEmbedderService(embedClient, chunkRepo, pageRepo, nil)
	bm25Service := services.NewBM25Service(bm25Repo, nil)
	retrieverService := services.NewRetrieverService(embedClient, chunkRepo, bm25Service, nil)
	maxsimService := services.NewMaxSimService(embedClient, pageRepo, retrieverService, nil)
	jobService := services.NewJobService(jobRepo, docRepo, chunkRepo, store, embedderService,
		bm25Service, envOr("RESULT_BUCKET", "rag-results"), m, nil)

	laneQueues := map[models.Lane]string{
		models.LaneText:   envOr("TEXT_QUEUE", "ingest:text"),
		models.LaneVisual: envOr("VISUAL_QUEUE", "ingest:visual"),
	}
	ingestService := services.NewIngestService(store, statusService, secretService,
		classifier, laneQueue, laneQueues, m, nil)

	// Lane processors
	workerLogger := &workers.DefaultLogger{}
	registry := processors.NewRegistry()
	processors.RegisterAll(registry, processors.BaseProcessor{
		Store:    store,
		Docs:     docRepo,
		Status:   statusService,
		Jobs:     jobService,
		Embedder: embedderService,
		BM25:     bm25Service,
		Metrics:  m,
		Logger:   workerLogger,
	}, services.NewTextExtractor(parserClient, nil), services.NewVisualExtractor(parserClient, visionService, nil))

	// Background workers
	pool := workers.NewWorkerPool()
	for lane, queueName := range laneQueues {
		pool.AddWorker(workers.NewLaneWorker(workers.LaneWorkerConfig{
			WorkerConfig: workers.DefaultWorkerConfig(string(lane) + "-lane"),
			Queue:        laneQueue,
			QueueName:    queueName,
			Lane:         lane,
			Processor:    registry,
			Metrics:      m,
			Logger:       workerLogger,
		}))
	}
	pool.AddWorker(workers.NewSweepWorker(
		workers.DefaultWorkerConfig("secret-sweeper"),
		secretService,
		envDuration("SECRET_SWEEP_INTERVAL", workers.DefaultSweepInterval),
		workerLogger,
	))

	// Auth
	verifier := auth.NewVerifier(getVerifierConfig())
	authMW := auth.Middleware(verifier, logger)

	// HTTP surface
	h := &routes.Handlers{
		Basic: handlers.NewBasicHandler(map[string]handlers.Pinger{
			"postgres": pg,
			"redis":    redisClient,
			"minio":    minioClient,
		}, logger),
		Ingest:   handlers.NewIngestHandler(ingestService, logger),
		Search:   handlers.NewSearchHandler(retrieverService, maxsimService, accessService, logger),
		Document: handlers.NewDocumentHandler(docRepo, accessService, jobService, statusService, logger),
		Status:   handlers.NewStatusHandler(statusService, logger),
		Access:   handlers.NewAccessHandler(accessService, logger),
		Job:      handlers.NewJobHandler(jobService, logger),
		Stats:    handlers.NewStatsHandler(pool, hub, retrieverService, logger),

		StatusSocket: hub,
		Metrics:      promhttp.Handler(),
		Swagger: httpSwagger.Handler(
			httpSwagger.URL("/swagger/doc.json"),
			httpSwagger.DeepLinking(true),
			httpSwagger.DocExpansion("none"),
			httpSwagger.DomID("swagger-ui"),
		),
	}

	router := mux.NewRouter()
	routes.RegisterRoutes(router, h, authMW)

	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + envOr("PORT", "8080"),
			Handler:           corsMiddleware(router),
			ReadHeaderTimeout: 10 * time.Second,
		},
		pool:     pool,
		hub:      hub,
		postgres: pg,
		redis:    redisClient,
		logger:   logger,
	}, nil
}

// Run starts the hub, the worker pool and the HTTP listener, then blocks
// until SIGINT or SIGTERM and shuts everything down in reverse order.
// Workers stop before the stores close; a lane message cut off mid-flight
// returns through its visibility timeout.
func (s *Server) Run() error {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.hub.Run(runCtx)

	if err := s.pool.StartAll(runCtx); err != nil {
		return fmt.Errorf("starting workers: %w", err)
	}
	s.logger.Printf("Started %d background workers", s.pool.Count())

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("HTTP listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		s.logger.Printf("Received %v, shutting down", sig)
	case err := <-errCh:
		s.logger.Printf("HTTP server failed: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Printf("HTTP shutdown: %v", err)
	}
	if err := s.pool.StopAll(shutdownCtx); err != nil {
		s.logger.Printf("Worker shutdown: %v", err)
	}
	cancel()

	s.redis.Close()
	s.postgres.Close()
	s.logger.Println("Shutdown complete")
	return nil
}

// ============================================================================
// Environment configuration
// ============================================================================

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(name string, fallback time.Duration) time.Duration {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getPostgresConfig() db.PostgresConfig {
	config := db.DefaultPostgresConfig()
	config.Host = envOr("POSTGRES_HOST", config.Host)
	config.Port = envInt("POSTGRES_PORT", config.Port)
	config.User = envOr("POSTGRES_USER", config.User)
	config.Password = envOr("POSTGRES_PASSWORD", config.Password)
	config.Database = envOr("POSTGRES_DB", config.Database)
	config.SSLMode = envOr("POSTGRES_SSLMODE", config.SSLMode)
	return config
}

func getRedisConfig() db.RedisConfig {
	config := db.DefaultRedisConfig()
	config.Host = envOr("REDIS_HOST", config.Host)
	config.Port = envInt("REDIS_PORT", config.Port)
	config.Password = envOr("REDIS_PASSWORD", config.Password)
	config.DB = envInt("REDIS_DB", config.DB)
	config.PoolSize = envInt("REDIS_POOL_SIZE", config.PoolSize)
	return config
}

func getMinioConfig() db.MinioConfig {
	config := db.DefaultMinioConfig()
	config.Endpoint = envOr("MINIO_ENDPOINT", config.Endpoint)
	config.AccessKey = envOr("MINIO_ACCESS_KEY", config.AccessKey)
	config.SecretKey = envOr("MINIO_SECRET_KEY", config.SecretKey)
	config.UseSSL = os.Getenv("MINIO_USE_SSL") == "true"
	config.Region = envOr("MINIO_REGION", config.Region)
	return config
}

func getVerifierConfig() auth.VerifierConfig {
	config := auth.DefaultVerifierConfig()
	config.JWKSURL = envOr("JWKS_URL", "http://localhost:8090/.well-known/jwks.json")
	config.RefreshInterval = envDuration("JWKS_REFRESH_INTERVAL", config.RefreshInterval)
	return config
}
