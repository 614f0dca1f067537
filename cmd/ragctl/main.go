// ragctl is the operator CLI for the ingestion and retrieval core. It talks
// directly to the backing stores, so it works even when the API server is
// down.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"rag-engine/internal/db"
	"rag-engine/internal/metrics"
	"rag-engine/internal/models"
	"rag-engine/internal/repositories"
	"rag-engine/internal/services"
	"rag-engine/internal/storage"
)

// Exit codes. Scripts branch on these.
const (
	exitOK        = 0
	exitError     = 1
	exitForbidden = 2
	exitNotFound  = 3
)

type globalOptions struct {
	Timeout time.Duration `long:"timeout" default:"30s" description:"Deadline for the whole command"`
}

var opts globalOptions

func main() {
	godotenv.Load()

	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)

	mustAdd(parser, "status", "Show a document's pipeline status",
		"Reads the status record for an object by its storage coordinates.", &cmdStatus{})
	mustAdd(parser, "cancel", "Cancel a running embedding job",
		"Raises the stop flag. Workers notice between chunks; partial work stays persisted.", &cmdCancel{})
	mustAdd(parser, "reindex", "Re-embed chunks of a document",
		"Deletes the named chunks and their index rows, then re-embeds them in place. With no chunk ids the whole document is reindexed.", &cmdReindex{})
	mustAdd(parser, "sweep-secrets", "Remove orphaned secret parcels",
		"Deletes secret parcels whose document no longer has a live status record.", &cmdSweepSecrets{})

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			fmt.Println(err)
			os.Exit(exitOK)
		}
		fail(err)
	}
}

func mustAdd(parser *flags.Parser, name, short, long string, cmd interface{}) {
	if _, err := parser.AddCommand(name, short, long, cmd); err != nil {
		log.Fatalf("registering %s: %v", name, err)
	}
}

// fail prints the error and exits with the code its class maps to.
func fail(err error) {
	fmt.Fprintf(os.Stderr, "ragctl: %v\n", err)
	switch {
	case models.IsForbidden(err):
		os.Exit(exitForbidden)
	case models.IsNotFound(err):
		os.Exit(exitNotFound)
	default:
		os.Exit(exitError)
	}
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fail(err)
	}
}

func commandContext() (context.Context, context.CancelFunc) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

// ============================================================================
// Backends
// ============================================================================

func dialRedis(ctx context.Context) *db.RedisClient {
	config := db.DefaultRedisConfig()
	config.Host = envOr("REDIS_HOST", config.Host)
	config.Password = envOr("REDIS_PASSWORD", config.Password)

	client, err := db.NewRedisClient(config)
	if err != nil {
		fail(err)
	}
	if err := client.Ping(ctx); err != nil {
		fail(fmt.Errorf("redis unreachable: %w", err))
	}
	return client
}

func dialPostgres(ctx context.Context) *db.PostgresClient {
	config := db.DefaultPostgresConfig()
	config.Host = envOr("POSTGRES_HOST", config.Host)
	config.User = envOr("POSTGRES_USER", config.User)
	config.Password = envOr("POSTGRES_PASSWORD", config.Password)
	config.Database = envOr("POSTGRES_DB", config.Database)

	client, err := db.NewPostgresClient(ctx, config)
	if err != nil {
		fail(fmt.Errorf("postgres unreachable: %w", err))
	}
	return client
}

func dialObjectStore() storage.ObjectStore {
	config := db.DefaultMinioConfig()
	config.Endpoint = envOr("MINIO_ENDPOINT", config.Endpoint)
	config.AccessKey = envOr("MINIO_ACCESS_KEY", config.AccessKey)
	config.SecretKey = envOr("MINIO_SECRET_KEY", config.SecretKey)

	client, err := db.NewMinioClient(config)
	if err != nil {
		fail(err)
	}
	return storage.NewMinioStore(client.GetClient())
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// quietLogger keeps service chatter off the CLI's stdout.
var quietLogger = log.New(os.Stderr, "", 0)

// ============================================================================
// status <bucket> <key>
// ============================================================================

type cmdStatus struct {
	Args struct {
		Bucket string `positional-arg-name:"bucket" required:"true"`
		Key    string `positional-arg-name:"key" required:"true"`
	} `positional-args:"true"`
}

func (c *cmdStatus) Execute(args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	redis := dialRedis(ctx)
	defer redis.Close()

	repo := repositories.NewRedisStatusRepository(redis.GetClient())
	record, err := repo.Get(ctx, models.StatusID(c.Args.Bucket, c.Args.Key))
	if err != nil {
		fail(err)
	}
	if record == nil {
		fail(&models.NotFoundError{Kind: "status record", ID: models.StatusID(c.Args.Bucket, c.Args.Key)})
	}
	printJSON(record)
	return nil
}

// ============================================================================
// cancel <jobId> --user
// ============================================================================

type cmdCancel struct {
	User string `long:"user" required:"true" description:"Owner of the job"`
	Args struct {
		JobID string `positional-arg-name:"jobId" required:"true"`
	} `positional-args:"true"`
}

func (c *cmdCancel) Execute(args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	redis := dialRedis(ctx)
	defer redis.Close()

	jobs := services.NewJobService(
		repositories.NewRedisJobRepository(redis.GetClient()),
		nil, nil, nil, nil, nil, "", metrics.New(), quietLogger,
	)
	job, err := jobs.Stop(ctx, c.User, c.Args.JobID)
	if err != nil {
		fail(err)
	}
	printJSON(job)
	return nil
}

// ============================================================================
// reindex <docId> [chunkId...] --user
// ============================================================================

type cmdReindex struct {
	User string `long:"user" required:"true" description:"Owner of the document"`
	Args struct {
		DocumentID string   `positional-arg-name:"documentId" required:"true"`
		ChunkIDs   []string `positional-arg-name:"chunkId"`
	} `positional-args:"true"`
}

func (c *cmdReindex) Execute(args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	redis := dialRedis(ctx)
	defer redis.Close()
	pg := dialPostgres(ctx)
	defer pg.Close()

	chunkRepo := repositories.NewPostgresChunkRepository(pg.Pool())
	pageRepo := repositories.NewPostgresPageRepository(pg.Pool())
	embedClient := services.NewEmbedClient(envOr("EMBED_API_URL", "http://localhost:8100"))
	embedder := services.NewEmbedderService(embedClient, chunkRepo, pageRepo, quietLogger)
	bm25 := services.NewBM25Service(repositories.NewPostgresBM25Repository(pg.Pool()), quietLogger)

	jobs := services.NewJobService(
		repositories.NewRedisJobRepository(redis.GetClient()),
		repositories.NewPostgresDocumentRepository(pg.Pool()),
		chunkRepo,
		dialObjectStore(),
		embedder,
		bm25,
		envOr("RESULT_BUCKET", "rag-results"),
		metrics.New(),
		quietLogger,
	)

	job, err := jobs.ReindexChunks(ctx, c.User, c.Args.DocumentID, c.Args.ChunkIDs)
	if err != nil {
		fail(err)
	}
	printJSON(job)
	return nil
}

// ============================================================================
// sweep-secrets
// ============================================================================

type cmdSweepSecrets struct{}

func (c *cmdSweepSecrets) Execute(args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	redis := dialRedis(ctx)
	defer redis.Close()

	secrets := services.NewSecretService(
		repositories.NewRedisSecretRepository(redis.GetClient(), envOr("SECRETS_STAGE", "dev")),
		repositories.NewRedisStatusRepository(redis.GetClient()),
		metrics.New(),
		quietLogger,
	)
	removed, err := secrets.Sweep(ctx)
	if err != nil {
		fail(err)
	}
	printJSON(map[string]int{"removed": removed})
	return nil
}
