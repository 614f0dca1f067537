package repositories

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"rag-engine/internal/models"
)

const (
	// Redis key prefixes for embedding jobs. The stop prefix must not be a
	// jobKeyPrefix extension: "embedjob:stop:u:j" would collide with the job
	// record of a user literally named "stop".
	jobKeyPrefix       = "embedjob:"
	jobUserIndexPrefix = "embedjobs:user:"
	jobStopKeyPrefix   = "embedjob-stop:"

	// jobTTL bounds how long finished ledgers linger.
	jobTTL = 7 * 24 * time.Hour
)

// RedisJobRepository implements JobRepository using Redis.
type RedisJobRepository struct {
	client *redis.Client
}

// NewRedisJobRepository creates a new Redis-based job repository.
func NewRedisJobRepository(client *redis.Client) *RedisJobRepository {
	return &RedisJobRepository{client: client}
}

func jobKey(user, jobID string) string {
	return jobKeyPrefix + user + ":" + jobID
}

// Create stores a new job and adds it to the user's index.
func (r *RedisJobRepository) Create(ctx context.Context, job *models.EmbeddingJob) error {
	if err := job.Validate(); err != nil {
		return err
	}

	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now

	payload, err := json.Marshal(job)
	if err != nil {
		return models.NewUpstreamError("redis", "create job", err)
	}

	// Transaction keeps the record and the user index in step.
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, jobKey(job.User, job.JobID), payload, jobTTL)
	pipe.SAdd(ctx, jobUserIndexPrefix+job.User, job.JobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return models.NewUpstreamError("redis", "create job", err)
	}
	return nil
}

// Get retrieves a job for a user.
func (r *RedisJobRepository) Get(ctx context.Context, user, jobID string) (*models.EmbeddingJob, error) {
	stored, err := r.client.Get(ctx, jobKey(user, jobID)).Result()
	if err == redis.Nil {
		return nil, models.NewJobNotFoundError(jobID)
	}
	if err != nil {
		return nil, models.NewUpstreamError("redis", "get job", err)
	}

	var job models.EmbeddingJob
	if err := json.Unmarshal([]byte(stored), &job); err != nil {
		return nil, models.NewUpstreamError("redis", "get job", err)
	}
	return &job, nil
}

// Update overwrites a stored job.
func (r *RedisJobRepository) Update(ctx context.Context, job *models.EmbeddingJob) error {
	if err := job.Validate(); err != nil {
		return err
	}

	key := jobKey(job.User, job.JobID)
	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return models.NewUpstreamError("redis", "update job", err)
	}
	if exists == 0 {
		return models.NewJobNotFoundError(job.JobID)
	}

	job.UpdatedAt = time.Now()
	payload, err := json.Marshal(job)
	if err != nil {
		return models.NewUpstreamError("redis", "update job", err)
	}
	if err := r.client.Set(ctx, key, payload, jobTTL).Err(); err != nil {
		return models.NewUpstreamError("redis", "update job", err)
	}
	return nil
}

// ListByUser returns all jobs of a user via the index set and one pipelined
// batch read. Index entries whose record expired are skipped.
func (r *RedisJobRepository) ListByUser(ctx context.Context, user string) ([]*models.EmbeddingJob, error) {
	jobIDs, err := r.client.SMembers(ctx, jobUserIndexPrefix+user).Result()
	if err != nil {
		return nil, models.NewUpstreamError("redis", "list jobs", err)
	}
	if len(jobIDs) == 0 {
		return []*models.EmbeddingJob{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(jobIDs))
	for i, id := range jobIDs {
		cmds[i] = pipe.Get(ctx, jobKey(user, id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, models.NewUpstreamError("redis", "list jobs", err)
	}

	jobs := make([]*models.EmbeddingJob, 0, len(jobIDs))
	for i, cmd := range cmds {
		stored, err := cmd.Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, models.NewUpstreamError("redis", "list jobs", err)
		}

		var job models.EmbeddingJob
		if err := json.Unmarshal([]byte(stored), &job); err != nil {
			return nil, models.NewUpstreamError("redis", "list jobs: "+jobIDs[i], err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// SetStopFlag marks a job for cooperative cancellation.
func (r *RedisJobRepository) SetStopFlag(ctx context.Context, user, jobID string) error {
	if err := r.client.Set(ctx, jobStopKeyPrefix+user+":"+jobID, "1", jobTTL).Err(); err != nil {
		return models.NewUpstreamError("redis", "set stop flag", err)
	}
	return nil
}

// IsStopRequested reports whether the stop flag is set.
func (r *RedisJobRepository) IsStopRequested(ctx context.Context, user, jobID string) (bool, error) {
	n, err := r.client.Exists(ctx, jobStopKeyPrefix+user+":"+jobID).Result()
	if err != nil {
		return false, models.NewUpstreamError("redis", "check stop flag", err)
	}
	return n > 0, nil
}

// Delete removes a job, its stop flag and its index entry.
func (r *RedisJobRepository) Delete(ctx context.Context, user, jobID string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, jobKey(user, jobID))
	pipe.Del(ctx, jobStopKeyPrefix+user+":"+jobID)
	pipe.SRem(ctx, jobUserIndexPrefix+user, jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return models.NewUpstreamError("redis", "delete job", err)
	}
	return nil
}
