package repositories

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"rag-engine/internal/models"
)

const (
	// Redis key prefix for status records
	statusKeyPrefix = "status:"

	// statusMergeRetries bounds optimistic retry when concurrent writers
	// race on the same record.
	statusMergeRetries = 5
)

// RedisStatusRepository implements StatusRepository using Redis. Merges run
// as WATCH-guarded read-modify-write transactions so concurrent pipeline
// stages cannot lose each other's progress.
type RedisStatusRepository struct {
	client *redis.Client
}

// NewRedisStatusRepository creates a new Redis-based status repository.
func NewRedisStatusRepository(client *redis.Client) *RedisStatusRepository {
	return &RedisStatusRepository{client: client}
}

// Upsert merges the record into the stored one and resets the TTL.
func (r *RedisStatusRepository) Upsert(ctx context.Context, record *models.StatusRecord) (*models.StatusRecord, error) {
	if err := record.Validate(); err != nil {
		return nil, err
	}

	key := statusKeyPrefix + record.ID()
	var merged *models.StatusRecord

	txn := func(tx *redis.Tx) error {
		stored, err := tx.Get(ctx, key).Result()
		if err != nil && err != redis.Nil {
			return err
		}

		result := *record
		if err == nil {
			var current models.StatusRecord
			if jsonErr := json.Unmarshal([]byte(stored), &current); jsonErr == nil {
				current.Merge(record)
				result = current
			}
			// An unreadable stored record is overwritten outright.
		}

		payload, err := json.Marshal(&result)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, models.StatusTTL)
			return nil
		})
		if err != nil {
			return err
		}
		merged = &result
		return nil
	}

	for attempt := 0; attempt < statusMergeRetries; attempt++ {
		err := r.client.Watch(ctx, txn, key)
		if err == nil {
			return merged, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, models.NewUpstreamError("redis", "upsert status", err)
	}
	return nil, models.NewUpstreamError("redis", "upsert status", redis.TxFailedErr)
}

// Get returns the record for a status id, or nil when none exists.
func (r *RedisStatusRepository) Get(ctx context.Context, statusID string) (*models.StatusRecord, error) {
	stored, err := r.client.Get(ctx, statusKeyPrefix+statusID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, models.NewUpstreamError("redis", "get status", err)
	}

	var record models.StatusRecord
	if err := json.Unmarshal([]byte(stored), &record); err != nil {
		return nil, models.NewUpstreamError("redis", "get status", err)
	}
	return &record, nil
}

// Exists reports whether a record is present for the status id.
func (r *RedisStatusRepository) Exists(ctx context.Context, statusID string) (bool, error) {
	n, err := r.client.Exists(ctx, statusKeyPrefix+statusID).Result()
	if err != nil {
		return false, models.NewUpstreamError("redis", "status exists", err)
	}
	return n > 0, nil
}

// Delete removes a record.
func (r *RedisStatusRepository) Delete(ctx context.Context, statusID string) error {
	if err := r.client.Del(ctx, statusKeyPrefix+statusID).Err(); err != nil {
		return models.NewUpstreamError("redis", "delete status", err)
	}
	return nil
}
