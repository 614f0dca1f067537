package repositories

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"rag-engine/internal/models"
)

const (
	// Redis key prefix for secret parcels
	secretKeyPrefix = "secret:"

	// SecretTTL is the hard expiry backstop; the sweep worker reaps
	// abandoned parcels well before it fires.
	SecretTTL = 48 * time.Hour

	// secretScanCount sizes SCAN pages during sweep enumeration.
	secretScanCount = 200
)

// RedisSecretRepository implements SecretRepository using Redis. Keys are
// namespaced by deployment stage and the document key is base64url encoded
// so arbitrary object keys stay a single Redis key segment.
type RedisSecretRepository struct {
	client *redis.Client
	stage  string
}

// NewRedisSecretRepository creates a new Redis-based secret repository for a
// deployment stage.
func NewRedisSecretRepository(client *redis.Client, stage string) *RedisSecretRepository {
	if stage == "" {
		stage = "dev"
	}
	return &RedisSecretRepository{client: client, stage: stage}
}

func (r *RedisSecretRepository) key(docKey string) string {
	encoded := base64.RawURLEncoding.EncodeToString([]byte(docKey))
	return secretKeyPrefix + r.stage + ":" + encoded
}

// Put stores a parcel, overwriting any previous one and resetting the TTL.
func (r *RedisSecretRepository) Put(ctx context.Context, docKey string, parcel *models.SecretParcel) error {
	parcel.DocKey = docKey
	if parcel.CreatedAt.IsZero() {
		parcel.CreatedAt = time.Now()
	}
	if err := parcel.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(parcel)
	if err != nil {
		return models.NewUpstreamError("redis", "put secret", err)
	}
	if err := r.client.Set(ctx, r.key(docKey), payload, SecretTTL).Err(); err != nil {
		return models.NewUpstreamError("redis", "put secret", err)
	}
	return nil
}

// Get retrieves the parcel for a document key.
func (r *RedisSecretRepository) Get(ctx context.Context, docKey string) (*models.SecretParcel, error) {
	stored, err := r.client.Get(ctx, r.key(docKey)).Result()
	if err == redis.Nil {
		return nil, models.NewSecretNotFoundError(docKey)
	}
	if err != nil {
		return nil, models.NewUpstreamError("redis", "get secret", err)
	}

	var parcel models.SecretParcel
	if err := json.Unmarshal([]byte(stored), &parcel); err != nil {
		return nil, models.NewUpstreamError("redis", "get secret", err)
	}
	return &parcel, nil
}

// Delete removes the parcel for a document key.
func (r *RedisSecretRepository) Delete(ctx context.Context, docKey string) error {
	if err := r.client.Del(ctx, r.key(docKey)).Err(); err != nil {
		return models.NewUpstreamError("redis", "delete secret", err)
	}
	return nil
}

// List enumerates every stored parcel in the broker's stage via SCAN.
// Unreadable entries are skipped so one corrupt parcel cannot block a sweep.
func (r *RedisSecretRepository) List(ctx context.Context) ([]*StoredSecret, error) {
	pattern := secretKeyPrefix + r.stage + ":*"
	iter := r.client.Scan(ctx, 0, pattern, secretScanCount).Iterator()

	secrets := make([]*StoredSecret, 0)
	for iter.Next(ctx) {
		stored, err := r.client.Get(ctx, iter.Val()).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, models.NewUpstreamError("redis", "list secrets", err)
		}

		var parcel models.SecretParcel
		if err := json.Unmarshal([]byte(stored), &parcel); err != nil {
			continue
		}
		secrets = append(secrets, &StoredSecret{DocKey: parcel.DocKey, Parcel: &parcel})
	}
	if err := iter.Err(); err != nil {
		return nil, models.NewUpstreamError("redis", "list secrets", err)
	}
	return secrets, nil
}
