package queue

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"rag-engine/internal/models"
)

const (
	readyKeyPrefix    = "lane:ready:"
	inflightKeyPrefix = "lane:inflight:"
	messageKeyPrefix  = "lane:msg:"

	// DefaultVisibilityTimeout is how long a received message stays
	// invisible before it is reclaimed for redelivery.
	DefaultVisibilityTimeout = 5 * time.Minute

	// reclaimBatch caps how many expired deliveries one Receive call
	// moves back to the ready set.
	reclaimBatch = 64
)

// RedisQueue implements Queue on Redis sorted sets. Ready messages live in a
// ZSET scored by enqueue time, in-flight deliveries in a ZSET scored by their
// visibility deadline, and bodies in plain keys addressed by message ID.
type RedisQueue struct {
	client     *redis.Client
	visibility time.Duration
	logger     *log.Logger
}

// NewRedisQueue creates a queue with the default visibility timeout.
func NewRedisQueue(client *redis.Client, logger *log.Logger) *RedisQueue {
	return NewRedisQueueWithVisibility(client, DefaultVisibilityTimeout, logger)
}

// NewRedisQueueWithVisibility creates a queue with an explicit visibility
// timeout.
func NewRedisQueueWithVisibility(client *redis.Client, visibility time.Duration, logger *log.Logger) *RedisQueue {
	if visibility <= 0 {
		visibility = DefaultVisibilityTimeout
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[QUEUE] ", log.LstdFlags)
	}
	return &RedisQueue{
		client:     client,
		visibility: visibility,
		logger:     logger,
	}
}

// Send enqueues a message body.
func (q *RedisQueue) Send(ctx context.Context, queue string, body []byte) error {
	id := uuid.New().String()

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, messageKeyPrefix+queue+":"+id, body, 0)
	pipe.ZAdd(ctx, readyKeyPrefix+queue, redis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: id,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return models.NewUpstreamError("redis", "queue send", err)
	}
	return nil
}

// Receive reclaims expired deliveries, then claims up to max ready messages
// and marks them in flight. Each claim registers the receipt in the in-flight
// set before removing the ready entry: a crash between the two commands
// leaves the message in both sets, which means a redelivery, never a loss.
func (q *RedisQueue) Receive(ctx context.Context, queue string, max int) ([]Message, error) {
	if max <= 0 {
		max = 1
	}

	now := time.Now()
	if err := q.reclaimExpired(ctx, queue, now); err != nil {
		return nil, err
	}

	candidates, err := q.client.ZRange(ctx, readyKeyPrefix+queue, 0, int64(max-1)).Result()
	if err != nil && err != redis.Nil {
		return nil, models.NewUpstreamError("redis", "queue receive", err)
	}

	deadline := float64(now.Add(q.visibility).UnixMilli())
	messages := make([]Message, 0, len(candidates))
	for _, id := range candidates {
		receipt := id + ":" + uuid.New().String()
		if err := q.client.ZAdd(ctx, inflightKeyPrefix+queue, redis.Z{
			Score:  deadline,
			Member: receipt,
		}).Err(); err != nil {
			return nil, models.NewUpstreamError("redis", "queue receive", err)
		}

		removed, err := q.client.ZRem(ctx, readyKeyPrefix+queue, id).Result()
		if err != nil {
			q.client.ZRem(ctx, inflightKeyPrefix+queue, receipt)
			return nil, models.NewUpstreamError("redis", "queue receive", err)
		}
		if removed == 0 {
			// Another consumer claimed the message between our peek and
			// remove. Withdraw our receipt and move on.
			q.client.ZRem(ctx, inflightKeyPrefix+queue, receipt)
			continue
		}

		body, err := q.client.Get(ctx, messageKeyPrefix+queue+":"+id).Bytes()
		if err == redis.Nil {
			// Body vanished out from under the ready entry. Drop the
			// delivery rather than hand out an empty message.
			q.client.ZRem(ctx, inflightKeyPrefix+queue, receipt)
			q.logger.Printf("dropping queue entry %s/%s: body missing", queue, id)
			continue
		}
		if err != nil {
			// The receipt stays in flight; the reclaimer redelivers it
			// once the visibility deadline passes.
			return nil, models.NewUpstreamError("redis", "queue receive", err)
		}

		messages = append(messages, Message{ID: id, Body: body, Receipt: receipt})
	}
	return messages, nil
}

// Delete acknowledges a delivery and discards its body.
func (q *RedisQueue) Delete(ctx context.Context, queue string, receipt string) error {
	id, err := messageID(receipt)
	if err != nil {
		return err
	}

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, inflightKeyPrefix+queue, receipt)
	pipe.Del(ctx, messageKeyPrefix+queue+":"+id)
	if _, err := pipe.Exec(ctx); err != nil {
		return models.NewUpstreamError("redis", "queue delete", err)
	}
	return nil
}

// ExtendVisibility moves the invisibility deadline for an in-flight
// delivery. Passing zero makes the message immediately reclaimable.
func (q *RedisQueue) ExtendVisibility(ctx context.Context, queue string, receipt string, d time.Duration) error {
	if _, err := messageID(receipt); err != nil {
		return err
	}

	key := inflightKeyPrefix + queue
	if err := q.client.ZScore(ctx, key, receipt).Err(); err == redis.Nil {
		return &models.NotFoundError{Kind: "delivery", ID: receipt}
	} else if err != nil {
		return models.NewUpstreamError("redis", "queue extend", err)
	}

	deadline := float64(time.Now().Add(d).UnixMilli())
	if err := q.client.ZAddXX(ctx, key, redis.Z{Score: deadline, Member: receipt}).Err(); err != nil {
		return models.NewUpstreamError("redis", "queue extend", err)
	}
	return nil
}

// Depth returns the number of ready messages.
func (q *RedisQueue) Depth(ctx context.Context, queue string) (int64, error) {
	n, err := q.client.ZCard(ctx, readyKeyPrefix+queue).Result()
	if err != nil {
		return 0, models.NewUpstreamError("redis", "queue depth", err)
	}
	return n, nil
}

// reclaimExpired moves deliveries whose visibility deadline passed back to
// the ready set.
func (q *RedisQueue) reclaimExpired(ctx context.Context, queue string, now time.Time) error {
	expired, err := q.client.ZRangeByScore(ctx, inflightKeyPrefix+queue, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.UnixMilli()),
		Count: reclaimBatch,
	}).Result()
	if err != nil && err != redis.Nil {
		return models.NewUpstreamError("redis", "queue reclaim", err)
	}

	for _, receipt := range expired {
		id, err := messageID(receipt)
		if err != nil {
			// Malformed member, remove it so it cannot wedge the queue.
			q.client.ZRem(ctx, inflightKeyPrefix+queue, receipt)
			continue
		}

		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, inflightKeyPrefix+queue, receipt)
		pipe.ZAdd(ctx, readyKeyPrefix+queue, redis.Z{
			Score:  float64(now.UnixMilli()),
			Member: id,
		})
		if _, err := pipe.Exec(ctx); err != nil {
			return models.NewUpstreamError("redis", "queue reclaim", err)
		}
		q.logger.Printf("reclaimed expired delivery %s/%s", queue, id)
	}
	return nil
}

// messageID extracts the message ID from a receipt handle.
func messageID(receipt string) (string, error) {
	idx := strings.LastIndex(receipt, ":")
	if idx <= 0 || idx == len(receipt)-1 {
		return "", &models.ValidationError{Field: "receipt", Message: "malformed receipt handle"}
	}
	return receipt[:idx], nil
}
