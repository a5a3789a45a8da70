package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	apperrors "github.com/judgeflow/backend/internal/errors"

	"github.com/redis/go-redis/v9"
)

const pollTimeout = time.Second

// RedisQueue is a reliable list queue. Dequeue atomically moves a job into a
// per-consumer processing list; Ack removes it from there. Jobs left in the
// processing list by a crashed consumer are moved back by Recover.
type RedisQueue struct {
	client        *redis.Client
	key           string
	processingKey string
	closed        atomic.Bool
}

// NewRedisQueue binds a queue named name to a consumer. consumerID must be
// stable across restarts so that Recover finds the previous run's jobs.
func NewRedisQueue(client *redis.Client, name, consumerID string) *RedisQueue {
	key := "queue:" + name
	return &RedisQueue{
		client:        client,
		key:           key,
		processingKey: key + ":processing:" + consumerID,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	if q.closed.Load() {
		return apperrors.ErrQueueClosed
	}
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue submission %s: %w", job.SubmissionID, err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (Delivery, error) {
	for {
		if q.closed.Load() {
			return nil, apperrors.ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := q.client.BRPopLPush(ctx, q.key, q.processingKey, pollTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}

		job, err := decodeJob([]byte(raw))
		if err != nil {
			// Poison message; drop it so it cannot wedge the consumer.
			q.client.LRem(ctx, q.processingKey, 1, raw)
			continue
		}
		return &redisDelivery{queue: q, job: job, raw: raw}, nil
	}
}

// Recover moves every job from this consumer's processing list back onto the
// queue and returns how many were moved.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.RPopLPush(ctx, q.processingKey, q.key).Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
}

// Len reports the number of jobs waiting to be dequeued
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// Close stops the queue. The Redis client is owned by the caller.
func (q *RedisQueue) Close() error {
	q.closed.Store(true)
	return nil
}

type redisDelivery struct {
	queue *RedisQueue
	job   Job
	raw   string
}

func (d *redisDelivery) Job() Job { return d.job }

func (d *redisDelivery) Ack(ctx context.Context) error {
	return d.queue.client.LRem(ctx, d.queue.processingKey, 1, d.raw).Err()
}

func (d *redisDelivery) Nack(ctx context.Context) error {
	pipe := d.queue.client.TxPipeline()
	pipe.LRem(ctx, d.queue.processingKey, 1, d.raw)
	pipe.RPush(ctx, d.queue.key, d.raw)
	_, err := pipe.Exec(ctx)
	return err
}
