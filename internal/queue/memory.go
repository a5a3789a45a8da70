package queue

import (
	"context"
	"sync"

	apperrors "github.com/judgeflow/backend/internal/errors"
)

// MemoryQueue is a buffered channel queue for single-process deployments and
// tests. Jobs do not survive a restart; the reaper re-enqueues them.
type MemoryQueue struct {
	jobs   chan Job
	mu     sync.RWMutex
	closed bool
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	return &MemoryQueue{jobs: make(chan Job, capacity)}
}

// Enqueue never blocks; a full buffer is reported as backpressure.
func (q *MemoryQueue) Enqueue(_ context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return apperrors.ErrQueueClosed
	}

	select {
	case q.jobs <- job:
		return nil
	default:
		return apperrors.ErrQueueFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case job, ok := <-q.jobs:
		if !ok {
			return nil, apperrors.ErrQueueClosed
		}
		return &memoryDelivery{queue: q, job: job}, nil
	}
}

// Close stops new enqueues. Jobs already buffered can still be drained.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	return nil
}

// Len reports the number of buffered jobs
func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}

type memoryDelivery struct {
	queue *MemoryQueue
	job   Job
}

func (d *memoryDelivery) Job() Job { return d.job }

func (d *memoryDelivery) Ack(context.Context) error { return nil }

func (d *memoryDelivery) Nack(ctx context.Context) error {
	return d.queue.Enqueue(ctx, d.job)
}
