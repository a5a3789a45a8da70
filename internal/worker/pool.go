package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/judgeflow/backend/internal/errors"
	"github.com/judgeflow/backend/internal/logger"
	"github.com/judgeflow/backend/internal/metrics"
	"github.com/judgeflow/backend/internal/queue"

	"go.uber.org/zap"
)

const dequeueBackoff = time.Second

// Processor handles one judge job. Process returns an error for transient
// failures; Fail is called once a job has used all of its attempts.
type Processor interface {
	Process(ctx context.Context, job queue.Job) error
	Fail(ctx context.Context, job queue.Job) error
}

// Pool runs judge workers that consume a shared queue
type Pool struct {
	queue       queue.Queue
	processor   Processor
	workerCount int
	maxAttempts int
	wg          sync.WaitGroup

	// consumeCtx stops dequeuing; jobCtx aborts jobs already running.
	consumeCtx    context.Context
	stopConsuming context.CancelFunc
	jobCtx        context.Context
	abortJobs     context.CancelFunc

	metrics *metrics.Metrics
	stats   *PoolStats
	logger  *zap.SugaredLogger
}

// PoolStats tracks worker pool throughput
type PoolStats struct {
	mu              sync.RWMutex
	processed       int64
	failed          int64
	retried         int64
	totalProcessing time.Duration
}

func NewPool(q queue.Queue, processor Processor, workerCount, maxAttempts int, m *metrics.Metrics) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	consumeCtx, stopConsuming := context.WithCancel(context.Background())
	jobCtx, abortJobs := context.WithCancel(context.Background())

	return &Pool{
		queue:         q,
		processor:     processor,
		workerCount:   workerCount,
		maxAttempts:   maxAttempts,
		consumeCtx:    consumeCtx,
		stopConsuming: stopConsuming,
		jobCtx:        jobCtx,
		abortJobs:     abortJobs,
		metrics:       m,
		stats:         &PoolStats{},
		logger:        logger.NewNamedLogger("worker"),
	}
}

// Start launches the worker goroutines
func (p *Pool) Start() {
	p.logger.Infof("Starting worker pool with %d workers (max attempts %d)", p.workerCount, p.maxAttempts)

	for i := 1; i <= p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		delivery, err := p.queue.Dequeue(p.consumeCtx)
		if err != nil {
			if p.consumeCtx.Err() != nil || errors.Is(err, apperrors.ErrQueueClosed) {
				p.logger.Debugf("Worker #%d exiting: %v", id, err)
				return
			}
			p.logger.Errorf("Worker #%d failed to dequeue: %v", id, err)
			select {
			case <-p.consumeCtx.Done():
				return
			case <-time.After(dequeueBackoff):
			}
			continue
		}

		p.handle(id, delivery)
	}
}

// handle processes one delivery and settles it with the queue
func (p *Pool) handle(workerID int, d queue.Delivery) {
	job := d.Job()
	p.metrics.JobsInFlight.Inc()
	defer p.metrics.JobsInFlight.Dec()

	if job.Attempt > p.maxAttempts {
		p.logger.Warnf("Worker #%d: submission %s already used %d attempts, rejecting",
			workerID, job.SubmissionID, job.Attempt-1)
		p.stats.incrementFailed()
		p.reject(workerID, d)
		return
	}

	start := time.Now()
	err := p.process(job)
	elapsed := time.Since(start)

	if err == nil {
		if ackErr := d.Ack(p.jobCtx); ackErr != nil {
			p.logger.Warnf("Worker #%d failed to ack submission %s: %v", workerID, job.SubmissionID, ackErr)
		}
		p.stats.recordSuccess(elapsed)
		return
	}

	p.stats.incrementFailed()

	if p.jobCtx.Err() != nil {
		// Shutting down: hand the job back untouched.
		p.settle(d.Nack, workerID, job)
		return
	}

	if job.Attempt < p.maxAttempts {
		p.logger.Warnf("Worker #%d: submission %s attempt %d failed, retrying: %v",
			workerID, job.SubmissionID, job.Attempt, err)

		retry := job
		retry.Attempt++
		if enqErr := p.queue.Enqueue(p.jobCtx, retry); enqErr != nil {
			p.logger.Errorf("Worker #%d failed to re-enqueue submission %s: %v", workerID, job.SubmissionID, enqErr)
			p.settle(d.Nack, workerID, job)
			return
		}
		p.metrics.JobRetries.Inc()
		p.stats.incrementRetried()
		p.settle(d.Ack, workerID, job)
		return
	}

	p.logger.Errorf("Worker #%d: submission %s failed after %d attempts: %v",
		workerID, job.SubmissionID, job.Attempt, err)
	p.reject(workerID, d)
}

// reject force-rejects a job that has no attempts left
func (p *Pool) reject(workerID int, d queue.Delivery) {
	job := d.Job()
	if err := p.processor.Fail(p.jobCtx, job); err != nil {
		p.logger.Errorf("Worker #%d failed to reject submission %s: %v", workerID, job.SubmissionID, err)
	}
	p.settle(d.Ack, workerID, job)
}

// process runs the processor with panic recovery so one bad job cannot kill a worker
func (p *Pool) process(job queue.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while judging submission %s: %v", job.SubmissionID, r)
		}
	}()
	return p.processor.Process(p.jobCtx, job)
}

func (p *Pool) settle(op func(context.Context) error, workerID int, job queue.Job) {
	if err := op(context.Background()); err != nil {
		p.logger.Warnf("Worker #%d failed to settle submission %s: %v", workerID, job.SubmissionID, err)
	}
}

// Shutdown stops consuming and waits for running jobs to finish. Jobs still
// running after timeout are cancelled and handed back to the queue.
func (p *Pool) Shutdown(timeout time.Duration) error {
	p.logger.Info("Shutting down worker pool...")
	p.stopConsuming()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.abortJobs()
		p.logStats()
		return nil
	case <-time.After(timeout):
		p.abortJobs()
		<-done
		p.logger.Warnf("Worker pool shutdown timed out after %v", timeout)
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

// Stats returns a snapshot of the pool counters
func (p *Pool) Stats() map[string]interface{} {
	p.stats.mu.RLock()
	defer p.stats.mu.RUnlock()

	avgProcessing := time.Duration(0)
	if p.stats.processed > 0 {
		avgProcessing = p.stats.totalProcessing / time.Duration(p.stats.processed)
	}

	return map[string]interface{}{
		"processed":           p.stats.processed,
		"failed":              p.stats.failed,
		"retried":             p.stats.retried,
		"avg_processing_time": avgProcessing.String(),
	}
}

func (p *Pool) logStats() {
	stats := p.Stats()
	p.logger.Infof("Worker pool stats: processed=%v failed=%v retried=%v avg=%v",
		stats["processed"], stats["failed"], stats["retried"], stats["avg_processing_time"])
}

func (ps *PoolStats) recordSuccess(duration time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.processed++
	ps.totalProcessing += duration
}

func (ps *PoolStats) incrementFailed() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.failed++
}

func (ps *PoolStats) incrementRetried() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.retried++
}
