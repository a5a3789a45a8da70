package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/judgeflow/backend/internal/logger"
	"github.com/judgeflow/backend/internal/metrics"
	"github.com/judgeflow/backend/internal/models"
	"github.com/judgeflow/backend/internal/queue"

	"go.uber.org/zap"
)

// ReaperStore finds submissions that stopped making progress
type ReaperStore interface {
	ListStaleSubmissions(ctx context.Context, judgingBefore, pendingBefore time.Time, limit int) ([]models.Submission, error)
	TouchSubmission(ctx context.Context, id string) error
}

// ReaperConfig holds configuration for the reaper
type ReaperConfig struct {
	Interval          time.Duration // Default: 30s
	StaleAfter        time.Duration // Default: 5m, applies to Judging rows
	PendingStaleAfter time.Duration // Default: 3 * StaleAfter
	BatchSize         int           // Default: 100
}

// Reaper re-enqueues submissions left Pending or Judging for too long. This
// covers lost enqueues at intake and workers that died mid-job.
type Reaper struct {
	store   ReaperStore
	queue   queue.Queue
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool

	reaped atomic.Int64
	errors atomic.Int64

	interval          time.Duration
	staleAfter        time.Duration
	pendingStaleAfter time.Duration
	batchSize         int
}

func NewReaper(store ReaperStore, q queue.Queue, m *metrics.Metrics, config ReaperConfig) *Reaper {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = 5 * time.Minute
	}
	if config.PendingStaleAfter <= 0 {
		config.PendingStaleAfter = 3 * config.StaleAfter
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}

	return &Reaper{
		store:      store,
		queue:      q,
		metrics:    m,
		logger:     logger.NewNamedLogger("reaper"),
		stopCh:     make(chan struct{}),
		interval:          config.Interval,
		staleAfter:        config.StaleAfter,
		pendingStaleAfter: config.PendingStaleAfter,
		batchSize:         config.BatchSize,
	}
}

// Start begins the sweep loop
func (r *Reaper) Start(ctx context.Context) error {
	if r.running.Load() {
		return fmt.Errorf("reaper already running")
	}
	r.running.Store(true)

	r.logger.Infof("Reaper started (interval=%v, stale after=%v, pending after=%v)", r.interval, r.staleAfter, r.pendingStaleAfter)

	r.wg.Add(1)
	go r.loop(ctx)

	return nil
}

// Stop waits for the current sweep to finish
func (r *Reaper) Stop() {
	if !r.running.Load() {
		return
	}
	r.running.Store(false)
	close(r.stopCh)
	r.wg.Wait()

	r.logger.Infof("Reaper stopped (reaped=%d, errors=%d)", r.reaped.Load(), r.errors.Load())
}

func (r *Reaper) IsRunning() bool {
	return r.running.Load()
}

func (r *Reaper) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.errors.Add(1)
				r.logger.Warnf("Reaper sweep failed: %v", err)
			}
		}
	}
}

// Sweep re-enqueues one batch of stale submissions and returns how many were
// handed back to the queue. A reaped job continues from the attempts already
// recorded, so the worker's attempt limit still applies.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	now := time.Now()
	stale, err := r.store.ListStaleSubmissions(ctx, now.Add(-r.staleAfter), now.Add(-r.pendingStaleAfter), r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale submissions: %w", err)
	}

	count := 0
	for _, sub := range stale {
		// The caller's oracle key is not stored, so reaped jobs use the server default.
		if err := r.queue.Enqueue(ctx, queue.Job{SubmissionID: sub.ID, Attempt: sub.Attempts + 1}); err != nil {
			return count, fmt.Errorf("failed to re-enqueue submission %s: %w", sub.ID, err)
		}
		if err := r.store.TouchSubmission(ctx, sub.ID); err != nil {
			r.logger.Warnf("Failed to touch submission %s: %v", sub.ID, err)
		}
		count++
		r.metrics.JobsReaped.Inc()
	}

	if count > 0 {
		r.reaped.Add(int64(count))
		r.logger.Infof("Re-enqueued %d stale submissions", count)
	}
	return count, nil
}
