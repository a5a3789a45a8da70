package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/judgeflow/backend/internal/metrics"
	"github.com/judgeflow/backend/internal/queue"
)

type fakeProcessor struct {
	mu       sync.Mutex
	process  func(ctx context.Context, job queue.Job) error
	attempts []int
	failed   []queue.Job
}

func (f *fakeProcessor) Process(ctx context.Context, job queue.Job) error {
	f.mu.Lock()
	f.attempts = append(f.attempts, job.Attempt)
	fn := f.process
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, job)
}

func (f *fakeProcessor) Fail(_ context.Context, job queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, job)
	return nil
}

func (f *fakeProcessor) snapshot() ([]int, []queue.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.attempts...), append([]queue.Job(nil), f.failed...)
}

func newTestPool(t *testing.T, proc Processor, maxAttempts int) (*Pool, *queue.MemoryQueue) {
	t.Helper()
	q := queue.NewMemoryQueue(16)
	p := NewPool(q, proc, 2, maxAttempts, metrics.New(prometheus.NewRegistry()))
	p.Start()
	t.Cleanup(func() { _ = p.Shutdown(time.Second) })
	return p, q
}

func TestPool_ProcessesJobs(t *testing.T) {
	proc := &fakeProcessor{}
	p, q := newTestPool(t, proc, 3)

	for _, id := range []string{"s1", "s2", "s3"} {
		require.NoError(t, q.Enqueue(context.Background(), queue.Job{SubmissionID: id, Attempt: 1}))
	}

	require.Eventually(t, func() bool {
		attempts, _ := proc.snapshot()
		return len(attempts) == 3
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool { return p.Stats()["processed"] == int64(3) }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, q.Len())
}

func TestPool_RetriesThenFails(t *testing.T) {
	proc := &fakeProcessor{process: func(context.Context, queue.Job) error {
		return errors.New("database unavailable")
	}}
	_, q := newTestPool(t, proc, 3)

	require.NoError(t, q.Enqueue(context.Background(), queue.Job{SubmissionID: "s1", Attempt: 1}))

	require.Eventually(t, func() bool {
		_, failed := proc.snapshot()
		return len(failed) == 1
	}, 2*time.Second, 10*time.Millisecond)

	attempts, failed := proc.snapshot()
	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Equal(t, "s1", failed[0].SubmissionID)
	assert.Equal(t, 0, q.Len())
}

func TestPool_ExhaustedJobIsRejectedWithoutProcessing(t *testing.T) {
	proc := &fakeProcessor{}
	_, q := newTestPool(t, proc, 3)

	require.NoError(t, q.Enqueue(context.Background(), queue.Job{SubmissionID: "s1", Attempt: 4}))

	require.Eventually(t, func() bool {
		_, failed := proc.snapshot()
		return len(failed) == 1
	}, 2*time.Second, 10*time.Millisecond)

	attempts, failed := proc.snapshot()
	assert.Empty(t, attempts)
	assert.Equal(t, "s1", failed[0].SubmissionID)
}

func TestPool_RecoversFromPanic(t *testing.T) {
	var once sync.Once
	proc := &fakeProcessor{}
	proc.process = func(context.Context, queue.Job) error {
		panicked := false
		once.Do(func() { panicked = true })
		if panicked {
			panic("nil challenge")
		}
		return nil
	}
	p, q := newTestPool(t, proc, 3)

	require.NoError(t, q.Enqueue(context.Background(), queue.Job{SubmissionID: "s1", Attempt: 1}))

	require.Eventually(t, func() bool { return p.Stats()["processed"] == int64(1) }, 2*time.Second, 10*time.Millisecond)
	attempts, failed := proc.snapshot()
	assert.Equal(t, []int{1, 2}, attempts)
	assert.Empty(t, failed)
}

func TestPool_ShutdownWaitsForRunningJob(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	proc := &fakeProcessor{process: func(context.Context, queue.Job) error {
		close(started)
		<-release
		return nil
	}}

	q := queue.NewMemoryQueue(4)
	p := NewPool(q, proc, 1, 1, metrics.New(prometheus.NewRegistry()))
	p.Start()
	require.NoError(t, q.Enqueue(context.Background(), queue.Job{SubmissionID: "s1", Attempt: 1}))
	<-started

	done := make(chan error, 1)
	go func() { done <- p.Shutdown(2 * time.Second) }()

	select {
	case <-done:
		t.Fatal("shutdown returned while a job was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	assert.NoError(t, <-done)
	assert.Equal(t, int64(1), p.Stats()["processed"])
}

func TestPool_ShutdownTimeoutHandsJobBack(t *testing.T) {
	started := make(chan struct{})
	proc := &fakeProcessor{process: func(ctx context.Context, _ queue.Job) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}

	q := queue.NewMemoryQueue(4)
	p := NewPool(q, proc, 1, 3, metrics.New(prometheus.NewRegistry()))
	p.Start()
	require.NoError(t, q.Enqueue(context.Background(), queue.Job{SubmissionID: "s1", Attempt: 1}))
	<-started

	assert.Error(t, p.Shutdown(20*time.Millisecond))

	d, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, queue.Job{SubmissionID: "s1", Attempt: 1}, d.Job())
}
