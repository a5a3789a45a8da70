package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

// Job asks a judge worker to score one submission. OracleCredential is the
// caller-supplied key, if any; workers validate it before use.
type Job struct {
	SubmissionID     string `json:"submission_id"`
	OracleCredential string `json:"oracle_credential,omitempty"`
	Attempt          int    `json:"attempt"`
}

// Delivery is a dequeued job that stays owned by the consumer until it is
// acknowledged. An unacknowledged delivery is redelivered after a crash.
type Delivery interface {
	Job() Job
	// Ack removes the job from the queue for good.
	Ack(ctx context.Context) error
	// Nack hands the job back to the queue for redelivery.
	Nack(ctx context.Context) error
}

// Queue is an at-least-once job queue shared by API and worker processes.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks until a job is available, ctx is done, or the queue is closed.
	Dequeue(ctx context.Context) (Delivery, error)
	Close() error
}

func encodeJob(job Job) ([]byte, error) {
	if job.SubmissionID == "" {
		return nil, fmt.Errorf("job has no submission id")
	}
	return json.Marshal(job)
}

func decodeJob(body []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return Job{}, fmt.Errorf("failed to decode job: %w", err)
	}
	if job.SubmissionID == "" {
		return Job{}, fmt.Errorf("job has no submission id")
	}
	return job, nil
}
