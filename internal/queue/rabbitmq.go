package queue

import (
	"context"
	"fmt"
	"sync"

	apperrors "github.com/judgeflow/backend/internal/errors"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Channel abstracts the subset of *amqp.Channel used by RabbitQueue.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// RabbitQueue publishes persistent messages to a durable queue and consumes
// them with manual acknowledgement.
type RabbitQueue struct {
	ch         Channel
	name       string
	consumerID string
	logger     *zap.SugaredLogger

	consumeOnce sync.Once
	deliveries  <-chan amqp.Delivery
	consumeErr  error
}

// NewRabbitQueue declares the durable queue and limits unacknowledged
// deliveries per consumer to prefetch.
func NewRabbitQueue(ch Channel, name, consumerID string, prefetch int, logger *zap.SugaredLogger) (*RabbitQueue, error) {
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			return nil, fmt.Errorf("failed to set prefetch: %w", err)
		}
	}
	return &RabbitQueue{ch: ch, name: name, consumerID: consumerID, logger: logger}, nil
}

func (q *RabbitQueue) Enqueue(ctx context.Context, job Job) error {
	body, err := encodeJob(job)
	if err != nil {
		return err
	}
	err = q.ch.PublishWithContext(ctx, "", q.name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.SubmissionID,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish submission %s: %w", job.SubmissionID, err)
	}
	return nil
}

func (q *RabbitQueue) Dequeue(ctx context.Context) (Delivery, error) {
	q.consumeOnce.Do(func() {
		q.deliveries, q.consumeErr = q.ch.Consume(q.name, q.consumerID, false, false, false, false, nil)
	})
	if q.consumeErr != nil {
		return nil, fmt.Errorf("failed to consume from %s: %w", q.name, q.consumeErr)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case d, ok := <-q.deliveries:
			if !ok {
				return nil, apperrors.ErrQueueClosed
			}
			job, err := decodeJob(d.Body)
			if err != nil {
				q.logger.Errorf("Dropping malformed message %s: %v", d.MessageId, err)
				_ = d.Reject(false)
				continue
			}
			return &rabbitDelivery{d: d, job: job}, nil
		}
	}
}

// Close closes the channel, which also ends consumption.
func (q *RabbitQueue) Close() error {
	return q.ch.Close()
}

type rabbitDelivery struct {
	d   amqp.Delivery
	job Job
}

func (r *rabbitDelivery) Job() Job { return r.job }

func (r *rabbitDelivery) Ack(context.Context) error { return r.d.Ack(false) }

func (r *rabbitDelivery) Nack(context.Context) error { return r.d.Nack(false, true) }

// DialRabbitMQ opens a connection and a channel on it.
func DialRabbitMQ(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}
	return conn, ch, nil
}
