package queue

import (
	"context"
	"fmt"

	"github.com/judgeflow/backend/internal/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Open builds the queue selected by cfg.Driver. consumerID names this process
// as a consumer; prefetch bounds unacknowledged deliveries held at once.
func Open(ctx context.Context, cfg config.QueueConfig, redisClient *redis.Client, consumerID string, prefetch int, logger *zap.SugaredLogger) (Queue, error) {
	switch cfg.Driver {
	case config.QueueDriverMemory:
		return NewMemoryQueue(cfg.Capacity), nil

	case config.QueueDriverRedis:
		q := NewRedisQueue(redisClient, cfg.Name, consumerID)
		moved, err := q.Recover(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to recover in-flight jobs: %w", err)
		}
		if moved > 0 {
			logger.Infof("Recovered %d in-flight jobs for consumer %s", moved, consumerID)
		}
		return q, nil

	case config.QueueDriverRabbitMQ:
		conn, ch, err := DialRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			return nil, err
		}
		q, err := NewRabbitQueue(ch, cfg.Name, consumerID, prefetch, logger)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return &connQueue{RabbitQueue: q, closeConn: conn.Close}, nil

	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.Driver)
	}
}

// connQueue also closes the AMQP connection it owns.
type connQueue struct {
	*RabbitQueue
	closeConn func() error
}

func (c *connQueue) Close() error {
	chErr := c.RabbitQueue.Close()
	if err := c.closeConn(); err != nil {
		return err
	}
	return chErr
}
