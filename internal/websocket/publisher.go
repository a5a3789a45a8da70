package websocket

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/judgeflow/backend/internal/notify"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher emits user events over Redis pub/sub so that the hub of
// whichever API instance holds the user's connection can deliver them.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// EmitToUser publishes one event addressed to userID
func (p *RedisPublisher) EmitToUser(ctx context.Context, userID, event string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	message, err := json.Marshal(notify.Event{
		UserID:  userID,
		Name:    event,
		Payload: body,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.client.Publish(ctx, notify.Channel, message).Err(); err != nil {
		return fmt.Errorf("failed to publish to Redis: %w", err)
	}

	return nil
}
