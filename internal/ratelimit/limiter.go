package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ratelimit:submit:"

// incrScript counts an attempt and sets the window on any key left without a
// TTL, so a lost expiry cannot lock a user out.
var incrScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Limiter is a fixed-window per-user counter kept in Redis so that every API
// instance shares the same budget.
type Limiter struct {
	client    *redis.Client
	threshold int64
	window    time.Duration
}

// NewLimiter allows threshold calls per user in each window
func NewLimiter(client *redis.Client, threshold int, window time.Duration) *Limiter {
	return &Limiter{
		client:    client,
		threshold: int64(threshold),
		window:    window,
	}
}

// Allow counts one attempt for userID and reports whether it is within the
// limit. The window starts on the first attempt and is not extended by later
// ones. Redis errors are returned and the caller should refuse the request.
func (l *Limiter) Allow(ctx context.Context, userID string) (bool, error) {
	key := keyPrefix + userID

	count, err := incrScript.Run(ctx, l.client, []string{key}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit increment failed: %w", err)
	}

	return count <= l.threshold, nil
}

// Remaining reports how many attempts userID has left in the current window
func (l *Limiter) Remaining(ctx context.Context, userID string) (int, error) {
	count, err := l.client.Get(ctx, keyPrefix+userID).Int64()
	if err != nil && err != redis.Nil {
		return 0, err
	}
	if left := l.threshold - count; left > 0 {
		return int(left), nil
	}
	return 0, nil
}
