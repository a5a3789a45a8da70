package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	apperrors "github.com/judgeflow/backend/internal/errors"
	"github.com/judgeflow/backend/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	// leaderboardKeyPrefix namespaces the per-contest ranking sorted sets
	leaderboardKeyPrefix = "leaderboard:contest:"

	// TimestampDivisor is used in composite score calculation to prevent precision loss.
	// Unix seconds divided by 10^10 stay below 1 for the next few centuries.
	TimestampDivisor = 10_000_000_000
)

func rankingKey(contestID string) string { return leaderboardKeyPrefix + contestID }
func scoresKey(contestID string) string  { return leaderboardKeyPrefix + contestID + ":scores" }
func versionKey(contestID string) string { return leaderboardKeyPrefix + contestID + ":version" }
func updatedKey(contestID string) string { return leaderboardKeyPrefix + contestID + ":updated" }

// setScoreScript writes a user's total unless the mirror already holds one
// stamped later. KEYS: ranking, scores, updated, version.
// ARGV: user, composite score, score, updated-at in microseconds.
var setScoreScript = redis.NewScript(`
local current = redis.call("HGET", KEYS[3], ARGV[1])
if current and tonumber(current) > tonumber(ARGV[4]) then
	return 0
end
redis.call("ZADD", KEYS[1], ARGV[2], ARGV[1])
redis.call("HSET", KEYS[2], ARGV[1], ARGV[3])
redis.call("HSET", KEYS[3], ARGV[1], ARGV[4])
redis.call("INCR", KEYS[4])
return 1
`)

func setScoreKeys(contestID string) []string {
	return []string{rankingKey(contestID), scoresKey(contestID), updatedKey(contestID), versionKey(contestID)}
}

func setScoreArgs(userID string, score int, at time.Time) []interface{} {
	composite := strconv.FormatFloat(ComputeCompositeScore(score, at.Unix()), 'f', -1, 64)
	return []interface{}{userID, composite, score, at.UnixMicro()}
}

// RedisRepository mirrors contest leaderboards into sorted sets for fast
// ranked reads. Postgres stays the source of truth.
type RedisRepository struct {
	client *redis.Client
}

// NewRedisRepository creates a new Redis repository
func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{
		client: client,
	}
}

// ComputeCompositeScore calculates a composite score for consistent tie-breaking
// Formula: score + (1 - unixSeconds/10^10)
// Users who reached the same score earlier get a slightly higher value.
func ComputeCompositeScore(score int, unixSeconds int64) float64 {
	return float64(score) + (1.0 - float64(unixSeconds)/TimestampDivisor)
}

// ExtractBaseScore extracts the integer score from a composite score
func ExtractBaseScore(compositeScore float64) int {
	return int(compositeScore)
}

// SetScore mirrors a user's contest total into the ranking set. A write
// stamped earlier than the one already mirrored is ignored, so concurrent
// recomputes converge on the latest total.
func (r *RedisRepository) SetScore(ctx context.Context, contestID, userID string, score int, at time.Time) error {
	return setScoreScript.Run(ctx, r.client, setScoreKeys(contestID), setScoreArgs(userID, score, at)...).Err()
}

// BulkSetScores mirrors stored totals, each under the same rule as SetScore
func (r *RedisRepository) BulkSetScores(ctx context.Context, contestID string, entries []models.LeaderboardEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := setScoreScript.Load(ctx, r.client).Err(); err != nil {
		return err
	}

	pipe := r.client.Pipeline()
	keys := setScoreKeys(contestID)
	for _, e := range entries {
		setScoreScript.EvalSha(ctx, pipe, keys, setScoreArgs(e.UserID, e.Score, e.UpdatedAt)...)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// GetUserScore retrieves a user's mirrored contest score
func (r *RedisRepository) GetUserScore(ctx context.Context, contestID, userID string) (int, error) {
	scoreStr, err := r.client.HGet(ctx, scoresKey(contestID), userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, fmt.Errorf("%w, user %s has no score in contest %s", apperrors.ErrNotFound, userID, contestID)
		}
		return 0, err
	}

	score, err := strconv.Atoi(scoreStr)
	if err != nil {
		return 0, fmt.Errorf("invalid score format: %w", err)
	}

	return score, nil
}

// GetUserRank returns the tie-aware rank (1224 style) of a user: one plus the
// number of users with a strictly higher base score.
func (r *RedisRepository) GetUserRank(ctx context.Context, contestID, userID string) (int, int, error) {
	score, err := r.GetUserScore(ctx, contestID, userID)
	if err != nil {
		return 0, 0, err
	}

	count, err := r.client.ZCount(ctx, rankingKey(contestID), strconv.Itoa(score+1), "+inf").Result()
	if err != nil {
		return 0, 0, err
	}

	return int(count) + 1, score, nil
}

// GetLeaderboardVersion returns the number of writes seen by a contest mirror
func (r *RedisRepository) GetLeaderboardVersion(ctx context.Context, contestID string) (int64, error) {
	version, err := r.client.Get(ctx, versionKey(contestID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return version, nil
}

// GetTopUsers retrieves a page of the contest ranking in descending order.
// Returned scores are base scores, not composites.
func (r *RedisRepository) GetTopUsers(ctx context.Context, contestID string, offset, limit int) ([]redis.Z, error) {
	start := int64(offset)
	stop := int64(offset + limit - 1)

	results, err := r.client.ZRevRangeWithScores(ctx, rankingKey(contestID), start, stop).Result()
	if err != nil {
		return nil, err
	}

	for i := range results {
		results[i].Score = float64(ExtractBaseScore(results[i].Score))
	}

	return results, nil
}

// GetTotalUsers returns the number of users ranked in a contest
func (r *RedisRepository) GetTotalUsers(ctx context.Context, contestID string) (int64, error) {
	return r.client.ZCard(ctx, rankingKey(contestID)).Result()
}

// Ping checks if Redis is reachable
func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *RedisRepository) Close() error {
	return r.client.Close()
}
