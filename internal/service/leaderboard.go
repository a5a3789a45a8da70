package service

import (
	"context"
	"fmt"
	"time"

	"github.com/judgeflow/backend/internal/logger"
	"github.com/judgeflow/backend/internal/metrics"
	"github.com/judgeflow/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// LeaderboardStore is the source of truth for contest totals
type LeaderboardStore interface {
	RecomputeLeaderboard(ctx context.Context, contestID, userID string) (*models.LeaderboardEntry, error)
	ListLeaderboard(ctx context.Context, contestID string, offset, limit int) ([]models.LeaderboardEntry, int64, error)
}

// RankingMirror is the Redis copy of contest totals used for ranked reads
type RankingMirror interface {
	SetScore(ctx context.Context, contestID, userID string, score int, at time.Time) error
	BulkSetScores(ctx context.Context, contestID string, entries []models.LeaderboardEntry) error
	GetTopUsers(ctx context.Context, contestID string, offset, limit int) ([]redis.Z, error)
	GetTotalUsers(ctx context.Context, contestID string) (int64, error)
	GetUserRank(ctx context.Context, contestID, userID string) (int, int, error)
	GetLeaderboardVersion(ctx context.Context, contestID string) (int64, error)
}

// LeaderboardService aggregates judged points into contest leaderboards
type LeaderboardService struct {
	store   LeaderboardStore
	mirror  RankingMirror
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger
}

func NewLeaderboardService(store LeaderboardStore, mirror RankingMirror, m *metrics.Metrics) *LeaderboardService {
	return &LeaderboardService{
		store:   store,
		mirror:  mirror,
		metrics: m,
		logger:  logger.NewNamedLogger("leaderboard"),
	}
}

// Recompute rebuilds a user's contest total from all of their judged
// submissions and stores it. Running it twice yields the same total.
func (s *LeaderboardService) Recompute(ctx context.Context, contestID, userID string) (*models.LeaderboardEntry, error) {
	entry, err := s.store.RecomputeLeaderboard(ctx, contestID, userID)
	if err != nil {
		s.metrics.LeaderboardUpdates.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to recompute leaderboard for %s in %s: %w", userID, contestID, err)
	}
	s.metrics.LeaderboardUpdates.WithLabelValues("ok").Inc()

	// The mirror is rebuilt from Postgres on the next read if this fails.
	if err := s.mirror.SetScore(ctx, contestID, userID, entry.Score, entry.UpdatedAt); err != nil {
		s.logger.Warnf("Failed to mirror score for %s in %s: %v", userID, contestID, err)
	}

	return entry, nil
}

// GetLeaderboard retrieves a contest leaderboard page with tie-aware ranking (1224)
func (s *LeaderboardService) GetLeaderboard(ctx context.Context, contestID string, offset, limit int) (*models.LeaderboardResponse, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	resp, err := s.readMirror(ctx, contestID, offset, limit)
	if err == nil && resp.Total > 0 {
		return resp, nil
	}
	if err != nil {
		s.logger.Warnf("Ranking mirror unavailable for contest %s, reading Postgres: %v", contestID, err)
	}

	entries, total, err := s.store.ListLeaderboard(ctx, contestID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list leaderboard: %w", err)
	}
	if total > 0 {
		if err := s.ResyncMirror(ctx, contestID); err != nil {
			s.logger.Warnf("Failed to resync ranking mirror for contest %s: %v", contestID, err)
		}
	}

	rows := make([]models.LeaderboardRow, len(entries))
	for i, e := range entries {
		rows[i] = models.LeaderboardRow{UserID: e.UserID, Score: e.Score}
	}

	return &models.LeaderboardResponse{
		ContestID: contestID,
		Data:      applyTieAwareRanking(rows, offset+1),
		Offset:    offset,
		Limit:     limit,
		Total:     total,
	}, nil
}

func (s *LeaderboardService) readMirror(ctx context.Context, contestID string, offset, limit int) (*models.LeaderboardResponse, error) {
	total, err := s.mirror.GetTotalUsers(ctx, contestID)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return &models.LeaderboardResponse{ContestID: contestID}, nil
	}

	users, err := s.mirror.GetTopUsers(ctx, contestID, offset, limit)
	if err != nil {
		return nil, err
	}

	rows := make([]models.LeaderboardRow, len(users))
	for i, u := range users {
		member, _ := u.Member.(string)
		rows[i] = models.LeaderboardRow{UserID: member, Score: int(u.Score)}
	}

	// A tie can straddle the page boundary, so the first rank on a later
	// page comes from the mirror rather than from the offset.
	startRank := offset + 1
	if offset > 0 && len(rows) > 0 {
		if rank, _, err := s.mirror.GetUserRank(ctx, contestID, rows[0].UserID); err == nil {
			startRank = rank
		}
	}

	version, err := s.mirror.GetLeaderboardVersion(ctx, contestID)
	if err != nil {
		s.logger.Debugf("Failed to read mirror version for contest %s: %v", contestID, err)
	}

	return &models.LeaderboardResponse{
		ContestID: contestID,
		Data:      applyTieAwareRanking(rows, startRank),
		Offset:    offset,
		Limit:     limit,
		Total:     total,
		Version:   version,
	}, nil
}

// GetStanding returns one user's rank and score in a contest
func (s *LeaderboardService) GetStanding(ctx context.Context, contestID, userID string) (*models.LeaderboardRow, error) {
	rank, score, err := s.mirror.GetUserRank(ctx, contestID, userID)
	if err != nil {
		return nil, err
	}
	return &models.LeaderboardRow{Rank: rank, UserID: userID, Score: score}, nil
}

// ResyncMirror rebuilds a contest's Redis ranking from Postgres
func (s *LeaderboardService) ResyncMirror(ctx context.Context, contestID string) error {
	entries, _, err := s.store.ListLeaderboard(ctx, contestID, 0, -1)
	if err != nil {
		return fmt.Errorf("failed to load leaderboard from PostgreSQL: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	if err := s.mirror.BulkSetScores(ctx, contestID, entries); err != nil {
		return fmt.Errorf("failed to sync to Redis: %w", err)
	}

	s.logger.Infof("Synced %d leaderboard entries for contest %s to Redis", len(entries), contestID)
	return nil
}

// applyTieAwareRanking applies the 1224 ranking system to rows already
// sorted by score. Users with the same score share a rank and the next rank
// skips by the size of the tie.
func applyTieAwareRanking(rows []models.LeaderboardRow, startRank int) []models.LeaderboardRow {
	currentRank := startRank
	sameRankCount := 0

	for i := range rows {
		if i > 0 && rows[i].Score != rows[i-1].Score {
			currentRank += sameRankCount
			sameRankCount = 0
		}
		sameRankCount++
		rows[i].Rank = currentRank
	}

	return rows
}
