package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/judgeflow/backend/internal/errors"
	"github.com/judgeflow/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostgresRepository handles all PostgreSQL operations
type PostgresRepository struct {
	db *gorm.DB
}

// NewPostgresRepository creates a new Postgres repository
func NewPostgresRepository(db *gorm.DB) *PostgresRepository {
	return &PostgresRepository{
		db: db,
	}
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w, %s", apperrors.ErrNotFound, what)
	}
	return err
}

// GetChallenge retrieves a challenge by id
func (r *PostgresRepository) GetChallenge(ctx context.Context, id string) (*models.Challenge, error) {
	var challenge models.Challenge
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&challenge).Error; err != nil {
		return nil, notFound(err, "challenge "+id)
	}
	return &challenge, nil
}

// GetMappingsForChallenge lists every contest placement of a challenge
func (r *PostgresRepository) GetMappingsForChallenge(ctx context.Context, challengeID string) ([]models.ContestChallenge, error) {
	var mappings []models.ContestChallenge
	err := r.db.WithContext(ctx).
		Where("challenge_id = ?", challengeID).
		Order("contest_id").
		Find(&mappings).Error
	return mappings, err
}

// GetMapping retrieves the placement of a challenge inside a specific contest
func (r *PostgresRepository) GetMapping(ctx context.Context, contestID, challengeID string) (*models.ContestChallenge, error) {
	var mapping models.ContestChallenge
	err := r.db.WithContext(ctx).
		Where("contest_id = ? AND challenge_id = ?", contestID, challengeID).
		First(&mapping).Error
	if err != nil {
		return nil, notFound(err, "challenge "+challengeID+" in contest "+contestID)
	}
	return &mapping, nil
}

// CreateSubmission inserts a new submission row
func (r *PostgresRepository) CreateSubmission(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Create(submission).Error
}

// GetSubmission retrieves a submission by id
func (r *PostgresRepository) GetSubmission(ctx context.Context, id string) (*models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&submission).Error; err != nil {
		return nil, notFound(err, "submission "+id)
	}
	return &submission, nil
}

// MarkJudging moves a Pending or Judging submission to Judging and counts the
// attempt. It reports false when the submission is no longer eligible.
func (r *PostgresRepository) MarkJudging(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Submission{}).
		Where("id = ? AND status IN ?", id, []models.SubmissionStatus{models.StatusPending, models.StatusJudging}).
		Updates(map[string]interface{}{
			"status":     models.StatusJudging,
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": time.Now(),
		})
	return res.RowsAffected > 0, res.Error
}

// CompleteSubmission writes the terminal outcome if the submission is still
// Judging. It reports false when another worker finished it first.
func (r *PostgresRepository) CompleteSubmission(ctx context.Context, id string, outcome models.JudgeOutcome) (bool, error) {
	if !outcome.Status.IsTerminal() {
		return false, fmt.Errorf("%w, %s is not a terminal status", apperrors.ErrInvalidRequest, outcome.Status)
	}
	now := time.Now()
	res := r.db.WithContext(ctx).
		Model(&models.Submission{}).
		Where("id = ? AND status = ?", id, models.StatusJudging).
		Updates(map[string]interface{}{
			"status":     outcome.Status,
			"points":     outcome.Points,
			"verdict":    outcome.Verdict,
			"reason":     outcome.Reason,
			"judged_at":  now,
			"updated_at": now,
		})
	return res.RowsAffected > 0, res.Error
}

// TouchSubmission bumps updated_at so the reaper does not pick the row again
// until it goes stale a second time.
func (r *PostgresRepository) TouchSubmission(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&models.Submission{}).
		Where("id = ?", id).
		Update("updated_at", time.Now()).Error
}

// ListStaleSubmissions returns Judging submissions untouched since
// judgingBefore and Pending ones untouched since pendingBefore
func (r *PostgresRepository) ListStaleSubmissions(ctx context.Context, judgingBefore, pendingBefore time.Time, limit int) ([]models.Submission, error) {
	var submissions []models.Submission
	err := r.db.WithContext(ctx).
		Where("(status = ? AND updated_at < ?) OR (status = ? AND updated_at < ?)",
			models.StatusJudging, judgingBefore, models.StatusPending, pendingBefore).
		Order("updated_at").
		Limit(limit).
		Find(&submissions).Error
	return submissions, err
}

// RecomputeLeaderboard rebuilds one user's contest total from their terminal
// submissions and upserts it. Concurrent recomputes for the same pair are
// serialized by a transaction-scoped advisory lock.
func (r *PostgresRepository) RecomputeLeaderboard(ctx context.Context, contestID, userID string) (*models.LeaderboardEntry, error) {
	entry := models.LeaderboardEntry{ContestID: contestID, UserID: userID}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", contestID+":"+userID).Error; err != nil {
			return fmt.Errorf("failed to lock leaderboard row: %w", err)
		}

		var total int64
		err := tx.Model(&models.Submission{}).
			Select("COALESCE(SUM(points), 0)").
			Where("contest_id = ? AND user_id = ? AND status IN ?", contestID, userID, models.TerminalStatuses).
			Scan(&total).Error
		if err != nil {
			return fmt.Errorf("failed to sum points: %w", err)
		}

		entry.Score = int(total)
		entry.UpdatedAt = time.Now()

		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "contest_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"score", "updated_at"}),
		}).Create(&entry).Error
	}, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}

	return &entry, nil
}

// ListLeaderboard returns a page of a contest's entries ordered by score,
// earlier updates first on ties
func (r *PostgresRepository) ListLeaderboard(ctx context.Context, contestID string, offset, limit int) ([]models.LeaderboardEntry, int64, error) {
	var total int64
	base := r.db.WithContext(ctx).Model(&models.LeaderboardEntry{}).Where("contest_id = ?", contestID)
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []models.LeaderboardEntry
	err := r.db.WithContext(ctx).
		Where("contest_id = ?", contestID).
		Order("score DESC, updated_at ASC").
		Offset(offset).
		Limit(limit).
		Find(&entries).Error
	return entries, total, err
}

// CreateContest inserts a contest and maps the challenges into it with
// contiguous indexes starting at 0
func (r *PostgresRepository) CreateContest(ctx context.Context, contest *models.Contest, challenges []models.Challenge) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(contest).Error; err != nil {
			return err
		}
		if len(challenges) == 0 {
			return nil
		}
		if err := tx.Create(&challenges).Error; err != nil {
			return err
		}
		mappings := make([]models.ContestChallenge, len(challenges))
		for i, challenge := range challenges {
			mappings[i] = models.ContestChallenge{
				ContestID:   contest.ID,
				ChallengeID: challenge.ID,
				Index:       i,
			}
		}
		return tx.Create(&mappings).Error
	})
}

// Ping checks if database is reachable
func (r *PostgresRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (r *PostgresRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AutoMigrate runs database migrations
func (r *PostgresRepository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&models.Challenge{},
		&models.Contest{},
		&models.ContestChallenge{},
		&models.Submission{},
		&models.LeaderboardEntry{},
	)
}
