package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/judgeflow/backend/internal/errors"
	"github.com/judgeflow/backend/internal/logger"
	"github.com/judgeflow/backend/internal/metrics"
	"github.com/judgeflow/backend/internal/models"
	"github.com/judgeflow/backend/internal/queue"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// SubmissionStore is the persistence needed by intake
type SubmissionStore interface {
	GetChallenge(ctx context.Context, id string) (*models.Challenge, error)
	GetMappingsForChallenge(ctx context.Context, challengeID string) ([]models.ContestChallenge, error)
	GetMapping(ctx context.Context, contestID, challengeID string) (*models.ContestChallenge, error)
	CreateSubmission(ctx context.Context, submission *models.Submission) error
	GetSubmission(ctx context.Context, id string) (*models.Submission, error)
}

// RateLimiter admits or refuses one attempt for a user
type RateLimiter interface {
	Allow(ctx context.Context, userID string) (bool, error)
	Remaining(ctx context.Context, userID string) (int, error)
}

// SubmitInput is one intake call: the authenticated user, the target
// challenge, the body, and an optional caller-supplied oracle key.
type SubmitInput struct {
	UserID           string
	ChallengeID      string
	Request          models.SubmitRequest
	OracleCredential string
}

// SubmissionService handles submission intake
type SubmissionService struct {
	store     SubmissionStore
	limiter   RateLimiter
	queue     queue.Queue
	validator *validator.Validate
	metrics   *metrics.Metrics
	logger    *zap.SugaredLogger
}

func NewSubmissionService(store SubmissionStore, limiter RateLimiter, q queue.Queue, m *metrics.Metrics) *SubmissionService {
	return &SubmissionService{
		store:     store,
		limiter:   limiter,
		queue:     q,
		validator: newValidator(),
		metrics:   m,
		logger:    logger.NewNamedLogger("intake"),
	}
}

// RemainingAttempts reports how many more submissions userID may make in the current window
func (s *SubmissionService) RemainingAttempts(ctx context.Context, userID string) (int, error) {
	return s.limiter.Remaining(ctx, userID)
}

// Submit admits a submission and queues it for judging. The returned
// submission is still Pending; judging happens asynchronously.
func (s *SubmissionService) Submit(ctx context.Context, in SubmitInput) (*models.Submission, error) {
	if in.UserID == "" {
		return nil, apperrors.ErrUnauthorized
	}

	allowed, err := s.limiter.Allow(ctx, in.UserID)
	if err != nil {
		s.logger.Errorf("Rate limiter unavailable for user %s: %v", in.UserID, err)
		s.count("error")
		return nil, fmt.Errorf("%w, %v", apperrors.ErrInternal, err)
	}
	if !allowed {
		s.count("rate_limited")
		return nil, apperrors.ErrRateLimited
	}

	in.Request.Submission = strings.TrimSpace(in.Request.Submission)
	if err := validateInput(s.validator, in.Request); err != nil {
		s.count("invalid")
		return nil, err
	}

	challenge, err := s.store.GetChallenge(ctx, in.ChallengeID)
	if err != nil {
		return nil, s.lookupError(err, "challenge")
	}

	mapping, err := s.resolveMapping(ctx, challenge.ID, in.Request.ContestID)
	if err != nil {
		return nil, err
	}

	submission := &models.Submission{
		UserID:         in.UserID,
		MappingID:      mapping.ID,
		ContestID:      mapping.ContestID,
		ChallengeID:    challenge.ID,
		Content:        in.Request.Submission,
		DeclaredPoints: in.Request.Points,
		Status:         models.StatusPending,
	}
	if err := s.store.CreateSubmission(ctx, submission); err != nil {
		s.logger.Errorf("Failed to persist submission for user %s: %v", in.UserID, err)
		s.count("error")
		return nil, fmt.Errorf("%w, %v", apperrors.ErrInternal, err)
	}

	job := queue.Job{
		SubmissionID:     submission.ID,
		OracleCredential: in.OracleCredential,
		Attempt:          1,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		// The row stays Pending; the reaper enqueues it later.
		s.logger.Errorf("Failed to enqueue submission %s: %v", submission.ID, err)
		s.count("error")
		return nil, fmt.Errorf("%w, %v", apperrors.ErrInternal, err)
	}

	s.count("accepted")
	s.logger.Infof("Submission %s queued (user=%s contest=%s challenge=%s)",
		submission.ID, submission.UserID, submission.ContestID, submission.ChallengeID)

	return submission, nil
}

// resolveMapping finds the single contest placement a submission belongs to
func (s *SubmissionService) resolveMapping(ctx context.Context, challengeID, contestID string) (*models.ContestChallenge, error) {
	if contestID != "" {
		mapping, err := s.store.GetMapping(ctx, contestID, challengeID)
		if err != nil {
			return nil, s.lookupError(err, "contest mapping")
		}
		return mapping, nil
	}

	mappings, err := s.store.GetMappingsForChallenge(ctx, challengeID)
	if err != nil {
		return nil, s.lookupError(err, "contest mapping")
	}
	switch len(mappings) {
	case 0:
		s.count("not_found")
		return nil, fmt.Errorf("%w, challenge %s is not part of any contest", apperrors.ErrNotFound, challengeID)
	case 1:
		return &mappings[0], nil
	default:
		s.count("invalid")
		return nil, apperrors.ErrAmbiguousContest
	}
}

// GetSubmission returns a submission to its author
func (s *SubmissionService) GetSubmission(ctx context.Context, userID, id string) (*models.Submission, error) {
	submission, err := s.store.GetSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	if submission.UserID != userID {
		return nil, apperrors.ErrForbidden
	}
	return submission, nil
}

func (s *SubmissionService) lookupError(err error, what string) error {
	if errors.Is(err, apperrors.ErrNotFound) {
		s.count("not_found")
		return err
	}
	s.logger.Errorf("Failed to load %s: %v", what, err)
	s.count("error")
	return fmt.Errorf("%w, %v", apperrors.ErrInternal, err)
}

func (s *SubmissionService) count(outcome string) {
	s.metrics.SubmissionsReceived.WithLabelValues(outcome).Inc()
}
