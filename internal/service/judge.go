package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/judgeflow/backend/internal/errors"
	"github.com/judgeflow/backend/internal/logger"
	"github.com/judgeflow/backend/internal/metrics"
	"github.com/judgeflow/backend/internal/models"
	"github.com/judgeflow/backend/internal/notify"
	"github.com/judgeflow/backend/internal/oracle"
	"github.com/judgeflow/backend/internal/queue"

	"go.uber.org/zap"
)

// FailedReason replaces the oracle's text whenever judging could not complete.
const FailedReason = "judging failed"

// JudgeStore is the persistence needed by the judge
type JudgeStore interface {
	GetSubmission(ctx context.Context, id string) (*models.Submission, error)
	GetChallenge(ctx context.Context, id string) (*models.Challenge, error)
	MarkJudging(ctx context.Context, id string) (bool, error)
	CompleteSubmission(ctx context.Context, id string, outcome models.JudgeOutcome) (bool, error)
}

// Aggregator recomputes a user's contest total
type Aggregator interface {
	Recompute(ctx context.Context, contestID, userID string) (*models.LeaderboardEntry, error)
}

type JudgeOptions struct {
	OracleTimeout     time.Duration
	DefaultCredential string
}

// JudgeService drives a queued submission from Pending to a terminal status
type JudgeService struct {
	store      JudgeStore
	scorer     oracle.Scorer
	aggregator Aggregator
	emitter    notify.Emitter
	opts       JudgeOptions
	metrics    *metrics.Metrics
	logger     *zap.SugaredLogger
}

func NewJudgeService(store JudgeStore, scorer oracle.Scorer, aggregator Aggregator, emitter notify.Emitter, m *metrics.Metrics, opts JudgeOptions) *JudgeService {
	if opts.OracleTimeout <= 0 {
		opts.OracleTimeout = 30 * time.Second
	}
	return &JudgeService{
		store:      store,
		scorer:     scorer,
		aggregator: aggregator,
		emitter:    emitter,
		opts:       opts,
		metrics:    m,
		logger:     logger.NewNamedLogger("judge"),
	}
}

// Process judges one job. A nil error means the job is finished and can be
// acknowledged. Oracle failures are not errors; they end in a Rejected
// submission. Returned errors are transient and the job should be retried.
func (s *JudgeService) Process(ctx context.Context, job queue.Job) error {
	submission, err := s.store.GetSubmission(ctx, job.SubmissionID)
	if errors.Is(err, apperrors.ErrNotFound) {
		s.logger.Warnf("Dropping job for missing submission %s", job.SubmissionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load submission %s: %w", job.SubmissionID, err)
	}

	if submission.Status.IsTerminal() {
		s.logger.Infof("Submission %s already %s, skipping oracle", submission.ID, submission.Status)
		if _, err := s.aggregator.Recompute(ctx, submission.ContestID, submission.UserID); err != nil {
			return err
		}
		return nil
	}

	marked, err := s.store.MarkJudging(ctx, submission.ID)
	if err != nil {
		return fmt.Errorf("failed to mark submission %s judging: %w", submission.ID, err)
	}
	if !marked {
		s.logger.Infof("Submission %s finished concurrently, skipping", submission.ID)
		return nil
	}

	challenge, err := s.store.GetChallenge(ctx, submission.ChallengeID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return fmt.Errorf("failed to load challenge %s: %w", submission.ChallengeID, err)
	}

	var outcome models.JudgeOutcome
	if challenge == nil {
		s.logger.Errorf("Challenge %s of submission %s no longer exists", submission.ChallengeID, submission.ID)
		outcome = failedOutcome()
	} else {
		outcome, err = s.judge(ctx, submission, challenge, job.OracleCredential)
		if err != nil {
			return err
		}
	}

	return s.finish(ctx, submission, outcome)
}

// Fail force-rejects a submission whose job ran out of attempts.
func (s *JudgeService) Fail(ctx context.Context, job queue.Job) error {
	submission, err := s.store.GetSubmission(ctx, job.SubmissionID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load submission %s: %w", job.SubmissionID, err)
	}
	if submission.Status.IsTerminal() {
		return nil
	}

	if _, err := s.store.MarkJudging(ctx, submission.ID); err != nil {
		return fmt.Errorf("failed to mark submission %s judging: %w", submission.ID, err)
	}

	s.logger.Warnf("Giving up on submission %s after %d attempts", submission.ID, job.Attempt)
	return s.finish(ctx, submission, failedOutcome())
}

// judge calls the oracle under a timeout and turns its answer into an outcome.
func (s *JudgeService) judge(ctx context.Context, submission *models.Submission, challenge *models.Challenge, suppliedCredential string) (models.JudgeOutcome, error) {
	req := oracle.Request{
		Context:    challenge.AIContext,
		Submission: submission.Content,
		MaxPoints:  challenge.MaxPoints,
		Credential: oracle.ResolveCredential(suppliedCredential, s.opts.DefaultCredential),
	}

	octx, cancel := context.WithTimeout(ctx, s.opts.OracleTimeout)
	defer cancel()

	start := time.Now()
	result, err := oracle.Evaluate(octx, s.scorer, req)
	elapsed := time.Since(start)

	if err != nil {
		// Shutting down is not the oracle's fault; leave the job for redelivery.
		if ctx.Err() != nil {
			return models.JudgeOutcome{}, ctx.Err()
		}

		label := "error"
		switch {
		case errors.Is(octx.Err(), context.DeadlineExceeded):
			label = "timeout"
		case errors.Is(err, apperrors.ErrUnparsable):
			label = "unparsable"
		}
		s.metrics.OracleDuration.WithLabelValues(label).Observe(elapsed.Seconds())
		s.logger.Errorf("Oracle %s for submission %s after %v: %v", label, submission.ID, elapsed, err)
		return failedOutcome(), nil
	}
	s.metrics.OracleDuration.WithLabelValues("ok").Observe(elapsed.Seconds())

	status := models.StatusRejected
	if result.Marks > 0 {
		status = models.StatusAccepted
	}
	return models.JudgeOutcome{
		Status:  status,
		Points:  result.Marks,
		Verdict: result.Verdict,
		Reason:  result.Reason,
	}, nil
}

// finish writes the terminal outcome, then aggregates and notifies.
func (s *JudgeService) finish(ctx context.Context, submission *models.Submission, outcome models.JudgeOutcome) error {
	written, err := s.store.CompleteSubmission(ctx, submission.ID, outcome)
	if err != nil {
		return fmt.Errorf("failed to complete submission %s: %w", submission.ID, err)
	}
	if !written {
		s.logger.Infof("Submission %s was completed by another worker", submission.ID)
		return nil
	}
	s.metrics.JudgedTotal.WithLabelValues(string(outcome.Status), string(outcome.Verdict)).Inc()
	s.logger.Infof("Submission %s judged %s with %d points", submission.ID, outcome.Status, outcome.Points)

	if _, err := s.aggregator.Recompute(ctx, submission.ContestID, submission.UserID); err != nil {
		return err
	}

	payload := notify.JudgedPayload{
		SubmissionID: submission.ID,
		Status:       outcome.Status,
		Points:       outcome.Points,
	}
	if err := s.emitter.EmitToUser(ctx, submission.UserID, notify.EventSubmissionJudged, payload); err != nil {
		s.logger.Warnf("Failed to notify user %s about submission %s: %v", submission.UserID, submission.ID, err)
	}

	return nil
}

func failedOutcome() models.JudgeOutcome {
	return models.JudgeOutcome{
		Status:  models.StatusRejected,
		Points:  0,
		Verdict: models.VerdictWrong,
		Reason:  FailedReason,
	}
}
