package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/judgeflow/backend/internal/errors"
	"github.com/judgeflow/backend/internal/models"
)

// Store is an in-memory stand-in for the Postgres repository. It keeps the
// same conditional-update semantics so judge and aggregator tests exercise
// the real state machine.
type Store struct {
	mu          sync.Mutex
	challenges  map[string]models.Challenge
	mappings    []models.ContestChallenge
	submissions map[string]models.Submission
	leaderboard map[string]map[string]models.LeaderboardEntry
	failures    map[string]error
}

func NewStore() *Store {
	return &Store{
		challenges:  make(map[string]models.Challenge),
		submissions: make(map[string]models.Submission),
		leaderboard: make(map[string]map[string]models.LeaderboardEntry),
		failures:    make(map[string]error),
	}
}

// AddChallenge stores a challenge and places it in each of contestIDs.
func (s *Store) AddChallenge(ch models.Challenge, contestIDs ...string) models.Challenge {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch.ID == "" {
		ch.ID = uuid.NewString()
	}
	s.challenges[ch.ID] = ch
	for i, contestID := range contestIDs {
		s.mappings = append(s.mappings, models.ContestChallenge{
			ID:          uuid.NewString(),
			ContestID:   contestID,
			ChallengeID: ch.ID,
			Index:       i,
		})
	}
	return ch
}

// PutSubmission stores a submission as is.
func (s *Store) PutSubmission(sub models.Submission) models.Submission {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = time.Now()
	}
	s.submissions[sub.ID] = sub
	return sub
}

// FailOn makes every later call to method return err. A nil err clears it.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

// SubmissionCount returns how many submissions have been stored.
func (s *Store) SubmissionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.submissions)
}

// Score returns the stored leaderboard total for a user.
func (s *Store) Score(contestID, userID string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.leaderboard[contestID][userID]
	return entry.Score, ok
}

func (s *Store) fail(method string) error {
	return s.failures[method]
}

func (s *Store) GetChallenge(_ context.Context, id string) (*models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetChallenge"); err != nil {
		return nil, err
	}
	ch, ok := s.challenges[id]
	if !ok {
		return nil, fmt.Errorf("%w, challenge %s", apperrors.ErrNotFound, id)
	}
	return &ch, nil
}

func (s *Store) GetMappingsForChallenge(_ context.Context, challengeID string) ([]models.ContestChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetMappingsForChallenge"); err != nil {
		return nil, err
	}
	var out []models.ContestChallenge
	for _, m := range s.mappings {
		if m.ChallengeID == challengeID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) GetMapping(_ context.Context, contestID, challengeID string) (*models.ContestChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetMapping"); err != nil {
		return nil, err
	}
	for _, m := range s.mappings {
		if m.ContestID == contestID && m.ChallengeID == challengeID {
			return &m, nil
		}
	}
	return nil, fmt.Errorf("%w, challenge %s in contest %s", apperrors.ErrNotFound, challengeID, contestID)
}

func (s *Store) CreateSubmission(_ context.Context, sub *models.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CreateSubmission"); err != nil {
		return err
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	now := time.Now()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	s.submissions[sub.ID] = *sub
	return nil
}

func (s *Store) GetSubmission(_ context.Context, id string) (*models.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetSubmission"); err != nil {
		return nil, err
	}
	sub, ok := s.submissions[id]
	if !ok {
		return nil, fmt.Errorf("%w, submission %s", apperrors.ErrNotFound, id)
	}
	return &sub, nil
}

func (s *Store) MarkJudging(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("MarkJudging"); err != nil {
		return false, err
	}
	sub, ok := s.submissions[id]
	if !ok || !sub.Status.CanTransitionTo(models.StatusJudging) {
		return false, nil
	}
	sub.Status = models.StatusJudging
	sub.Attempts++
	sub.UpdatedAt = time.Now()
	s.submissions[id] = sub
	return true, nil
}

func (s *Store) CompleteSubmission(_ context.Context, id string, outcome models.JudgeOutcome) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CompleteSubmission"); err != nil {
		return false, err
	}
	if !outcome.Status.IsTerminal() {
		return false, fmt.Errorf("%w, %s is not a terminal status", apperrors.ErrInvalidRequest, outcome.Status)
	}
	sub, ok := s.submissions[id]
	if !ok || sub.Status != models.StatusJudging {
		return false, nil
	}
	now := time.Now()
	points := outcome.Points
	sub.Status = outcome.Status
	sub.Points = &points
	sub.Verdict = outcome.Verdict
	sub.Reason = outcome.Reason
	sub.JudgedAt = &now
	sub.UpdatedAt = now
	s.submissions[id] = sub
	return true, nil
}

func (s *Store) TouchSubmission(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("TouchSubmission"); err != nil {
		return err
	}
	if sub, ok := s.submissions[id]; ok {
		sub.UpdatedAt = time.Now()
		s.submissions[id] = sub
	}
	return nil
}

func (s *Store) ListStaleSubmissions(_ context.Context, judgingBefore, pendingBefore time.Time, limit int) ([]models.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListStaleSubmissions"); err != nil {
		return nil, err
	}
	var out []models.Submission
	for _, sub := range s.submissions {
		switch {
		case sub.Status == models.StatusJudging && sub.UpdatedAt.Before(judgingBefore),
			sub.Status == models.StatusPending && sub.UpdatedAt.Before(pendingBefore):
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) RecomputeLeaderboard(_ context.Context, contestID, userID string) (*models.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("RecomputeLeaderboard"); err != nil {
		return nil, err
	}

	total := 0
	for _, sub := range s.submissions {
		if sub.ContestID == contestID && sub.UserID == userID && sub.Status.IsTerminal() && sub.Points != nil {
			total += *sub.Points
		}
	}

	if s.leaderboard[contestID] == nil {
		s.leaderboard[contestID] = make(map[string]models.LeaderboardEntry)
	}
	entry := models.LeaderboardEntry{
		ContestID: contestID,
		UserID:    userID,
		Score:     total,
		UpdatedAt: time.Now(),
	}
	s.leaderboard[contestID][userID] = entry
	return &entry, nil
}

func (s *Store) ListLeaderboard(_ context.Context, contestID string, offset, limit int) ([]models.LeaderboardEntry, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListLeaderboard"); err != nil {
		return nil, 0, err
	}

	entries := make([]models.LeaderboardEntry, 0, len(s.leaderboard[contestID]))
	for _, e := range s.leaderboard[contestID] {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].UpdatedAt.Before(entries[j].UpdatedAt)
	})

	total := int64(len(entries))
	if offset >= len(entries) {
		return []models.LeaderboardEntry{}, total, nil
	}
	entries = entries[offset:]
	if limit >= 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, total, nil
}
