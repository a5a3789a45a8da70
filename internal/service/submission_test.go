package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/judgeflow/backend/internal/errors"
	"github.com/judgeflow/backend/internal/metrics"
	"github.com/judgeflow/backend/internal/models"
	"github.com/judgeflow/backend/internal/queue"
	"github.com/judgeflow/backend/internal/ratelimit"
	"github.com/judgeflow/backend/internal/testutil"
)

type limiterFunc func(ctx context.Context, userID string) (bool, error)

func (f limiterFunc) Allow(ctx context.Context, userID string) (bool, error) { return f(ctx, userID) }

func (f limiterFunc) Remaining(context.Context, string) (int, error) { return 0, nil }

type intakeFixture struct {
	svc       *SubmissionService
	store     *testutil.Store
	queue     *queue.MemoryQueue
	challenge models.Challenge
	contestID string
}

func newIntakeFixture(t *testing.T) *intakeFixture {
	t.Helper()

	_, client := testutil.NewRedis(t)
	store := testutil.NewStore()
	q := queue.NewMemoryQueue(32)
	contestID := uuid.NewString()
	challenge := store.AddChallenge(models.Challenge{Title: "Two Sum", MaxPoints: 100}, contestID)

	svc := NewSubmissionService(store, ratelimit.NewLimiter(client, 5, time.Minute), q, metrics.New(prometheus.NewRegistry()))
	return &intakeFixture{svc: svc, store: store, queue: q, challenge: challenge, contestID: contestID}
}

func (f *intakeFixture) input(user string) SubmitInput {
	return SubmitInput{
		UserID:      user,
		ChallengeID: f.challenge.ID,
		Request:     models.SubmitRequest{Submission: "use a hash map", Points: 100},
	}
}

func TestSubmit_PersistsPendingAndEnqueues(t *testing.T) {
	f := newIntakeFixture(t)
	ctx := context.Background()

	in := f.input("alice")
	in.OracleCredential = "AIza-user-key"

	sub, err := f.svc.Submit(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, sub.Status)
	assert.Equal(t, f.contestID, sub.ContestID)
	assert.Nil(t, sub.Points)
	assert.Equal(t, 1, f.store.SubmissionCount())

	d, err := f.queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.Job{SubmissionID: sub.ID, OracleCredential: "AIza-user-key", Attempt: 1}, d.Job())
}

func TestSubmit_RateLimitBoundary(t *testing.T) {
	f := newIntakeFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.svc.Submit(ctx, f.input("alice"))
		require.NoError(t, err, "attempt %d", i+1)
	}

	_, err := f.svc.Submit(ctx, f.input("alice"))
	assert.ErrorIs(t, err, apperrors.ErrRateLimited)
	assert.Equal(t, 5, f.store.SubmissionCount())
	assert.Equal(t, 5, f.queue.Len())

	// Budgets are per user.
	_, err = f.svc.Submit(ctx, f.input("bob"))
	assert.NoError(t, err)
}

func TestSubmit_RejectsWithoutSideEffects(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(f *intakeFixture, in *SubmitInput)
		wantErr error
	}{
		{
			name:    "unknown challenge",
			mutate:  func(_ *intakeFixture, in *SubmitInput) { in.ChallengeID = "missing" },
			wantErr: apperrors.ErrNotFound,
		},
		{
			name:    "blank submission",
			mutate:  func(_ *intakeFixture, in *SubmitInput) { in.Request.Submission = "   " },
			wantErr: apperrors.ErrInvalidRequest,
		},
		{
			name:    "zero points",
			mutate:  func(_ *intakeFixture, in *SubmitInput) { in.Request.Points = 0 },
			wantErr: apperrors.ErrInvalidRequest,
		},
		{
			name:    "oversized submission",
			mutate:  func(_ *intakeFixture, in *SubmitInput) { in.Request.Submission = strings.Repeat("x", 20001) },
			wantErr: apperrors.ErrInvalidRequest,
		},
		{
			name:    "malformed contest id",
			mutate:  func(_ *intakeFixture, in *SubmitInput) { in.Request.ContestID = "not-a-uuid" },
			wantErr: apperrors.ErrInvalidRequest,
		},
		{
			name:    "challenge outside given contest",
			mutate:  func(_ *intakeFixture, in *SubmitInput) { in.Request.ContestID = uuid.NewString() },
			wantErr: apperrors.ErrNotFound,
		},
		{
			name:    "anonymous",
			mutate:  func(_ *intakeFixture, in *SubmitInput) { in.UserID = "" },
			wantErr: apperrors.ErrUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newIntakeFixture(t)
			in := f.input("alice")
			tt.mutate(f, &in)

			sub, err := f.svc.Submit(context.Background(), in)
			assert.Nil(t, sub)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, f.store.SubmissionCount())
			assert.Equal(t, 0, f.queue.Len())
		})
	}
}

func TestSubmit_ContestResolution(t *testing.T) {
	f := newIntakeFixture(t)
	ctx := context.Background()

	other := uuid.NewString()
	shared := f.store.AddChallenge(models.Challenge{Title: "Shared", MaxPoints: 50}, f.contestID, other)
	orphan := f.store.AddChallenge(models.Challenge{Title: "Orphan", MaxPoints: 50})

	in := f.input("alice")
	in.ChallengeID = shared.ID
	_, err := f.svc.Submit(ctx, in)
	assert.ErrorIs(t, err, apperrors.ErrAmbiguousContest)

	in.Request.ContestID = other
	sub, err := f.svc.Submit(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, other, sub.ContestID)

	in = f.input("alice")
	in.ChallengeID = orphan.ID
	_, err = f.svc.Submit(ctx, in)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	assert.Equal(t, 1, f.store.SubmissionCount())
}

func TestSubmit_InfrastructureFailures(t *testing.T) {
	t.Run("limiter unavailable", func(t *testing.T) {
		f := newIntakeFixture(t)
		f.svc.limiter = limiterFunc(func(context.Context, string) (bool, error) {
			return false, errors.New("connection refused")
		})

		_, err := f.svc.Submit(context.Background(), f.input("alice"))
		assert.ErrorIs(t, err, apperrors.ErrInternal)
		assert.Equal(t, 0, f.store.SubmissionCount())
	})

	t.Run("store unavailable", func(t *testing.T) {
		f := newIntakeFixture(t)
		f.store.FailOn("CreateSubmission", errors.New("connection reset"))

		_, err := f.svc.Submit(context.Background(), f.input("alice"))
		assert.ErrorIs(t, err, apperrors.ErrInternal)
		assert.Equal(t, 0, f.queue.Len())
	})

	t.Run("queue closed", func(t *testing.T) {
		f := newIntakeFixture(t)
		require.NoError(t, f.queue.Close())

		_, err := f.svc.Submit(context.Background(), f.input("alice"))
		assert.ErrorIs(t, err, apperrors.ErrInternal)
		// The row is left Pending for the reaper.
		assert.Equal(t, 1, f.store.SubmissionCount())
	})
}

func TestGetSubmission_OwnerOnly(t *testing.T) {
	f := newIntakeFixture(t)
	ctx := context.Background()

	sub, err := f.svc.Submit(ctx, f.input("alice"))
	require.NoError(t, err)

	got, err := f.svc.GetSubmission(ctx, "alice", sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)

	_, err = f.svc.GetSubmission(ctx, "bob", sub.ID)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = f.svc.GetSubmission(ctx, "alice", "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
