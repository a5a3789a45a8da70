package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/judgeflow/backend/internal/metrics"
	"github.com/judgeflow/backend/internal/models"
	"github.com/judgeflow/backend/internal/repository"
	"github.com/judgeflow/backend/internal/testutil"
)

func newLeaderboardFixture(t *testing.T) (*LeaderboardService, *testutil.Store, *repository.RedisRepository) {
	t.Helper()
	_, client := testutil.NewRedis(t)
	store := testutil.NewStore()
	mirror := repository.NewRedisRepository(client)
	return NewLeaderboardService(store, mirror, metrics.New(prometheus.NewRegistry())), store, mirror
}

func judged(store *testutil.Store, contestID, userID string, status models.SubmissionStatus, points int) {
	p := points
	store.PutSubmission(models.Submission{
		UserID:    userID,
		ContestID: contestID,
		Status:    status,
		Points:    &p,
	})
}

func TestRecompute_SumsTerminalSubmissions(t *testing.T) {
	svc, store, mirror := newLeaderboardFixture(t)
	ctx := context.Background()

	judged(store, "c1", "alice", models.StatusAccepted, 30)
	judged(store, "c1", "alice", models.StatusRejected, 0)
	judged(store, "c1", "alice", models.StatusAccepted, 50)
	store.PutSubmission(models.Submission{UserID: "alice", ContestID: "c1", Status: models.StatusPending})
	judged(store, "c2", "alice", models.StatusAccepted, 99)
	judged(store, "c1", "bob", models.StatusAccepted, 10)

	entry, err := svc.Recompute(ctx, "c1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 80, entry.Score)

	// Recomputing without new submissions changes nothing.
	entry, err = svc.Recompute(ctx, "c1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 80, entry.Score)

	judged(store, "c1", "alice", models.StatusAccepted, 20)
	entry, err = svc.Recompute(ctx, "c1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 100, entry.Score)

	score, err := mirror.GetUserScore(ctx, "c1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 100, score)
}

func TestRecompute_StoreErrorIsReturned(t *testing.T) {
	svc, store, _ := newLeaderboardFixture(t)
	store.FailOn("RecomputeLeaderboard", errors.New("serialization failure"))

	_, err := svc.Recompute(context.Background(), "c1", "alice")
	assert.Error(t, err)
}

func TestGetLeaderboard_TieAwareRanking(t *testing.T) {
	svc, _, mirror := newLeaderboardFixture(t)
	ctx := context.Background()

	at := time.Unix(1_700_000_000, 0)
	require.NoError(t, mirror.SetScore(ctx, "c1", "alice", 100, at))
	require.NoError(t, mirror.SetScore(ctx, "c1", "bob", 80, at))
	require.NoError(t, mirror.SetScore(ctx, "c1", "carol", 80, at.Add(time.Second)))
	require.NoError(t, mirror.SetScore(ctx, "c1", "dave", 50, at))

	resp, err := svc.GetLeaderboard(ctx, "c1", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(4), resp.Total)

	ranks := make([]int, len(resp.Data))
	users := make([]string, len(resp.Data))
	for i, row := range resp.Data {
		ranks[i] = row.Rank
		users[i] = row.UserID
	}
	assert.Equal(t, []int{1, 2, 2, 4}, ranks)
	assert.Equal(t, []string{"alice", "bob", "carol", "dave"}, users)

	// A page that starts inside a tie keeps the shared rank.
	resp, err = svc.GetLeaderboard(ctx, "c1", 2, 2)
	require.NoError(t, err)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "carol", resp.Data[0].UserID)
	assert.Equal(t, 2, resp.Data[0].Rank)
	assert.Equal(t, 4, resp.Data[1].Rank)
}

func TestGetLeaderboard_FallsBackToStoreAndResyncs(t *testing.T) {
	svc, store, mirror := newLeaderboardFixture(t)
	ctx := context.Background()

	judged(store, "c1", "alice", models.StatusAccepted, 40)
	judged(store, "c1", "bob", models.StatusAccepted, 70)
	_, err := store.RecomputeLeaderboard(ctx, "c1", "alice")
	require.NoError(t, err)
	_, err = store.RecomputeLeaderboard(ctx, "c1", "bob")
	require.NoError(t, err)

	resp, err := svc.GetLeaderboard(ctx, "c1", 0, 0)
	require.NoError(t, err)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "bob", resp.Data[0].UserID)
	assert.Equal(t, 1, resp.Data[0].Rank)
	assert.Equal(t, defaultPageSize, resp.Limit)

	total, err := mirror.GetTotalUsers(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestGetLeaderboard_EmptyContest(t *testing.T) {
	svc, _, _ := newLeaderboardFixture(t)

	resp, err := svc.GetLeaderboard(context.Background(), "nobody-here", 0, 500)
	require.NoError(t, err)
	assert.Empty(t, resp.Data)
	assert.Equal(t, maxPageSize, resp.Limit)
}

func TestGetStanding(t *testing.T) {
	svc, store, _ := newLeaderboardFixture(t)
	ctx := context.Background()

	judged(store, "c1", "alice", models.StatusAccepted, 65)
	_, err := svc.Recompute(ctx, "c1", "alice")
	require.NoError(t, err)

	row, err := svc.GetStanding(ctx, "c1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, row.Rank)
	assert.Equal(t, 65, row.Score)
}

func TestApplyTieAwareRanking(t *testing.T) {
	rows := []models.LeaderboardRow{
		{UserID: "a", Score: 10}, {UserID: "b", Score: 10}, {UserID: "c", Score: 10},
		{UserID: "d", Score: 5}, {UserID: "e", Score: 1}, {UserID: "f", Score: 1},
	}

	ranked := applyTieAwareRanking(rows, 1)

	got := make([]int, len(ranked))
	for i, r := range ranked {
		got[i] = r.Rank
	}
	assert.Equal(t, []int{1, 1, 1, 4, 5, 5}, got)
}
