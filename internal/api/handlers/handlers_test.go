package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/judgeflow/backend/internal/api/middleware"
	"github.com/judgeflow/backend/internal/metrics"
	"github.com/judgeflow/backend/internal/models"
	"github.com/judgeflow/backend/internal/queue"
	"github.com/judgeflow/backend/internal/ratelimit"
	"github.com/judgeflow/backend/internal/repository"
	"github.com/judgeflow/backend/internal/service"
	"github.com/judgeflow/backend/internal/testutil"
	"github.com/judgeflow/backend/internal/websocket"
)

const jwtSecret = "handler-secret"

type testServer struct {
	app        *fiber.App
	store      *testutil.Store
	queue      *queue.MemoryQueue
	mirror     *repository.RedisRepository
	challenge  models.Challenge
	contestID  string
	healthErr  error
	lastHeader http.Header
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	_, client := testutil.NewRedis(t)
	m := metrics.New(prometheus.NewRegistry())
	store := testutil.NewStore()
	q := queue.NewMemoryQueue(16)
	mirror := repository.NewRedisRepository(client)
	contestID := uuid.NewString()
	challenge := store.AddChallenge(models.Challenge{Title: "Graphs", MaxPoints: 100}, contestID)

	ts := &testServer{store: store, queue: q, mirror: mirror, challenge: challenge, contestID: contestID}

	submissions := NewSubmissionHandler(service.NewSubmissionService(store, ratelimit.NewLimiter(client, 5, time.Minute), q, m))
	leaderboard := NewLeaderboardHandler(service.NewLeaderboardService(store, mirror, m), websocket.NewHub(nil), map[string]HealthCheckFunc{
		"redis": mirror.Ping,
		"postgres": func(context.Context) error {
			return ts.healthErr
		},
	})

	app := fiber.New()
	api := app.Group("/api/v1")
	api.Get("/health", leaderboard.HealthCheck)
	api.Get("/contests/:contestId/leaderboard", leaderboard.GetLeaderboard)

	authed := api.Group("", middleware.RequireAuth(jwtSecret, false))
	authed.Post("/challenge/:challengeId/submit", submissions.Submit)
	authed.Get("/submissions/:id", submissions.GetSubmission)
	authed.Get("/contests/:contestId/standing", leaderboard.GetStanding)

	ts.app = app
	return ts
}

func (ts *testServer) do(t *testing.T, method, target, user, body string, headers map[string]string) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		token, err := middleware.IssueToken(jwtSecret, user, user, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	ts.lastHeader = resp.Header
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func (ts *testServer) submitPath() string {
	return "/api/v1/challenge/" + ts.challenge.ID + "/submit"
}

func TestSubmit_Created(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, http.MethodPost, ts.submitPath(), "alice",
		`{"submission":"BFS from the source","points":100}`,
		map[string]string{OracleKeyHeader: "AIza-own-key"})
	require.Equal(t, http.StatusCreated, status, string(body))
	assert.Equal(t, "4", ts.lastHeader.Get(RateLimitRemainingHeader))

	var sub models.Submission
	require.NoError(t, json.Unmarshal(body, &sub))
	assert.Equal(t, models.StatusPending, sub.Status)
	assert.Equal(t, "alice", sub.UserID)
	assert.Nil(t, sub.Points)
	assert.NotContains(t, string(body), "BFS from the source")

	d, err := ts.queue.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sub.ID, d.Job().SubmissionID)
	assert.Equal(t, "AIza-own-key", d.Job().OracleCredential)
}

func TestSubmit_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name       string
		user       string
		target     func(ts *testServer) string
		body       string
		wantStatus int
	}{
		{name: "no token", target: (*testServer).submitPath, body: `{"submission":"x","points":1}`, wantStatus: http.StatusUnauthorized},
		{name: "malformed json", user: "alice", target: (*testServer).submitPath, body: `{"submission":`, wantStatus: http.StatusBadRequest},
		{name: "missing points", user: "alice", target: (*testServer).submitPath, body: `{"submission":"x"}`, wantStatus: http.StatusBadRequest},
		{name: "empty submission", user: "alice", target: (*testServer).submitPath, body: `{"submission":"","points":10}`, wantStatus: http.StatusBadRequest},
		{
			name:       "unknown challenge",
			user:       "alice",
			target:     func(*testServer) string { return "/api/v1/challenge/" + uuid.NewString() + "/submit" },
			body:       `{"submission":"x","points":1}`,
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			status, body := ts.do(t, http.MethodPost, tt.target(ts), tt.user, tt.body, nil)
			assert.Equal(t, tt.wantStatus, status, string(body))
			assert.Equal(t, 0, ts.store.SubmissionCount())
		})
	}
}

func TestSubmit_TooManyRequests(t *testing.T) {
	ts := newTestServer(t)

	for i := 0; i < 5; i++ {
		status, _ := ts.do(t, http.MethodPost, ts.submitPath(), "alice", `{"submission":"try","points":10}`, nil)
		require.Equal(t, http.StatusCreated, status)
	}

	status, body := ts.do(t, http.MethodPost, ts.submitPath(), "alice", `{"submission":"try","points":10}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "0", ts.lastHeader.Get(RateLimitRemainingHeader))

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.NotEmpty(t, resp.Message)
	assert.Equal(t, 5, ts.store.SubmissionCount())
}

func TestSubmit_InternalErrorHidesCause(t *testing.T) {
	ts := newTestServer(t)
	ts.store.FailOn("CreateSubmission", errors.New("pq: password authentication failed for user judge"))

	status, body := ts.do(t, http.MethodPost, ts.submitPath(), "alice", `{"submission":"x","points":1}`, nil)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.NotContains(t, string(body), "password")
}

func TestGetSubmission_OwnerOnly(t *testing.T) {
	ts := newTestServer(t)
	status, body := ts.do(t, http.MethodPost, ts.submitPath(), "alice", `{"submission":"x","points":1}`, nil)
	require.Equal(t, http.StatusCreated, status)
	var sub models.Submission
	require.NoError(t, json.Unmarshal(body, &sub))

	status, _ = ts.do(t, http.MethodGet, "/api/v1/submissions/"+sub.ID, "alice", "", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = ts.do(t, http.MethodGet, "/api/v1/submissions/"+sub.ID, "bob", "", nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = ts.do(t, http.MethodGet, "/api/v1/submissions/missing", "alice", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestLeaderboardAndStanding(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	at := time.Unix(1_700_000_000, 0)
	require.NoError(t, ts.mirror.SetScore(ctx, ts.contestID, "alice", 65, at))
	require.NoError(t, ts.mirror.SetScore(ctx, ts.contestID, "bob", 90, at))

	status, body := ts.do(t, http.MethodGet, "/api/v1/contests/"+ts.contestID+"/leaderboard?limit=abc", "", "", nil)
	require.Equal(t, http.StatusOK, status)

	var resp models.LeaderboardResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, int64(2), resp.Total)
	assert.Equal(t, 50, resp.Limit)
	assert.Equal(t, int64(2), resp.Version)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, models.LeaderboardRow{Rank: 1, UserID: "bob", Score: 90}, resp.Data[0])

	status, body = ts.do(t, http.MethodGet, "/api/v1/contests/"+ts.contestID+"/standing", "alice", "", nil)
	require.Equal(t, http.StatusOK, status)
	var row models.LeaderboardRow
	require.NoError(t, json.Unmarshal(body, &row))
	assert.Equal(t, models.LeaderboardRow{Rank: 2, UserID: "alice", Score: 65}, row)

	status, _ = ts.do(t, http.MethodGet, "/api/v1/contests/"+ts.contestID+"/standing", "carol", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t)

	status, _ := ts.do(t, http.MethodGet, "/api/v1/health", "", "", nil)
	assert.Equal(t, http.StatusOK, status)

	ts.healthErr = errors.New("dial tcp: connection refused")
	status, body := ts.do(t, http.MethodGet, "/api/v1/health", "", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, string(body), "postgres unavailable")
	assert.NotContains(t, string(body), "dial tcp")
}
