package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/judgeflow/backend/internal/api/middleware"
	"github.com/judgeflow/backend/internal/models"
	"github.com/judgeflow/backend/internal/service"
	"github.com/judgeflow/backend/internal/websocket"

	"github.com/gofiber/fiber/v2"
	fiberws "github.com/gofiber/websocket/v2"
)

// HealthCheckFunc reports whether one dependency is reachable
type HealthCheckFunc func(ctx context.Context) error

// LeaderboardHandler handles leaderboard reads, health and live updates
type LeaderboardHandler struct {
	service *service.LeaderboardService
	hub     *websocket.Hub
	checks  map[string]HealthCheckFunc
}

func NewLeaderboardHandler(service *service.LeaderboardService, hub *websocket.Hub, checks map[string]HealthCheckFunc) *LeaderboardHandler {
	return &LeaderboardHandler{
		service: service,
		hub:     hub,
		checks:  checks,
	}
}

// GetLeaderboard handles GET /api/v1/contests/:contestId/leaderboard
// @Summary Get contest leaderboard
// @Description Retrieves a contest leaderboard with pagination
// @Produce json
// @Param contestId path string true "Contest id"
// @Param offset query int false "Offset for pagination" default(0)
// @Param limit query int false "Limit for pagination" default(50)
// @Success 200 {object} models.LeaderboardResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /api/v1/contests/{contestId}/leaderboard [get]
func (h *LeaderboardHandler) GetLeaderboard(c *fiber.Ctx) error {
	offset, err := strconv.Atoi(c.Query("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	limit, err := strconv.Atoi(c.Query("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}

	leaderboard, err := h.service.GetLeaderboard(c.UserContext(), c.Params("contestId"), offset, limit)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(leaderboard)
}

// GetStanding handles GET /api/v1/contests/:contestId/standing
// @Summary Get the caller's standing
// @Description Retrieves the caller's rank and score in a contest
// @Produce json
// @Param contestId path string true "Contest id"
// @Success 200 {object} models.LeaderboardRow
// @Failure 404 {object} models.ErrorResponse
// @Router /api/v1/contests/{contestId}/standing [get]
func (h *LeaderboardHandler) GetStanding(c *fiber.Ctx) error {
	standing, err := h.service.GetStanding(c.UserContext(), c.Params("contestId"), middleware.UserID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(standing)
}

// HealthCheck handles GET /api/v1/health
// @Summary Health check
// @Description Checks the health of the service and its dependencies
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} models.ErrorResponse
// @Router /api/v1/health [get]
func (h *LeaderboardHandler) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
	defer cancel()

	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(models.ErrorResponse{
				Error:   "Health check failed",
				Message: name + " unavailable",
			})
		}
	}

	return c.JSON(fiber.Map{
		"status":            "healthy",
		"message":           "All systems operational",
		"websocket_clients": h.hub.GetClientCount(),
	})
}

// HandleWebSocket serves GET /ws for an authenticated user. Judged
// submissions are pushed to every connection the user has open.
func (h *LeaderboardHandler) HandleWebSocket(c *fiberws.Conn) {
	userID, _ := c.Locals(middleware.LocalsUserID).(string)
	websocket.ServeWS(h.hub, c, userID)
}
