package handlers

import (
	"strconv"

	"github.com/judgeflow/backend/internal/api/middleware"
	"github.com/judgeflow/backend/internal/models"
	"github.com/judgeflow/backend/internal/service"

	"github.com/gofiber/fiber/v2"
)

const (
	// OracleKeyHeader optionally carries the caller's own oracle credential
	OracleKeyHeader = "X-Oracle-Key"
	// RateLimitRemainingHeader reports submissions left in the current window
	RateLimitRemainingHeader = "X-RateLimit-Remaining"
)

// SubmissionHandler handles HTTP requests for submissions
type SubmissionHandler struct {
	service *service.SubmissionService
}

func NewSubmissionHandler(service *service.SubmissionService) *SubmissionHandler {
	return &SubmissionHandler{service: service}
}

// Submit handles POST /api/v1/challenge/:challengeId/submit
// @Summary Submit an answer
// @Description Stores a Pending submission and queues it for judging
// @Accept json
// @Produce json
// @Param challengeId path string true "Challenge id"
// @Param request body models.SubmitRequest true "Submission"
// @Success 201 {object} models.Submission
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 429 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /api/v1/challenge/{challengeId}/submit [post]
func (h *SubmissionHandler) Submit(c *fiber.Ctx) error {
	var req models.SubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error:   "Invalid request body",
			Message: "body must be JSON with submission and points",
		})
	}

	userID := middleware.UserID(c)
	submission, err := h.service.Submit(c.UserContext(), service.SubmitInput{
		UserID:           userID,
		ChallengeID:      c.Params("challengeId"),
		Request:          req,
		OracleCredential: c.Get(OracleKeyHeader),
	})
	if left, rlErr := h.service.RemainingAttempts(c.UserContext(), userID); rlErr == nil {
		c.Set(RateLimitRemainingHeader, strconv.Itoa(left))
	}
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(submission)
}

// GetSubmission handles GET /api/v1/submissions/:id
// @Summary Get a submission
// @Description Returns the caller's own submission with its judging status
// @Produce json
// @Param id path string true "Submission id"
// @Success 200 {object} models.Submission
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /api/v1/submissions/{id} [get]
func (h *SubmissionHandler) GetSubmission(c *fiber.Ctx) error {
	submission, err := h.service.GetSubmission(c.UserContext(), middleware.UserID(c), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(submission)
}
