package handlers

import (
	"errors"
	"strings"

	apperrors "github.com/judgeflow/backend/internal/errors"
	"github.com/judgeflow/backend/internal/models"

	"github.com/gofiber/fiber/v2"
)

// writeError maps service errors to HTTP responses. Internal failures are
// reported without their cause.
func writeError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	title := "Internal error"
	message := apperrors.ErrInternal.Error()

	switch {
	case errors.Is(err, apperrors.ErrRateLimited):
		status, title, message = fiber.StatusTooManyRequests, "Too many requests", apperrors.ErrRateLimited.Error()
	case errors.Is(err, apperrors.ErrAmbiguousContest):
		status, title, message = fiber.StatusBadRequest, "Ambiguous contest", apperrors.ErrAmbiguousContest.Error()
	case errors.Is(err, apperrors.ErrInvalidRequest):
		status, title, message = fiber.StatusBadRequest, "Invalid request", detail(err, apperrors.ErrInvalidRequest)
	case errors.Is(err, apperrors.ErrNotFound):
		status, title, message = fiber.StatusNotFound, "Not found", apperrors.ErrNotFound.Error()
	case errors.Is(err, apperrors.ErrUnauthorized):
		status, title, message = fiber.StatusUnauthorized, "Unauthorized", apperrors.ErrUnauthorized.Error()
	case errors.Is(err, apperrors.ErrForbidden):
		status, title, message = fiber.StatusForbidden, "Forbidden", apperrors.ErrForbidden.Error()
	}

	return c.Status(status).JSON(models.ErrorResponse{Error: title, Message: message})
}

// detail strips the sentinel prefix from a "%w, detail" error
func detail(err, sentinel error) string {
	msg := strings.TrimPrefix(err.Error(), sentinel.Error())
	msg = strings.TrimPrefix(msg, ", ")
	if msg == "" {
		return sentinel.Error()
	}
	return msg
}
