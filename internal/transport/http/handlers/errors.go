package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sentinel/console/internal/domain"
	"github.com/sentinel/console/internal/transport/http/dto"
)

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrStoreUnavailable):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, domain.ErrTaskNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrInvalidPriority), errors.Is(err, domain.ErrEmptyDescription):
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}

func writeError(c *fiber.Ctx, err error) error {
	msg := err.Error()
	if errors.Is(err, domain.ErrStoreUnavailable) {
		msg = "database not available"
	}
	return c.Status(statusFor(err)).JSON(dto.ErrorResponse{Error: msg})
}

func badRequest(c *fiber.Ctx, msg string, details ...string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: msg, Details: details})
}

func parseID(c *fiber.Ctx) (uint, bool) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
