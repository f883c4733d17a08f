package handlers

import (
	"context"
	"errors"

	"data-marketplace/apperr"
	"data-marketplace/middleware"
	"data-marketplace/models"
	"data-marketplace/services"

	"github.com/gofiber/fiber/v2"
)

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindInvalid, apperr.KindUnknownProvider:
		return fiber.StatusBadRequest
	case apperr.KindNotFound:
		return fiber.StatusNotFound
	case apperr.KindConflict:
		return fiber.StatusConflict
	case apperr.KindTransient:
		return fiber.StatusServiceUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// respondError writes err as {"error", "code"}. Transient failures that
// outlived their retries are reported as "try again".
func respondError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	body := fiber.Map{"error": err.Error()}

	var e *apperr.Error
	if errors.As(err, &e) {
		body["code"] = e.Code
		body["error"] = e.Message
	}
	switch status {
	case fiber.StatusServiceUnavailable:
		body["error"] = "service busy, please try again"
	case fiber.StatusInternalServerError:
		body["error"] = "internal error"
	}
	return c.Status(status).JSON(body)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return respondError(c, apperr.New(apperr.KindInvalid, apperr.CodeMissingInput, msg))
}

// currentUser resolves the gateway caller to a marketplace user.
func currentUser(c *fiber.Ctx, users *services.UserService) (*models.User, error) {
	return users.GetByExternalID(c.UserContext(), middleware.ExternalUserID(c))
}
