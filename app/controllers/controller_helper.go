package controllers

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/inmodash/inmodash-backend/internal/pkg/billing"
)

var validate = validator.New()

// billingErrorStatus maps billing errors to HTTP status codes
func billingErrorStatus(err error) int {
	switch {
	case errors.Is(err, billing.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, billing.ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, billing.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, billing.ErrProvider):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"success": false, "error": msg})
}

// validationMessage renders validator errors as "field: rule" pairs
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, strings.ToLower(fe.Field())+": "+fe.Tag())
	}
	return "invalid request: " + strings.Join(parts, ", ")
}

func firstHeaderValue(c *fiber.Ctx, keys ...string) string {
	for _, k := range keys {
		v := strings.TrimSpace(c.Get(k))
		if v != "" {
			return v
		}
	}
	return ""
}
