package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/genstudio/backend/internal/provider"
	"github.com/genstudio/backend/internal/quota"
	"github.com/genstudio/backend/internal/services"
	"github.com/genstudio/backend/internal/store"
)

// serviceError maps service-layer failures onto HTTP responses. Caller
// mistakes and quota exhaustion are 400s, missing records 404s, upstream
// provider failures 502s, everything else a 500.
func serviceError(c *fiber.Ctx, err error) error {
	var verr *services.ValidationError
	if errors.As(err, &verr) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": verr.Error(),
		})
	}

	switch {
	case errors.Is(err, quota.ErrQuotaExceeded),
		errors.Is(err, quota.ErrAllAccountsExhausted),
		errors.Is(err, quota.ErrCapabilityNotConfigured):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": err.Error(),
		})
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, quota.ErrAccountNotFound),
		errors.Is(err, quota.ErrNoCapableAccount):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": err.Error(),
		})
	case provider.IsProviderError(err):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"success": false,
			"message": err.Error(),
		})
	}

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"success": false,
		"message": err.Error(),
	})
}
