package handlers

import (
	"log/slog"

	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/identity"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

var kindStatus = map[string]int{
	"not_found":          fiber.StatusNotFound,
	"forbidden":          fiber.StatusForbidden,
	"insufficient_stock": fiber.StatusConflict,
	"invalid_state":      fiber.StatusBadRequest,
	"too_many_pending":   fiber.StatusBadRequest,
	"invalid_input":      fiber.StatusBadRequest,
	"conflict":           fiber.StatusConflict,
	"transient":          fiber.StatusServiceUnavailable,
}

// respondError writes the error body for a service error. Client errors
// carry the service message; server errors are logged and answered
// generically.
func respondError(c *fiber.Ctx, err error) error {
	kind := services.Kind(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = fiber.StatusInternalServerError
	}

	message := err.Error()
	switch {
	case status == fiber.StatusServiceUnavailable:
		slog.Warn("transient failure", "method", c.Method(), "path", c.Path(), "error", err)
		message = "Temporarily unavailable, please retry"
	case status >= fiber.StatusInternalServerError:
		slog.Error("request failed", "method", c.Method(), "path", c.Path(), "action", kind, "error", err)
		message = "Internal server error"
	}

	return c.Status(status).JSON(dto.ErrorResponse{Error: true, Kind: kind, Message: message})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Error: true, Kind: "invalid_input", Message: message,
	})
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
		Error: true, Kind: "unauthorized", Message: "Unauthorized",
	})
}

func forbidden(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
		Error: true, Kind: "forbidden", Message: message,
	})
}

func paramUUID(c *fiber.Ctx, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Params(name))
	return id, err == nil
}

// caller returns the identity resolved by middleware.Identify. Routes that
// call it are always mounted behind that middleware.
func caller(c *fiber.Ctx) (identity.Caller, bool) {
	cl, err := identity.GetCaller(c)
	return cl, err == nil
}
