package middleware

import (
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/dto"
	jwtware "github.com/gofiber/contrib/jwt"
	"github.com/gofiber/fiber/v2"
)

func JWTProtected(cfg *config.Config) fiber.Handler {
	return jwtware.New(jwtware.Config{
		SigningKey: jwtware.SigningKey{Key: []byte(cfg.JWTSecret)},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error:   true,
				Kind:    "unauthorized",
				Message: "Unauthorized: invalid or expired token",
			})
		},
	})
}
