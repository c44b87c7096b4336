package middleware

import (
	"strings"

	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/identity"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// Identify resolves the authenticated caller once per request and stores it
// for handlers. A caller is privileged when any of these hold:
// 1. Config-based admin emails/IDs
// 2. role=admin claim in the access token
// 3. DB-based user Role field
func Identify(db *gorm.DB, cfg *config.Config) fiber.Handler {
	adminEmails := parseCSV(cfg.AdminEmails)
	adminUserIDs := parseCSV(cfg.AdminUserIDs)

	return func(c *fiber.Ctx) error {
		userID, err := identity.GetUserID(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Kind: "unauthorized", Message: "Unauthorized",
			})
		}
		email := identity.GetEmail(c)

		privileged := contains(adminEmails, strings.ToLower(email)) ||
			contains(adminUserIDs, userID.String()) ||
			identity.GetRole(c) == models.RoleAdmin

		if !privileged {
			var user models.User
			if err := db.WithContext(c.UserContext()).Select("id", "role").First(&user, "id = ?", userID).Error; err == nil {
				privileged = user.Role == models.RoleAdmin
			}
		}

		identity.SetCaller(c, identity.Caller{UserID: userID, Email: email, Privileged: privileged})
		return c.Next()
	}
}

// AdminRequired rejects callers Identify did not mark privileged.
func AdminRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		caller, err := identity.GetCaller(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Kind: "unauthorized", Message: "Unauthorized",
			})
		}
		if !caller.Privileged {
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
				Error: true, Kind: "forbidden", Message: "Admin access required",
			})
		}
		return c.Next()
	}
}

func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.ToLower(strings.TrimSpace(p))
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func contains(list []string, val string) bool {
	for _, item := range list {
		if item == val {
			return true
		}
	}
	return false
}
