package handlers

import (
	"time"

	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/database"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/dto"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type HealthHandler struct {
	db *gorm.DB
}

func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

func (h *HealthHandler) Check(c *fiber.Ctx) error {
	status := "ok"
	dbStatus := "ok"
	if err := database.Ping(h.db); err != nil {
		status = "degraded"
		dbStatus = "unhealthy: " + err.Error()
	}

	code := fiber.StatusOK
	if status != "ok" {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(dto.HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		DB:        dbStatus,
	})
}
