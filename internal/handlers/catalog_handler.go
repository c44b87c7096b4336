package handlers

import (
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type CatalogHandler struct {
	catalog *services.CatalogService
	pool    *services.LicensePool
}

func NewCatalogHandler(catalog *services.CatalogService, pool *services.LicensePool) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, pool: pool}
}

func (h *CatalogHandler) CreateSoftware(c *fiber.Ctx) error {
	cl, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}

	var req dto.CreateSoftwareRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	requiresLicense := true
	if req.RequiresLicense != nil {
		requiresLicense = *req.RequiresLicense
	}

	software, err := h.catalog.CreateSoftware(c.UserContext(), cl, services.CreateSoftwareRequest{
		Name:            req.Name,
		RequiresLicense: requiresLicense,
		SearchByVersion: req.SearchByVersion,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(software)
}

func (h *CatalogHandler) AddVersion(c *fiber.Ctx) error {
	cl, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	softwareID, ok := paramUUID(c, "id")
	if !ok {
		return badRequest(c, "Invalid software id")
	}

	var req dto.AddVersionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	version, err := h.catalog.AddVersion(c.UserContext(), cl, softwareID, services.AddVersionRequest{
		OS:           req.OS,
		Version:      req.Version,
		DownloadLink: req.DownloadLink,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(version)
}

func (h *CatalogHandler) ImportLicenses(c *fiber.Ctx) error {
	cl, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	softwareID, ok := paramUUID(c, "id")
	if !ok {
		return badRequest(c, "Invalid software id")
	}

	var req dto.ImportLicensesRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	res, err := h.catalog.ImportLicenses(c.UserContext(), cl, softwareID, req.VersionID, req.Keys)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

// Stock reports unused and consumed key counts, optionally for one version
// (?version_id=).
func (h *CatalogHandler) Stock(c *fiber.Ctx) error {
	cl, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	softwareID, ok := paramUUID(c, "id")
	if !ok {
		return badRequest(c, "Invalid software id")
	}

	var versionID *uuid.UUID
	if raw := c.Query("version_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return badRequest(c, "Invalid version_id")
		}
		versionID = &id
	}

	level, err := h.pool.Stock(c.UserContext(), softwareID, versionID, cl.OwnerScope())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(level)
}

// ReleaseLicenses returns keys to the pool outside of an order cancel.
func (h *CatalogHandler) ReleaseLicenses(c *fiber.Ctx) error {
	var req dto.ReleaseLicensesRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if len(req.LicenseIDs) == 0 {
		return badRequest(c, "license_ids is required")
	}

	released, err := h.pool.ReleaseLicenses(c.UserContext(), req.LicenseIDs)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"released": released})
}

func (h *CatalogHandler) ListPlans(c *fiber.Ctx) error {
	plans, err := h.catalog.ListPlans(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"plans": plans})
}

func (h *CatalogHandler) CreatePlan(c *fiber.Ctx) error {
	var req dto.CreatePlanRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	plan, err := h.catalog.CreatePlan(c.UserContext(), services.CreatePlanRequest{
		Name:         req.Name,
		DurationDays: req.DurationDays,
		Price:        req.Price,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(plan)
}
