package handlers

import (
	"context"

	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type PaymentHandler struct {
	payments      *services.PaymentService
	subscriptions *services.SubscriptionService
}

func NewPaymentHandler(payments *services.PaymentService, subscriptions *services.SubscriptionService) *PaymentHandler {
	return &PaymentHandler{payments: payments, subscriptions: subscriptions}
}

func (h *PaymentHandler) Create(c *fiber.Ctx) error {
	cl, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}

	var req dto.CreatePaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	// Amount and user overrides are for admins recording offline deals.
	if (req.Amount != nil || req.UserID != nil) && !cl.Privileged {
		return forbidden(c, "Only admins may set amount or user_id")
	}
	userID := cl.UserID
	if req.UserID != nil {
		userID = *req.UserID
	}

	payment, err := h.payments.Create(c.UserContext(), userID, services.CreatePaymentRequest{
		PlanID:         req.PlanID,
		AmountOverride: req.Amount,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(payment)
}

func (h *PaymentHandler) List(c *fiber.Ctx) error {
	cl, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}

	payments, err := h.payments.ListForUser(c.UserContext(), cl.UserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"payments": payments})
}

func (h *PaymentHandler) Get(c *fiber.Ctx) error {
	cl, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := paramUUID(c, "id")
	if !ok {
		return badRequest(c, "Invalid payment id")
	}

	payment, err := h.payments.Get(c.UserContext(), cl, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(payment)
}

func (h *PaymentHandler) Verify(c *fiber.Ctx) error {
	return h.decide(c, h.payments.Verify)
}

func (h *PaymentHandler) Reject(c *fiber.Ctx) error {
	return h.decide(c, h.payments.Reject)
}

func (h *PaymentHandler) decide(c *fiber.Ctx, apply func(ctx context.Context, id uuid.UUID, audit services.Audit) (*models.Payment, error)) error {
	cl, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := paramUUID(c, "id")
	if !ok {
		return badRequest(c, "Invalid payment id")
	}

	var req dto.PaymentDecisionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
	}

	payment, err := apply(c.UserContext(), id, services.Audit{Method: req.Method, By: cl.UserID, Note: req.Note})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(payment)
}

// Sweep runs the expiry jobs on demand.
func (h *PaymentHandler) Sweep(c *fiber.Ctx) error {
	ctx := c.UserContext()

	expired, err := h.payments.SweepExpired(ctx)
	if err != nil {
		return respondError(c, err)
	}
	trimmed, err := h.payments.EnforceAllPendingQuotas(ctx)
	if err != nil {
		return respondError(c, err)
	}
	lapsed, err := h.subscriptions.ExpireLapsed(ctx)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(dto.SweepResponse{Expired: expired, QuotaExpired: trimmed, LapsedExpired: lapsed})
}

func (h *PaymentHandler) CurrentSubscription(c *fiber.Ctx) error {
	cl, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}

	sub, err := h.subscriptions.Current(c.UserContext(), cl.UserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(sub)
}
