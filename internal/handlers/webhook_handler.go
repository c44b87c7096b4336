package handlers

import (
	"crypto/subtle"
	"log/slog"

	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type WebhookHandler struct {
	payments *services.PaymentService
	secret   string
}

func NewWebhookHandler(payments *services.PaymentService, secret string) *WebhookHandler {
	return &WebhookHandler{payments: payments, secret: secret}
}

// HandlePaymentCallback settles a payment reported by the gateway. The
// gateway authenticates with the shared secret in Authorization.
func (h *WebhookHandler) HandlePaymentCallback(c *fiber.Ctx) error {
	if h.secret == "" {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Error: true, Kind: "not_found", Message: "Payment callbacks are not configured",
		})
	}
	if subtle.ConstantTimeCompare([]byte(c.Get("Authorization")), []byte(h.secret)) != 1 {
		return unauthorized(c)
	}

	var req dto.PaymentCallbackRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid callback payload")
	}
	if req.Method == "" {
		req.Method = models.VerificationTripay
	}

	payment, err := h.payments.FindByReference(c.UserContext(), req.Reference)
	if err != nil {
		return respondError(c, err)
	}

	audit := services.Audit{Method: req.Method, By: uuid.Nil, Note: req.Note}
	switch req.Status {
	case "paid":
		payment, err = h.payments.Verify(c.UserContext(), payment.ID, audit)
	case "failed":
		payment, err = h.payments.Reject(c.UserContext(), payment.ID, audit)
	default:
		return badRequest(c, "status must be paid or failed")
	}
	if err != nil {
		return respondError(c, err)
	}

	slog.Info("payment callback processed", "payment_ref", payment.Reference, "status", payment.Status, "method", req.Method)
	return c.JSON(fiber.Map{"received": true, "status": payment.Status})
}
