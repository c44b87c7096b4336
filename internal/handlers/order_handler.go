package handlers

import (
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/services"
	"github.com/gofiber/fiber/v2"
)

type OrderHandler struct {
	orders *services.OrderService
}

func NewOrderHandler(orders *services.OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// Fulfill allocates keys for a purchase. Outcomes that are not failures
// (already processed, no license needed, version or stock missing with a
// download fallback) are answered 200 with their status.
func (h *OrderHandler) Fulfill(c *fiber.Ctx) error {
	cl, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}

	var req dto.FulfillOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	res, err := h.orders.Fulfill(c.UserContext(), cl, services.FulfillRequest{
		OrderNumber: req.OrderNumber,
		ItemName:    req.ItemName,
		OS:          req.OS,
		Version:     req.Version,
		Quantity:    req.Quantity,
	})
	if err != nil {
		return respondError(c, err)
	}

	if res.Status == services.FulfillProcessed {
		return c.Status(fiber.StatusCreated).JSON(res)
	}
	return c.JSON(res)
}

func (h *OrderHandler) Cancel(c *fiber.Ctx) error {
	cl, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}

	orderNumber := c.Params("order_number")
	released, err := h.orders.Cancel(c.UserContext(), cl, orderNumber)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.CancelOrderResponse{OrderNumber: orderNumber, Released: released})
}

func (h *OrderHandler) Get(c *fiber.Ctx) error {
	cl, ok := caller(c)
	if !ok {
		return unauthorized(c)
	}

	detail, err := h.orders.Get(c.UserContext(), cl, c.Params("order_number"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(detail)
}
