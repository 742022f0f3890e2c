package handler

import (
	"github.com/gofiber/fiber/v3"

	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/middleware"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/model"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/service"
)

type PurchaseHandler struct {
	svc *service.PurchaseService
}

func NewPurchaseHandler(svc *service.PurchaseService) *PurchaseHandler {
	return &PurchaseHandler{svc: svc}
}

// Create handles POST /api/purchases
func (h *PurchaseHandler) Create(c fiber.Ctx) error {
	p := middleware.CurrentPrincipal(c)
	if p == nil {
		return unauthorized(c)
	}

	var req model.PurchaseRequest
	if err := c.Bind().JSON(&req); err != nil {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_BODY", "Invalid request body")
	}

	purchase, err := h.svc.Create(c.Context(), p.ID, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(purchase)
}

// List handles GET /api/purchases?limit=&offset=
func (h *PurchaseHandler) List(c fiber.Ctx) error {
	p := middleware.CurrentPrincipal(c)
	if p == nil {
		return unauthorized(c)
	}

	limit, offset, errMsg := pagination(c)
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_PARAM", errMsg)
	}

	purchases, err := h.svc.List(c.Context(), p.ID, limit, offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"purchases": purchases,
		"limit":     limit,
		"offset":    offset,
	})
}

// Complete handles POST /api/admin/purchases/:id/complete
func (h *PurchaseHandler) Complete(c fiber.Ctx) error {
	id, errMsg := middleware.ValidateID(c.Params("id"))
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_ID", errMsg)
	}

	var req model.CompletePurchaseRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_BODY", "Invalid request body")
		}
	}

	purchase, err := h.svc.Complete(c.Context(), id, req.PaymentRef)
	if err != nil {
		return respondError(c, err)
	}

	middleware.Logger.Info().
		Str("purchase_id", purchase.ID).
		Str("user_id", purchase.UserID).
		Int64("credits", purchase.Credits).
		Msg("admin completed purchase")
	return c.JSON(purchase)
}
