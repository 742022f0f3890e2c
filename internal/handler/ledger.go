package handler

import (
	"github.com/gofiber/fiber/v3"

	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/middleware"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/model"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/service"
)

type LedgerHandler struct {
	svc *service.LedgerService
}

func NewLedgerHandler(svc *service.LedgerService) *LedgerHandler {
	return &LedgerHandler{svc: svc}
}

// Balance handles GET /api/ledger/balance
func (h *LedgerHandler) Balance(c fiber.Ctx) error {
	p := middleware.CurrentPrincipal(c)
	if p == nil {
		return unauthorized(c)
	}

	if err := h.svc.EnsureAccount(c.Context(), p.ID); err != nil {
		return respondError(c, err)
	}
	acct, err := h.svc.GetBalance(c.Context(), p.ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(acct)
}

// Transactions handles GET /api/ledger/transactions?limit=&offset=
func (h *LedgerHandler) Transactions(c fiber.Ctx) error {
	p := middleware.CurrentPrincipal(c)
	if p == nil {
		return unauthorized(c)
	}

	limit, offset, errMsg := pagination(c)
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_PARAM", errMsg)
	}

	txs, err := h.svc.ListTransactions(c.Context(), p.ID, limit, offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"transactions": txs,
		"limit":        limit,
		"offset":       offset,
	})
}

// Adjust handles POST /api/admin/ledger/adjust
func (h *LedgerHandler) Adjust(c fiber.Ctx) error {
	var req model.AdjustRequest
	if err := c.Bind().JSON(&req); err != nil {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_BODY", "Invalid request body")
	}

	userID, errMsg := middleware.ValidateUserID(req.UserID)
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", errMsg)
	}

	entry, err := h.svc.Adjust(c.Context(), userID, req.Delta, req.Type,
		middleware.ValidateDescription(req.Description), req.Related)
	if err != nil {
		return respondError(c, err)
	}

	middleware.Logger.Info().
		Str("user_id", userID).
		Str("type", string(req.Type)).
		Int64("delta", req.Delta).
		Msg("admin ledger adjustment")
	return c.Status(fiber.StatusCreated).JSON(entry)
}
