package handler

import (
	"github.com/gofiber/fiber/v3"

	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/middleware"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/model"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/service"
)

type AnalysisHandler struct {
	svc *service.AnalysisService
}

func NewAnalysisHandler(svc *service.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{svc: svc}
}

// Analyze handles POST /api/analyses
func (h *AnalysisHandler) Analyze(c fiber.Ctx) error {
	p := middleware.CurrentPrincipal(c)
	if p == nil {
		return unauthorized(c)
	}

	var req model.AnalyzeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_BODY", "Invalid request body")
	}
	videoID, errMsg := middleware.ValidateID(req.VideoID)
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", "video_id: "+errMsg)
	}

	result, err := h.svc.Analyze(c.Context(), videoID, p.ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

// Get handles GET /api/analyses/:id
func (h *AnalysisHandler) Get(c fiber.Ctx) error {
	p := middleware.CurrentPrincipal(c)
	if p == nil {
		return unauthorized(c)
	}

	id, errMsg := middleware.ValidateID(c.Params("id"))
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_ID", errMsg)
	}

	result, err := h.svc.GetResult(c.Context(), id, p.ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

// List handles GET /api/analyses?limit=&offset=
func (h *AnalysisHandler) List(c fiber.Ctx) error {
	p := middleware.CurrentPrincipal(c)
	if p == nil {
		return unauthorized(c)
	}

	limit, offset, errMsg := pagination(c)
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_PARAM", errMsg)
	}

	results, err := h.svc.ListResults(c.Context(), p.ID, limit, offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"analyses": results,
		"limit":    limit,
		"offset":   offset,
	})
}
