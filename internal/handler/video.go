package handler

import (
	"github.com/gofiber/fiber/v3"

	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/middleware"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/service"
)

type VideoHandler struct {
	svc *service.VideoService
}

func NewVideoHandler(svc *service.VideoService) *VideoHandler {
	return &VideoHandler{svc: svc}
}

// Upload handles POST /api/videos (multipart: file, trim_start, trim_end)
func (h *VideoHandler) Upload(c fiber.Ctx) error {
	p := middleware.CurrentPrincipal(c)
	if p == nil {
		return unauthorized(c)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "MISSING_FILE", "A video file is required in the \"file\" field")
	}

	trimStart, errMsg := middleware.ParseOptionalFloat("trim_start", c.FormValue("trim_start"))
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", errMsg)
	}
	trimEnd, errMsg := middleware.ParseOptionalFloat("trim_end", c.FormValue("trim_end"))
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_FIELD", errMsg)
	}

	f, err := fh.Open()
	if err != nil {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_BODY", "Could not read uploaded file")
	}
	defer f.Close()

	video, err := h.svc.Upload(c.Context(), service.UploadRequest{
		Body:        f,
		Filename:    fh.Filename,
		ContentType: fh.Header.Get(fiber.HeaderContentType),
		OwnerID:     p.ID,
		TrimStart:   trimStart,
		TrimEnd:     trimEnd,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(h.svc.Response(*video))
}

// Get handles GET /api/videos/:id
func (h *VideoHandler) Get(c fiber.Ctx) error {
	p := middleware.CurrentPrincipal(c)
	if p == nil {
		return unauthorized(c)
	}

	id, errMsg := middleware.ValidateID(c.Params("id"))
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_ID", errMsg)
	}

	video, err := h.svc.GetVideo(c.Context(), id, p.ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(h.svc.Response(*video))
}

// List handles GET /api/videos?limit=&offset=
func (h *VideoHandler) List(c fiber.Ctx) error {
	p := middleware.CurrentPrincipal(c)
	if p == nil {
		return unauthorized(c)
	}

	limit, offset, errMsg := pagination(c)
	if errMsg != "" {
		return middleware.ErrorResponse(c, fiber.StatusBadRequest, "INVALID_PARAM", errMsg)
	}

	videos, err := h.svc.ListVideos(c.Context(), p.ID, limit, offset)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"videos": h.svc.Responses(videos),
		"limit":  limit,
		"offset": offset,
	})
}
