package handler

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/apperr"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/middleware"
)

type errorMapping struct {
	status int
	code   string
}

var errorStatus = map[apperr.Kind]errorMapping{
	apperr.KindValidation:          {fiber.StatusBadRequest, "VALIDATION_ERROR"},
	apperr.KindSizeExceeded:        {fiber.StatusRequestEntityTooLarge, "FILE_TOO_LARGE"},
	apperr.KindInvalidRange:        {fiber.StatusBadRequest, "INVALID_RANGE"},
	apperr.KindNotFound:            {fiber.StatusNotFound, "NOT_FOUND"},
	apperr.KindConflict:            {fiber.StatusConflict, "CONFLICT"},
	apperr.KindFileMissing:         {fiber.StatusNotFound, "FILE_MISSING"},
	apperr.KindDecode:              {fiber.StatusBadRequest, "UNREADABLE_MEDIA"},
	apperr.KindTranscode:           {fiber.StatusInternalServerError, "TRANSCODE_FAILED"},
	apperr.KindInsufficientBalance: {fiber.StatusPaymentRequired, "INSUFFICIENT_BALANCE"},
	apperr.KindRemoteAuth:          {fiber.StatusBadGateway, "REMOTE_AUTH_ERROR"},
	apperr.KindRemoteQuota:         {fiber.StatusServiceUnavailable, "REMOTE_QUOTA_EXCEEDED"},
	apperr.KindRemoteUnavailable:   {fiber.StatusServiceUnavailable, "MODEL_UNAVAILABLE"},
	apperr.KindRemoteUnknown:       {fiber.StatusBadGateway, "REMOTE_ERROR"},
	apperr.KindProcessingTimeout:   {fiber.StatusGatewayTimeout, "PROCESSING_TIMEOUT"},
	apperr.KindMalformedResult:     {fiber.StatusBadGateway, "MALFORMED_RESULT"},
	apperr.KindStorage:             {fiber.StatusInternalServerError, "STORAGE_ERROR"},
}

// respondError maps a classified error to its status code and the standard
// error body. Unclassified errors become a 500 carrying the error text.
func respondError(c fiber.Ctx, err error) error {
	m, ok := errorStatus[apperr.KindOf(err)]
	if !ok {
		m = errorMapping{fiber.StatusInternalServerError, "INTERNAL_ERROR"}
	}

	if m.status >= fiber.StatusInternalServerError {
		middleware.Logger.Error().Err(err).
			Str("path", middleware.SanitizePath(c.Path())).
			Msg("request failed")
	}

	body := fiber.Map{
		"code":    m.code,
		"message": apperr.UserMessage(err),
	}
	var ae *apperr.Error
	if errors.As(err, &ae) && len(ae.Details) > 0 {
		body["details"] = ae.Details
	}
	return c.Status(m.status).JSON(fiber.Map{"error": body})
}

func unauthorized(c fiber.Ctx) error {
	return middleware.ErrorResponse(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
}

func pagination(c fiber.Ctx) (limit, offset int, errMsg string) {
	return middleware.ParsePagination(c.Query("limit"), c.Query("offset"))
}
