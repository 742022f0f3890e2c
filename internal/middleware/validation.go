package middleware

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

// Field limits matching database schema constraints.
const (
	MaxUserIDLen      = 64  // ledger_accounts.user_id
	MaxDescriptionLen = 255 // ledger_transactions.description
	DefaultPageLimit  = 20
	MaxPageLimit      = 100
)

// userIDRe matches ids issued by the credential service.
var userIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ErrorResponse is a helper that returns a standard API error response.
func ErrorResponse(c fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": message,
		},
	})
}

// ValidateID checks that a resource ID is a UUID and returns its canonical form.
func ValidateID(id string) (string, string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", "id is required"
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return "", "id must be a UUID"
	}
	return u.String(), ""
}

// ValidateUserID checks a user id supplied by an operator.
func ValidateUserID(id string) (string, string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", "user_id is required"
	}
	if len(id) > MaxUserIDLen {
		return "", "user_id must be at most 64 characters"
	}
	if !userIDRe.MatchString(id) {
		return "", "user_id contains invalid characters"
	}
	return id, ""
}

// ValidateDescription trims and truncates a ledger description to DB limits.
func ValidateDescription(desc string) string {
	desc = strings.TrimSpace(desc)
	if len(desc) > MaxDescriptionLen {
		desc = desc[:MaxDescriptionLen]
	}
	return desc
}

// ParseOptionalFloat parses a form field that may be absent. Empty means nil.
func ParseOptionalFloat(field, raw string) (*float64, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ""
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, field + " must be a number of seconds"
	}
	return &v, ""
}

// ParsePagination reads limit and offset query values. Limit defaults to 20
// and is capped at 100.
func ParsePagination(limitRaw, offsetRaw string) (limit, offset int, errMsg string) {
	limit = DefaultPageLimit
	if s := strings.TrimSpace(limitRaw); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return 0, 0, "limit must be a positive integer"
		}
		limit = min(n, MaxPageLimit)
	}
	if s := strings.TrimSpace(offsetRaw); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return 0, 0, "offset must be a non-negative integer"
		}
		offset = n
	}
	return limit, offset, ""
}
