package middleware

import (
	"crypto/subtle"
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/auth"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/model"
)

const principalKey = "principal"

// RequireAuth resolves the bearer token and stores the principal in Locals.
// Requests without a valid session get 401.
func RequireAuth(resolver auth.PrincipalResolver) fiber.Handler {
	return func(c fiber.Ctx) error {
		token := auth.BearerToken(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			return ErrorResponse(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "Missing bearer token")
		}

		p, err := resolver.Resolve(c.Context(), token)
		if errors.Is(err, auth.ErrUnauthorized) {
			return ErrorResponse(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired session")
		}
		if err != nil {
			Logger.Error().Err(err).Msg("principal resolution failed")
			return ErrorResponse(c, fiber.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication is temporarily unavailable")
		}

		c.Locals(principalKey, p)
		return c.Next()
	}
}

// CurrentPrincipal returns the principal set by RequireAuth, or nil.
func CurrentPrincipal(c fiber.Ctx) *model.Principal {
	p, _ := c.Locals(principalKey).(*model.Principal)
	return p
}

// RequireAdmin guards operator routes with a shared token in X-Admin-Token.
// An empty configured token disables the routes entirely.
func RequireAdmin(token string) fiber.Handler {
	return func(c fiber.Ctx) error {
		if token == "" {
			return ErrorResponse(c, fiber.StatusNotFound, "NOT_FOUND", "Not found")
		}
		got := c.Get("X-Admin-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			return ErrorResponse(c, fiber.StatusForbidden, "FORBIDDEN", "Invalid admin token")
		}
		return c.Next()
	}
}
