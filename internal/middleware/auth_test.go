package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/auth"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/model"
)

type brokenResolver struct{}

func (brokenResolver) Resolve(context.Context, string) (*model.Principal, error) {
	return nil, errors.New("session store down")
}

func authApp(resolver auth.PrincipalResolver) *fiber.App {
	app := fiber.New()
	app.Get("/me", RequireAuth(resolver), func(c fiber.Ctx) error {
		return c.SendString(CurrentPrincipal(c).ID)
	})
	return app
}

func TestRequireAuth(t *testing.T) {
	resolver := auth.StaticResolver{"good": {ID: "u1"}}
	tests := []struct {
		name     string
		resolver auth.PrincipalResolver
		header   string
		want     int
	}{
		{"valid", resolver, "Bearer good", 200},
		{"no header", resolver, "", 401},
		{"unknown token", resolver, "Bearer bad", 401},
		{"wrong scheme", resolver, "Token good", 401},
		{"store down", brokenResolver{}, "Bearer good", 503},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := authApp(tt.resolver).Test(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		sent       string
		want       int
	}{
		{"disabled", "", "anything", 404},
		{"missing", "s3cret", "", 403},
		{"wrong", "s3cret", "s3cre", 403},
		{"match", "s3cret", "s3cret", 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Post("/admin", RequireAdmin(tt.configured), func(c fiber.Ctx) error {
				return c.SendStatus(fiber.StatusOK)
			})
			req := httptest.NewRequest(http.MethodPost, "/admin", nil)
			if tt.sent != "" {
				req.Header.Set("X-Admin-Token", tt.sent)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}
