package router

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/auth"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/handler"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/metrics"
)

func newRouterApp(t *testing.T, adminToken string) (*fiber.App, string) {
	t.Helper()
	dir := t.TempDir()
	reg := prometheus.NewRegistry()

	app := fiber.New()
	// Services are never reached by the requests below.
	Setup(app, &Handlers{
		Video:    handler.NewVideoHandler(nil),
		Analysis: handler.NewAnalysisHandler(nil),
		Ledger:   handler.NewLedgerHandler(nil),
		Purchase: handler.NewPurchaseHandler(nil),
		Health:   handler.NewHealthHandler(nil, nil, dir),
	}, Options{
		CORSOrigins:  "*",
		AdminToken:   adminToken,
		Resolver:     auth.StaticResolver{},
		Metrics:      metrics.New(reg),
		Gatherer:     reg,
		UploadDir:    dir,
		PublicPrefix: "/uploads",
	})
	return app, dir
}

func TestRoutes(t *testing.T) {
	app, dir := newRouterApp(t, "")
	if err := os.MkdirAll(filepath.Join(dir, "thumbnails"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "thumbnails", "a.jpg"), []byte("jpg"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health/live", 200},
		{http.MethodGet, "/metrics", 200},
		{http.MethodGet, "/uploads/thumbnails/a.jpg", 200},
		{http.MethodPost, "/api/videos", 401},
		{http.MethodGet, "/api/videos", 401},
		{http.MethodPost, "/api/analyses", 401},
		{http.MethodGet, "/api/analyses/x", 401},
		{http.MethodGet, "/api/ledger/balance", 401},
		{http.MethodGet, "/api/ledger/transactions", 401},
		{http.MethodPost, "/api/purchases", 401},
		{http.MethodGet, "/api/purchases", 401},
		// Admin routes are hidden without a configured token.
		{http.MethodPost, "/api/admin/ledger/adjust", 404},
		{http.MethodPost, "/api/admin/purchases/7b0c6f8e-3f7a-4d3c-9a57-4a3f3e7e2b11/complete", 404},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(tt.method, tt.path, nil))
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestAdminRoute_RequiresToken(t *testing.T) {
	app, _ := newRouterApp(t, "s3cret")

	req := httptest.NewRequest(http.MethodPost, "/api/admin/ledger/adjust", nil)
	req.Header.Set("X-Admin-Token", "guess")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != fiber.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestReady_WithoutDatabase(t *testing.T) {
	app, _ := newRouterApp(t, "")
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}
