package router

import (
	"strings"

	"github.com/gofiber/fiber/v3"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/static"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/auth"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/handler"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/metrics"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/middleware"
)

// Handlers holds all handler instances needed by the router.
type Handlers struct {
	Video    *handler.VideoHandler
	Analysis *handler.AnalysisHandler
	Ledger   *handler.LedgerHandler
	Purchase *handler.PurchaseHandler
	Health   *handler.HealthHandler
}

// Options carries the cross-cutting dependencies of the route table.
type Options struct {
	CORSOrigins string
	AdminToken  string
	Resolver    auth.PrincipalResolver
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer

	// UploadDir is served read-only under PublicPrefix when the prefix is a
	// local path; a CDN prefix leaves serving to the CDN.
	UploadDir    string
	PublicPrefix string
}

// Setup configures the middleware stack and all API routes on the given Fiber app.
func Setup(app *fiber.App, h *Handlers, opts Options) {
	// Middleware stack (order matters)
	app.Use(recoverer.New())
	app.Use(middleware.NewRequestLogger())
	app.Use(handler.MetricsMiddleware(opts.Metrics))
	app.Use(middleware.NewCORS(opts.CORSOrigins))

	// Health and metrics (before API group, no auth needed)
	app.Get("/health/live", h.Health.Live)
	app.Get("/health/ready", h.Health.Ready)
	app.Get("/metrics", handler.MetricsHandler(opts.Gatherer))

	if strings.HasPrefix(opts.PublicPrefix, "/") && opts.UploadDir != "" {
		app.Get(strings.TrimRight(opts.PublicPrefix, "/")+"*", static.New(opts.UploadDir, static.Config{Browse: false}))
	}

	uploadLimit := middleware.NewUploadRateLimiter()
	analyzeLimit := middleware.NewAnalyzeRateLimiter()

	// API routes
	api := app.Group("/api")

	// Admin routes (shared token, no user session)
	admin := api.Group("/admin", middleware.RequireAdmin(opts.AdminToken))
	admin.Post("/ledger/adjust", h.Ledger.Adjust)
	admin.Post("/purchases/:id/complete", h.Purchase.Complete)

	requireAuth := middleware.RequireAuth(opts.Resolver)

	// Video routes
	api.Post("/videos", requireAuth, uploadLimit.Handler(), h.Video.Upload)
	api.Get("/videos", requireAuth, h.Video.List)
	api.Get("/videos/:id", requireAuth, h.Video.Get)

	// Analysis routes
	api.Post("/analyses", requireAuth, analyzeLimit.Handler(), h.Analysis.Analyze)
	api.Get("/analyses", requireAuth, h.Analysis.List)
	api.Get("/analyses/:id", requireAuth, h.Analysis.Get)

	// Ledger routes
	api.Get("/ledger/balance", requireAuth, h.Ledger.Balance)
	api.Get("/ledger/transactions", requireAuth, h.Ledger.Transactions)

	// Purchase routes
	api.Post("/purchases", requireAuth, h.Purchase.Create)
	api.Get("/purchases", requireAuth, h.Purchase.List)
}
