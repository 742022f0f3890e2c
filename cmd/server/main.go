package main

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/auth"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/config"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/db"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/handler"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/inference"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/media"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/metrics"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/middleware"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/repository"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/router"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/service"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/storage"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := config.Load()
	middleware.InitLogger(cfg.LogLevel, "smash-api")
	log := middleware.Logger

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, log); err != nil {
		log.Fatal().Err(err).Msg("failed to apply migrations")
	}
	if err := db.CheckSchema(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("schema check failed")
	}

	layout := storage.NewLayout(cfg.UploadDir)
	if err := layout.EnsureDirs(); err != nil {
		log.Fatal().Err(err).Msg("failed to prepare upload directory")
	}

	transformer, err := media.New(log, media.Options{
		ThumbnailWidth: cfg.ThumbnailWidth,
		MaxConcurrent:  cfg.MaxConcurrentTranscodes,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("ffmpeg unavailable")
	}

	var remote inference.Client = inference.MissingKeyClient{}
	if cfg.GeminiAPIKey == "" {
		log.Warn().Msg("GEMINI_API_KEY is not set, analyses will fail with an auth error")
	} else {
		remote, err = inference.NewGeminiClient(ctx, inference.GeminiConfig{
			APIKey:  cfg.GeminiAPIKey,
			BaseURL: cfg.GeminiBaseURL,
			Model:   cfg.GeminiModel,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create inference client")
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	metrics.RegisterPool(reg, pool)

	cache := service.NewCacheService(cfg.RedisURL, log)
	defer cache.Close()

	videoRepo := repository.NewVideoRepo(pool)
	analysisRepo := repository.NewAnalysisRepo(pool)
	ledgerRepo := repository.NewLedgerRepo(pool)
	purchaseRepo := repository.NewPurchaseRepo(pool)

	ledgerSvc := service.NewLedgerService(ledgerRepo, cache, service.LedgerConfig{WelcomeBonus: cfg.WelcomeBonus}, m, log)
	purchaseSvc := service.NewPurchaseService(purchaseRepo, ledgerSvc, m, log)
	videoSvc := service.NewVideoService(videoRepo, transformer, layout, service.IngestConfig{
		MaxUploadBytes:    cfg.MaxUploadBytes,
		MaxClipSeconds:    cfg.MaxClipSeconds,
		AllowedExtensions: cfg.AllowedExtensions,
		Quality:           media.Quality{CRF: cfg.CompressCRF, TargetBytes: cfg.CompressTargetBytes},
		PublicURLPrefix:   cfg.PublicURLPrefix,
	}, m, log)
	analysisSvc := service.NewAnalysisService(analysisRepo, videoSvc, remote, ledgerSvc, cache, service.AnalysisConfig{
		Cost:         cfg.AnalysisCost,
		PollInterval: cfg.PollInterval,
		PollTimeout:  cfg.PollTimeout,
	}, m, log)

	// Background workers
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	balanceWorker := service.NewBalanceWorker(pool, cache, log)
	reconcileWorker := service.NewReconcileWorker(ledgerRepo, cfg.ReconcileInterval, m, log)
	workers.Add(2)
	go func() { defer workers.Done(); balanceWorker.Start(workerCtx) }()
	go func() { defer workers.Done(); reconcileWorker.Start(workerCtx) }()

	app := fiber.New(fiber.Config{
		AppName:      "Smash AI API",
		ServerHeader: "smash-ai",
		// Multipart overhead on top of the largest accepted video.
		BodyLimit: int(cfg.MaxUploadBytes) + 1<<20,
		// Analyses wait on the remote model; leave room past the poll timeout.
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: cfg.PollTimeout + 2*time.Minute,
	})

	router.Setup(app, &router.Handlers{
		Video:    handler.NewVideoHandler(videoSvc),
		Analysis: handler.NewAnalysisHandler(analysisSvc),
		Ledger:   handler.NewLedgerHandler(ledgerSvc),
		Purchase: handler.NewPurchaseHandler(purchaseSvc),
		Health:   handler.NewHealthHandler(pool, cache.Client(), layout.Root()),
	}, router.Options{
		CORSOrigins:  cfg.CORSOrigins,
		AdminToken:   cfg.AdminToken,
		Resolver:     auth.NewSessionResolver(cache.Client()),
		Metrics:      m,
		Gatherer:     reg,
		UploadDir:    layout.Root(),
		PublicPrefix: cfg.PublicURLPrefix,
	})

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr()).Str("env", cfg.Environment).Msg("smash api starting")
		serveErr <- app.Listen(cfg.Addr(), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("server stopped")
		}
	}

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	cancelWorkers()
	workers.Wait()
	log.Info().Msg("stopped")
}
