package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/judgeflow/backend/internal/api/handlers"
	"github.com/judgeflow/backend/internal/api/middleware"
	"github.com/judgeflow/backend/internal/config"
	"github.com/judgeflow/backend/internal/jobs"
	"github.com/judgeflow/backend/internal/logger"
	"github.com/judgeflow/backend/internal/metrics"
	"github.com/judgeflow/backend/internal/models"
	"github.com/judgeflow/backend/internal/oracle"
	"github.com/judgeflow/backend/internal/queue"
	"github.com/judgeflow/backend/internal/ratelimit"
	"github.com/judgeflow/backend/internal/repository"
	"github.com/judgeflow/backend/internal/service"
	"github.com/judgeflow/backend/internal/websocket"
	"github.com/judgeflow/backend/internal/worker"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	fiberws "github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	log := logger.NewNamedLogger("server")
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(cfg.Judge.Embedded); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	db, err := repository.OpenPostgres(cfg, repository.PoolConfig{MaxOpenConns: 30, MaxIdleConns: 10})
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	log.Info("Connected to PostgreSQL")

	redisClient, err := repository.OpenRedis(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	log.Info("Connected to Redis")

	postgresRepo := repository.NewPostgresRepository(db)
	redisRepo := repository.NewRedisRepository(redisClient)

	if err := postgresRepo.AutoMigrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Info("Database migrations completed")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New(prometheus.DefaultRegisterer)

	submissionQueue, err := queue.Open(ctx, cfg.Queue, redisClient, consumerID("server"), cfg.Judge.Workers, log)
	if err != nil {
		log.Fatalf("Failed to open %s queue: %v", cfg.Queue.Driver, err)
	}

	hub := websocket.NewHub(redisClient)
	go hub.Run(ctx)

	limiter := ratelimit.NewLimiter(redisClient, cfg.RateLimit.Threshold, cfg.RateLimit.Window)
	submissionService := service.NewSubmissionService(postgresRepo, limiter, submissionQueue, m)
	leaderboardService := service.NewLeaderboardService(postgresRepo, redisRepo, m)

	// Single-process mode: judge in this process instead of cmd/worker.
	var pool *worker.Pool
	var reaper *jobs.Reaper
	if cfg.Judge.Embedded {
		scorer, err := oracle.NewGeminiScorer(cfg.Oracle.Model, cfg.Oracle.ClientCacheSize)
		if err != nil {
			log.Fatalf("Failed to create oracle client cache: %v", err)
		}
		judge := service.NewJudgeService(postgresRepo, scorer, leaderboardService, websocket.NewRedisPublisher(redisClient), m, service.JudgeOptions{
			OracleTimeout:     cfg.Oracle.Timeout,
			DefaultCredential: cfg.Oracle.DefaultCredential,
		})

		pool = worker.NewPool(submissionQueue, judge, cfg.Judge.Workers, cfg.Judge.MaxAttempts, m)
		pool.Start()

		reaper = jobs.NewReaper(postgresRepo, submissionQueue, m, jobs.ReaperConfig{
			Interval:          cfg.Reaper.Interval,
			StaleAfter:        cfg.Reaper.StaleAfter,
			PendingStaleAfter: cfg.Reaper.PendingStaleAfter,
		})
		if err := reaper.Start(ctx); err != nil {
			log.Warnf("Failed to start reaper: %v", err)
		}
		log.Infof("Embedded judge started with %d workers", cfg.Judge.Workers)
	}

	submissionHandler := handlers.NewSubmissionHandler(submissionService)
	leaderboardHandler := handlers.NewLeaderboardHandler(leaderboardService, hub, map[string]handlers.HealthCheckFunc{
		"postgres": postgresRepo.Ping,
		"redis":    redisRepo.Ping,
	})

	app := fiber.New(fiber.Config{
		AppName:               "JudgeFlow",
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler,
	})

	app.Use(recover.New())
	app.Use(middleware.RequestLogger(logger.NewNamedLogger("http")))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowMethods:  "GET,POST,OPTIONS",
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, " + handlers.OracleKeyHeader,
		ExposeHeaders: handlers.RateLimitRemainingHeader,
	}))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api/v1")
	api.Get("/health", leaderboardHandler.HealthCheck)
	api.Get("/contests/:contestId/leaderboard", leaderboardHandler.GetLeaderboard)

	authed := api.Group("", middleware.RequireAuth(cfg.Auth.JWTSecret, false))
	authed.Post("/challenge/:challengeId/submit", submissionHandler.Submit)
	authed.Get("/submissions/:id", submissionHandler.GetSubmission)
	authed.Get("/contests/:contestId/standing", leaderboardHandler.GetStanding)

	// WebSocket route: authenticate, then require an upgrade
	app.Use("/ws", middleware.RequireAuth(cfg.Auth.JWTSecret, true), func(c *fiber.Ctx) error {
		if fiberws.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", fiberws.New(leaderboardHandler.HandleWebSocket))

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		log.Info("Shutting down server...")

		// Stop accepting new HTTP requests first
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Warnf("Server forced to shutdown: %v", err)
		}

		if reaper != nil {
			reaper.Stop()
		}
		if pool != nil {
			if err := pool.Shutdown(cfg.Oracle.Timeout + 5*time.Second); err != nil {
				log.Warnf("Worker pool shutdown error: %v", err)
			}
		}

		cancel()
		if err := submissionQueue.Close(); err != nil {
			log.Warnf("Error closing queue: %v", err)
		}
		if err := postgresRepo.Close(); err != nil {
			log.Warnf("Error closing PostgreSQL: %v", err)
		}
		if err := redisRepo.Close(); err != nil {
			log.Warnf("Error closing Redis: %v", err)
		}

		log.Info("Server shutdown complete")
	}()

	log.Infof("Server starting on port %d (queue=%s)", cfg.Server.Port, cfg.Queue.Driver)
	if err := app.Listen(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	<-shutdownDone
}

// consumerID names this process on the queue so its in-flight jobs can be
// recovered after a restart on the same host.
func consumerID(role string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return role + "-" + host
}

// customErrorHandler handles errors globally. Only fiber errors carry their
// message to the client.
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal service error. please try again later"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(models.ErrorResponse{
		Error:   "Request failed",
		Message: message,
	})
}
