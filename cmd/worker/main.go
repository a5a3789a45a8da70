package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/judgeflow/backend/internal/config"
	"github.com/judgeflow/backend/internal/jobs"
	"github.com/judgeflow/backend/internal/logger"
	"github.com/judgeflow/backend/internal/metrics"
	"github.com/judgeflow/backend/internal/oracle"
	"github.com/judgeflow/backend/internal/queue"
	"github.com/judgeflow/backend/internal/repository"
	"github.com/judgeflow/backend/internal/service"
	"github.com/judgeflow/backend/internal/websocket"
	"github.com/judgeflow/backend/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	log := logger.NewNamedLogger("worker-main")
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(true); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if cfg.Queue.Driver == config.QueueDriverMemory {
		log.Fatalf("QUEUE_DRIVER=memory only works with JUDGE_EMBEDDED=true on the server")
	}

	// One connection per worker plus headroom for recompute transactions
	db, err := repository.OpenPostgres(cfg, repository.PoolConfig{
		MaxOpenConns: cfg.Judge.Workers + 5,
		MaxIdleConns: cfg.Judge.Workers,
	})
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	redisClient, err := repository.OpenRedis(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}

	postgresRepo := repository.NewPostgresRepository(db)
	redisRepo := repository.NewRedisRepository(redisClient)
	if err := postgresRepo.AutoMigrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New(prometheus.DefaultRegisterer)

	host, _ := os.Hostname()
	submissionQueue, err := queue.Open(ctx, cfg.Queue, redisClient, fmt.Sprintf("worker-%s-%d", host, os.Getpid()), cfg.Judge.Workers, log)
	if err != nil {
		log.Fatalf("Failed to open %s queue: %v", cfg.Queue.Driver, err)
	}

	scorer, err := oracle.NewGeminiScorer(cfg.Oracle.Model, cfg.Oracle.ClientCacheSize)
	if err != nil {
		log.Fatalf("Failed to create oracle client cache: %v", err)
	}

	leaderboardService := service.NewLeaderboardService(postgresRepo, redisRepo, m)
	judge := service.NewJudgeService(postgresRepo, scorer, leaderboardService, websocket.NewRedisPublisher(redisClient), m, service.JudgeOptions{
		OracleTimeout:     cfg.Oracle.Timeout,
		DefaultCredential: cfg.Oracle.DefaultCredential,
	})

	pool := worker.NewPool(submissionQueue, judge, cfg.Judge.Workers, cfg.Judge.MaxAttempts, m)
	pool.Start()

	reaper := jobs.NewReaper(postgresRepo, submissionQueue, m, jobs.ReaperConfig{
		Interval:          cfg.Reaper.Interval,
		StaleAfter:        cfg.Reaper.StaleAfter,
		PendingStaleAfter: cfg.Reaper.PendingStaleAfter,
	})
	if err := reaper.Start(ctx); err != nil {
		log.Warnf("Failed to start reaper: %v", err)
	}

	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Metrics server failed: %v", err)
		}
	}()

	log.Infof("Judge worker running: %d workers on %s queue %q, metrics on :%d",
		cfg.Judge.Workers, cfg.Queue.Driver, cfg.Queue.Name, cfg.Server.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down worker...")

	reaper.Stop()
	if err := pool.Shutdown(cfg.Oracle.Timeout + 5*time.Second); err != nil {
		log.Warnf("Worker pool shutdown error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsServer.Shutdown(shutdownCtx)

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

	log.Info("Worker shutdown complete")
}
