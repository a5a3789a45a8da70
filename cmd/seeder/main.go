package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/judgeflow/backend/internal/api/middleware"
	"github.com/judgeflow/backend/internal/config"
	"github.com/judgeflow/backend/internal/logger"
	"github.com/judgeflow/backend/internal/models"
	"github.com/judgeflow/backend/internal/repository"
)

const UsernamePrefix = "user_"

var sampleChallenges = []models.Challenge{
	{
		Title:       "Explain Big-O",
		Description: "Explain why binary search runs in O(log n).",
		MaxPoints:   100,
		AIContext:   "A full answer mentions halving the search space each step and relates the step count to log2(n).",
	},
	{
		Title:       "Design a rate limiter",
		Description: "Describe a per-user rate limiter for an HTTP API.",
		MaxPoints:   150,
		AIContext:   "Look for a fixed or sliding window, shared state across instances, key expiry, and behavior when the store is down.",
	},
	{
		Title:       "SQL isolation",
		Description: "What anomaly does READ COMMITTED allow that REPEATABLE READ prevents?",
		MaxPoints:   50,
		AIContext:   "The expected answer is non-repeatable reads; naming phantom reads alone is partial credit.",
	},
}

func main() {
	users := flag.Int("users", 5, "number of demo user tokens to print")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of printed tokens")
	flag.Parse()

	log := logger.NewNamedLogger("seeder")
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Auth.JWTSecret == "" {
		log.Fatalf("JWT_SECRET is required to mint demo tokens")
	}

	db, err := repository.OpenPostgres(cfg, repository.PoolConfig{MaxOpenConns: 5, MaxIdleConns: 2})
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	postgresRepo := repository.NewPostgresRepository(db)
	defer postgresRepo.Close()

	if err := postgresRepo.AutoMigrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now()
	contest := &models.Contest{
		Title:    fmt.Sprintf("Demo Contest %s", now.Format("2006-01-02")),
		StartsAt: now,
		EndsAt:   now.Add(7 * 24 * time.Hour),
	}
	challenges := make([]models.Challenge, len(sampleChallenges))
	copy(challenges, sampleChallenges)

	if err := postgresRepo.CreateContest(ctx, contest, challenges); err != nil {
		log.Fatalf("Failed to create contest: %v", err)
	}

	log.Infof("Created contest %q (%s)", contest.Title, contest.ID)
	for _, ch := range challenges {
		log.Infof("  challenge %s  max=%d  %s", ch.ID, ch.MaxPoints, ch.Title)
	}

	for i := 1; i <= *users; i++ {
		name := fmt.Sprintf("%s%d", UsernamePrefix, i)
		token, err := middleware.IssueToken(cfg.Auth.JWTSecret, name, name, *tokenTTL)
		if err != nil {
			log.Fatalf("Failed to sign token for %s: %v", name, err)
		}
		fmt.Printf("%s\t%s\n", name, token)
	}

	fmt.Printf("\ncurl -X POST localhost:%d/api/v1/challenge/%s/submit \\\n"+
		"  -H 'Authorization: Bearer <token>' -H 'Content-Type: application/json' \\\n"+
		"  -d '{\"submission\":\"...\",\"points\":%d}'\n",
		cfg.Server.Port, challenges[0].ID, challenges[0].MaxPoints)
}
