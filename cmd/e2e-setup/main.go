package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"membership-payments/internal/config"
	"membership-payments/internal/infra/api"
	pg "membership-payments/internal/infra/db/postgres"
	"membership-payments/internal/infra/redis"
)

// This script prepares a predictable environment for manual end-to-end testing:
// a referral code, a cleared initiate rate limit and a bearer token for /api/v1.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	referrer := flag.String("referrer", "e2e-referrer", "user id owning the referral code")
	code := flag.String("code", "E2EFRIEND", "referral code to register")
	payer := flag.String("user", "e2e-user", "user whose initiate rate limit is reset")
	subject := flag.String("subject", "e2e", "bearer token subject")
	ttl := flag.Duration("ttl", 24*time.Hour, "bearer token lifetime")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// --- Connect to Postgres ---
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 2)
	if err != nil {
		log.Fatalf("postgres connection failed: %v", err)
	}
	defer pool.Close()

	// --- Connect to Redis ---
	redisClient, err := redis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer redisClient.Close()

	log.Println("--- Starting E2E Environment Setup ---")

	if err := pg.NewReferralRepo(pool).AddCode(ctx, nil, *code, *referrer); err != nil {
		log.Fatalf("referral code: %v", err)
	}
	log.Printf("referral code %s -> %s", *code, *referrer)

	if err := redisClient.Del(ctx, redis.UserActionKey(*payer, "initiate")); err != nil {
		log.Fatalf("reset rate limit: %v", err)
	}
	log.Printf("initiate rate limit cleared for %s", *payer)

	if cfg.HTTP.AuthSecret == "" {
		log.Println("http.auth_secret is empty; /api/v1 runs without auth")
		return
	}
	token, err := api.NewAuthenticator(cfg.HTTP.AuthSecret).Mint(*subject, *ttl)
	if err != nil {
		log.Fatalf("mint token: %v", err)
	}
	fmt.Printf("Authorization: Bearer %s\n", token)
}
