package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"membership-payments/internal/application"
	"membership-payments/internal/config"
	"membership-payments/internal/domain/ports/repository"
	"membership-payments/internal/infra/api"
	"membership-payments/internal/infra/db/memory"
	pg "membership-payments/internal/infra/db/postgres"
	red "membership-payments/internal/infra/redis"
)

// stores bundles the repositories and the Redis-backed guards for one storage driver.
type stores struct {
	attempts    repository.AttemptRepository
	payments    repository.PaymentRepository
	subs        repository.SubscriptionRepository
	members     repository.MembershipStore
	plans       repository.PlanRepository
	tokens      repository.TokenRepository
	listingFees repository.ListingFeeRepository
	referrals   repository.ReferralStore
	commissions repository.CommissionRepository
	tm          repository.TransactionManager

	locker  red.Locker
	limiter application.RateLimiter
	replay  application.ReplayGuard
	health  map[string]api.HealthCheck
	close   func()
}

func openStores(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*stores, error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn().Msg("[DEV MODE] in-memory storage; data is lost on exit")
		return memoryStores(), nil
	}
	return postgresStores(ctx, cfg, logger)
}

func memoryStores() *stores {
	m := memory.New()
	return &stores{
		attempts:    m.Attempts(),
		payments:    m.Payments(),
		subs:        m.Subscriptions(),
		members:     m.Members(),
		plans:       m.Plans(),
		tokens:      m.Tokens(),
		listingFees: m.ListingFees(),
		referrals:   m.Referrals(),
		commissions: m.Commissions(),
		tm:          m,
		health:      map[string]api.HealthCheck{},
		close:       func() {},
	}
}

func postgresStores(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*stores, error) {
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	var redisClient red.RedisClient
	redisClient, err = red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	go pg.ReportPoolStats(ctx, pool, 15*time.Second)
	logger.Info().Int32("max_conns", cfg.Database.MaxConns).Msg("storage connected")

	return &stores{
		attempts:    pg.NewAttemptRepo(pool),
		payments:    pg.NewPaymentRepo(pool),
		subs:        pg.NewSubscriptionRepo(pool),
		members:     pg.NewPostgresUserRepo(pool),
		plans:       pg.NewPlanRepoCacheDecorator(pg.NewPostgresPlanRepo(pool), redisClient, cfg.Redis.TTL),
		tokens:      pg.NewTokenRepo(pool),
		listingFees: pg.NewListingFeeRepo(pool),
		referrals:   pg.NewReferralRepo(pool),
		commissions: pg.NewCommissionRepo(pool),
		tm:          pg.NewTxManager(pool),
		locker:      red.NewLocker(redisClient),
		limiter:     red.NewRateLimiter(redisClient),
		replay:      red.NewReplayGuard(redisClient, cfg.Redis.TTL),
		health: map[string]api.HealthCheck{
			"postgres": pool.Ping,
			"redis":    redisClient.Ping,
		},
		close: func() {
			_ = redisClient.Close()
			pool.Close()
		},
	}, nil
}
