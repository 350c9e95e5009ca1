// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"membership-payments/internal/application"
	"membership-payments/internal/config"
	"membership-payments/internal/domain/ports/adapter"
	payAdapters "membership-payments/internal/infra/adapters/payment"
	"membership-payments/internal/infra/api"
	"membership-payments/internal/infra/i18n"
	"membership-payments/internal/infra/logging"
	"membership-payments/internal/infra/metrics"
	"membership-payments/internal/infra/sched"
	"membership-payments/internal/infra/telegram"
	"membership-payments/internal/infra/worker"
	"membership-payments/internal/usecase"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (noop gateway, in-memory storage allowed)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	metrics.MustRegister(nil)
	metrics.SetBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("payments service stopped")
	}
	logger.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// ---- Storage ----
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	if err := usecase.NewPlanUseCase(st.plans).Seed(ctx, cfg.Plans); err != nil {
		return fmt.Errorf("seed plans: %w", err)
	}

	// ---- Notifications ----
	pool := worker.NewPool(cfg.Workers, logger)
	pool.Start(context.Background())
	defer pool.Stop()

	var sink adapter.Notifier = telegram.NewLogNotifier(logger)
	if cfg.Telegram.Token != "" {
		tg, err := telegram.NewOperatorNotifier(cfg.Telegram, logger)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		sink = tg
	}
	notifier := worker.NewAsyncNotifier(pool, sink, 10*time.Second)

	// ---- Gateways ----
	gateways, err := payAdapters.NewGateways(cfg.Payment, cfg.Runtime.Dev, payAdapters.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("gateways: %w", err)
	}
	for name := range gateways {
		logger.Info().Str("gateway", string(name)).Str("environment", cfg.Payment.Environment).Msg("gateway enabled")
		metrics.SetGatewayEnabled(string(name), cfg.Payment.Environment)
	}

	// ---- Use cases ----
	rate, err := decimal.NewFromString(cfg.Referral.CommissionRate)
	if err != nil {
		return fmt.Errorf("referral.commission_rate: %w", err)
	}
	ledger := usecase.NewLedgerUseCase(st.attempts, logger)
	activator := usecase.NewActivator(usecase.ActivatorDeps{
		Payments:    st.payments,
		Subs:        st.subs,
		Members:     st.members,
		Plans:       st.plans,
		Tokens:      st.tokens,
		ListingFees: st.listingFees,
		Referrals:   st.referrals,
		Commissions: st.commissions,
		TxManager:   st.tm,
		Notifier:    notifier,
	}, rate, logger)
	reconciler := usecase.NewReconcilerUseCase(gateways, ledger, st.attempts, activator, notifier, logger)
	subUC := usecase.NewSubscriptionUseCase(st.subs, st.members, st.tm, logger)
	tokenUC := usecase.NewTokenUseCase(st.tokens, st.tm, logger)

	facade := application.NewPaymentFacade(application.FacadeDeps{
		Gateways:    gateways,
		Ledger:      ledger,
		Reconciler:  reconciler,
		Members:     st.members,
		Plans:       st.plans,
		ListingFees: st.listingFees,
		Limiter:     st.limiter,
		Replay:      st.replay,
	}, application.FacadeOptions{
		CallbackBaseURL:   cfg.Payment.CallbackBaseURL,
		InitiatePerMinute: cfg.RateLimit.InitiatePerMinute,
		Dev:               cfg.Runtime.Dev,
	}, logger)

	// ---- HTTP ----
	bundle, err := i18n.NewDefaultBundle()
	if err != nil {
		return fmt.Errorf("i18n: %w", err)
	}
	var auth *api.Authenticator
	if cfg.HTTP.AuthSecret != "" {
		auth = api.NewAuthenticator(cfg.HTTP.AuthSecret)
	} else {
		logger.Warn().Msg("[DEV MODE] /api/v1 is unauthenticated")
	}
	router := api.NewRouter(cfg.HTTP, api.RouterDeps{
		Payments: facade,
		Tokens:   tokenUC,
		Renderer: api.NewRenderer(bundle, logger),
		Auth:     auth,
		Health:   st.health,
	}, logger)
	server := api.NewServer(cfg.HTTP, router, logger)

	// ---- Background sweeps ----
	expiry := sched.NewExpiryWorker(cfg.Scheduler.SweepInterval, cfg.Payment.AttemptTTL, cfg.Scheduler.BatchSize, ledger, subUC, st.locker, logger)
	recon := sched.NewPaymentReconciler(reconciler, st.locker, cfg.Scheduler.ReconcileInterval, cfg.Scheduler.ReconcileAfter, cfg.Scheduler.BatchSize, logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = expiry.Run(ctx) }()
	go func() { defer wg.Done(); _ = recon.Run(ctx) }()

	err = server.Run(ctx)
	cancel()
	wg.Wait()
	return err
}
