package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"membership-payments/internal/infra/metrics"
	"membership-payments/internal/infra/redis"
	"membership-payments/internal/usecase"
)

const expiryLockKey = "lock:sweep:expiry"

// ExpiryWorker fails pending attempts older than the attempt TTL and ends
// subscriptions past their end date.
type ExpiryWorker struct {
	interval   time.Duration
	attemptTTL time.Duration
	batch      int
	ledger     usecase.LedgerUseCase
	subUC      usecase.SubscriptionUseCase
	locker     redis.Locker
	log        *zerolog.Logger
}

func NewExpiryWorker(interval, attemptTTL time.Duration, batch int, ledger usecase.LedgerUseCase, subUC usecase.SubscriptionUseCase, locker redis.Locker, logger *zerolog.Logger) *ExpiryWorker {
	exprLog := logger.With().Str("component", "ExpiryWorker").Logger()
	if interval <= 0 {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = 100
	}
	return &ExpiryWorker{
		interval:   interval,
		attemptTTL: attemptTTL,
		batch:      batch,
		ledger:     ledger,
		subUC:      subUC,
		locker:     locker,
		log:        &exprLog,
	}
}

func (w *ExpiryWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting expiry worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping expiry worker")
			return ctx.Err()
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep.
func (w *ExpiryWorker) RunOnce(ctx context.Context) {
	lockedRun(ctx, w.locker, expiryLockKey, w.interval, "expiry", w.log, w.sweep)
}

func (w *ExpiryWorker) sweep(ctx context.Context) error {
	var errs []error
	if w.attemptTTL > 0 {
		n, err := w.ledger.ExpireStale(ctx, w.attemptTTL, w.batch)
		if err != nil {
			errs = append(errs, err)
		}
		if n > 0 {
			metrics.AddSweepItems("expiry", "attempt_expired", n)
			w.log.Info().Int("count", n).Msg("stale attempts expired")
		}
	}
	n, err := w.subUC.ExpireDue(ctx, w.batch)
	if err != nil {
		errs = append(errs, err)
	}
	if n > 0 {
		metrics.AddSweepItems("expiry", "subscription_expired", n)
		w.log.Info().Int("count", n).Msg("expired subscriptions finished")
	}
	return errors.Join(errs...)
}
