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

const reconcileLockKey = "lock:sweep:reconcile"

// PaymentReconciler periodically polls gateways for attempts still pending after
// staleAfter, and re-runs activation for completed attempts that have no payment.
// This covers lost webhooks and crashes between the ledger write and activation.
type PaymentReconciler struct {
	uc         usecase.ReconcilerUseCase
	locker     redis.Locker
	interval   time.Duration
	staleAfter time.Duration
	batch      int
	log        *zerolog.Logger
}

func NewPaymentReconciler(uc usecase.ReconcilerUseCase, locker redis.Locker, interval, staleAfter time.Duration, batch int, logger *zerolog.Logger) *PaymentReconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	if batch <= 0 {
		batch = 200
	}
	l := logger.With().Str("component", "PaymentReconciler").Logger()
	return &PaymentReconciler{uc: uc, locker: locker, interval: interval, staleAfter: staleAfter, batch: batch, log: &l}
}

func (w *PaymentReconciler) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Dur("stale_after", w.staleAfter).Msg("Starting payment reconciler")
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping payment reconciler")
			return ctx.Err()
		case <-t.C:
			w.RunOnce(ctx)
		}
	}
}

func (w *PaymentReconciler) RunOnce(ctx context.Context) {
	lockedRun(ctx, w.locker, reconcileLockKey, w.interval, "reconcile", w.log, w.tick)
}

func (w *PaymentReconciler) tick(ctx context.Context) error {
	var errs []error
	settled, err := w.uc.ReconcilePending(ctx, w.staleAfter, w.batch)
	if err != nil {
		errs = append(errs, err)
	}
	if settled > 0 {
		metrics.AddSweepItems("reconcile", "settled", settled)
		w.log.Info().Int("count", settled).Msg("pending attempts settled")
	}
	healed, err := w.uc.ResumeActivation(ctx, w.staleAfter, w.batch)
	if err != nil {
		errs = append(errs, err)
	}
	if healed > 0 {
		metrics.AddSweepItems("reconcile", "activation_resumed", healed)
		w.log.Warn().Int("count", healed).Msg("resumed interrupted activations")
	}
	return errors.Join(errs...)
}
