package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"membership-payments/internal/domain"
	"membership-payments/internal/infra/metrics"
	"membership-payments/internal/infra/redis"
)

// lockedRun executes fn while holding key, so one replica runs a sweep at a time.
// A nil locker runs fn unguarded.
func lockedRun(ctx context.Context, locker redis.Locker, key string, ttl time.Duration, job string, log *zerolog.Logger, fn func(ctx context.Context) error) {
	if locker != nil {
		token, err := locker.TryLock(ctx, key, ttl)
		if errors.Is(err, domain.ErrLockNotAcquired) {
			metrics.IncSweepRun(job, "skipped")
			log.Debug().Str("job", job).Msg("sweep held by another replica")
			return
		}
		if err != nil {
			metrics.IncSweepRun(job, "error")
			log.Error().Err(err).Str("job", job).Msg("sweep lock failed")
			return
		}
		defer func() {
			// the run's ctx may be cancelled by shutdown; release anyway
			uctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := locker.Unlock(uctx, key, token); err != nil {
				log.Warn().Err(err).Str("job", job).Msg("sweep unlock failed")
			}
		}()
	}
	if err := fn(ctx); err != nil {
		metrics.IncSweepRun(job, "error")
		log.Error().Err(err).Str("job", job).Msg("sweep failed")
		return
	}
	metrics.IncSweepRun(job, "ok")
}
