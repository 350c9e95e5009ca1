package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"membership-payments/internal/domain"
	"membership-payments/internal/domain/model"
	"membership-payments/internal/domain/ports/repository"
	"membership-payments/internal/infra/logging"
	"membership-payments/internal/infra/metrics"
)

// Compile-time check
var _ SubscriptionUseCase = (*subscriptionUC)(nil)

// SubscriptionUseCase reads and expires membership subscriptions.
type SubscriptionUseCase interface {
	GetActive(ctx context.Context, userID string, audience model.Audience) (*model.Subscription, error)
	// ExpireDue marks subscriptions past their end date as expired and drops the
	// adult membership tier back to free.
	ExpireDue(ctx context.Context, limit int) (int, error)
}

type subscriptionUC struct {
	subs    repository.SubscriptionRepository
	members repository.MembershipStore
	tm      repository.TransactionManager
	log     *zerolog.Logger
	now     func() time.Time
}

func NewSubscriptionUseCase(subs repository.SubscriptionRepository, members repository.MembershipStore, tm repository.TransactionManager, logger *zerolog.Logger) *subscriptionUC {
	return &subscriptionUC{subs: subs, members: members, tm: tm, log: logger, now: time.Now}
}

func (u *subscriptionUC) GetActive(ctx context.Context, userID string, audience model.Audience) (*model.Subscription, error) {
	s, err := u.members.GetActiveSubscription(ctx, repository.NoTX, userID, audience)
	if err != nil {
		return nil, err
	}
	if !s.IsActiveAt(u.now()) {
		return nil, domain.ErrNotFound
	}
	return s, nil
}

func (u *subscriptionUC) ExpireDue(ctx context.Context, limit int) (int, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.ExpireDue")()

	now := u.now().UTC()
	due, err := u.subs.ListExpired(ctx, repository.NoTX, now, limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	var errs []error
	for _, s := range due {
		err := u.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
			cur, err := u.subs.FindActiveByUser(ctx, tx, s.UserID, s.Audience)
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if cur.ID != s.ID || cur.IsActiveAt(now) {
				// superseded or renewed since listing
				return nil
			}
			cur.Status = model.SubscriptionStatusExpired
			cur.UpdatedAt = now
			if err := u.subs.Save(ctx, tx, cur); err != nil {
				return err
			}
			expired++
			if cur.Audience == model.AudienceAdult {
				return u.members.SetMembershipTier(ctx, tx, cur.UserID, model.TierFree)
			}
			return nil
		})
		if err != nil {
			u.log.Error().Err(err).Str("subscription_id", s.ID).Msg("failed to expire subscription")
			errs = append(errs, err)
		}
	}
	if expired > 0 {
		metrics.IncSubscriptionsExpired(expired)
	}
	return expired, errors.Join(errs...)
}
