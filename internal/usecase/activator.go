package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"membership-payments/internal/domain"
	"membership-payments/internal/domain/model"
	"membership-payments/internal/domain/ports/adapter"
	"membership-payments/internal/domain/ports/repository"
	"membership-payments/internal/infra/logging"
	"membership-payments/internal/infra/metrics"
)

// Compile-time check
var _ Activator = (*activatorUC)(nil)

// ActivationResult describes what one Activate call did.
type ActivationResult struct {
	Payment *model.Payment
	// Created is false when the payment already existed and the call only resumed.
	Created           bool
	SubscriptionID    string
	TokenBalance      int64
	CommissionCreated bool
}

// Activator grants the entitlement bought by a completed attempt. It is safe to
// call any number of times for the same attempt.
type Activator interface {
	Activate(ctx context.Context, attempt *model.PaymentAttempt) (*ActivationResult, error)
	// Recorded reads back a finished activation without writing. It returns
	// domain.ErrNotFound when the attempt has no payment yet.
	Recorded(ctx context.Context, attempt *model.PaymentAttempt) (*ActivationResult, error)
}

// ActivatorDeps groups the stores the activator writes to in one transaction.
type ActivatorDeps struct {
	Payments    repository.PaymentRepository
	Subs        repository.SubscriptionRepository
	Members     repository.MembershipStore
	Plans       repository.PlanRepository
	Tokens      repository.TokenRepository
	ListingFees repository.ListingFeeRepository
	Referrals   repository.ReferralStore
	Commissions repository.CommissionRepository
	TxManager   repository.TransactionManager
	Notifier    adapter.Notifier
}

type activatorUC struct {
	ActivatorDeps
	rate decimal.Decimal
	log  *zerolog.Logger
	now  func() time.Time
}

func NewActivator(deps ActivatorDeps, commissionRate decimal.Decimal, logger *zerolog.Logger) *activatorUC {
	return &activatorUC{ActivatorDeps: deps, rate: commissionRate, log: logger, now: time.Now}
}

func (u *activatorUC) Activate(ctx context.Context, a *model.PaymentAttempt) (*ActivationResult, error) {
	defer logging.TraceDuration(u.log, "Activator.Activate")()
	if a == nil || a.Status != model.AttemptStatusCompleted {
		return nil, domain.ErrInvalidArgument
	}
	ctx = logging.WithAttemptID(logging.WithUserID(ctx, a.UserID), a.ID)

	res := &ActivationResult{}
	err := u.TxManager.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		*res = ActivationResult{}
		p, created, err := u.Payments.InsertIfAbsent(ctx, tx, u.newPayment(a))
		if err != nil {
			return fmt.Errorf("record payment: %w", err)
		}
		if p.PaymentAttemptID != a.ID {
			return fmt.Errorf("%w: payment reference %s already belongs to attempt %s, not %s",
				domain.ErrStorageConflict, p.PaymentReference, p.PaymentAttemptID, a.ID)
		}
		res.Payment, res.Created = p, created

		switch a.Kind {
		case model.KindMembership:
			err = u.activateMembership(ctx, tx, a, p, res)
		case model.KindTokenPurchase:
			err = u.creditTokens(ctx, tx, a, p, res)
		case model.KindListingFee:
			err = u.confirmListing(ctx, tx, a, p)
		default:
			err = domain.ErrInvalidArgument
		}
		if err != nil {
			return err
		}
		res.CommissionCreated, err = u.recordCommission(ctx, tx, a, p)
		return err
	})
	if err != nil {
		u.failed(ctx, a, err)
		return nil, err
	}

	if res.Created {
		metrics.IncActivation(string(a.Kind), "created")
		metrics.AddPaymentRevenue(res.Payment.Currency, res.Payment.Amount)
		u.notifyUser(ctx, a, res.Payment)
	} else {
		metrics.IncActivation(string(a.Kind), "replayed")
	}
	return res, nil
}

func (u *activatorUC) Recorded(ctx context.Context, a *model.PaymentAttempt) (*ActivationResult, error) {
	p, err := u.Payments.FindByAttemptID(ctx, repository.NoTX, a.ID)
	if err != nil {
		return nil, err
	}
	res := &ActivationResult{Payment: p}
	switch a.Kind {
	case model.KindMembership:
		sub, err := u.Subs.FindByLastPayment(ctx, repository.NoTX, p.ID)
		if err != nil {
			return nil, fmt.Errorf("find subscription by payment: %w", err)
		}
		res.SubscriptionID = sub.ID
	case model.KindTokenPurchase:
		ts, err := u.Tokens.GetOrCreateSubscription(ctx, repository.NoTX, a.UserID, a.Meta(model.MetaServiceCategory))
		if err != nil {
			return nil, fmt.Errorf("token subscription: %w", err)
		}
		res.TokenBalance = ts.TokenBalance
	}
	return res, nil
}

func (u *activatorUC) newPayment(a *model.PaymentAttempt) *model.Payment {
	now := u.now().UTC()
	return &model.Payment{
		ID:               uuid.NewString(),
		UserID:           a.UserID,
		PaymentAttemptID: a.ID,
		Amount:           a.Amount,
		Currency:         a.Currency,
		Status:           model.PaymentStatusCompleted,
		PaymentMethod:    string(a.Gateway),
		PaymentReference: a.PaymentReference(),
		PaidAt:           now,
		Metadata:         a.Metadata,
		CreatedAt:        now,
	}
}

// activateMembership supersedes the active subscription of the same audience.
func (u *activatorUC) activateMembership(ctx context.Context, tx repository.Tx, a *model.PaymentAttempt, p *model.Payment, res *ActivationResult) error {
	if existing, err := u.Subs.FindByLastPayment(ctx, tx, p.ID); err == nil {
		res.SubscriptionID = existing.ID
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("find subscription by payment: %w", err)
	}

	plan, err := u.Plans.FindByCode(ctx, tx, a.Meta(model.MetaPlan))
	if err != nil {
		return fmt.Errorf("load plan %q: %w", a.Meta(model.MetaPlan), err)
	}
	audience := model.ParseAudience(a.Meta(model.MetaAudience))
	sub, err := model.NewSubscription(uuid.NewString(), a.UserID, plan, audience, p.ID, u.now().UTC())
	if err != nil {
		return err
	}

	n, err := u.Subs.CancelActive(ctx, tx, a.UserID, audience, sub.ID)
	if err != nil {
		return fmt.Errorf("supersede subscription: %w", err)
	}
	if n > 0 {
		metrics.IncSubscriptionsSuperseded(n)
	}
	if err := u.Subs.Save(ctx, tx, sub); err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	if err := u.Payments.SetSubscriptionID(ctx, tx, p.ID, sub.ID); err != nil {
		return fmt.Errorf("link payment: %w", err)
	}
	if audience == model.AudienceAdult {
		if err := u.Members.SetMembershipTier(ctx, tx, a.UserID, plan.Tier); err != nil {
			return fmt.Errorf("set membership tier: %w", err)
		}
	}
	res.SubscriptionID = sub.ID
	return nil
}

func (u *activatorUC) creditTokens(ctx context.Context, tx repository.Tx, a *model.PaymentAttempt, p *model.Payment, res *ActivationResult) error {
	count, err := strconv.ParseInt(a.Meta(model.MetaTokens), 10, 64)
	if err != nil || count <= 0 {
		return fmt.Errorf("%w: token count %q", domain.ErrInvalidArgument, a.Meta(model.MetaTokens))
	}
	category := a.Meta(model.MetaServiceCategory)
	ts, err := u.Tokens.GetOrCreateSubscription(ctx, tx, a.UserID, category)
	if err != nil {
		return fmt.Errorf("token subscription: %w", err)
	}
	pid := p.ID
	appended, err := u.Tokens.AppendTransaction(ctx, tx, &model.TokenTransaction{
		ID:                  uuid.NewString(),
		TokenSubscriptionID: ts.ID,
		Type:                model.TokenTxPurchase,
		Amount:              count,
		PaymentID:           &pid,
		Description:         a.Meta(model.MetaDescription),
		CreatedAt:           u.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("append token purchase: %w", err)
	}
	if res.TokenBalance, err = u.Tokens.RefoldBalance(ctx, tx, ts.ID); err != nil {
		return fmt.Errorf("fold token balance: %w", err)
	}
	if appended {
		metrics.AddTokensCredited(category, count)
	}
	return nil
}

func (u *activatorUC) confirmListing(ctx context.Context, tx repository.Tx, a *model.PaymentAttempt, p *model.Payment) error {
	listingID := a.Meta(model.MetaListingID)
	if listingID == "" {
		return fmt.Errorf("%w: missing listing id", domain.ErrInvalidArgument)
	}
	_, err := u.ListingFees.Confirm(ctx, tx, &model.ListingFeeConfirmation{
		ListingID:   listingID,
		PaymentID:   p.ID,
		UserID:      a.UserID,
		ConfirmedAt: u.now().UTC(),
	})
	return err
}

// recordCommission credits the referrer of the payer, attaching a referral from
// the attempt's referral code the first time.
func (u *activatorUC) recordCommission(ctx context.Context, tx repository.Tx, a *model.PaymentAttempt, p *model.Payment) (bool, error) {
	if u.Referrals == nil || u.Commissions == nil || !u.rate.IsPositive() {
		return false, nil
	}
	ref, err := u.Referrals.FindByReferredUser(ctx, tx, a.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		code := a.Meta(model.MetaReferralCode)
		if code == "" {
			return false, nil
		}
		referrerID, ferr := u.Referrals.FindReferrer(ctx, tx, code)
		if errors.Is(ferr, domain.ErrNotFound) {
			u.log.Warn().Str("code", code).Msg("unknown referral code; no commission")
			return false, nil
		}
		if ferr != nil {
			return false, ferr
		}
		ref, err = u.Referrals.Attach(ctx, tx, referrerID, a.UserID, code)
		if errors.Is(err, domain.ErrInvalidArgument) {
			return false, nil
		}
	}
	if err != nil {
		return false, fmt.Errorf("referral lookup: %w", err)
	}

	amount := model.ComputeCommission(p.Amount, u.rate, p.Currency)
	if !amount.IsPositive() {
		return false, nil
	}
	return u.Commissions.InsertIfAbsent(ctx, tx, &model.Commission{
		ID:               uuid.NewString(),
		ReferralID:       ref.ID,
		ReferrerID:       ref.ReferrerID,
		ReferredUserID:   a.UserID,
		PaymentID:        p.ID,
		PaymentAmount:    p.Amount,
		CommissionRate:   u.rate,
		CommissionAmount: amount,
		Currency:         p.Currency,
		Status:           model.CommissionStatusPending,
		CreatedAt:        u.now().UTC(),
	})
}

func (u *activatorUC) failed(ctx context.Context, a *model.PaymentAttempt, err error) {
	metrics.IncActivationFailure(string(a.Kind))
	logging.With(ctx, u.log).Error().Err(err).
		Str("kind", string(a.Kind)).
		Str("payment_reference", a.PaymentReference()).
		Msg("entitlement activation failed; will be retried by the reconciler")
	u.notify(ctx, adapter.Notification{
		Severity: adapter.SeverityCritical,
		Title:    "Activation failed",
		Body:     err.Error(),
		Fields: map[string]string{
			"attempt_id": a.ID,
			"user_id":    a.UserID,
			"kind":       string(a.Kind),
			"amount":     model.FormatAmount(a.Amount, a.Currency) + " " + a.Currency,
		},
	})
}

func (u *activatorUC) notifyUser(ctx context.Context, a *model.PaymentAttempt, p *model.Payment) {
	u.notify(ctx, adapter.Notification{
		Severity: adapter.SeverityInfo,
		UserID:   a.UserID,
		Title:    "Payment received",
		Body:     model.FormatAmount(p.Amount, p.Currency) + " " + p.Currency,
		Fields: map[string]string{
			"attempt_id": a.ID,
			"kind":       string(a.Kind),
		},
	})
}

func (u *activatorUC) notify(ctx context.Context, n adapter.Notification) {
	if u.Notifier == nil {
		return
	}
	if err := u.Notifier.Notify(ctx, n); err != nil {
		u.log.Warn().Err(err).Str("title", n.Title).Msg("notification dropped")
	}
}
