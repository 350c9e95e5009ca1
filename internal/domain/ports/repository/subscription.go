package repository

import (
	"context"
	"time"

	"membership-payments/internal/domain/model"
)

// SubscriptionRepository is the port for membership subscriptions.
type SubscriptionRepository interface {
	Save(ctx context.Context, tx Tx, sub *model.Subscription) error
	FindActiveByUser(ctx context.Context, tx Tx, userID string, audience model.Audience) (*model.Subscription, error)
	FindByLastPayment(ctx context.Context, tx Tx, paymentID string) (*model.Subscription, error)
	// CancelActive cancels every active subscription of (user, audience) except keepID.
	CancelActive(ctx context.Context, tx Tx, userID string, audience model.Audience, keepID string) (int64, error)
	ListExpired(ctx context.Context, tx Tx, at time.Time, limit int) ([]*model.Subscription, error)
	CountActive(ctx context.Context, tx Tx, userID string, audience model.Audience) (int, error)
}

// MembershipStore is the user-side collaborator that owns the membership tier flag.
type MembershipStore interface {
	GetActiveSubscription(ctx context.Context, tx Tx, userID string, audience model.Audience) (*model.Subscription, error)
	SetMembershipTier(ctx context.Context, tx Tx, userID, tier string) error
	GetMembershipTier(ctx context.Context, tx Tx, userID string) (string, error)
}

// PlanRepository is the membership plan catalog. It is seeded from configuration at startup.
type PlanRepository interface {
	Upsert(ctx context.Context, tx Tx, p *model.MembershipPlan) error
	FindByCode(ctx context.Context, tx Tx, code string) (*model.MembershipPlan, error)
	ListAll(ctx context.Context, tx Tx) ([]*model.MembershipPlan, error)
}
