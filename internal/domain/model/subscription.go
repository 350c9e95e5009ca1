package model

import (
	"time"

	"membership-payments/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPending   SubscriptionStatus = "pending"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusPaused    SubscriptionStatus = "paused"
)

// Audience separates a user's own membership from the optional child membership.
type Audience string

const (
	AudienceAdult Audience = "adult"
	AudienceChild Audience = "child"
)

func ParseAudience(s string) Audience {
	if Audience(s) == AudienceChild {
		return AudienceChild
	}
	return AudienceAdult
}

// Subscription is the entitlement granted by a completed membership payment.
// At most one active subscription exists per (user, audience).
type Subscription struct {
	ID            string
	UserID        string
	Plan          string
	Audience      Audience
	Status        SubscriptionStatus
	StartDate     time.Time
	EndDate       time.Time
	IsRecurring   bool
	LastPaymentID *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewSubscription starts an active subscription for plan at now.
func NewSubscription(id, userID string, plan *MembershipPlan, audience Audience, paymentID string, now time.Time) (*Subscription, error) {
	if id == "" || userID == "" || plan.IsZero() {
		return nil, domain.ErrInvalidArgument
	}
	pid := paymentID
	return &Subscription{
		ID:            id,
		UserID:        userID,
		Plan:          plan.Code,
		Audience:      audience,
		Status:        SubscriptionStatusActive,
		StartDate:     now,
		EndDate:       now.Add(time.Duration(plan.DurationDays) * 24 * time.Hour),
		IsRecurring:   plan.Recurring,
		LastPaymentID: &pid,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (s *Subscription) IsActiveAt(t time.Time) bool {
	return s != nil && s.Status == SubscriptionStatusActive && t.Before(s.EndDate)
}
