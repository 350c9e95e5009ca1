package model

import (
	"membership-payments/internal/domain"

	"github.com/shopspring/decimal"
)

// MembershipPlan is a purchasable membership tier with a fixed duration and price.
type MembershipPlan struct {
	Code         string
	Tier         string
	DurationDays int
	Price        decimal.Decimal
	Currency     string
	Recurring    bool
}

func (p *MembershipPlan) IsZero() bool { return p == nil || p.Code == "" }

// NewMembershipPlan validates and constructs a plan.
func NewMembershipPlan(code, tier string, durationDays int, price decimal.Decimal, currency string, recurring bool) (*MembershipPlan, error) {
	if code == "" || tier == "" || durationDays <= 0 || !price.IsPositive() || !IsKnownCurrency(currency) {
		return nil, domain.ErrInvalidArgument
	}
	return &MembershipPlan{
		Code:         code,
		Tier:         tier,
		DurationDays: durationDays,
		Price:        price,
		Currency:     NormalizeCurrency(currency),
		Recurring:    recurring,
	}, nil
}

// TierFree is what a member falls back to when no adult subscription is active.
const TierFree = "free"
