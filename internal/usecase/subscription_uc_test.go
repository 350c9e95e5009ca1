//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"membership-payments/internal/config"
	"membership-payments/internal/domain"
	"membership-payments/internal/domain/model"
	"membership-payments/internal/usecase"
)

func TestSubscriptionUseCase_ExpireDue(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	subs := usecase.NewSubscriptionUseCase(e.store.Subscriptions(), e.store.Members(), e.store, newTestLogger())

	a := e.complete(t, e.pendingAttempt(t, model.KindMembership, 10000, membershipMeta()), "S")
	res, err := e.activator.Activate(ctx, a)
	if err != nil {
		t.Fatalf("activation: %v", err)
	}

	if got, err := subs.GetActive(ctx, "user-1", model.AudienceAdult); err != nil || got.ID != res.SubscriptionID {
		t.Fatalf("expected active subscription, got %+v (%v)", got, err)
	}

	n, err := subs.ExpireDue(ctx, 10)
	if err != nil || n != 0 {
		t.Fatalf("nothing is due yet, got %d (%v)", n, err)
	}

	// Move the end date into the past.
	sub, _ := e.store.Subscriptions().FindActiveByUser(ctx, nil, "user-1", model.AudienceAdult)
	sub.EndDate = time.Now().Add(-time.Minute)
	if err := e.store.Subscriptions().Save(ctx, nil, sub); err != nil {
		t.Fatalf("save: %v", err)
	}

	n, err = subs.ExpireDue(ctx, 10)
	if err != nil || n != 1 {
		t.Fatalf("expected one expired subscription, got %d (%v)", n, err)
	}
	if _, err := subs.GetActive(ctx, "user-1", model.AudienceAdult); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected no active subscription, got %v", err)
	}
	if tier, _ := e.store.Members().GetMembershipTier(ctx, nil, "user-1"); tier != model.TierFree {
		t.Errorf("expected tier reset to free, got %q", tier)
	}
}

func TestPlanUseCase_Seed(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	plans := usecase.NewPlanUseCase(e.store.Plans())

	err := plans.Seed(ctx, []config.PlanConfig{
		{Code: "family", Tier: "family", DurationDays: 365, Price: "99000", Currency: "XOF", Recurring: true},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	p, err := plans.Get(ctx, "family")
	if err != nil || p.DurationDays != 365 || !p.Recurring {
		t.Fatalf("unexpected plan %+v (%v)", p, err)
	}
	all, _ := plans.List(ctx)
	if len(all) != 3 {
		t.Errorf("expected 3 plans, got %d", len(all))
	}

	if err := plans.Seed(ctx, []config.PlanConfig{{Code: "bad", Tier: "x", DurationDays: 30, Price: "abc", Currency: "XOF"}}); err == nil {
		t.Errorf("expected error for invalid price")
	}
}
