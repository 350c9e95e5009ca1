//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"membership-payments/internal/domain"
	"membership-payments/internal/domain/model"
	"membership-payments/internal/domain/ports/adapter"
	"membership-payments/internal/usecase"
)

func TestReconciler_HandleWebhook_SuccessIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	a := e.pendingAttempt(t, model.KindMembership, 10000, membershipMeta())
	e.callbackReporting(*a.ExternalReference, model.OutcomeSuccess, "10000", "REF123")

	res, err := e.reconciler.HandleWebhook(ctx, e.gateway.Name(), adapter.RawCallback{Body: []byte("{}")})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !res.Applied || res.Attempt.Status != model.AttemptStatusCompleted {
		t.Fatalf("expected applied completion, got %+v", res)
	}
	if res.Activation == nil || !res.Activation.Created || res.Activation.SubscriptionID == "" {
		t.Fatalf("expected a created activation, got %+v", res.Activation)
	}
	if got := res.Activation.Payment.PaymentReference; got != "mobile_money_b:REF123" {
		t.Errorf("expected payment reference from settled reference, got %q", got)
	}

	// Replay of the same callback.
	res, err = e.reconciler.HandleWebhook(ctx, e.gateway.Name(), adapter.RawCallback{Body: []byte("{}")})
	if err != nil {
		t.Fatalf("replay must not fail, got %v", err)
	}
	if res.Applied || res.Activation == nil || res.Activation.Created {
		t.Fatalf("replay must not apply or create anything, got %+v", res)
	}
	if n := e.store.Payments().Count(); n != 1 {
		t.Fatalf("expected exactly one payment, got %d", n)
	}
	if n, _ := e.store.Subscriptions().CountActive(ctx, nil, "user-1", model.AudienceAdult); n != 1 {
		t.Fatalf("expected exactly one active subscription, got %d", n)
	}
	if tier, _ := e.store.Members().GetMembershipTier(ctx, nil, "user-1"); tier != "premium" {
		t.Errorf("expected premium tier, got %q", tier)
	}
	if n := e.notifier.CountSeverity(adapter.SeverityInfo); n != 1 {
		t.Errorf("expected one user notification, got %d", n)
	}
}

func TestReconciler_HandleWebhook_ConcurrentDeliveries(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	a := e.pendingAttempt(t, model.KindMembership, 10000, membershipMeta())
	e.callbackReporting(*a.ExternalReference, model.OutcomeSuccess, "10000", "REF9")

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied, created := 0, 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.reconciler.HandleWebhook(ctx, e.gateway.Name(), adapter.RawCallback{})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res.Applied {
				applied++
			}
			if res.Activation != nil && res.Activation.Created {
				created++
			}
		}()
	}
	wg.Wait()

	if applied != 1 || created != 1 {
		t.Fatalf("expected one transition and one activation, got applied=%d created=%d", applied, created)
	}
	if n := e.store.Payments().Count(); n != 1 {
		t.Fatalf("expected one payment, got %d", n)
	}
	if n, _ := e.store.Subscriptions().CountActive(ctx, nil, "user-1", model.AudienceAdult); n != 1 {
		t.Fatalf("expected one active subscription, got %d", n)
	}
}

func TestReconciler_HandleWebhook_AmountMismatch(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		amount   string
		currency string
	}{
		{"underpaid", "9000", "XOF"},
		{"other currency", "10000", "USD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t)
			a := e.pendingAttempt(t, model.KindMembership, 10000, membershipMeta())
			e.gateway.ParseWebhookFunc = func(ctx context.Context, raw adapter.RawCallback) (adapter.NormalizedCallback, error) {
				return adapter.NormalizedCallback{
					ExternalReference: *a.ExternalReference,
					Outcome:           model.OutcomeSuccess,
					Amount:            decimal.RequireFromString(tt.amount),
					Currency:          tt.currency,
				}, nil
			}

			res, err := e.reconciler.HandleWebhook(ctx, e.gateway.Name(), adapter.RawCallback{})
			if !errors.Is(err, domain.ErrAmountMismatch) {
				t.Fatalf("expected ErrAmountMismatch, got %v", err)
			}
			if res.Attempt.Status != model.AttemptStatusFailed || res.Attempt.FailureReason != model.FailureAmountMismatch {
				t.Fatalf("expected failed/amount_mismatch, got %s/%s", res.Attempt.Status, res.Attempt.FailureReason)
			}
			if n := e.store.Payments().Count(); n != 0 {
				t.Fatalf("no payment may be recorded, got %d", n)
			}
			if n := e.notifier.CountSeverity(adapter.SeverityCritical); n != 1 {
				t.Errorf("expected one critical alert, got %d", n)
			}
		})
	}
}

func TestReconciler_HandleWebhook_ConflictingOutcomeKeepsFirst(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	a := e.pendingAttempt(t, model.KindMembership, 10000, membershipMeta())

	e.callbackReporting(*a.ExternalReference, model.OutcomeSuccess, "10000", "R1")
	if _, err := e.reconciler.HandleWebhook(ctx, e.gateway.Name(), adapter.RawCallback{}); err != nil {
		t.Fatalf("first callback failed: %v", err)
	}

	e.callbackReporting(*a.ExternalReference, model.OutcomeFailure, "10000", "")
	res, err := e.reconciler.HandleWebhook(ctx, e.gateway.Name(), adapter.RawCallback{})
	if err != nil {
		t.Fatalf("conflicting callback must be acknowledged, got %v", err)
	}
	if res.Applied || res.Attempt.Status != model.AttemptStatusCompleted {
		t.Fatalf("expected the recorded outcome to stand, got applied=%v status=%s", res.Applied, res.Attempt.Status)
	}
	if n := e.store.Payments().Count(); n != 1 {
		t.Errorf("expected one payment, got %d", n)
	}
}

func TestReconciler_HandleWebhook_FailureGrantsNothing(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	a := e.pendingAttempt(t, model.KindMembership, 10000, membershipMeta())
	e.callbackReporting(*a.ExternalReference, model.OutcomeFailure, "10000", "")

	res, err := e.reconciler.HandleWebhook(ctx, e.gateway.Name(), adapter.RawCallback{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Attempt.Status != model.AttemptStatusFailed || res.Activation != nil {
		t.Fatalf("expected failed attempt without activation, got %+v", res)
	}
	if tier, _ := e.store.Members().GetMembershipTier(ctx, nil, "user-1"); tier != model.TierFree {
		t.Errorf("tier must stay free, got %q", tier)
	}
}

func TestReconciler_HandleWebhook_UnauthenticatedPayloadIsVerified(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	a := e.pendingAttempt(t, model.KindMembership, 10000, membershipMeta())

	e.gateway.ParseWebhookFunc = func(ctx context.Context, raw adapter.RawCallback) (adapter.NormalizedCallback, error) {
		// The payload claims success; only the status query is trusted.
		return adapter.NormalizedCallback{
			ExternalReference: *a.ExternalReference,
			Outcome:           model.OutcomeSuccess,
			NeedsVerification: true,
		}, nil
	}
	e.gateway.VerifyStatusFunc = func(ctx context.Context, ref string) (adapter.StatusResult, error) {
		return adapter.StatusResult{Outcome: model.OutcomePending}, nil
	}

	res, err := e.reconciler.HandleWebhook(ctx, e.gateway.Name(), adapter.RawCallback{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.gateway.VerifyCalls() != 1 {
		t.Fatalf("expected one status query, got %d", e.gateway.VerifyCalls())
	}
	if res.Attempt.Status != model.AttemptStatusPending {
		t.Fatalf("unverified success must not complete the attempt, got %s", res.Attempt.Status)
	}

	e.gateway.VerifyStatusFunc = func(ctx context.Context, ref string) (adapter.StatusResult, error) {
		return adapter.StatusResult{Outcome: model.OutcomeSuccess, Amount: decimal.NewFromInt(10000), Currency: "XOF", SettledReference: "S1"}, nil
	}
	res, err = e.reconciler.HandleWebhook(ctx, e.gateway.Name(), adapter.RawCallback{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Applied || res.Attempt.Status != model.AttemptStatusCompleted {
		t.Fatalf("expected completion after verification, got %+v", res.Attempt)
	}

	t.Run("verification error changes nothing", func(t *testing.T) {
		e := newEngine(t)
		a := e.pendingAttempt(t, model.KindMembership, 10000, membershipMeta())
		e.gateway.ParseWebhookFunc = func(ctx context.Context, raw adapter.RawCallback) (adapter.NormalizedCallback, error) {
			return adapter.NormalizedCallback{ExternalReference: *a.ExternalReference, NeedsVerification: true}, nil
		}
		e.gateway.VerifyStatusFunc = func(ctx context.Context, ref string) (adapter.StatusResult, error) {
			return adapter.StatusResult{}, domain.NewGatewayError(string(e.gateway.Name()), domain.ErrGatewayUnavailable, "timeout", "no response", nil)
		}
		if _, err := e.reconciler.HandleWebhook(ctx, e.gateway.Name(), adapter.RawCallback{}); !errors.Is(err, domain.ErrGatewayUnavailable) {
			t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
		}
		got, _ := e.ledger.Get(ctx, a.ID)
		if got.Status != model.AttemptStatusPending {
			t.Errorf("attempt must stay pending, got %s", got.Status)
		}
	})
}

func TestReconciler_HandleWebhook_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid callback", func(t *testing.T) {
		e := newEngine(t)
		e.gateway.ParseWebhookFunc = func(ctx context.Context, raw adapter.RawCallback) (adapter.NormalizedCallback, error) {
			return adapter.NormalizedCallback{}, domain.ErrInvalidCallback
		}
		if _, err := e.reconciler.HandleWebhook(ctx, e.gateway.Name(), adapter.RawCallback{}); !errors.Is(err, domain.ErrInvalidCallback) {
			t.Fatalf("expected ErrInvalidCallback, got %v", err)
		}
	})

	t.Run("unknown attempt", func(t *testing.T) {
		e := newEngine(t)
		e.callbackReporting("does-not-exist", model.OutcomeSuccess, "1", "")
		if _, err := e.reconciler.HandleWebhook(ctx, e.gateway.Name(), adapter.RawCallback{}); !errors.Is(err, domain.ErrAttemptNotFound) {
			t.Fatalf("expected ErrAttemptNotFound, got %v", err)
		}
	})

	t.Run("unknown gateway", func(t *testing.T) {
		e := newEngine(t)
		if _, err := e.reconciler.HandleWebhook(ctx, model.GatewayCardAggregator, adapter.RawCallback{}); !errors.Is(err, domain.ErrUnknownGateway) {
			t.Fatalf("expected ErrUnknownGateway, got %v", err)
		}
	})
}

func TestReconciler_CheckStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("polls the gateway for a pending attempt", func(t *testing.T) {
		e := newEngine(t)
		a := e.pendingAttempt(t, model.KindMembership, 10000, membershipMeta())
		e.gateway.VerifyStatusFunc = func(ctx context.Context, ref string) (adapter.StatusResult, error) {
			if ref != *a.ExternalReference {
				t.Errorf("polled with %q", ref)
			}
			return adapter.StatusResult{Outcome: model.OutcomeSuccess, Amount: decimal.NewFromInt(10000), Currency: "XOF"}, nil
		}
		res, err := e.reconciler.CheckStatus(ctx, a.ID)
		if err != nil || !res.Applied || res.Activation == nil {
			t.Fatalf("expected applied completion with activation, got %+v (%v)", res, err)
		}
	})

	t.Run("terminal attempts are not polled", func(t *testing.T) {
		e := newEngine(t)
		a := e.pendingAttempt(t, model.KindMembership, 10000, membershipMeta())
		if _, err := e.ledger.Cancel(ctx, a.ID); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		res, err := e.reconciler.CheckStatus(ctx, a.ID)
		if err != nil || res.Attempt.Status != model.AttemptStatusFailed {
			t.Fatalf("unexpected result %+v (%v)", res, err)
		}
		if e.gateway.VerifyCalls() != 0 {
			t.Errorf("terminal attempt must not be polled")
		}
	})

	t.Run("unknown attempt", func(t *testing.T) {
		e := newEngine(t)
		if _, err := e.reconciler.CheckStatus(ctx, "nope"); !errors.Is(err, domain.ErrAttemptNotFound) {
			t.Fatalf("expected ErrAttemptNotFound, got %v", err)
		}
	})
}

func TestReconciler_ReconcilePending(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	old := e.pendingAttempt(t, model.KindMembership, 10000, membershipMeta())
	recent := e.pendingAttempt(t, model.KindMembership, 10000, membershipMeta())
	e.store.Attempts().Backdate(old.ID, time.Hour)

	e.gateway.VerifyStatusFunc = func(ctx context.Context, ref string) (adapter.StatusResult, error) {
		return adapter.StatusResult{Outcome: model.OutcomeFailure}, nil
	}
	n, err := e.reconciler.ReconcilePending(ctx, 10*time.Minute, 50)
	if err != nil || n != 1 {
		t.Fatalf("expected one settled attempt, got %d (%v)", n, err)
	}
	got, _ := e.ledger.Get(ctx, old.ID)
	if got.Status != model.AttemptStatusFailed {
		t.Errorf("old attempt should be failed, got %s", got.Status)
	}
	got, _ = e.ledger.Get(ctx, recent.ID)
	if got.Status != model.AttemptStatusPending {
		t.Errorf("recent attempt should stay pending, got %s", got.Status)
	}
}

func TestReconciler_ResumeActivationHealsFailedActivation(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	a := e.pendingAttempt(t, model.KindMembership, 10000, membershipMeta())
	e.callbackReporting(*a.ExternalReference, model.OutcomeSuccess, "10000", "REF7")

	e.store.FailNext("Payments.InsertIfAbsent", 1, errors.New("connection reset"))
	res, err := e.reconciler.HandleWebhook(ctx, e.gateway.Name(), adapter.RawCallback{})
	if err == nil {
		t.Fatalf("expected activation error")
	}
	if res == nil || res.Attempt.Status != model.AttemptStatusCompleted {
		t.Fatalf("attempt must stay completed after activation failure, got %+v", res)
	}
	if n := e.store.Payments().Count(); n != 0 {
		t.Fatalf("failed activation must leave no payment, got %d", n)
	}
	if n := e.notifier.CountSeverity(adapter.SeverityCritical); n != 1 {
		t.Errorf("expected a critical alert, got %d", n)
	}

	e.store.Attempts().Backdate(a.ID, time.Hour)
	n, err := e.reconciler.ResumeActivation(ctx, time.Minute, 50)
	if err != nil || n != 1 {
		t.Fatalf("expected one resumed activation, got %d (%v)", n, err)
	}
	if n := e.store.Payments().Count(); n != 1 {
		t.Fatalf("expected one payment after healing, got %d", n)
	}
	if tier, _ := e.store.Members().GetMembershipTier(ctx, nil, "user-1"); tier != "premium" {
		t.Errorf("expected premium tier after healing, got %q", tier)
	}

	n, err = e.reconciler.ResumeActivation(ctx, time.Minute, 50)
	if err != nil || n != 0 {
		t.Fatalf("nothing left to resume, got %d (%v)", n, err)
	}
}

func TestReconciler_SuccessWithoutAmountFails(t *testing.T) {
	ctx := context.Background()

	t.Run("webhook", func(t *testing.T) {
		e := newEngine(t)
		a := e.pendingAttempt(t, model.KindMembership, 10000, membershipMeta())
		e.gateway.ParseWebhookFunc = func(ctx context.Context, raw adapter.RawCallback) (adapter.NormalizedCallback, error) {
			return adapter.NormalizedCallback{
				ExternalReference: *a.ExternalReference,
				Outcome:           model.OutcomeSuccess,
				SettledReference:  "S1",
			}, nil
		}
		res, err := e.reconciler.HandleWebhook(ctx, e.gateway.Name(), adapter.RawCallback{})
		if !errors.Is(err, domain.ErrAmountMismatch) {
			t.Fatalf("expected ErrAmountMismatch, got %v", err)
		}
		if res.Attempt.Status != model.AttemptStatusFailed || res.Attempt.FailureReason != model.FailureAmountMismatch {
			t.Fatalf("expected failed/amount_mismatch, got %s/%s", res.Attempt.Status, res.Attempt.FailureReason)
		}
		if n := e.store.Payments().Count(); n != 0 {
			t.Fatalf("no payment may be recorded, got %d", n)
		}
		if n := e.notifier.CountSeverity(adapter.SeverityCritical); n != 1 {
			t.Errorf("expected one critical alert, got %d", n)
		}
	})

	t.Run("status poll", func(t *testing.T) {
		e := newEngine(t)
		a := e.pendingAttempt(t, model.KindMembership, 10000, membershipMeta())
		e.gateway.VerifyStatusFunc = func(ctx context.Context, ref string) (adapter.StatusResult, error) {
			return adapter.StatusResult{Outcome: model.OutcomeSuccess, SettledReference: "S2"}, nil
		}
		res, err := e.reconciler.CheckStatus(ctx, a.ID)
		if !errors.Is(err, domain.ErrAmountMismatch) {
			t.Fatalf("expected ErrAmountMismatch, got %v", err)
		}
		if res.Attempt.Status != model.AttemptStatusFailed || res.Activation != nil {
			t.Fatalf("expected failed attempt without activation, got %+v", res)
		}
		if tier, _ := e.store.Members().GetMembershipTier(ctx, nil, "user-1"); tier != model.TierFree {
			t.Errorf("tier must stay free, got %q", tier)
		}
	})
}

func TestReconciler_CheckStatus_CompletedAttemptReadsRecordedActivation(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	a := e.pendingAttempt(t, model.KindMembership, 10000, membershipMeta())
	e.callbackReporting(*a.ExternalReference, model.OutcomeSuccess, "10000", "REF11")
	first, err := e.reconciler.HandleWebhook(ctx, e.gateway.Name(), adapter.RawCallback{})
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}

	// Any write on the payments table would now fail.
	e.store.FailNext("Payments.InsertIfAbsent", 1, errors.New("read only"))
	for i := 0; i < 3; i++ {
		res, err := e.reconciler.CheckStatus(ctx, a.ID)
		if err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
		if res.Applied || res.Activation == nil || res.Activation.Created {
			t.Fatalf("poll %d: expected the recorded activation, got %+v", i, res)
		}
		if res.Activation.SubscriptionID != first.Activation.SubscriptionID {
			t.Fatalf("poll %d: expected subscription %s, got %s", i, first.Activation.SubscriptionID, res.Activation.SubscriptionID)
		}
	}
	if e.gateway.VerifyCalls() != 0 {
		t.Errorf("completed attempt must not be polled")
	}
	if n := e.notifier.CountSeverity(adapter.SeverityCritical); n != 0 {
		t.Errorf("expected no alerts, got %d", n)
	}
}

func TestReconciler_CheckStatusRacesWebhook(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		polled  model.Outcome
		webhook model.Outcome
	}{
		{"poll success, webhook failure", model.OutcomeSuccess, model.OutcomeFailure},
		{"poll failure, webhook success", model.OutcomeFailure, model.OutcomeSuccess},
		{"both success", model.OutcomeSuccess, model.OutcomeSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for round := 0; round < 20; round++ {
				e := newEngine(t)
				a := e.pendingAttempt(t, model.KindMembership, 10000, membershipMeta())
				e.callbackReporting(*a.ExternalReference, tt.webhook, "10000", "W1")
				e.gateway.VerifyStatusFunc = func(ctx context.Context, ref string) (adapter.StatusResult, error) {
					return adapter.StatusResult{Outcome: tt.polled, Amount: decimal.NewFromInt(10000), Currency: "XOF", SettledReference: "W1"}, nil
				}

				var wg sync.WaitGroup
				results := make([]*usecase.SettleResult, 2)
				errs := make([]error, 2)
				wg.Add(2)
				go func() {
					defer wg.Done()
					results[0], errs[0] = e.reconciler.CheckStatus(ctx, a.ID)
				}()
				go func() {
					defer wg.Done()
					results[1], errs[1] = e.reconciler.HandleWebhook(ctx, e.gateway.Name(), adapter.RawCallback{})
				}()
				wg.Wait()

				for i, err := range errs {
					if err != nil {
						t.Fatalf("round %d: call %d failed: %v", round, i, err)
					}
				}
				final, _ := e.ledger.Get(ctx, a.ID)
				if !final.IsTerminal() {
					t.Fatalf("round %d: attempt must be terminal, got %s", round, final.Status)
				}
				applied := 0
				for i, res := range results {
					if res.Applied {
						applied++
					}
					if res.Attempt.Status != final.Status {
						t.Fatalf("round %d: call %d saw %s, recorded %s", round, i, res.Attempt.Status, final.Status)
					}
				}
				if applied != 1 {
					t.Fatalf("round %d: expected exactly one transition, got %d", round, applied)
				}

				wantPayments := 0
				if final.Status == model.AttemptStatusCompleted {
					wantPayments = 1
				}
				if n := e.store.Payments().Count(); n != wantPayments {
					t.Fatalf("round %d: expected %d payments for %s, got %d", round, wantPayments, final.Status, n)
				}
				if n, _ := e.store.Subscriptions().CountActive(ctx, nil, "user-1", model.AudienceAdult); n != wantPayments {
					t.Fatalf("round %d: expected %d active subscriptions, got %d", round, wantPayments, n)
				}
			}
		})
	}
}
