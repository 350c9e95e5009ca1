//go:build integration

package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"membership-payments/internal/domain/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func newTestAttempt(t *testing.T, ctx context.Context, repo *attemptRepo) *model.PaymentAttempt {
	t.Helper()
	a, err := model.NewPaymentAttempt("", "user-1", decimal.NewFromInt(10000), "XOF", model.GatewayMobileMoneyA, model.KindMembership,
		map[string]string{model.MetaPlan: "premium"})
	if err != nil {
		t.Fatalf("failed to build attempt: %v", err)
	}
	if err := repo.Create(ctx, nil, a); err != nil {
		t.Fatalf("failed to create attempt: %v", err)
	}
	return a
}

func TestAttemptRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	repo := NewAttemptRepo(testPool)

	t.Run("should store the external reference once", func(t *testing.T) {
		cleanup(t)
		a := newTestAttempt(t, ctx, repo)

		wrote, err := repo.SetExternalReference(ctx, nil, a.ID, "tok-1")
		if err != nil || !wrote {
			t.Fatalf("expected first write to succeed, got wrote=%v err=%v", wrote, err)
		}
		wrote, err = repo.SetExternalReference(ctx, nil, a.ID, "tok-2")
		if err != nil || wrote {
			t.Fatalf("expected second write to be ignored, got wrote=%v err=%v", wrote, err)
		}
		found, err := repo.FindByExternalReference(ctx, nil, model.GatewayMobileMoneyA, "tok-1")
		if err != nil || found.ID != a.ID {
			t.Fatalf("lookup by external reference failed: %v", err)
		}
		if found.Meta(model.MetaPlan) != "premium" {
			t.Errorf("metadata was not round-tripped: %v", found.Metadata)
		}
	})

	t.Run("only one concurrent transition should win", func(t *testing.T) {
		cleanup(t)
		a := newTestAttempt(t, ctx, repo)

		const racers = 8
		var wg sync.WaitGroup
		wins := make(chan bool, racers)
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				to := model.AttemptStatusCompleted
				if i%2 == 1 {
					to = model.AttemptStatusFailed
				}
				ok, err := repo.TransitionIfPending(ctx, nil, a.ID, to, nil, model.FailureNone)
				if err != nil {
					t.Errorf("transition error: %v", err)
				}
				wins <- ok
			}(i)
		}
		wg.Wait()
		close(wins)

		n := 0
		for ok := range wins {
			if ok {
				n++
			}
		}
		if n != 1 {
			t.Fatalf("expected exactly one winner, got %d", n)
		}
	})

	t.Run("should list pending attempts older than a cutoff", func(t *testing.T) {
		cleanup(t)
		a := newTestAttempt(t, ctx, repo)
		list, err := repo.ListPendingOlderThan(ctx, nil, time.Now().Add(time.Minute), 10)
		if err != nil || len(list) != 1 || list[0].ID != a.ID {
			t.Fatalf("expected the pending attempt, got %v (%v)", list, err)
		}
		list, err = repo.ListPendingOlderThan(ctx, nil, time.Now().Add(-time.Hour), 10)
		if err != nil || len(list) != 0 {
			t.Fatalf("expected no attempt before cutoff, got %d (%v)", len(list), err)
		}
	})
}

func TestPaymentRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	attempts := NewAttemptRepo(testPool)
	repo := NewPaymentRepo(testPool)

	newPayment := func(a *model.PaymentAttempt, ref string) *model.Payment {
		return &model.Payment{
			ID:               uuid.NewString(),
			UserID:           a.UserID,
			PaymentAttemptID: a.ID,
			Amount:           a.Amount,
			Currency:         a.Currency,
			Status:           model.PaymentStatusCompleted,
			PaymentMethod:    string(a.Gateway),
			PaymentReference: ref,
			PaidAt:           time.Now().UTC(),
			Metadata:         map[string]string{},
			CreatedAt:        time.Now().UTC(),
		}
	}

	t.Run("InsertIfAbsent should be idempotent on the payment reference", func(t *testing.T) {
		cleanup(t)
		a := newTestAttempt(t, ctx, attempts)

		first, created, err := repo.InsertIfAbsent(ctx, nil, newPayment(a, "mobile_money_a:TX1"))
		if err != nil || !created {
			t.Fatalf("expected first insert to create, got created=%v err=%v", created, err)
		}
		second, created, err := repo.InsertIfAbsent(ctx, nil, newPayment(a, "mobile_money_a:TX1"))
		if err != nil || created {
			t.Fatalf("expected replay to be a no-op, got created=%v err=%v", created, err)
		}
		if second.ID != first.ID {
			t.Errorf("expected the winner's row back, got %s want %s", second.ID, first.ID)
		}
		if n, _ := repo.CountByAttemptID(ctx, nil, a.ID); n != 1 {
			t.Errorf("expected exactly one payment for the attempt, got %d", n)
		}
	})

	t.Run("InsertIfAbsent should keep one payment per attempt under another reference", func(t *testing.T) {
		cleanup(t)
		a := newTestAttempt(t, ctx, attempts)

		first, _, err := repo.InsertIfAbsent(ctx, nil, newPayment(a, "mobile_money_a:TX1"))
		if err != nil {
			t.Fatalf("insert failed: %v", err)
		}
		got, created, err := repo.InsertIfAbsent(ctx, nil, newPayment(a, "mobile_money_a:OTHER"))
		if err != nil || created || got.ID != first.ID {
			t.Fatalf("expected existing payment, got %+v created=%v err=%v", got, created, err)
		}
	})

	t.Run("concurrent inserts should produce one row", func(t *testing.T) {
		cleanup(t)
		a := newTestAttempt(t, ctx, attempts)

		var wg sync.WaitGroup
		var mu sync.Mutex
		createdCount := 0
		for i := 0; i < 6; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, created, err := repo.InsertIfAbsent(ctx, nil, newPayment(a, "mobile_money_a:TX9"))
				if err != nil {
					t.Errorf("insert failed: %v", err)
					return
				}
				if created {
					mu.Lock()
					createdCount++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if createdCount != 1 {
			t.Fatalf("expected one creator, got %d", createdCount)
		}
	})
}
