//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"membership-payments/internal/domain"
	"membership-payments/internal/domain/model"
	"membership-payments/internal/usecase"
)

func TestTokenUseCase_Consume(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	tokens := usecase.NewTokenUseCase(e.store.Tokens(), e.store, newTestLogger())

	a := e.complete(t, e.pendingAttempt(t, model.KindTokenPurchase, 2500,
		map[string]string{model.MetaTokens: "3", model.MetaServiceCategory: "ambulance"}), "T")
	if _, err := e.activator.Activate(ctx, a); err != nil {
		t.Fatalf("activation: %v", err)
	}

	t.Run("should debit and return the new balance", func(t *testing.T) {
		bal, err := tokens.Consume(ctx, "user-1", "ambulance", 1, "dispatch")
		if err != nil || bal != 2 {
			t.Fatalf("expected balance 2, got %d (%v)", bal, err)
		}
	})

	t.Run("should never overdraw", func(t *testing.T) {
		if _, err := tokens.Consume(ctx, "user-1", "ambulance", 5, "too much"); !errors.Is(err, domain.ErrInsufficientTokens) {
			t.Fatalf("expected ErrInsufficientTokens, got %v", err)
		}
		bal, _ := tokens.Balance(ctx, "user-1", "ambulance")
		if bal != 2 {
			t.Fatalf("failed consume must not change the balance, got %d", bal)
		}
	})

	t.Run("concurrent consumers cannot spend more than the balance", func(t *testing.T) {
		var wg sync.WaitGroup
		var mu sync.Mutex
		ok := 0
		for i := 0; i < 6; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := tokens.Consume(ctx, "user-1", "ambulance", 1, "dispatch"); err == nil {
					mu.Lock()
					ok++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if ok != 2 {
			t.Fatalf("expected exactly two successful debits, got %d", ok)
		}
		ts, _ := e.store.Tokens().GetOrCreateSubscription(ctx, nil, "user-1", "ambulance")
		txs, _ := e.store.Tokens().ListTransactions(ctx, nil, ts.ID)
		if ts.TokenBalance != 0 || model.FoldBalance(txs) != 0 {
			t.Fatalf("expected zero balance matching the ledger, got %d / %d", ts.TokenBalance, model.FoldBalance(txs))
		}
	})

	t.Run("should reject non-positive amounts", func(t *testing.T) {
		if _, err := tokens.Consume(ctx, "user-1", "ambulance", 0, ""); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})
}
