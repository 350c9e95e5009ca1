//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"

	"membership-payments/internal/domain"
	"membership-payments/internal/domain/model"
	"membership-payments/internal/domain/ports/repository"

	"github.com/jackc/pgx/v4"
	"github.com/shopspring/decimal"
)

func TestTokenRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	repo := NewTokenRepo(testPool)
	tm := NewTxManager(testPool)

	t.Run("balance should equal the fold of transactions", func(t *testing.T) {
		cleanup(t)
		sub, err := repo.GetOrCreateSubscription(ctx, nil, "u1", "medical")
		if err != nil {
			t.Fatalf("get or create failed: %v", err)
		}
		again, _ := repo.GetOrCreateSubscription(ctx, nil, "u1", "medical")
		if again.ID != sub.ID {
			t.Fatal("expected the same subscription on second call")
		}

		pid := "pay-1"
		ok, err := repo.AppendTransaction(ctx, nil, &model.TokenTransaction{TokenSubscriptionID: sub.ID, Type: model.TokenTxPurchase, Amount: 10, PaymentID: &pid})
		if err != nil || !ok {
			t.Fatalf("append failed: ok=%v err=%v", ok, err)
		}
		ok, err = repo.AppendTransaction(ctx, nil, &model.TokenTransaction{TokenSubscriptionID: sub.ID, Type: model.TokenTxPurchase, Amount: 10, PaymentID: &pid})
		if err != nil || ok {
			t.Fatalf("duplicate purchase must be a no-op: ok=%v err=%v", ok, err)
		}
		if _, err := repo.AppendTransaction(ctx, nil, &model.TokenTransaction{TokenSubscriptionID: sub.ID, Type: model.TokenTxUsage, Amount: -3}); err != nil {
			t.Fatalf("usage append failed: %v", err)
		}

		balance, err := repo.RefoldBalance(ctx, nil, sub.ID)
		if err != nil {
			t.Fatalf("refold failed: %v", err)
		}
		txs, _ := repo.ListTransactions(ctx, nil, sub.ID)
		if balance != 7 || model.FoldBalance(txs) != balance {
			t.Fatalf("expected balance 7 matching the ledger, got %d (fold %d)", balance, model.FoldBalance(txs))
		}
	})

	t.Run("overdraw should be refused and rolled back", func(t *testing.T) {
		cleanup(t)
		sub, _ := repo.GetOrCreateSubscription(ctx, nil, "u2", "legal")
		err := tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			if _, err := repo.AppendTransaction(ctx, tx, &model.TokenTransaction{TokenSubscriptionID: sub.ID, Type: model.TokenTxUsage, Amount: -1}); err != nil {
				return err
			}
			_, err := repo.RefoldBalance(ctx, tx, sub.ID)
			return err
		})
		if !errors.Is(err, domain.ErrInsufficientTokens) {
			t.Fatalf("expected ErrInsufficientTokens, got %v", err)
		}
		if txs, _ := repo.ListTransactions(ctx, nil, sub.ID); len(txs) != 0 {
			t.Fatalf("expected no transaction to survive, got %d", len(txs))
		}
	})
}

func TestReferralAndListingRepos_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	refs := NewReferralRepo(testPool)
	comms := NewCommissionRepo(testPool)
	fees := NewListingFeeRepo(testPool)

	t.Run("commission should be recorded once per payment", func(t *testing.T) {
		cleanup(t)
		if _, err := testPool.Exec(ctx, `INSERT INTO referral_codes (code, user_id) VALUES ('ABC', 'referrer')`); err != nil {
			t.Fatalf("seed code: %v", err)
		}
		referrer, err := refs.FindReferrer(ctx, nil, "ABC")
		if err != nil || referrer != "referrer" {
			t.Fatalf("expected referrer, got %q (%v)", referrer, err)
		}
		ref, err := refs.Attach(ctx, nil, referrer, "buyer", "ABC")
		if err != nil {
			t.Fatalf("attach failed: %v", err)
		}
		if again, _ := refs.Attach(ctx, nil, "someone-else", "buyer", "XYZ"); again.ReferrerID != "referrer" {
			t.Error("first referral must be kept")
		}

		c := &model.Commission{
			ReferralID: ref.ID, ReferrerID: ref.ReferrerID, ReferredUserID: "buyer", PaymentID: "pay-1",
			PaymentAmount: decimal.NewFromInt(10000), CommissionRate: decimal.RequireFromString("0.10"),
			CommissionAmount: decimal.NewFromInt(1000), Currency: "XOF", Status: model.CommissionStatusPending,
		}
		if ok, err := comms.InsertIfAbsent(ctx, nil, c); err != nil || !ok {
			t.Fatalf("first commission insert: ok=%v err=%v", ok, err)
		}
		c.ID = ""
		if ok, err := comms.InsertIfAbsent(ctx, nil, c); err != nil || ok {
			t.Fatalf("duplicate commission must be a no-op: ok=%v err=%v", ok, err)
		}
		list, _ := comms.ListByPayment(ctx, nil, "pay-1")
		if len(list) != 1 {
			t.Fatalf("expected one commission, got %d", len(list))
		}
	})

	t.Run("listing fee should be confirmed once", func(t *testing.T) {
		cleanup(t)
		conf := &model.ListingFeeConfirmation{ListingID: "l1", PaymentID: "pay-1", UserID: "u1"}
		if ok, err := fees.Confirm(ctx, nil, conf); err != nil || !ok {
			t.Fatalf("confirm failed: ok=%v err=%v", ok, err)
		}
		if ok, _ := fees.Confirm(ctx, nil, conf); ok {
			t.Fatal("second confirm must be a no-op")
		}
		if ok, _ := fees.IsConfirmed(ctx, nil, "l1"); !ok {
			t.Fatal("expected listing to be confirmed")
		}
	})
}
