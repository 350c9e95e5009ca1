//go:build !integration

package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"membership-payments/internal/domain/model"
	"membership-payments/internal/domain/ports/repository"
	red "membership-payments/internal/infra/redis"

	"github.com/shopspring/decimal"
)

func TestPlanRepoCacheDecorator(t *testing.T) {
	ctx := context.Background()
	plan, _ := model.NewMembershipPlan("premium", "premium", 30, decimal.NewFromInt(10000), "XOF", false)
	planJSON, _ := json.Marshal(plan)

	t.Run("FindByCode should return from cache on hit", func(t *testing.T) {
		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) {
				return string(planJSON), nil
			},
		}
		innerRepoCalled := false
		mockInnerRepo := &mockInnerPlanRepo{
			FindByCodeFunc: func(ctx context.Context, tx repository.Tx, code string) (*model.MembershipPlan, error) {
				innerRepoCalled = true
				return nil, nil
			},
		}

		decorator := NewPlanRepoCacheDecorator(mockInnerRepo, mockRedis, time.Hour)
		result, err := decorator.FindByCode(ctx, nil, "premium")

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if innerRepoCalled {
			t.Error("inner repository should not be called on a cache hit")
		}
		if result == nil || result.Code != "premium" || !result.Price.Equal(decimal.NewFromInt(10000)) {
			t.Errorf("did not return the correct plan from cache: %+v", result)
		}
	})

	t.Run("FindByCode should fill the cache on miss", func(t *testing.T) {
		var setKey string
		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) { return "", red.Nil },
			SetFunc: func(ctx context.Context, key string, value interface{}, exp time.Duration) error {
				setKey = key
				return nil
			},
		}
		mockInnerRepo := &mockInnerPlanRepo{
			FindByCodeFunc: func(ctx context.Context, tx repository.Tx, code string) (*model.MembershipPlan, error) {
				return plan, nil
			},
		}

		decorator := NewPlanRepoCacheDecorator(mockInnerRepo, mockRedis, time.Hour)
		if _, err := decorator.FindByCode(ctx, nil, "premium"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if setKey != "plan:premium" {
			t.Errorf("expected cache fill for plan:premium, got %q", setKey)
		}
	})

	t.Run("FindByCode inside a transaction should bypass the cache", func(t *testing.T) {
		mockRedis := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) {
				t.Error("cache must not be read inside a transaction")
				return "", red.Nil
			},
		}
		mockInnerRepo := &mockInnerPlanRepo{
			FindByCodeFunc: func(ctx context.Context, tx repository.Tx, code string) (*model.MembershipPlan, error) {
				return plan, nil
			},
		}
		decorator := NewPlanRepoCacheDecorator(mockInnerRepo, mockRedis, time.Hour)
		if _, err := decorator.FindByCode(ctx, struct{}{}, "premium"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})

	t.Run("Upsert should invalidate the cache", func(t *testing.T) {
		var deletedKeys []string
		mockRedis := &mockRedisClient{
			DelFunc: func(ctx context.Context, keys ...string) error {
				deletedKeys = append(deletedKeys, keys...)
				return nil
			},
		}
		mockInnerRepo := &mockInnerPlanRepo{
			UpsertFunc: func(ctx context.Context, tx repository.Tx, plan *model.MembershipPlan) error {
				return nil
			},
		}

		decorator := NewPlanRepoCacheDecorator(mockInnerRepo, mockRedis, time.Hour)
		if err := decorator.Upsert(ctx, nil, plan); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(deletedKeys) != 2 {
			t.Fatalf("expected 2 keys to be deleted, but got %d", len(deletedKeys))
		}
	})
}
