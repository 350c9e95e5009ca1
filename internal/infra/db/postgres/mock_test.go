//go:build !integration

package postgres

import (
	"context"
	"time"

	"membership-payments/internal/domain/model"
	"membership-payments/internal/domain/ports/repository"
	red "membership-payments/internal/infra/redis"
)

// --- Mocks for Cache Decorator Tests ---

// mockInnerPlanRepo mocks the database repository that the Plan decorator wraps.
type mockInnerPlanRepo struct {
	UpsertFunc     func(ctx context.Context, tx repository.Tx, plan *model.MembershipPlan) error
	FindByCodeFunc func(ctx context.Context, tx repository.Tx, code string) (*model.MembershipPlan, error)
	ListAllFunc    func(ctx context.Context, tx repository.Tx) ([]*model.MembershipPlan, error)
}

func (m *mockInnerPlanRepo) Upsert(ctx context.Context, tx repository.Tx, plan *model.MembershipPlan) error {
	return m.UpsertFunc(ctx, tx, plan)
}
func (m *mockInnerPlanRepo) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.MembershipPlan, error) {
	return m.FindByCodeFunc(ctx, tx, code)
}
func (m *mockInnerPlanRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.MembershipPlan, error) {
	return m.ListAllFunc(ctx, tx)
}

// mockRedisClient mocks our Redis client wrapper.
type mockRedisClient struct {
	GetFunc  func(ctx context.Context, key string) (string, error)
	SetFunc  func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc  func(ctx context.Context, keys ...string) error
	PingFunc func(ctx context.Context) error
}

var _ red.RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	if m.GetFunc == nil {
		return "", red.Nil
	}
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if m.SetFunc == nil {
		return nil
	}
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	if m.DelFunc == nil {
		return nil
	}
	return m.DelFunc(ctx, keys...)
}
func (m *mockRedisClient) Ping(ctx context.Context) error { return nil }
func (m *mockRedisClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return true, nil
}
func (m *mockRedisClient) Incr(ctx context.Context, key string) (int64, error) { return 1, nil }
func (m *mockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return nil
}
func (m *mockRedisClient) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	return true, nil
}
func (m *mockRedisClient) Close() error { return nil }
