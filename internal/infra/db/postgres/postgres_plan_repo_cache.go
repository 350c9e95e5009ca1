package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"membership-payments/internal/domain/model"
	"membership-payments/internal/domain/ports/repository"
	"membership-payments/internal/infra/logging"
	"membership-payments/internal/infra/metrics"
	red "membership-payments/internal/infra/redis"
)

var _ repository.PlanRepository = (*planRepoCacheDecorator)(nil)

const plansAllKey = "plans:all"

type planRepoCacheDecorator struct {
	inner repository.PlanRepository
	cache red.RedisClient
	ttl   time.Duration
}

func NewPlanRepoCacheDecorator(inner repository.PlanRepository, cache red.RedisClient, ttl time.Duration) repository.PlanRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &planRepoCacheDecorator{
		inner: inner,
		cache: cache,
		ttl:   ttl,
	}
}

func planKey(code string) string { return fmt.Sprintf("plan:%s", code) }

// Reads inside a transaction bypass the cache.
func (d *planRepoCacheDecorator) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.MembershipPlan, error) {
	if tx != nil {
		return d.inner.FindByCode(ctx, tx, code)
	}
	key := planKey(code)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var plan model.MembershipPlan
		if json.Unmarshal([]byte(val), &plan) == nil {
			metrics.IncCacheRequest("plan", "hit")
			return &plan, nil
		}
	} else if err != red.Nil {
		metrics.IncCacheRequest("plan", "error")
		logging.With(ctx, &logging.Global).Warn().Err(err).Str("key", key).Msg("plan cache read failed")
	}

	metrics.IncCacheRequest("plan", "miss")
	plan, err := d.inner.FindByCode(ctx, tx, code)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(plan); err == nil {
		_ = d.cache.Set(ctx, key, b, d.ttl)
	}
	return plan, nil
}

// Upsert invalidates the plan and the list entry.
func (d *planRepoCacheDecorator) Upsert(ctx context.Context, tx repository.Tx, plan *model.MembershipPlan) error {
	if err := d.inner.Upsert(ctx, tx, plan); err != nil {
		return err
	}
	return d.cache.Del(ctx, planKey(plan.Code), plansAllKey)
}

func (d *planRepoCacheDecorator) ListAll(ctx context.Context, tx repository.Tx) ([]*model.MembershipPlan, error) {
	if tx != nil {
		return d.inner.ListAll(ctx, tx)
	}
	val, err := d.cache.Get(ctx, plansAllKey)
	if err == nil {
		var plans []*model.MembershipPlan
		if json.Unmarshal([]byte(val), &plans) == nil {
			metrics.IncCacheRequest("plan_list", "hit")
			return plans, nil
		}
	} else if err != red.Nil {
		metrics.IncCacheRequest("plan_list", "error")
	}

	metrics.IncCacheRequest("plan_list", "miss")
	plans, err := d.inner.ListAll(ctx, tx)
	if err != nil {
		return nil, err
	}
	if len(plans) > 0 {
		if b, err := json.Marshal(plans); err == nil {
			_ = d.cache.Set(ctx, plansAllKey, b, d.ttl)
		}
	}
	return plans, nil
}
