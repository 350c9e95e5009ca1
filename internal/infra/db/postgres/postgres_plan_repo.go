package postgres

import (
	"context"
	"fmt"

	"membership-payments/internal/domain"
	"membership-payments/internal/domain/model"
	"membership-payments/internal/domain/ports/repository"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Ensure interface compliance
var _ repository.PlanRepository = (*PostgresPlanRepo)(nil)

type PostgresPlanRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresPlanRepo(pool *pgxpool.Pool) *PostgresPlanRepo {
	return &PostgresPlanRepo{pool: pool}
}

func (r *PostgresPlanRepo) Upsert(ctx context.Context, tx repository.Tx, plan *model.MembershipPlan) error {
	const sql = `
INSERT INTO membership_plans (code, tier, duration_days, price, currency, recurring, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW())
ON CONFLICT (code) DO UPDATE
  SET tier          = EXCLUDED.tier,
      duration_days = EXCLUDED.duration_days,
      price         = EXCLUDED.price,
      currency      = EXCLUDED.currency,
      recurring     = EXCLUDED.recurring,
      updated_at    = NOW();
`
	_, err := execSQL(ctx, r.pool, tx, sql,
		plan.Code, plan.Tier, plan.DurationDays, plan.Price, plan.Currency, plan.Recurring,
	)
	if err != nil {
		return fmt.Errorf("upsert plan %s: %w", plan.Code, mapWriteErr(err))
	}
	return nil
}

func scanPlan(row pgx.Row) (*model.MembershipPlan, error) {
	var p model.MembershipPlan
	if err := row.Scan(&p.Code, &p.Tier, &p.DurationDays, &p.Price, &p.Currency, &p.Recurring); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PostgresPlanRepo) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.MembershipPlan, error) {
	const sql = `
SELECT code, tier, duration_days, price, currency, recurring
  FROM membership_plans
 WHERE code = $1;
`
	row, err := pickRow(ctx, r.pool, tx, sql, code)
	if err != nil {
		return nil, err
	}
	p, err := scanPlan(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find plan %s: %w", code, err)
	}
	return p, nil
}

func (r *PostgresPlanRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.MembershipPlan, error) {
	const sql = `
SELECT code, tier, duration_days, price, currency, recurring
  FROM membership_plans
 ORDER BY price ASC;
`
	rows, err := queryRows(ctx, r.pool, tx, sql)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()
	var out []*model.MembershipPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
