package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"membership-payments/internal/domain"
	"membership-payments/internal/domain/model"
	"membership-payments/internal/domain/ports/repository"
)

// Ensure subscriptionRepo implements repository.SubscriptionRepository
var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `id, user_id, plan, audience, status, start_date, end_date, is_recurring, last_payment_id, created_at, updated_at`

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	s := &model.Subscription{}
	var audience, status string
	if err := row.Scan(&s.ID, &s.UserID, &s.Plan, &audience, &status, &s.StartDate, &s.EndDate, &s.IsRecurring, &s.LastPaymentID, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Audience, s.Status = model.Audience(audience), model.SubscriptionStatus(status)
	return s, nil
}

// Save upserts by id. The partial unique index on (user_id, audience) rejects a
// second active row with ErrStorageConflict.
func (r *subscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	const q = `
INSERT INTO subscriptions (` + subscriptionColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO UPDATE SET
  plan=$3, audience=$4, status=$5, start_date=$6, end_date=$7, is_recurring=$8, last_payment_id=$9, updated_at=$11;`

	_, err := execSQL(ctx, r.pool, tx, q, s.ID, s.UserID, s.Plan, string(s.Audience), string(s.Status),
		s.StartDate, s.EndDate, s.IsRecurring, s.LastPaymentID, s.CreatedAt, s.UpdatedAt)
	return mapWriteErr(err)
}

func (r *subscriptionRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Subscription, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	s, err := scanSubscription(row)
	if err != nil {
		return nil, mapScanErr(err)
	}
	return s, nil
}

func (r *subscriptionRepo) FindActiveByUser(ctx context.Context, tx repository.Tx, userID string, audience model.Audience) (*model.Subscription, error) {
	q := forUpdate(`
SELECT `+subscriptionColumns+`
  FROM subscriptions
 WHERE user_id=$1 AND audience=$2 AND status='active'
 ORDER BY created_at DESC
 LIMIT 1`, tx)
	return r.queryOne(ctx, tx, q, userID, string(audience))
}

func (r *subscriptionRepo) FindByLastPayment(ctx context.Context, tx repository.Tx, paymentID string) (*model.Subscription, error) {
	const q = `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE last_payment_id=$1`
	return r.queryOne(ctx, tx, q, paymentID)
}

func (r *subscriptionRepo) CancelActive(ctx context.Context, tx repository.Tx, userID string, audience model.Audience, keepID string) (int64, error) {
	const q = `
UPDATE subscriptions
   SET status='cancelled', updated_at=NOW()
 WHERE user_id=$1 AND audience=$2 AND status='active' AND id <> $3;`
	cmd, err := execSQL(ctx, r.pool, tx, q, userID, string(audience), keepID)
	if err != nil {
		return 0, mapWriteErr(err)
	}
	return cmd.RowsAffected(), nil
}

func (r *subscriptionRepo) ListExpired(ctx context.Context, tx repository.Tx, at time.Time, limit int) ([]*model.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE status='active' AND end_date <= $1
 ORDER BY end_date ASC
 LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, at, limit)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var out []*model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, domain.ErrOperationFailed
	}
	return out, nil
}

func (r *subscriptionRepo) CountActive(ctx context.Context, tx repository.Tx, userID string, audience model.Audience) (int, error) {
	const q = `SELECT COUNT(*) FROM subscriptions WHERE user_id=$1 AND audience=$2 AND status='active';`
	row, err := pickRow(ctx, r.pool, tx, q, userID, string(audience))
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return n, nil
}
