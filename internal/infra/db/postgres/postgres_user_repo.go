package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"membership-payments/internal/domain"
	"membership-payments/internal/domain/model"
	"membership-payments/internal/domain/ports/repository"
)

var _ repository.MembershipStore = (*PostgresUserRepo)(nil)

// PostgresUserRepo owns the users table and its membership tier flag.
type PostgresUserRepo struct {
	pool *pgxpool.Pool
	subs *subscriptionRepo
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{pool: pool, subs: NewSubscriptionRepo(pool)}
}

func (r *PostgresUserRepo) GetActiveSubscription(ctx context.Context, tx repository.Tx, userID string, audience model.Audience) (*model.Subscription, error) {
	return r.subs.FindActiveByUser(ctx, tx, userID, audience)
}

// SetMembershipTier creates the user row on first use.
func (r *PostgresUserRepo) SetMembershipTier(ctx context.Context, tx repository.Tx, userID, tier string) error {
	if userID == "" || tier == "" {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO users (id, membership_tier, created_at, updated_at)
VALUES ($1, $2, NOW(), NOW())
ON CONFLICT (id) DO UPDATE SET
  membership_tier = EXCLUDED.membership_tier, updated_at = NOW();`
	_, err := execSQL(ctx, r.pool, tx, q, userID, tier)
	return mapWriteErr(err)
}

// GetMembershipTier returns the free tier for unknown users.
func (r *PostgresUserRepo) GetMembershipTier(ctx context.Context, tx repository.Tx, userID string) (string, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT membership_tier FROM users WHERE id=$1;`, userID)
	if err != nil {
		return "", err
	}
	var tier string
	if err := row.Scan(&tier); err != nil {
		if mapScanErr(err) == domain.ErrNotFound {
			return model.TierFree, nil
		}
		return "", domain.ErrReadDatabaseRow
	}
	return tier, nil
}
