package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"

	"membership-payments/internal/domain"
	"membership-payments/internal/domain/model"
	"membership-payments/internal/domain/ports/repository"
)

var (
	_ repository.ReferralStore        = (*referralRepo)(nil)
	_ repository.CommissionRepository = (*commissionRepo)(nil)
)

type referralRepo struct{ pool *pgxpool.Pool }

func NewReferralRepo(pool *pgxpool.Pool) *referralRepo {
	return &referralRepo{pool: pool}
}

func (r *referralRepo) FindReferrer(ctx context.Context, tx repository.Tx, code string) (string, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT user_id FROM referral_codes WHERE code=$1;`, code)
	if err != nil {
		return "", err
	}
	var userID string
	if err := row.Scan(&userID); err != nil {
		return "", mapScanErr(err)
	}
	return userID, nil
}

func (r *referralRepo) FindByReferredUser(ctx context.Context, tx repository.Tx, userID string) (*model.Referral, error) {
	const q = `SELECT id, referrer_id, referred_user_id, code FROM referrals WHERE referred_user_id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, err
	}
	var ref model.Referral
	if err := row.Scan(&ref.ID, &ref.ReferrerID, &ref.ReferredUserID, &ref.Code); err != nil {
		return nil, mapScanErr(err)
	}
	return &ref, nil
}

// Attach keeps the first referral of a user; self-referral is rejected.
func (r *referralRepo) Attach(ctx context.Context, tx repository.Tx, referrerID, referredUserID, code string) (*model.Referral, error) {
	if referrerID == "" || referredUserID == "" || referrerID == referredUserID {
		return nil, domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO referrals (id, referrer_id, referred_user_id, code, created_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (referred_user_id) DO NOTHING;`
	if _, err := execSQL(ctx, r.pool, tx, q, uuid.NewString(), referrerID, referredUserID, code, time.Now().UTC()); err != nil {
		return nil, mapWriteErr(err)
	}
	return r.FindByReferredUser(ctx, tx, referredUserID)
}

// AddCode registers a referral code owned by userID. Codes are immutable once issued.
func (r *referralRepo) AddCode(ctx context.Context, tx repository.Tx, code, userID string) error {
	if code == "" || userID == "" {
		return domain.ErrInvalidArgument
	}
	_, err := execSQL(ctx, r.pool, tx, `INSERT INTO referral_codes (code, user_id) VALUES ($1,$2) ON CONFLICT (code) DO NOTHING;`, code, userID)
	return mapWriteErr(err)
}

type commissionRepo struct{ pool *pgxpool.Pool }

func NewCommissionRepo(pool *pgxpool.Pool) *commissionRepo {
	return &commissionRepo{pool: pool}
}

func (r *commissionRepo) InsertIfAbsent(ctx context.Context, tx repository.Tx, c *model.Commission) (bool, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	const q = `
INSERT INTO commissions (
  id, referral_id, referrer_id, referred_user_id, payment_id,
  payment_amount, commission_rate, commission_amount, currency, status, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (referral_id, payment_id) DO NOTHING;`
	cmd, err := execSQL(ctx, r.pool, tx, q, c.ID, c.ReferralID, c.ReferrerID, c.ReferredUserID, c.PaymentID,
		c.PaymentAmount, c.CommissionRate, c.CommissionAmount, c.Currency, string(c.Status), c.CreatedAt)
	if err != nil {
		return false, mapWriteErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *commissionRepo) ListByPayment(ctx context.Context, tx repository.Tx, paymentID string) ([]*model.Commission, error) {
	const q = `
SELECT id, referral_id, referrer_id, referred_user_id, payment_id,
       payment_amount, commission_rate, commission_amount, currency, status, created_at
  FROM commissions
 WHERE payment_id=$1
 ORDER BY created_at ASC;`
	rows, err := queryRows(ctx, r.pool, tx, q, paymentID)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	defer rows.Close()

	var out []*model.Commission
	for rows.Next() {
		c := &model.Commission{}
		var status string
		if err := rows.Scan(&c.ID, &c.ReferralID, &c.ReferrerID, &c.ReferredUserID, &c.PaymentID,
			&c.PaymentAmount, &c.CommissionRate, &c.CommissionAmount, &c.Currency, &status, &c.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		c.Status = model.CommissionStatus(status)
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, domain.ErrOperationFailed
	}
	return out, nil
}
