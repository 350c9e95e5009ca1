package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"membership-payments/internal/domain"
	"membership-payments/internal/domain/model"
	"membership-payments/internal/domain/ports/repository"
)

var _ repository.ListingFeeRepository = (*listingFeeRepo)(nil)

type listingFeeRepo struct{ pool *pgxpool.Pool }

func NewListingFeeRepo(pool *pgxpool.Pool) *listingFeeRepo {
	return &listingFeeRepo{pool: pool}
}

func (r *listingFeeRepo) Confirm(ctx context.Context, tx repository.Tx, c *model.ListingFeeConfirmation) (bool, error) {
	if c.ListingID == "" || c.PaymentID == "" {
		return false, domain.ErrInvalidArgument
	}
	if c.ConfirmedAt.IsZero() {
		c.ConfirmedAt = time.Now().UTC()
	}
	const q = `
INSERT INTO listing_fee_confirmations (listing_id, payment_id, user_id, confirmed_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT DO NOTHING;`
	cmd, err := execSQL(ctx, r.pool, tx, q, c.ListingID, c.PaymentID, c.UserID, c.ConfirmedAt)
	if err != nil {
		return false, mapWriteErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *listingFeeRepo) IsConfirmed(ctx context.Context, tx repository.Tx, listingID string) (bool, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT EXISTS (SELECT 1 FROM listing_fee_confirmations WHERE listing_id=$1);`, listingID)
	if err != nil {
		return false, err
	}
	var ok bool
	if err := row.Scan(&ok); err != nil {
		return false, domain.ErrReadDatabaseRow
	}
	return ok, nil
}
