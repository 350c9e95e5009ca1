package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"membership-payments/internal/domain"
	"membership-payments/internal/domain/model"
	"membership-payments/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentColumns = `id, user_id, payment_attempt_id, subscription_id, amount, currency, status, payment_method, payment_reference, paid_at, metadata, created_at`

func scanPayment(row pgx.Row) (*model.Payment, error) {
	p := &model.Payment{}
	var status string
	if err := row.Scan(&p.ID, &p.UserID, &p.PaymentAttemptID, &p.SubscriptionID, &p.Amount, &p.Currency, &status, &p.PaymentMethod, &p.PaymentReference, &p.PaidAt, &p.Metadata, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Status = model.PaymentStatus(status)
	return p, nil
}

// InsertIfAbsent relies on the payment_reference and payment_attempt_id unique
// keys. A loser of a concurrent insert gets the winner's row back and created=false.
func (r *paymentRepo) InsertIfAbsent(ctx context.Context, tx repository.Tx, p *model.Payment) (*model.Payment, bool, error) {
	const q = `
INSERT INTO payments (` + paymentColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT DO NOTHING
RETURNING ` + paymentColumns + `;`
	row, err := pickRow(ctx, r.pool, tx, q,
		p.ID, p.UserID, p.PaymentAttemptID, p.SubscriptionID, p.Amount, p.Currency, string(p.Status),
		p.PaymentMethod, p.PaymentReference, p.PaidAt, p.Metadata, p.CreatedAt)
	if err != nil {
		return nil, false, err
	}
	created, err := scanPayment(row)
	switch {
	case err == nil:
		return created, true, nil
	case err == pgx.ErrNoRows:
		existing, ferr := r.FindByReference(ctx, tx, p.PaymentReference)
		if ferr == domain.ErrNotFound {
			// the attempt already has a payment under another reference
			existing, ferr = r.FindByAttemptID(ctx, tx, p.PaymentAttemptID)
		}
		if ferr != nil {
			return nil, false, domain.ErrStorageConflict
		}
		return existing, false, nil
	default:
		return nil, false, domain.ErrOperationFailed
	}
}

func (r *paymentRepo) findOne(ctx context.Context, tx repository.Tx, q string, arg string) (*model.Payment, error) {
	row, err := pickRow(ctx, r.pool, tx, q, arg)
	if err != nil {
		return nil, err
	}
	p, err := scanPayment(row)
	if err != nil {
		return nil, mapScanErr(err)
	}
	return p, nil
}

func (r *paymentRepo) FindByReference(ctx context.Context, tx repository.Tx, ref string) (*model.Payment, error) {
	return r.findOne(ctx, tx, `SELECT `+paymentColumns+` FROM payments WHERE payment_reference=$1`, ref)
}

func (r *paymentRepo) FindByAttemptID(ctx context.Context, tx repository.Tx, attemptID string) (*model.Payment, error) {
	return r.findOne(ctx, tx, `SELECT `+paymentColumns+` FROM payments WHERE payment_attempt_id=$1`, attemptID)
}

func (r *paymentRepo) SetSubscriptionID(ctx context.Context, tx repository.Tx, paymentID, subscriptionID string) error {
	const q = `UPDATE payments SET subscription_id=$2 WHERE id=$1 AND (subscription_id IS NULL OR subscription_id=$2);`
	_, err := execSQL(ctx, r.pool, tx, q, paymentID, subscriptionID)
	return mapWriteErr(err)
}

func (r *paymentRepo) CountByAttemptID(ctx context.Context, tx repository.Tx, attemptID string) (int, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT COUNT(*) FROM payments WHERE payment_attempt_id=$1;`, attemptID)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return n, nil
}
